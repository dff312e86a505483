package output

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/torosent/loadcheck/internal/campaign"
	"github.com/torosent/loadcheck/internal/config"
	"github.com/torosent/loadcheck/internal/threshold"
)

const lockRetryDelay = 50 * time.Millisecond

// WriteFile renders the report into path. Concurrent campaigns writing the
// same path are serialized through an advisory lock on path+".lock", and the
// file is replaced atomically so readers never see a partial report.
func WriteFile(ctx context.Context, path string, format config.OutputFormat, report campaign.Report, results []threshold.Result) error {
	var buf bytes.Buffer
	if err := Render(&buf, format, report, results); err != nil {
		return err
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock report file: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock report file: %s is held by another process", lock.Path())
	}
	defer func() { _ = lock.Unlock() }()

	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write report file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write report file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("write report file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write report file: %w", err)
	}
	return nil
}
