package httpclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/torosent/loadcheck/internal/endpoint"
)

// BodySource produces a fresh request body for every request.
type BodySource interface {
	NewReader() (io.ReadCloser, error)
	ContentLength() (int64, bool)
}

// NewBodySource returns the body source for an endpoint payload. A file body
// is checked once here and re-opened for every request.
func NewBodySource(body endpoint.Body) (BodySource, error) {
	if body.Content != "" && strings.TrimSpace(body.File) != "" {
		return nil, errors.New("body and body file cannot both be provided")
	}

	if body.Content != "" {
		return &inlineBodySource{data: []byte(body.Content)}, nil
	}

	bodyFile := strings.TrimSpace(body.File)
	if bodyFile != "" {
		info, err := os.Stat(bodyFile)
		if err != nil {
			return nil, fmt.Errorf("body file: %w", err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("body file %q is a directory", bodyFile)
		}
		return &fileBodySource{path: bodyFile, size: info.Size()}, nil
	}

	return emptyBodySource{}, nil
}

type inlineBodySource struct {
	data []byte
}

func (s *inlineBodySource) NewReader() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func (s *inlineBodySource) ContentLength() (int64, bool) {
	return int64(len(s.data)), true
}

type fileBodySource struct {
	path string
	size int64
}

func (s *fileBodySource) NewReader() (io.ReadCloser, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (s *fileBodySource) ContentLength() (int64, bool) {
	return s.size, true
}

type emptyBodySource struct{}

func (emptyBodySource) NewReader() (io.ReadCloser, error) {
	return http.NoBody, nil
}

func (emptyBodySource) ContentLength() (int64, bool) {
	return 0, true
}
