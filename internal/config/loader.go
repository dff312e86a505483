package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/torosent/loadcheck/internal/metrics"
)

const envPrefix = "LOADCHECK"

// Scalar settings that may be overridden by LOADCHECK_* environment
// variables. Nested keys map dots to underscores (LOADCHECK_TRACING_ENDPOINT).
var envKeys = []string{
	"base_url", "concurrency", "parallel", "rate", "arrival_model", "timeout",
	"retries", "failure_samples", "output", "output_file", "progress",
	"metrics_addr", "log_level", "log_format", "log_file",
	"tracing.endpoint", "tracing.protocol", "tracing.insecure",
	"tracing.service_name", "tracing.sample_rate", "tracing.propagate",
}

// Loader handles loading configuration from files, environment and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Defaults returns the configuration used when nothing overrides a setting.
func Defaults() Config {
	return Config{
		Concurrency:    1,
		Parallel:       1,
		Arrival:        ArrivalModelUniform,
		Timeout:        30 * time.Second,
		FailureSamples: metrics.DefaultFailureSamples,
		Output:         OutputText,
		Progress:       ProgressAuto,
		LogLevel:       "info",
		LogFormat:      "text",
		Tracing:        TracingConfig{Protocol: "grpc", SampleRate: 1},
	}
}

// Load parses command-line arguments and the campaign file to produce a
// Config. Precedence is flags, then environment, then file, then defaults.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}

	cfgViper := viper.New()
	cfgViper.SetEnvPrefix(envPrefix)
	cfgViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfgViper.AutomaticEnv()
	for _, key := range envKeys {
		if err := cfgViper.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := Defaults()
	cfg.ConfigFile = configPath

	settings := cfgViper.AllSettings()
	if configPath != "" {
		endpoints, ok, err := rawEndpoints(configPath)
		if err != nil {
			return nil, err
		}
		if ok {
			settings["endpoints"] = endpoints
		}
	}
	if err := applyConfigSettings(&cfg, settings); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(&cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Output = OutputFormat(strings.ToLower(string(cfg.Output)))
	cfg.Progress = ProgressMode(strings.ToLower(string(cfg.Progress)))
	cfg.Arrival = ArrivalModel(strings.ToLower(string(cfg.Arrival)))

	return &cfg, nil
}

// rawEndpoints decodes the endpoints list of a YAML or JSON campaign file
// with its keys as written. viper folds every key to lower case, which would
// rewrite the field names of JSON bodies given as mappings.
func rawEndpoints(path string) (interface{}, bool, error) {
	var unmarshal func([]byte, interface{}) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		unmarshal = yaml.Unmarshal
	case ".json":
		unmarshal = json.Unmarshal
	default:
		return nil, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	var doc map[string]interface{}
	if err := unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", path, err)
	}
	for key, val := range doc {
		if strings.EqualFold(key, "endpoints") {
			return val, true, nil
		}
	}
	return nil, false, nil
}

// applyConfigSettings applies settings from a config file or the environment.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "base_url", "baseurl", "base-url"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("base_url: %w", err)
		}
		cfg.BaseURL = val
	}

	ints := []struct {
		keys []string
		dst  *int
	}{
		{[]string{"concurrency"}, &cfg.Concurrency},
		{[]string{"parallel"}, &cfg.Parallel},
		{[]string{"rate"}, &cfg.Rate},
		{[]string{"retries"}, &cfg.Retries},
		{[]string{"failure_samples", "failuresamples", "failure-samples"}, &cfg.FailureSamples},
	}
	for _, field := range ints {
		if raw, ok := lookupSetting(settings, field.keys...); ok {
			val, err := asInt(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", field.keys[0], err)
			}
			*field.dst = val
		}
	}

	strs := []struct {
		keys []string
		dst  *string
	}{
		{[]string{"output_file", "outputfile", "output-file"}, &cfg.OutputFile},
		{[]string{"metrics_addr", "metricsaddr", "metrics-addr"}, &cfg.MetricsAddr},
		{[]string{"log_level", "loglevel", "log-level"}, &cfg.LogLevel},
		{[]string{"log_format", "logformat", "log-format"}, &cfg.LogFormat},
		{[]string{"log_file", "logfile", "log-file"}, &cfg.LogFile},
	}
	for _, field := range strs {
		if raw, ok := lookupSetting(settings, field.keys...); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", field.keys[0], err)
			}
			*field.dst = strings.TrimSpace(val)
		}
	}

	if raw, ok := lookupSetting(settings, "output"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("output: %w", err)
		}
		cfg.Output = OutputFormat(strings.TrimSpace(val))
	}

	if raw, ok := lookupSetting(settings, "progress"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("progress: %w", err)
		}
		cfg.Progress = ProgressMode(strings.TrimSpace(val))
	}

	if raw, ok := lookupSetting(settings, "arrival_model", "arrivalmodel", "arrival-model"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("arrival_model: %w", err)
		}
		cfg.Arrival = ArrivalModel(strings.TrimSpace(val))
	}

	if raw, ok := lookupSetting(settings, "timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = dur
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = thresholds
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := applyTracingSettings(&cfg.Tracing, raw); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "endpoints"); ok {
		endpoints, err := parseEndpoints(raw)
		if err != nil {
			return fmt.Errorf("endpoints: %w", err)
		}
		cfg.Endpoints = endpoints
	}

	return nil
}

func applyTracingSettings(tc *TracingConfig, value interface{}) error {
	if value == nil {
		return nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		tc.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		tc.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "service_name", "servicename", "service-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		tc.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		tc.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "sample_rate", "samplerate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		tc.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("propagate: %w", err)
		}
		tc.Propagate = &val
	}
	return nil
}

func parseEndpoints(value interface{}) ([]Endpoint, error) {
	if value == nil {
		return nil, nil
	}
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	endpoints := make([]Endpoint, 0, len(items))
	for idx, item := range items {
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		ep, err := buildEndpoint(entry)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

func buildEndpoint(settings map[string]interface{}) (Endpoint, error) {
	ep := Endpoint{Method: http.MethodGet, Expected: Expected{Status: http.StatusOK}}
	if raw, ok := lookupSetting(settings, "name"); ok {
		val, err := asString(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("name: %w", err)
		}
		ep.Name = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "route", "path", "url"); ok {
		val, err := asString(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("route: %w", err)
		}
		ep.Route = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "method"); ok {
		val, err := asString(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("method: %w", err)
		}
		if val = strings.ToUpper(strings.TrimSpace(val)); val != "" {
			ep.Method = val
		}
	}
	if raw, ok := lookupSetting(settings, "load"); ok {
		val, err := asInt(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("load: %w", err)
		}
		ep.Load = val
	}
	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("headers: %w", err)
		}
		if len(hdrs) > 0 {
			ep.Headers = map[string]string{}
			for key, value := range hdrs {
				trimmedKey := strings.TrimSpace(key)
				if trimmedKey == "" {
					return Endpoint{}, fmt.Errorf("headers: key cannot be empty")
				}
				ep.Headers[http.CanonicalHeaderKey(trimmedKey)] = value
			}
		}
	}
	if raw, ok := lookupSetting(settings, "body"); ok {
		body, contentType, err := asBody(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("body: %w", err)
		}
		ep.Body = body
		ep.ContentType = contentType
	}
	if raw, ok := lookupSetting(settings, "body_file", "bodyfile", "body-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("body_file: %w", err)
		}
		ep.BodyFile = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "content_type", "contenttype", "content-type"); ok {
		val, err := asString(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("content_type: %w", err)
		}
		if val = strings.TrimSpace(val); val != "" {
			ep.ContentType = val
		}
	}
	if raw, ok := lookupSetting(settings, "expected", "expect"); ok {
		expected, err := parseExpected(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("expected: %w", err)
		}
		ep.Expected = expected
	}
	return ep, nil
}

// asBody accepts a string payload, or a mapping/list which is encoded as JSON
// and paired with an application/json content type.
func asBody(value interface{}) (string, string, error) {
	switch value.(type) {
	case nil:
		return "", "", nil
	case map[string]interface{}, map[interface{}]interface{}, []interface{}:
		normalized, err := normalizeJSON(value)
		if err != nil {
			return "", "", err
		}
		data, err := json.Marshal(normalized)
		if err != nil {
			return "", "", err
		}
		return string(data), "application/json", nil
	default:
		val, err := asString(value)
		return val, "", err
	}
}

// normalizeJSON rewrites map[interface{}]interface{} values so encoding/json
// can marshal decoded YAML.
func normalizeJSON(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			k, err := asString(key)
			if err != nil {
				return nil, err
			}
			n, err := normalizeJSON(val)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			n, err := normalizeJSON(val)
			if err != nil {
				return nil, err
			}
			out[key] = n
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			n, err := normalizeJSON(val)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return v, nil
	}
}

func parseExpected(value interface{}) (Expected, error) {
	expected := Expected{Status: http.StatusOK}
	if value == nil {
		return expected, nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return Expected{}, err
	}
	if raw, ok := lookupSetting(settings, "status", "status_code", "statuscode"); ok {
		val, err := asInt(raw)
		if err != nil {
			return Expected{}, fmt.Errorf("status: %w", err)
		}
		expected.Status = val
	}
	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return Expected{}, fmt.Errorf("headers: %w", err)
		}
		if len(hdrs) > 0 {
			expected.Headers = hdrs
		}
	}
	if raw, ok := lookupSetting(settings, "body_contains", "bodycontains", "body-contains"); ok {
		val, err := asString(raw)
		if err != nil {
			return Expected{}, fmt.Errorf("body_contains: %w", err)
		}
		expected.BodyContains = val
	}
	if raw, ok := lookupSetting(settings, "json"); ok {
		items, err := toInterfaceSlice(raw)
		if err != nil {
			return Expected{}, fmt.Errorf("json: %w", err)
		}
		for idx, item := range items {
			entry, err := toStringKeyMap(item)
			if err != nil {
				return Expected{}, fmt.Errorf("json index %d: %w", idx, err)
			}
			var assertion JSONAssertion
			if raw, ok := lookupSetting(entry, "path"); ok {
				if assertion.Path, err = asString(raw); err != nil {
					return Expected{}, fmt.Errorf("json index %d: path: %w", idx, err)
				}
				assertion.Path = strings.TrimSpace(assertion.Path)
			}
			if raw, ok := lookupSetting(entry, "equals"); ok {
				if assertion.Equals, err = asString(raw); err != nil {
					return Expected{}, fmt.Errorf("json index %d: equals: %w", idx, err)
				}
			}
			expected.JSON = append(expected.JSON, assertion)
		}
	}
	return expected, nil
}
