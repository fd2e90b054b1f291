package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/user/pagejson-service/internal/domain"
)

const (
	DefaultAPIPrefix      = "/api"
	DefaultCacheDuration  = 300
	MinCacheDuration      = 60
	MaxCacheDuration      = 86400
	DefaultMaxCacheSize   = 1024 * 1024
	DefaultRequestTimeout = 5000
)

// Options is the validated, fully-defaulted middleware configuration.
// It is built once by ValidateOptions and never mutated afterwards.
type Options struct {
	Enabled              bool
	APIPrefix            string
	ExcludePaths         []string
	AdditionalHeaders    map[string]string
	EnableCache          bool
	CacheDurationSeconds int
	MaxCacheSizeBytes    int64
	RequestTimeoutMillis int
	ReceiverIdentifier   *string
}

// CacheTTL is the cache duration as a time.Duration.
func (o *Options) CacheTTL() time.Duration {
	return time.Duration(o.CacheDurationSeconds) * time.Second
}

// RequestTimeout is the origin fetch timeout as a time.Duration.
func (o *Options) RequestTimeout() time.Duration {
	return time.Duration(o.RequestTimeoutMillis) * time.Millisecond
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() *Options {
	return &Options{
		Enabled:              true,
		APIPrefix:            DefaultAPIPrefix,
		ExcludePaths:         []string{},
		AdditionalHeaders:    map[string]string{},
		EnableCache:          true,
		CacheDurationSeconds: DefaultCacheDuration,
		MaxCacheSizeBytes:    DefaultMaxCacheSize,
		RequestTimeoutMillis: DefaultRequestTimeout,
	}
}

// ValidateOptions checks a loosely-typed option map (as decoded from YAML,
// JSON or viper) and returns the canonical Options. Every check runs; all
// violations are reported together in a single INVALID_CONFIG error.
func ValidateOptions(raw map[string]any) (*Options, error) {
	in := make(map[string]any, len(raw))
	for k, v := range raw {
		in[strings.ToLower(k)] = v
	}

	opts := DefaultOptions()
	var violations []string

	if v, ok := in["enabled"]; ok {
		b, err := cast.ToBoolE(v)
		if err != nil {
			violations = append(violations, "enabled must be a boolean")
		} else {
			opts.Enabled = b
		}
	}

	if v, ok := in["apiprefix"]; ok {
		s, isString := v.(string)
		if !isString || !strings.HasPrefix(s, "/") {
			violations = append(violations, "apiPrefix must be a string starting with '/'")
		} else {
			opts.APIPrefix = s
		}
	}

	if v, ok := in["cacheduration"]; ok {
		n, isInt := toInteger(v)
		if !isInt || n < MinCacheDuration || n > MaxCacheDuration {
			violations = append(violations, fmt.Sprintf("cacheDuration must be an integer between %d and %d seconds", MinCacheDuration, MaxCacheDuration))
		} else {
			opts.CacheDurationSeconds = int(n)
		}
	}

	if v, ok := in["excludepaths"]; ok {
		paths, valid := toStringSlice(v)
		if !valid {
			violations = append(violations, "excludePaths must be an array of strings")
		} else {
			opts.ExcludePaths = paths
		}
	}

	if v, ok := in["additionalheaders"]; ok {
		headers, valid := toStringMap(v)
		if !valid {
			violations = append(violations, "additionalHeaders must be an object")
		} else {
			opts.AdditionalHeaders = headers
		}
	}

	if v, ok := in["enablecache"]; ok {
		b, err := cast.ToBoolE(v)
		if err != nil {
			violations = append(violations, "enableCache must be a boolean")
		} else {
			opts.EnableCache = b
		}
	}

	if v, ok := in["maxcachesize"]; ok {
		n, isInt := toInteger(v)
		if !isInt || n <= 0 {
			violations = append(violations, "maxCacheSize must be a positive integer")
		} else {
			opts.MaxCacheSizeBytes = n
		}
	}

	if v, ok := in["requesttimeout"]; ok {
		n, isInt := toInteger(v)
		if !isInt || n <= 0 || n > math.MaxInt32 {
			violations = append(violations, "requestTimeout must be a positive integer")
		} else {
			opts.RequestTimeoutMillis = int(n)
		}
	}

	if v, ok := in["receiver"]; ok && v != nil {
		s, isString := v.(string)
		if !isString {
			violations = append(violations, "receiver must be a string")
		} else {
			opts.ReceiverIdentifier = &s
		}
	}

	if len(violations) > 0 {
		return nil, domain.NewValidationError(violations)
	}
	return opts, nil
}

// toInteger accepts Go integer types, integral floats (JSON numbers) and
// numeric strings (environment variables).
func toInteger(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case float32:
		return toInteger(float64(n))
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	case bool, nil:
		return 0, false
	}
	i, err := cast.ToInt64E(v)
	return i, err == nil
}

func toStringSlice(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		out := make([]string, len(s))
		copy(out, s)
		return out, true
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}

func toStringMap(v any) (map[string]string, bool) {
	if v == nil {
		return nil, false
	}
	switch m := v.(type) {
	case map[string]string:
		out := make(map[string]string, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, true
	case map[string]any, map[any]any:
		out, err := cast.ToStringMapStringE(m)
		return out, err == nil
	}
	return nil, false
}
