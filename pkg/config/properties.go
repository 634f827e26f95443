// Package config turns flow properties into the settings that select and
// drive a compiled processor.
package config

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/wehubfusion/dfdlrecord/pkg/cache"
	"github.com/wehubfusion/dfdlrecord/pkg/engine"
	"github.com/wehubfusion/dfdlrecord/pkg/stream"
)

// Property names
const (
	PropSchemaFile     = "dfdl-schema-file"
	PropPrecompiled    = "pre-compiled-schema"
	PropValidationMode = "validation-mode"
	PropCacheSize      = "cache-size"
	PropCacheTTL       = "cache-ttl-after-last-access"
	PropConfigFile     = "config-file"
	PropStreamMode     = "stream-mode"
	PropCoerceTypes    = "coerce-types"
)

// TunablePrefix marks a dynamic property as a compile tunable. Every other
// dynamic property is an external variable.
const TunablePrefix = "+"

// Defaults
const (
	DefaultCacheSize = 50
	DefaultCacheTTL  = 30 * time.Minute
)

var knownProperties = map[string]bool{
	PropSchemaFile:     true,
	PropPrecompiled:    true,
	PropValidationMode: true,
	PropCacheSize:      true,
	PropCacheTTL:       true,
	PropConfigFile:     true,
	PropStreamMode:     true,
	PropCoerceTypes:    true,
}

// Properties is a flat set of string properties
type Properties map[string]string

// Merge returns p overlaid with other
func (p Properties) Merge(other Properties) Properties {
	out := maps.Clone(p)
	if out == nil {
		out = Properties{}
	}
	maps.Copy(out, other)
	return out
}

// Settings is the typed form of Properties
type Settings struct {
	SchemaRef      string
	Precompiled    bool
	ValidationMode engine.ValidationMode
	CacheSize      int
	CacheTTL       time.Duration
	ConfigFile     string
	StreamMode     stream.Mode
	CoerceTypes    bool
	Variables      map[string]string
	Tunables       map[string]string
}

// Settings validates the properties and converts them
func (p Properties) Settings() (*Settings, error) {
	s := &Settings{
		SchemaRef:  strings.TrimSpace(p[PropSchemaFile]),
		ConfigFile: strings.TrimSpace(p[PropConfigFile]),
		CacheSize:  DefaultCacheSize,
		CacheTTL:   DefaultCacheTTL,
		Variables:  map[string]string{},
		Tunables:   map[string]string{},
	}
	if s.SchemaRef == "" {
		return nil, fmt.Errorf("property %s is required", PropSchemaFile)
	}

	var err error
	if s.Precompiled, err = parseBool(p, PropPrecompiled); err != nil {
		return nil, err
	}
	if s.CoerceTypes, err = parseBool(p, PropCoerceTypes); err != nil {
		return nil, err
	}
	if s.ValidationMode, err = engine.ParseValidationMode(p[PropValidationMode]); err != nil {
		return nil, fmt.Errorf("property %s: %w", PropValidationMode, err)
	}
	if s.StreamMode, err = stream.ParseMode(p[PropStreamMode]); err != nil {
		return nil, fmt.Errorf("property %s: %w", PropStreamMode, err)
	}
	if v := strings.TrimSpace(p[PropCacheSize]); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("property %s must be a non-negative integer, got %q", PropCacheSize, v)
		}
		s.CacheSize = n
	}
	if v := strings.TrimSpace(p[PropCacheTTL]); v != "" {
		if s.CacheTTL, err = ParseDuration(v); err != nil {
			return nil, fmt.Errorf("property %s: %w", PropCacheTTL, err)
		}
	}

	for name, value := range p {
		if knownProperties[name] {
			continue
		}
		if tunable, ok := strings.CutPrefix(name, TunablePrefix); ok {
			if tunable == "" {
				return nil, fmt.Errorf("tunable property has an empty name")
			}
			s.Tunables[tunable] = value
			continue
		}
		s.Variables[name] = value
	}
	return s, nil
}

// Key returns the cache key for the settings
func (s *Settings) Key() cache.Key {
	return cache.Key{
		SchemaRef:         s.SchemaRef,
		Precompiled:       s.Precompiled,
		ValidationMode:    s.ValidationMode,
		ExternalVariables: maps.Clone(s.Variables),
		Tunables:          maps.Clone(s.Tunables),
		ConfigFile:        s.ConfigFile,
	}
}

// CacheConfig returns the cache sizing from the settings
func (s *Settings) CacheConfig() cache.Config {
	return cache.Config{Size: s.CacheSize, TTL: s.CacheTTL}
}

func parseBool(p Properties, name string) (bool, error) {
	v := strings.TrimSpace(p[name])
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("property %s must be true or false, got %q", name, v)
	}
	return b, nil
}

var durationUnits = map[string]time.Duration{
	"ms": time.Millisecond, "millis": time.Millisecond, "millisecond": time.Millisecond, "milliseconds": time.Millisecond,
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
}

// ParseDuration accepts Go durations ("90s"), "<n> <unit>" periods such as
// "30 mins" and a bare "0".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "0" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("duration must not be negative: %q", s)
		}
		return d, nil
	}

	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	n, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	unit, ok := durationUnits[strings.ToLower(fields[1])]
	if !ok {
		return 0, fmt.Errorf("invalid duration unit in %q", s)
	}
	return time.Duration(n) * unit, nil
}
