package configstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/cockroachdb/errors"

	"github.com/ppiankov/hostwarden/internal/model"
)

// ErrValidation is the sentinel matched by every schema rejection.
var ErrValidation = errors.New("invalid config")

// ValidationError reports the first schema violation found.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid config: " + e.Reason
	}
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match any *ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ParseConfig decodes raw JSON and validates it.
func ParseConfig(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if dec.More() {
		return nil, invalid("", "trailing data after document")
	}
	return ValidateConfig(raw)
}

// ValidateConfig checks a generically decoded document against the
// schema and returns a sanitized copy. Keys the schema does not name are
// dropped.
func ValidateConfig(v any) (*Document, error) {
	top, ok := v.(map[string]any)
	if !ok {
		return nil, invalid("", "top level must be an object")
	}

	doc := &Document{Version: CurrentVersion}

	if rawVersion, present := top["version"]; present {
		if _, ok := asNumber(rawVersion); !ok {
			return nil, invalid("version", "must be a number")
		}
		n, err := boundedInt("version", rawVersion, 0, math.MaxInt32)
		if err != nil {
			return nil, err
		}
		doc.Version = n
	}
	if lm, ok := top["lastModified"].(string); ok {
		doc.LastModified = lm
	}

	rawServices, present := top["services"]
	if !present {
		return nil, invalid("services", "is required")
	}
	services, ok := rawServices.(map[string]any)
	if !ok {
		return nil, invalid("services", "must be an object")
	}

	doc.Services = make(map[string]model.ServiceConfig, len(services))
	for id, rawSvc := range services {
		cfg, err := validateService(id, rawSvc)
		if err != nil {
			return nil, err
		}
		doc.Services[id] = cfg
	}
	return doc, nil
}

func validateService(id string, v any) (model.ServiceConfig, error) {
	field := func(name string) string { return "services." + id + "." + name }

	svc, ok := v.(map[string]any)
	if !ok {
		return model.ServiceConfig{}, invalid("services."+id, "must be an object")
	}

	var cfg model.ServiceConfig

	enabled, ok := svc["enabled"].(bool)
	if !ok {
		return cfg, invalid(field("enabled"), "must be a boolean")
	}
	cfg.Enabled = enabled

	rawLevel, _ := svc["permissionLevel"].(string)
	level, ok := model.ParsePermissionLevel(rawLevel)
	if !ok {
		return cfg, invalid(field("permissionLevel"), "must be one of disabled, read-only, read-write")
	}
	cfg.PermissionLevel = level

	anon, ok := svc["enableAnonymization"].(bool)
	if !ok {
		return cfg, invalid(field("enableAnonymization"), "must be a boolean")
	}
	cfg.EnableAnonymization = anon

	if raw, present := svc["maxResults"]; present {
		n, err := boundedInt(field("maxResults"), raw, model.MinMaxResults, model.MaxMaxResults)
		if err != nil {
			return cfg, err
		}
		cfg.MaxResults = &n
	}
	if raw, present := svc["timeoutMs"]; present {
		n, err := boundedInt(field("timeoutMs"), raw, model.MinTimeoutMs, model.MaxTimeoutMs)
		if err != nil {
			return cfg, err
		}
		cfg.TimeoutMs = &n
	}
	return cfg, nil
}

func boundedInt(field string, v any, lo, hi int) (int, error) {
	n, ok := asNumber(v)
	if !ok || n != math.Trunc(n) {
		return 0, invalid(field, "must be an integer")
	}
	if n < float64(lo) || n > float64(hi) {
		return 0, invalid(field, "must be between %d and %d", lo, hi)
	}
	return int(n), nil
}

// asNumber accepts json.Number (decoder with UseNumber) as well as the
// native numeric types a caller may build by hand.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	case float64:
		return n, !math.IsInf(n, 0) && !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
