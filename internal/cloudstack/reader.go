package cloudstack

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	simplejson "github.com/bitly/go-simplejson"
	"github.com/shopspring/decimal"

	"github.com/stackpanel/stackpanel/internal/domain"
)

// TimeLayout is the timestamp format of CloudStack responses.
const TimeLayout = "2006-01-02T15:04:05-0700"

// reader pulls typed fields out of a loosely typed record. The first failure
// is kept and every later read becomes a no-op returning the zero value.
type reader struct {
	kind domain.Kind
	js   *simplejson.Json
	key  string
	err  error
}

func newReader(kind domain.Kind, js *simplejson.Json) *reader {
	return &reader{kind: kind, js: js}
}

func (r *reader) fail(field string, cause error) {
	if r.err == nil {
		r.err = &domain.ConversionError{Kind: r.kind, Key: r.key, Field: field, Cause: cause}
	}
}

// value returns the raw field, treating JSON null as absent.
func (r *reader) value(field string) (interface{}, bool) {
	if r.err != nil || r.js == nil {
		return nil, false
	}
	v, ok := r.js.CheckGet(field)
	if !ok || v.Interface() == nil {
		return nil, false
	}
	return v.Interface(), true
}

// identity reads the required key field and records it for later errors.
func (r *reader) identity(field string) string {
	s := r.required(field)
	if r.err == nil {
		r.key = s
	}
	return s
}

func (r *reader) required(field string) string {
	if r.err != nil {
		return ""
	}
	if _, ok := r.value(field); !ok {
		r.fail(field, domain.ErrMissingField)
		return ""
	}
	s := r.string(field)
	if r.err == nil && s == "" {
		r.fail(field, fmt.Errorf("%w: empty value", domain.ErrMissingField))
	}
	return s
}

func (r *reader) string(field string) string {
	v, ok := r.value(field)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		r.fail(field, fmt.Errorf("expected string, got %T", v))
		return ""
	}
}

func (r *reader) int64(field string) int64 {
	v, ok := r.value(field)
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, err := t.Float64()
		if err != nil {
			r.fail(field, err)
			return 0
		}
		return int64(f)
	case string:
		if t == "" {
			return 0
		}
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			r.fail(field, err)
			return 0
		}
		return n
	default:
		r.fail(field, fmt.Errorf("expected integer, got %T", v))
		return 0
	}
}

func (r *reader) bool(field string) bool {
	v, ok := r.value(field)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			r.fail(field, err)
			return false
		}
		return b
	default:
		r.fail(field, fmt.Errorf("expected boolean, got %T", v))
		return false
	}
}

func (r *reader) time(field string) time.Time {
	s := r.string(field)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		r.fail(field, err)
		return time.Time{}
	}
	return t
}

func (r *reader) decimal(field string) decimal.Decimal {
	s := r.string(field)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		r.fail(field, err)
		return decimal.Zero
	}
	return d
}

// strings reads either a JSON array of strings or a comma separated string.
func (r *reader) strings(field string) []string {
	v, ok := r.value(field)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		parts := strings.Split(t, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				r.fail(field, fmt.Errorf("expected string element, got %T", item))
				return nil
			}
			out = append(out, s)
		}
		return out
	default:
		r.fail(field, fmt.Errorf("expected list, got %T", v))
		return nil
	}
}

// names reads the "name" of every object in an array field, e.g. provider[].name.
func (r *reader) names(field string) []string {
	v, ok := r.value(field)
	if !ok {
		return nil
	}
	arr, ok := v.([]interface{})
	if !ok {
		r.fail(field, fmt.Errorf("expected list, got %T", v))
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		obj, ok := item.(map[string]interface{})
		if !ok {
			r.fail(field, fmt.Errorf("expected object element, got %T", item))
			return nil
		}
		name, _ := obj["name"].(string)
		if name == "" {
			r.fail(field+".name", domain.ErrMissingField)
			return nil
		}
		out = append(out, name)
	}
	return out
}
