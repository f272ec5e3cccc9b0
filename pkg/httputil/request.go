package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/opsdesk/pkg/apierr"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200

	// DateLayout is the wire format for calendar dates
	DateLayout = "2006-01-02"
)

// ParseJSON decodes a single JSON value from the request body into dest.
// Unknown fields and trailing data are rejected.
func ParseJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return apierr.Validation("request body is required")
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return apierr.Validation("request body is required")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apierr.Validationf("request body exceeds %d bytes", maxErr.Limit)
		}
		return apierr.Validationf("invalid JSON: %v", err)
	}
	if dec.More() {
		return apierr.Validation("invalid JSON: unexpected trailing data")
	}
	return nil
}

// PathUUID parses a UUID path parameter
func PathUUID(params map[string]string, key string) (uuid.UUID, error) {
	str := params[key]
	if str == "" {
		return uuid.Nil, apierr.Validationf("missing path parameter: %s", key)
	}
	id, err := uuid.Parse(str)
	if err != nil {
		return uuid.Nil, apierr.Validationf("invalid %s: must be a UUID", key)
	}
	return id, nil
}

// Page is a parsed limit/offset pair
type Page struct {
	Limit  int
	Offset int
}

// ParsePage reads limit (1..MaxLimit, default DefaultLimit) and offset (>= 0)
func ParsePage(r *http.Request) (Page, error) {
	page := Page{Limit: DefaultLimit}

	limit, err := ParseQueryInt(r, "limit", DefaultLimit)
	if err != nil {
		return page, err
	}
	if limit < 1 || limit > MaxLimit {
		return page, apierr.Validationf("limit must be between 1 and %d", MaxLimit)
	}
	offset, err := ParseQueryInt(r, "offset", 0)
	if err != nil {
		return page, err
	}
	if offset < 0 {
		return page, apierr.Validation("offset must not be negative")
	}

	page.Limit = limit
	page.Offset = offset
	return page, nil
}

// ParseQueryInt extracts and parses an integer query parameter
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, apierr.Validationf("invalid integer for query param %s: %s", key, str)
	}
	return val, nil
}

// ParseQueryString extracts a string query parameter
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	val := strings.TrimSpace(r.URL.Query().Get(key))
	if val == "" {
		return defaultVal
	}
	return val
}

// ParseQueryBool extracts and parses a boolean query parameter
func ParseQueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.ParseBool(str)
	if err != nil {
		return false, apierr.Validationf("invalid boolean for query param %s: %s", key, str)
	}
	return val, nil
}

// ParseQueryUUID parses an optional UUID query parameter
func ParseQueryUUID(r *http.Request, key string) (*uuid.UUID, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return nil, nil
	}
	id, err := uuid.Parse(str)
	if err != nil {
		return nil, apierr.Validationf("invalid %s: must be a UUID", key)
	}
	return &id, nil
}

// FieldErrors accumulates per-field validation messages
type FieldErrors map[string]string

// Require records an error when value is blank
func (f FieldErrors) Require(field, value string) {
	if strings.TrimSpace(value) == "" {
		f[field] = fmt.Sprintf("%s is required", field)
	}
}

// Email records an error when value is set and not an email address
func (f FieldErrors) Email(field, value string) {
	if value != "" && !strings.Contains(value, "@") {
		f[field] = "must be a valid email address"
	}
}

// OneOf records an error when value is set and not in allowed
func (f FieldErrors) OneOf(field, value string, allowed ...string) {
	if value == "" {
		return
	}
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	f[field] = fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", "))
}

// Date records an error when value is set and not YYYY-MM-DD
func (f FieldErrors) Date(field string, value *string) {
	if value == nil || *value == "" {
		return
	}
	if _, err := time.Parse(DateLayout, *value); err != nil {
		f[field] = "must be a date in YYYY-MM-DD format"
	}
}

// Add records a custom message
func (f FieldErrors) Add(field, message string) {
	f[field] = message
}

// Err returns a validation error carrying the accumulated fields, or nil
func (f FieldErrors) Err() error {
	if len(f) == 0 {
		return nil
	}
	return apierr.InvalidFields(f)
}
