package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// dateLayout is accepted alongside RFC 3339 for billing period bounds
const dateLayout = "2006-01-02"

// ParseJSON decodes the request body into dest, rejecting unknown fields.
func ParseJSON(r *http.Request, dest any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseJSONOrError writes a 400 and returns false when the body does not decode.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// ParsePathID reads a positive integer identifier from the route variables
func ParsePathID(r *http.Request, key string) (int64, error) {
	raw, ok := mux.Vars(r)[key]
	if !ok || raw == "" {
		return 0, fmt.Errorf("missing path parameter: %s", key)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, raw)
	}
	return id, nil
}

// ParsePathIDOrError is ParsePathID with a 400 written on failure
func ParsePathIDOrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := ParsePathID(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return 0, false
	}
	return id, true
}

// ParseTime accepts RFC 3339 timestamps and plain dates (midnight UTC)
func ParseTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339 or YYYY-MM-DD", value)
	}
	return t, nil
}

// ParseQueryTime extracts a time query parameter, defaultVal when absent
func ParseQueryTime(r *http.Request, key string, defaultVal time.Time) (time.Time, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	t, err := ParseTime(str)
	if err != nil {
		return time.Time{}, fmt.Errorf("query param %s: %w", key, err)
	}
	return t, nil
}

// RequireNonEmpty writes a 400 naming field when value is blank.
func RequireNonEmpty(w http.ResponseWriter, value, field string) bool {
	if value != "" {
		return true
	}
	WriteBadRequest(w, field+" is required")
	return false
}
