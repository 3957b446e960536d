package reader

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Number decodes a JSON value that venues send either as a number or as a
// numeric string. null, "", non-numeric strings and non-finite values leave
// it invalid instead of failing the enclosing document.
type Number struct {
	Value float64
	Valid bool
}

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = Number{}
		return nil
	}

	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = Number{}
			return nil
		}
	}

	v, ok := parseFinite(s)
	*n = Number{Value: v, Valid: ok}
	return nil
}

// Ptr returns a pointer to the value, or nil when invalid.
func (n Number) Ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

// Int64 returns the value truncated to an integer.
func (n Number) Int64() (int64, bool) {
	if !n.Valid {
		return 0, false
	}
	return int64(n.Value), true
}

// ParseFloat parses a decimal string, returning nil when s is empty or invalid.
func ParseFloat(s string) *float64 {
	v, ok := parseFinite(strings.TrimSpace(s))
	if !ok {
		return nil
	}
	return &v
}

// parseFinite rejects NaN and infinities, which strconv accepts.
func parseFinite(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
