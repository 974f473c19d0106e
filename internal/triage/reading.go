package triage

import (
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Reading is an optional numeric input. The zero value is absent.
//
// Decoding never fails: numbers and numeric strings are accepted, anything
// else (null, booleans, objects, unparseable text) decodes as absent.
type Reading struct {
	Value float64
	Valid bool
}

// Some returns a present Reading.
func Some(v float64) Reading {
	return Reading{Value: v, Valid: true}
}

// Or returns the value if present and finite, otherwise def.
func (r Reading) Or(def float64) float64 {
	if !r.Valid || math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return def
	}
	return r.Value
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Reading) UnmarshalJSON(b []byte) error {
	*r = Reading{}
	res := gjson.ParseBytes(b)
	switch res.Type {
	case gjson.Number:
		*r = Some(res.Num)
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(res.Str), 64)
		if err == nil {
			*r = Some(v)
		}
	}
	return nil
}

// MarshalJSON implements json.Marshaler. Absent readings encode as null.
func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.Valid || math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, r.Value, 'f', -1, 64), nil
}
