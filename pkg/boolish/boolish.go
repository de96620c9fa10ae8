// Package boolish normalizes the loosely typed flag values that the table
// store hands back (true, 1, "1", "true", "True") into a plain bool.
package boolish

import (
	"encoding/json"
	"strconv"
)

// Parse reports whether v belongs to the truthy set: boolean true, the
// number 1 and the strings "1", "true" and "True". Everything else,
// including nil, is false.
func Parse(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case Bool:
		return bool(t)
	case *Bool:
		return t != nil && bool(*t)
	case int:
		return t == 1
	case int32:
		return t == 1
	case int64:
		return t == 1
	case float64:
		return t == 1
	case json.Number:
		n, err := t.Int64()
		return err == nil && n == 1
	case string:
		return t == "1" || t == "true" || t == "True"
	}
	return false
}

// Bool is a bool that decodes from any member of the truthy set.
type Bool bool

func (b *Bool) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = Bool(Parse(raw))
	return nil
}

func (b Bool) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatBool(bool(b))), nil
}
