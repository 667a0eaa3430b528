// Package model defines the opaque record type shared by the controller
// client, the fetcher, and the mirror sink, plus the per-resource descriptors
// that say where each kind of record is mirrored and how its document id is
// derived.
package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Item is a single record returned by the controller (site, device, audit-log
// entry, traffic snapshot). Its schema varies per resource and is never
// interpreted beyond key extraction; the engine passes it through unchanged.
type Item map[string]any

// String returns the value of field as a string. Numbers are rendered without
// a fractional part when they are integral. Missing fields, nulls, and
// non-scalar values yield "".
func (i Item) String(field string) string {
	v, ok := i[field]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer: // json.Number
		return x.String()
	default:
		return ""
	}
}

// Map returns the item as a plain map for APIs that do not know about Item.
func (i Item) Map() map[string]any { return map[string]any(i) }

// KeyFunc derives the document id used when mirroring an item. An empty
// result means the item has no usable key and must not be mirrored.
type KeyFunc func(Item) string

// FieldKey returns a KeyFunc that uses the first non-empty field among fields.
// Slashes are replaced with underscores because document stores treat them as
// path separators.
func FieldKey(fields ...string) KeyFunc {
	return func(it Item) string {
		for _, f := range fields {
			if v := strings.TrimSpace(it.String(f)); v != "" {
				return sanitizeID(v)
			}
		}
		return ""
	}
}

// CompositeKey joins the given fields with "_". Every field must be present;
// if any is empty the key is empty.
func CompositeKey(fields ...string) KeyFunc {
	return func(it Item) string {
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			v := strings.TrimSpace(it.String(f))
			if v == "" {
				return ""
			}
			parts = append(parts, v)
		}
		return sanitizeID(strings.Join(parts, "_"))
	}
}

// sanitizeID turns a key into a legal Firestore document id: no "/", not
// "." or "..", and not of the reserved form __name__.
func sanitizeID(id string) string {
	id = strings.ReplaceAll(id, "/", "_")
	switch {
	case id == "." || id == "..":
		return strings.ReplaceAll(id, ".", "%2E")
	case len(id) >= 4 && strings.HasPrefix(id, "__") && strings.HasSuffix(id, "__"):
		return "%5F%5F" + id[2:]
	}
	return id
}
