// Package document defines the ordered field map sent to the search engine.
package document

import (
	"encoding/json"
	"fmt"

	"github.com/buger/jsonparser"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Document is an ordered mapping of field name to value. Field order is kept
// through JSON encoding so payloads are stable across runs.
type Document struct {
	fields *orderedmap.OrderedMap[string, any]
}

// New returns an empty Document.
func New() *Document {
	return &Document{fields: orderedmap.New[string, any]()}
}

// FromPairs builds a Document from alternating key/value arguments.
func FromPairs(kv ...any) *Document {
	if len(kv)%2 != 0 {
		panic("document.FromPairs: odd number of arguments")
	}
	d := New()
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("document.FromPairs: key %v is not a string", kv[i]))
		}
		d.Set(key, kv[i+1])
	}
	return d
}

// Set stores value under key, keeping the original position of an existing
// key.
func (d *Document) Set(key string, value any) {
	d.fields.Set(key, value)
}

// Get returns the value stored under key.
func (d *Document) Get(key string) (any, bool) {
	return d.fields.Get(key)
}

// Delete removes key.
func (d *Document) Delete(key string) {
	d.fields.Delete(key)
}

// Len returns the number of fields.
func (d *Document) Len() int {
	return d.fields.Len()
}

// Keys returns field names in insertion order.
func (d *Document) Keys() []string {
	keys := make([]string, 0, d.fields.Len())
	for pair := d.fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// HasPrimaryKey reports whether field is present with a non-null value.
func (d *Document) HasPrimaryKey(field string) bool {
	v, ok := d.fields.Get(field)
	return ok && v != nil
}

// PrimaryKey returns the primary-key value formatted as a string.
func (d *Document) PrimaryKey(field string) (string, bool) {
	v, ok := d.fields.Get(field)
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return fmt.Sprintf("%v", t), true
	default:
		return fmt.Sprint(t), true
	}
}

// MarshalJSON encodes the fields as a JSON object in insertion order.
func (d *Document) MarshalJSON() ([]byte, error) {
	return d.fields.MarshalJSON()
}

// UnmarshalJSON decodes a JSON object, keeping the order of its top-level
// keys. Numbers are kept as json.Number and nested objects or arrays as their
// raw bytes, so values survive a round trip unchanged.
func (d *Document) UnmarshalJSON(data []byte) error {
	fields := orderedmap.New[string, any]()
	err := jsonparser.ObjectEach(data, func(key, value []byte, typ jsonparser.ValueType, _ int) error {
		k, err := jsonparser.ParseString(key)
		if err != nil {
			return fmt.Errorf("decoding field name: %w", err)
		}
		v, err := decodeValue(value, typ)
		if err != nil {
			return fmt.Errorf("decoding field %q: %w", k, err)
		}
		fields.Set(k, v)
		return nil
	})
	if err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	d.fields = fields
	return nil
}

func decodeValue(value []byte, typ jsonparser.ValueType) (any, error) {
	switch typ {
	case jsonparser.String:
		return jsonparser.ParseString(value)
	case jsonparser.Number:
		return json.Number(value), nil
	case jsonparser.Boolean:
		return jsonparser.ParseBoolean(value)
	case jsonparser.Null:
		return nil, nil
	case jsonparser.Object, jsonparser.Array:
		return json.RawMessage(append([]byte(nil), value...)), nil
	default:
		return nil, fmt.Errorf("unexpected value type %s", typ)
	}
}
