package interpret

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Object is a JSON object that remembers the order its members were
// emitted in. Argument-to-positional-parameter mapping depends on that
// order, so the usual map[string]any decode is not enough.
type Object struct {
	Members []Member
}

// Member is one key/value pair of an [Object].
type Member struct {
	Key   string
	Value any
}

// Get returns the value for key and whether it was present.
func (o *Object) Get(key string) (any, bool) {
	for _, m := range o.Members {
		if m.Key == key {
			return m.Value, true
		}
	}
	return nil, false
}

// GetString returns the value for key as a string, or "" if absent or
// not a string.
func (o *Object) GetString(key string) string {
	v, ok := o.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Has reports whether key is present.
func (o *Object) Has(key string) bool {
	_, ok := o.Get(key)
	return ok
}

// Rename changes the key of the first member named from to to, if no
// member named to already exists.
func (o *Object) Rename(from, to string) {
	if o.Has(to) {
		return
	}
	for i := range o.Members {
		if o.Members[i].Key == from {
			o.Members[i].Key = to
			return
		}
	}
}

// MarshalJSON re-serializes the object with its original member order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, m := range o.Members {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(m.Key)
		if err != nil {
			return nil, err
		}
		b.Write(key)
		b.WriteByte(':')
		val, err := json.Marshal(m.Value)
		if err != nil {
			return nil, err
		}
		b.Write(val)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// ParseObject decodes s as a single JSON object, preserving member
// order. Values are decoded as *Object, []any, string, json.Number,
// bool, or nil.
func ParseObject(s string) (*Object, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(*Object)
	if !ok {
		return nil, fmt.Errorf("not a JSON object")
	}

	// Reject trailing garbage after the object.
	if dec.More() {
		return nil, fmt.Errorf("trailing data after object")
	}
	return obj, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := &Object{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("object key is not a string")
				}
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				obj.Members = append(obj.Members, Member{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return obj, nil
		case '[':
			var arr []any
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			return arr, nil
		default:
			return nil, fmt.Errorf("unexpected delimiter %v", t)
		}
	default:
		return tok, nil
	}
}
