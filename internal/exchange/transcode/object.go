package transcode

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Field is a single key/value pair of an Object.
type Field struct {
	Key   string
	Value any
}

// Object is an ordered JSON-like object. Keys may repeat, which the XML
// encoder turns into sibling elements in the order they were added.
type Object []Field

func (o Object) Get(key string) (any, bool) {
	for _, f := range o {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Set replaces the first field named key or appends a new one.
func (o *Object) Set(key string, value any) {
	for i := range *o {
		if (*o)[i].Key == key {
			(*o)[i].Value = value
			return
		}
	}
	*o = append(*o, Field{Key: key, Value: value})
}

// Add appends a field even if key is already present.
func (o *Object) Add(key string, value any) {
	*o = append(*o, Field{Key: key, Value: value})
}

// MarshalJSON writes the fields in order. Duplicate keys are written as is.
func (o Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// FromMap converts a plain map to an Object with keys in sorted order.
func FromMap(m map[string]any) Object {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	obj := make(Object, 0, len(keys))
	for _, k := range keys {
		obj = append(obj, Field{Key: k, Value: m[k]})
	}
	return obj
}

// New builds an Object from alternating keys and values.
// It panics on a non-string key or a missing value.
func New(kv ...any) Object {
	if len(kv)%2 != 0 {
		panic("transcode.New: odd number of arguments")
	}
	obj := make(Object, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic("transcode.New: key is not a string")
		}
		obj = append(obj, Field{Key: key, Value: kv[i+1]})
	}
	return obj
}
