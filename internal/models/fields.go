package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Field is a single named value of a submission. Value is one of string,
// json.Number, bool, nil, Fields (nested group) or []interface{}.
type Field struct {
	Name  string
	Value interface{}
}

// Fields keeps submission values in the order the form produced them.
// encoding/json maps would lose that order, so the JSON codec is hand-rolled.
type Fields []Field

func (f Fields) Get(name string) (interface{}, bool) {
	for _, field := range f {
		if field.Name == name {
			return field.Value, true
		}
	}
	return nil, false
}

func (f Fields) Names() []string {
	names := make([]string, 0, len(f))
	for _, field := range f {
		names = append(names, field.Name)
	}
	return names
}

func (f Fields) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(field.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", field.Name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*f = nil
	case Fields:
		*f = t
	default:
		return fmt.Errorf("fields: expected JSON object, got %T", v)
	}
	return nil
}

func decodeValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		obj := Fields{}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("fields: unexpected key token %v", keyTok)
			}
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			obj = append(obj, Field{Name: key, Value: val})
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		arr := []interface{}{}
		for dec.More() {
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("fields: unexpected delimiter %v", delim)
	}
}

// Scan implements sql.Scanner for json/jsonb columns.
func (f *Fields) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*f = nil
		return nil
	case []byte:
		return f.UnmarshalJSON(v)
	case string:
		return f.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("fields: cannot scan %T", src)
	}
}

// Value implements driver.Valuer. The JSON is returned as text; lib/pq would
// send a []byte as bytea.
func (f Fields) Value() (driver.Value, error) {
	raw, err := f.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Flatten turns nested groups into parent_child keys, preserving order.
// Lists are joined with ", ".
func (f Fields) Flatten() Fields {
	out := make(Fields, 0, len(f))
	f.flattenInto("", &out)
	return out
}

func (f Fields) flattenInto(prefix string, out *Fields) {
	for _, field := range f {
		name := field.Name
		if prefix != "" {
			name = prefix + "_" + field.Name
		}
		if nested, ok := field.Value.(Fields); ok {
			nested.flattenInto(name, out)
			continue
		}
		*out = append(*out, Field{Name: name, Value: FormatValue(field.Value)})
	}
}

// FormatValue renders a field value as a single CSV cell.
func FormatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := FormatValue(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case Fields:
		parts := make([]string, 0, len(t))
		for _, field := range t.Flatten() {
			parts = append(parts, field.Name+": "+FormatValue(field.Value))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}
