package schema

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Extra holds the members of a stored JSON object that its Go type does not
// declare. They are written back verbatim after the declared fields, so a
// rewrite never drops data another tool put there.
type Extra map[string]json.RawMessage

// With returns a copy of e overlaid with other. Members of other win.
func (e Extra) With(other Extra) Extra {
	if len(e) == 0 && len(other) == 0 {
		return nil
	}
	out := make(Extra, len(e)+len(other))
	for k, v := range e {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

var declaredNames sync.Map // reflect.Type -> map[string]bool

// declared returns the lower-cased JSON member names of struct type t.
func declared(t reflect.Type) map[string]bool {
	if v, ok := declaredNames.Load(t); ok {
		return v.(map[string]bool)
	}
	names := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if !f.IsExported() || tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}
		// encoding/json matches member names case-insensitively.
		names[strings.ToLower(name)] = true
	}
	declaredNames.Store(t, names)
	return names
}

// decodeExtra unmarshals data into known, a pointer to a struct without JSON
// methods, and returns the members known does not declare.
func decodeExtra(data []byte, known any) (Extra, error) {
	if err := json.Unmarshal(data, known); err != nil {
		return nil, err
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, err
	}
	names := declared(reflect.TypeOf(known).Elem())
	var extra Extra
	for k, v := range members {
		if names[strings.ToLower(k)] {
			continue
		}
		if extra == nil {
			extra = make(Extra)
		}
		extra[k] = v
	}
	return extra, nil
}

// encodeExtra marshals known, a struct without JSON methods, and appends the
// members of extra in key order.
func encodeExtra(known any, extra Extra) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(known); err != nil {
		return nil, err
	}
	data := bytes.TrimRight(buf.Bytes(), "\n")
	if len(extra) == 0 {
		return data, nil
	}

	names := declared(reflect.TypeOf(known))
	keys := make([]string, 0, len(extra))
	for k, v := range extra {
		if len(v) == 0 || names[strings.ToLower(k)] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]byte, 0, len(data)+64*len(keys))
	out = append(out, data[:len(data)-1]...)
	for _, k := range keys {
		if len(out) > 1 {
			out = append(out, ',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		out = append(out, key...)
		out = append(out, ':')
		out = append(out, extra[k]...)
	}
	return append(out, '}'), nil
}
