package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"strings"
	"sync"
)

// Extra holds the JSON keys of an entity that its struct does not declare. They are
// written back unchanged so a rewrite never loses data other clients rely on.
type Extra map[string]json.RawMessage

// Clone returns a copy that shares no memory with e.
func (e Extra) Clone() Extra {
	if e == nil {
		return nil
	}
	out := make(Extra, len(e))
	for k, v := range e {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

var knownKeys sync.Map // reflect.Type -> map[string]struct{}

// declaredKeys returns the JSON keys the struct type t declares.
func declaredKeys(t reflect.Type) map[string]struct{} {
	if v, ok := knownKeys.Load(t); ok {
		return v.(map[string]struct{})
	}
	keys := make(map[string]struct{}, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		keys[name] = struct{}{}
	}
	knownKeys.Store(t, keys)
	return keys
}

// decodeKeeping unmarshals data into typed, a pointer to a struct, and stores every
// undeclared key in extra.
func decodeKeeping(data []byte, typed any, extra *Extra) error {
	if err := json.Unmarshal(data, typed); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	declared := declaredKeys(reflect.TypeOf(typed).Elem())
	*extra = nil
	for k, v := range all {
		if _, ok := declared[k]; ok {
			continue
		}
		if *extra == nil {
			*extra = make(Extra)
		}
		(*extra)[k] = v
	}
	return nil
}

// encodeKeeping marshals typed and merges in the extra keys. Declared keys win.
func encodeKeeping(typed any, extra Extra) ([]byte, error) {
	data, err := json.Marshal(typed)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return data, nil
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	merged := maps.Clone(extra)
	maps.Copy(merged, out)
	return json.Marshal(merged)
}

// cloneJSON deep copies v through its JSON form, extra keys included.
func cloneJSON[T any](v *T) (*T, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("models: clone %T: %w", v, err)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("models: clone %T: %w", v, err)
	}
	return out, nil
}
