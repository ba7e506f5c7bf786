// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package json provides functions for marshalling an unmarshalling types to JSON. These functions are meant to
// be utilized inside of the cache packages only and are not for general use.
//
// A struct may carry an AdditionalFields field of type map[string]interface{} tagged `json:"-"`.
// Unmarshal stores there every top level key that does not map onto a field of the struct
// (fields of embedded structs included), ignoring case as encoding/json does. Marshal writes those keys back out, so that data
// written by a newer schema survives a read/write cycle through an older one.
package json

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// AdditionalFields is the name of the struct field holding unknown keys.
const AdditionalFields = "AdditionalFields"

var mapStrInterType = reflect.TypeOf(map[string]interface{}{})

// known caches the JSON names of each struct type.
var known sync.Map // reflect.Type -> map[string]struct{}

// Marshal is like encoding/json.Marshal(), except that the entries of v's AdditionalFields
// become top level keys and keys whose value is null are omitted. A declared field wins
// over an additional field of the same name. Output keys are sorted.
func Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return b, nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return b, nil
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	for k, raw := range fields {
		if string(raw) == "null" {
			delete(fields, k)
		}
	}

	if af := rv.FieldByName(AdditionalFields); af.IsValid() && af.Type() == mapStrInterType {
		iter := af.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			if _, ok := fields[k]; ok {
				continue
			}
			raw, err := json.Marshal(iter.Value().Interface())
			if err != nil {
				return nil, fmt.Errorf("additional field %q: %w", k, err)
			}
			fields[k] = raw
		}
	}
	return json.Marshal(fields)
}

// Unmarshal is like encoding/json.Unmarshal(), except that top level keys of b not known
// to v's type are stored as json.RawMessage in v's AdditionalFields. v must be a pointer
// to a struct and b must hold a JSON object.
func Unmarshal(b []byte, v interface{}) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("json.Unmarshal() received type %T, must be a non-nil pointer", v)
	}
	if rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("json.Unmarshal() received type %T, must be a pointer to a struct", v)
	}
	if !gjson.ValidBytes(b) {
		return fmt.Errorf("json.Unmarshal(): malformed JSON")
	}
	doc := gjson.ParseBytes(b)
	if !doc.IsObject() {
		return fmt.Errorf("json.Unmarshal(): expected a JSON object, got %s", doc.Type)
	}

	elem := rv.Elem()
	af := elem.FieldByName(AdditionalFields)
	if af.IsValid() && af.Type() != mapStrInterType {
		return fmt.Errorf("type %T has field 'AdditionalFields' that is a %s, must be map[string]interface{}", v, af.Type())
	}

	if err := json.Unmarshal(b, v); err != nil {
		return err
	}
	if !af.IsValid() {
		return nil
	}

	names := jsonNames(elem.Type())
	extra := map[string]interface{}{}
	doc.ForEach(func(key, value gjson.Result) bool {
		if !knownName(names, key.String()) {
			extra[key.String()] = json.RawMessage(value.Raw)
		}
		return true
	})
	if len(extra) > 0 {
		af.Set(reflect.ValueOf(extra))
	}
	return nil
}

// knownName reports whether encoding/json decodes key into one of names. Like
// encoding/json, it accepts a match that differs only in case.
func knownName(names map[string]struct{}, key string) bool {
	if _, ok := names[key]; ok {
		return true
	}
	for name := range names {
		if strings.EqualFold(name, key) {
			return true
		}
	}
	return false
}

// MarshalRaw marshals v into a json.RawMessage. It panics on error, so it should only be used
// in tests and with values known to marshal.
func MarshalRaw(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return json.RawMessage(b)
}

// Names returns the JSON names t declares, including those of embedded structs.
func Names(t reflect.Type) []string {
	m := jsonNames(t)
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func jsonNames(t reflect.Type) map[string]struct{} {
	if m, ok := known.Load(t); ok {
		return m.(map[string]struct{})
	}
	m := map[string]struct{}{}
	collectNames(t, m)
	known.Store(t, m)
	return m
}

func collectNames(t reflect.Type, into map[string]struct{}) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if name == "-" {
			continue
		}
		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				collectNames(ft, into)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		into[name] = struct{}{}
	}
}
