package config

import (
	"fmt"
	"strconv"
	"unicode/utf8"
)

// Options is a free-form option bag decoded from JSON. Typed getters fall back
// to a default when a key is missing or has an unusable type.
type Options map[string]any

func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func (o Options) Bool(key string, def bool) bool {
	v, ok := o[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b
		}
	}
	return def
}

func (o Options) Int(key string, def int) int {
	v, ok := o[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64: // encoding/json default number type
		return int(t)
	case int:
		return t
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return def
}

// Rune returns the first rune of a single-character string option.
func (o Options) Rune(key string, def rune) rune {
	s := o.String(key, "")
	if s == "" {
		return def
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || size != len(s) {
		return def
	}
	return r
}

// StringMap returns a string->string option such as a header rename map.
func (o Options) StringMap(key string) map[string]string {
	out := map[string]string{}
	raw, ok := o[key]
	if !ok {
		return out
	}
	switch t := raw.(type) {
	case map[string]string:
		for k, v := range t {
			out[k] = v
		}
	case map[string]any:
		for k, v := range t {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
