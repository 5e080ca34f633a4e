package render

import (
	"bytes"
	"encoding"
	"encoding/json"
	"math"
	"reflect"
	"sort"
	"strings"
	"unicode/utf8"
)

// Sentinel strings stand in for values that cannot be rendered as JSON.
const (
	SentinelCycle           = "<cycle>"
	SentinelNonSerializable = "<nonserializable>"
	SentinelOmittedDepth    = "<omitted:depth>"
	SentinelOmittedCount    = "<omitted:count>"
)

// Cut bounds a JSONable conversion. Zero fields are unlimited.
type Cut struct {
	MaxItems  int // elements kept per list or map
	MaxDepth  int // container nesting kept below the root
	MaxString int // runes kept per string
}

// ToJSONable converts v into nil, bool, numbers, strings, []any and
// map[string]any. It never panics: values that cannot be represented become
// sentinel strings.
func ToJSONable(v any) any {
	return ToJSONableCut(v, Cut{})
}

// ToJSONableCut is ToJSONable with structural limits applied. A list cut
// short ends with SentinelOmittedCount; a map cut short gains a
// SentinelOmittedCount key holding the number of dropped entries.
func ToJSONableCut(v any, cut Cut) any {
	c := &converter{cut: cut, active: map[visit]bool{}}
	return c.convert(reflect.ValueOf(v), 0)
}

type visit struct {
	ptr uintptr
	typ reflect.Type
}

type converter struct {
	cut    Cut
	active map[visit]bool
}

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	errorType         = reflect.TypeOf((*error)(nil)).Elem()
)

func (c *converter) convert(v reflect.Value, depth int) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = SentinelNonSerializable
		}
	}()

	if !v.IsValid() {
		return nil
	}

	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		return c.convert(v.Elem(), depth)
	}

	if v.Kind() == reflect.Pointer && v.IsNil() {
		return nil
	}

	if v.Type().Implements(jsonMarshalerType) && v.CanInterface() {
		return c.fromMarshaler(v, depth)
	}
	if v.Type().Implements(textMarshalerType) && v.CanInterface() {
		text, err := v.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return SentinelNonSerializable
		}
		return c.str(string(text))
	}
	if v.Type().Implements(errorType) && v.CanInterface() && v.Kind() != reflect.Struct {
		return c.str(v.Interface().(error).Error())
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return SentinelNonSerializable
		}
		return f
	case reflect.String:
		return c.str(v.String())
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return SentinelNonSerializable
	}

	if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
		return SentinelNonSerializable
	}

	if key, ok := cycleKey(v); ok {
		if c.active[key] {
			return SentinelCycle
		}
		c.active[key] = true
		defer delete(c.active, key)
	}

	switch v.Kind() {
	case reflect.Pointer:
		return c.convert(v.Elem(), depth)
	case reflect.Slice, reflect.Array:
		if c.tooDeep(depth) {
			return SentinelOmittedDepth
		}
		return c.list(v, depth)
	case reflect.Map:
		if c.tooDeep(depth) {
			return SentinelOmittedDepth
		}
		return c.mapping(v, depth)
	case reflect.Struct:
		if c.tooDeep(depth) {
			return SentinelOmittedDepth
		}
		return c.structure(v, depth)
	}
	return SentinelNonSerializable
}

func cycleKey(v reflect.Value) (visit, bool) {
	switch v.Kind() {
	case reflect.Pointer, reflect.Map:
		if v.IsNil() {
			return visit{}, false
		}
		return visit{ptr: v.Pointer(), typ: v.Type()}, true
	case reflect.Slice:
		if v.IsNil() || v.Len() == 0 {
			return visit{}, false
		}
		return visit{ptr: v.Pointer(), typ: v.Type()}, true
	}
	return visit{}, false
}

func (c *converter) tooDeep(depth int) bool {
	return c.cut.MaxDepth > 0 && depth >= c.cut.MaxDepth
}

func (c *converter) str(s string) any {
	if c.cut.MaxString <= 0 || utf8.RuneCountInString(s) <= c.cut.MaxString {
		return s
	}
	runes := []rune(s)
	return string(runes[:c.cut.MaxString]) + "…"
}

func (c *converter) fromMarshaler(v reflect.Value, depth int) any {
	data, err := v.Interface().(json.Marshaler).MarshalJSON()
	if err != nil {
		return SentinelNonSerializable
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return SentinelNonSerializable
	}
	return c.convert(reflect.ValueOf(normalizeNumbers(decoded)), depth)
}

func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i := range x {
			x[i] = normalizeNumbers(x[i])
		}
	case map[string]any:
		for k := range x {
			x[k] = normalizeNumbers(x[k])
		}
	}
	return v
}

func (c *converter) list(v reflect.Value, depth int) any {
	n := v.Len()
	keep := n
	if c.cut.MaxItems > 0 && keep > c.cut.MaxItems {
		keep = c.cut.MaxItems
	}
	out := make([]any, 0, keep+1)
	for i := 0; i < keep; i++ {
		out = append(out, c.convert(v.Index(i), depth+1))
	}
	if keep < n {
		out = append(out, SentinelOmittedCount)
	}
	return out
}

type mapEntry struct {
	sortKey string
	text    string
	value   reflect.Value
}

func (c *converter) mapping(v reflect.Value, depth int) any {
	entries := make([]mapEntry, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		k := iter.Key()
		keyJSON := compactJSON(c.convert(k, depth+1))
		text := keyJSON
		if k.Kind() == reflect.String {
			text = k.String()
		}
		entries = append(entries, mapEntry{sortKey: keyJSON, text: text, value: iter.Value()})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].sortKey != entries[j].sortKey {
			return entries[i].sortKey < entries[j].sortKey
		}
		return entries[i].text < entries[j].text
	})

	keep := len(entries)
	if c.cut.MaxItems > 0 && keep > c.cut.MaxItems {
		keep = c.cut.MaxItems
	}
	out := make(map[string]any, keep+1)
	for _, e := range entries[:keep] {
		out[e.text] = c.convert(e.value, depth+1)
	}
	if keep < len(entries) {
		out[SentinelOmittedCount] = len(entries) - keep
	}
	return out
}

func (c *converter) structure(v reflect.Value, depth int) any {
	out := make(map[string]any)
	c.fields(v, depth, out)
	if c.cut.MaxItems > 0 && len(out) > c.cut.MaxItems {
		names := make([]string, 0, len(out))
		for k := range out {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names[c.cut.MaxItems:] {
			delete(out, k)
		}
		out[SentinelOmittedCount] = len(names) - c.cut.MaxItems
	}
	return out
}

// fields applies encoding/json field rules: exported fields only, "-" skips,
// tag names rename, omitempty drops zero values and untagged embedded
// structs are flattened.
func (c *converter) fields(v reflect.Value, depth int, out map[string]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := v.Field(i)

		if f.Anonymous && name == "" {
			inner := fv
			if inner.Kind() == reflect.Pointer {
				if inner.IsNil() {
					continue
				}
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct {
				c.fields(inner, depth, out)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if strings.Contains(opts, "omitempty") && fv.IsZero() {
			continue
		}
		if _, exists := out[name]; exists {
			continue
		}
		out[name] = c.convert(fv, depth+1)
	}
}

// compactJSON renders a JSONable value without insignificant whitespace or
// HTML escaping.
func compactJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return `"` + SentinelNonSerializable + `"`
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
