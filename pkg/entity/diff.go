package entity

import (
	"fmt"
	"reflect"
)

// Attributes that never participate in structural comparison: the weak
// platform back-reference and the adapter pointer. Unexported fields
// (payload caches and the like) are implementation-private and skipped
// as well.
var comparisonSkipped = map[string]bool{
	"NativeRef": true,
	"Origin":    true,
}

// Equal reports whether a and b are the same concrete variant with no
// differing attribute other than NativeRef/Origin.
func Equal(a, b Entity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	return len(Diff(a, b)) == 0
}

// Diff returns a map from attribute name to the (left, right) pair for
// every attribute that differs between a and b. Entities of different
// concrete variants differ in the single pseudo-attribute "type".
func Diff(a, b Entity) map[string][2]any {
	out := make(map[string][2]any)
	if a == nil || b == nil {
		if (a == nil) != (b == nil) {
			out["type"] = [2]any{fmt.Sprintf("%T", a), fmt.Sprintf("%T", b)}
		}
		return out
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		out["type"] = [2]any{fmt.Sprintf("%T", a), fmt.Sprintf("%T", b)}
		return out
	}
	for va.Kind() == reflect.Pointer {
		if va.IsNil() || vb.IsNil() {
			if va.IsNil() != vb.IsNil() {
				out["type"] = [2]any{fmt.Sprintf("%T", a), fmt.Sprintf("%T", b)}
			}
			return out
		}
		va, vb = va.Elem(), vb.Elem()
	}
	if va.Kind() == reflect.Struct {
		diffStruct(va, vb, out)
	}
	return out
}

// diffStruct records differing attributes, flattening embedded structs
// so keys read as plain attribute names.
func diffStruct(va, vb reflect.Value, out map[string][2]any) {
	t := va.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" || comparisonSkipped[f.Name] {
			continue
		}
		fa, fb := va.Field(i), vb.Field(i)
		if f.Anonymous && fa.Kind() == reflect.Struct {
			diffStruct(fa, fb, out)
			continue
		}
		if !equalValue(fa, fb) {
			out[f.Name] = [2]any{fa.Interface(), fb.Interface()}
		}
	}
}

func equalValue(a, b reflect.Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case reflect.Pointer, reflect.Interface:
		if a.IsNil() || b.IsNil() {
			return a.IsNil() == b.IsNil()
		}
		return equalValue(a.Elem(), b.Elem())
	case reflect.Struct:
		if a.Type() != b.Type() {
			return false
		}
		t := a.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" || comparisonSkipped[f.Name] {
				continue
			}
			if !equalValue(a.Field(i), b.Field(i)) {
				return false
			}
		}
		return true
	case reflect.Slice, reflect.Array:
		if a.Len() != b.Len() {
			return false
		}
		for i := 0; i < a.Len(); i++ {
			if !equalValue(a.Index(i), b.Index(i)) {
				return false
			}
		}
		return true
	case reflect.Map:
		if a.Len() != b.Len() {
			return false
		}
		for _, k := range a.MapKeys() {
			bv := b.MapIndex(k)
			if !bv.IsValid() || !equalValue(a.MapIndex(k), bv) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a.Interface(), b.Interface())
	}
}
