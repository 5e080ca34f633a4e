package tool

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/petal-labs/nighthawk/coerce"
	"github.com/petal-labs/nighthawk/contract"
	"github.com/petal-labs/nighthawk/core"
)

// Assign evaluates expression and stores the result at targetPath. It never
// fails: problems come back as a failure Result and leave ec untouched.
func Assign(ec *core.ExecutionContext, targetPath, expression string) Result {
	v, err := AssignValue(ec, targetPath, expression)
	if err != nil {
		return failureResult(err)
	}
	return Success(map[string]any{"target": targetPath, "value": v})
}

// AssignValue is Assign returning the stored value or a *Failure.
//
// The target grammar is name(.field)*. A single name writes a local,
// coerced to its declared binding type when one exists. A longer path
// starts at a local or at memory and walks struct fields, map keys and
// pointers; the last segment's type drives coercion. Struct values are
// copied, updated and stored back. Pointers and maps are updated in place
// only after the whole path and value have been validated.
func AssignValue(ec *core.ExecutionContext, targetPath, expression string) (any, error) {
	segs, err := contract.SplitPath(targetPath)
	if err != nil {
		return nil, newFailure(KindInvalidInput, guidanceTarget, err,
			"invalid target %q; expected name(.field)* with ASCII identifiers", targetPath)
	}
	if len(segs) == 1 && segs[0] == core.MemoryName {
		return nil, newFailure(KindInvalidInput, guidanceTarget, nil,
			"assigning to %q itself is not allowed; assign one of its fields", core.MemoryName)
	}

	value, err := Eval(ec, expression)
	if err != nil {
		return nil, err
	}

	name := segs[0]
	if len(segs) == 1 {
		if t := ec.BindingTypes[name]; t != nil {
			coerced, err := coerce.To(value, t)
			if err != nil {
				return nil, newFailure(KindInvalidInput, "Assign a value compatible with the declared type.", err,
					"value for %q does not fit %s: %v", name, t, err)
			}
			value = coerced
		}
		ec.Commit(name, value)
		return value, nil
	}

	var root any
	if name == core.MemoryName {
		if ec.Memory == nil {
			return nil, newFailure(KindResolution, guidanceResolution, nil, "memory is not enabled")
		}
		root = ec.Memory
	} else {
		v, ok := ec.Locals[name]
		if !ok {
			return nil, newFailure(KindResolution, guidanceResolution, nil, "unknown root name %q", name)
		}
		root = v
	}

	rootVal := reflect.ValueOf(root)
	leaf, err := planPath(rootVal, segs[1:], name)
	if err != nil {
		return nil, err
	}
	coerced, err := coerce.Value(value, leaf)
	if err != nil {
		return nil, newFailure(KindInvalidInput, "Assign a value compatible with the field type.", err,
			"value for %q does not fit %s: %v", targetPath, leaf, err)
	}

	updated := applyPath(rootVal, segs[1:], coerced)
	if name == core.MemoryName {
		ec.Memory = updated.Interface()
		ec.MarkAssigned(name)
	} else {
		ec.Commit(name, updated.Interface())
	}
	return coerced.Interface(), nil
}

// planPath walks segs from v without modifying anything and returns the
// type of the final location.
func planPath(v reflect.Value, segs []string, walked string) (reflect.Type, error) {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return nil, newFailure(KindResolution, guidanceResolution, nil, "%s is nil", walked)
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil, newFailure(KindResolution, guidanceResolution, nil, "%s is nil", walked)
	}

	seg := segs[0]
	last := len(segs) == 1
	switch v.Kind() {
	case reflect.Struct:
		f, ok := fieldByName(v, seg)
		if !ok {
			return nil, newFailure(KindResolution, guidanceResolution, nil, "unknown field on %s: %s", v.Type(), seg)
		}
		if last {
			return f.Type(), nil
		}
		return planPath(f, segs[1:], walked+"."+seg)

	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, newFailure(KindResolution, guidanceResolution, nil, "%s has non-string keys", walked)
		}
		if v.IsNil() {
			return nil, newFailure(KindResolution, guidanceResolution, nil, "%s is a nil map", walked)
		}
		if last {
			return v.Type().Elem(), nil
		}
		elem := v.MapIndex(reflect.ValueOf(seg).Convert(v.Type().Key()))
		if !elem.IsValid() {
			return nil, newFailure(KindResolution, guidanceResolution, nil, "unknown key %q in %s", seg, walked)
		}
		return planPath(elem, segs[1:], walked+"."+seg)
	}
	return nil, newFailure(KindResolution, guidanceResolution, nil, "cannot set %q on %s", seg, v.Type())
}

// applyPath stores val at segs below v and returns the updated v. It is only
// called after planPath succeeded.
func applyPath(v reflect.Value, segs []string, val reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		out := reflect.New(v.Type()).Elem()
		out.Set(applyPath(v.Elem(), segs, val))
		return out

	case reflect.Pointer:
		elem := v.Elem()
		elem.Set(applyPath(elem, segs, val))
		return v

	case reflect.Struct:
		cp := reflect.New(v.Type()).Elem()
		cp.Set(v)
		f, _ := fieldByName(cp, segs[0])
		if len(segs) == 1 {
			f.Set(val)
		} else {
			f.Set(applyPath(f, segs[1:], val))
		}
		return cp

	case reflect.Map:
		key := reflect.ValueOf(segs[0]).Convert(v.Type().Key())
		if len(segs) == 1 {
			v.SetMapIndex(key, val)
		} else {
			v.SetMapIndex(key, applyPath(v.MapIndex(key), segs[1:], val))
		}
		return v
	}
	panic(fmt.Sprintf("tool: unplanned assignment into %s", v.Type()))
}

func fieldByName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if f.Name == name {
			return v.Field(i), true
		}
		if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag != "" && tag != "-" && tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}
