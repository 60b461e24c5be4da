// Package workflow runs typed pipelines of steps over a shared state struct.
//
// Every field of the state type is declared in a Schema together with the
// policy used to merge step output back into the state. Steps receive a
// snapshot of the state and return a patch; only the fields a step declares
// in Writes are merged, so a step cannot reset or overwrite fields it does
// not own.
package workflow

import (
	"fmt"
	"reflect"
)

// Policy decides how a step's patch value for a field is merged into the state.
type Policy int

const (
	policyUnset Policy = iota
	// KeepFirst fields are immutable inputs. No step may write them.
	KeepFirst
	// KeepLatest fields take the last non-empty value written, in step
	// declaration order.
	KeepLatest
	// Concat fields are slices; patches are appended.
	Concat
	// Sum fields are numeric; patches are added.
	Sum
)

func (p Policy) String() string {
	switch p {
	case KeepFirst:
		return "keep_first"
	case KeepLatest:
		return "keep_latest"
	case Concat:
		return "concat"
	case Sum:
		return "sum"
	default:
		return "unset"
	}
}

// Field declares one member of the state type S.
type Field[S any] struct {
	name     string
	policy   Policy
	required bool
	typ      reflect.Type
	value    func(*S) reflect.Value
}

// Declare binds the struct field of S named name to a merge policy. get must
// return a pointer to that field.
func Declare[S, V any](name string, policy Policy, get func(*S) *V) Field[S] {
	return Field[S]{
		name:   name,
		policy: policy,
		typ:    reflect.TypeFor[V](),
		value: func(s *S) reflect.Value {
			return reflect.ValueOf(get(s)).Elem()
		},
	}
}

// Required marks the field as an input that must be non-empty when a run starts.
func (f Field[S]) Required() Field[S] {
	f.required = true
	return f
}

func (f Field[S]) Name() string   { return f.name }
func (f Field[S]) Policy() Policy { return f.policy }

func (f Field[S]) merge(dst, patch *S) {
	d := f.value(dst)
	p := f.value(patch)
	switch f.policy {
	case KeepFirst:
		if isEmpty(d) && !isEmpty(p) {
			d.Set(p)
		}
	case KeepLatest:
		if !isEmpty(p) {
			d.Set(p)
		}
	case Concat:
		if p.Len() > 0 {
			d.Set(reflect.AppendSlice(d, p))
		}
	case Sum:
		switch {
		case isInt(d.Kind()):
			d.SetInt(d.Int() + p.Int())
		case isUint(d.Kind()):
			d.SetUint(d.Uint() + p.Uint())
		default:
			d.SetFloat(d.Float() + p.Float())
		}
	}
}

// Schema is the validated set of field declarations for a state type.
type Schema[S any] struct {
	fields   map[string]Field[S]
	order    []string
	required []string
}

// NewSchema validates the declarations against S. Every field of S must be
// declared exactly once with a policy that fits its type.
func NewSchema[S any](fields ...Field[S]) (*Schema[S], error) {
	st := reflect.TypeFor[S]()
	if st.Kind() != reflect.Struct {
		return nil, fmt.Errorf("workflow: state type %s is not a struct", st)
	}

	var probe S
	base := reflect.ValueOf(&probe).Elem()

	s := &Schema[S]{fields: make(map[string]Field[S], len(fields))}
	for _, f := range fields {
		if f.name == "" {
			return nil, fmt.Errorf("workflow: field declaration with empty name")
		}
		if f.policy == policyUnset {
			return nil, fmt.Errorf("workflow: field %q has no merge policy", f.name)
		}
		if f.policy > Sum {
			return nil, fmt.Errorf("workflow: field %q has unknown merge policy %d", f.name, f.policy)
		}
		if _, dup := s.fields[f.name]; dup {
			return nil, fmt.Errorf("workflow: field %q declared twice", f.name)
		}

		sf, ok := st.FieldByName(f.name)
		if !ok || len(sf.Index) != 1 {
			return nil, fmt.Errorf("workflow: %s has no top-level field %q", st, f.name)
		}
		target := base.FieldByIndex(sf.Index)
		got := f.value(&probe)
		if sf.Type != f.typ || target.Addr().Pointer() != got.Addr().Pointer() {
			return nil, fmt.Errorf("workflow: getter for %q does not point at %s.%s", f.name, st, sf.Name)
		}

		switch f.policy {
		case Concat:
			if f.typ.Kind() != reflect.Slice {
				return nil, fmt.Errorf("workflow: field %q uses %s but is %s, not a slice", f.name, f.policy, f.typ)
			}
		case Sum:
			if k := f.typ.Kind(); !isInt(k) && !isUint(k) && !isFloat(k) {
				return nil, fmt.Errorf("workflow: field %q uses %s but is %s, not numeric", f.name, f.policy, f.typ)
			}
		}

		s.fields[f.name] = f
		s.order = append(s.order, f.name)
		if f.required {
			s.required = append(s.required, f.name)
		}
	}

	for i := range st.NumField() {
		name := st.Field(i).Name
		if _, ok := s.fields[name]; !ok {
			return nil, fmt.Errorf("workflow: field %q has no merge policy", name)
		}
	}

	return s, nil
}

// Fields returns the declared field names in declaration order.
func (s *Schema[S]) Fields() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// snapshot copies the state and clones its top-level slices so a step cannot
// mutate the caller's backing arrays.
func (s *Schema[S]) snapshot(state S) S {
	out := state
	for _, name := range s.order {
		v := s.fields[name].value(&out)
		if v.Kind() == reflect.Slice && !v.IsNil() {
			c := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
			reflect.Copy(c, v)
			v.Set(c)
		}
	}
	return out
}

func (s *Schema[S]) missing(state *S, names []string) []string {
	var out []string
	for _, name := range names {
		if isEmpty(s.fields[name].value(state)) {
			out = append(out, name)
		}
	}
	return out
}

func (s *Schema[S]) available(state *S) []string {
	out := []string{}
	for _, name := range s.order {
		if !isEmpty(s.fields[name].value(state)) {
			out = append(out, name)
		}
	}
	return out
}

// fieldOf finds the declared field whose address addr returns on a probe value.
func (s *Schema[S]) fieldOf(addr func(*S) uintptr, typ reflect.Type) (Field[S], bool) {
	var probe S
	want := addr(&probe)
	for _, name := range s.order {
		f := s.fields[name]
		if f.typ == typ && f.value(&probe).Addr().Pointer() == want {
			return f, true
		}
	}
	return Field[S]{}, false
}

func isEmpty(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Slice, reflect.Map, reflect.String:
		return v.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return v.IsNil()
	default:
		return v.IsZero()
	}
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}
