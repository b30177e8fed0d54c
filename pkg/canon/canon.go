// Package canon implements deterministic JSON canonicalization and content
// hashing: component A of the job forge execution plane. Every bundle,
// connector output, and evidence packet is hashed through this package so
// that two equivalent in-memory values always produce identical bytes.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrNonFinite is returned for NaN or +/-Inf floating point values.
	ErrNonFinite = errors.New("canon: non-finite number")
	// ErrCycle is returned when a value contains a cyclic reference.
	ErrCycle = errors.New("canon: cyclic reference")
)

var numberType = reflect.TypeOf(json.Number(""))

// Canonicalize renders v as canonical JSON: keys sorted lexicographically
// at every depth, no insignificant whitespace, numbers in shortest
// round-trip decimal form.
func Canonicalize(v any) ([]byte, error) {
	var buf strings.Builder
	enc := &encoder{active: map[uintptr]bool{}}
	if err := enc.encode(&buf, reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

// Hash returns the lower-case hex SHA-256 digest of v's canonical form.
func Hash(v any) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes hashes already-canonical (or any) bytes directly.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type encoder struct {
	active map[uintptr]bool
}

func (e *encoder) encode(buf *strings.Builder, v reflect.Value) error {
	if !v.IsValid() {
		buf.WriteString("null")
		return nil
	}

	// json.Number is represented as a string-kind type; treat its raw text
	// as a number rather than quoting it.
	if v.Type() == numberType {
		return e.encodeNumberString(buf, v.String())
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			buf.WriteString("null")
			return nil
		}
		return e.encode(buf, v.Elem())
	case reflect.Ptr:
		if v.IsNil() {
			buf.WriteString("null")
			return nil
		}
		ptr := v.Pointer()
		if e.active[ptr] {
			return ErrCycle
		}
		e.active[ptr] = true
		defer delete(e.active, ptr)
		return e.encode(buf, v.Elem())
	case reflect.Map:
		return e.encodeMap(buf, v)
	case reflect.Slice:
		if v.IsNil() {
			buf.WriteString("null")
			return nil
		}
		return e.encodeSequence(buf, v)
	case reflect.Array:
		return e.encodeSequence(buf, v)
	case reflect.Struct:
		return e.encodeStruct(buf, v)
	case reflect.String:
		b, err := json.Marshal(v.String())
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	case reflect.Bool:
		if v.Bool() {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		buf.WriteString(strconv.FormatInt(v.Int(), 10))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		buf.WriteString(strconv.FormatUint(v.Uint(), 10))
		return nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrNonFinite
		}
		buf.WriteString(formatNumber(f))
		return nil
	default:
		return fmt.Errorf("canon: unsupported kind %s", v.Kind())
	}
}

func (e *encoder) encodeNumberString(buf *strings.Builder, s string) error {
	if s == "" {
		buf.WriteString("0")
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("canon: invalid number %q: %w", s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ErrNonFinite
	}
	buf.WriteString(formatNumber(f))
	return nil
}

func (e *encoder) encodeMap(buf *strings.Builder, v reflect.Value) error {
	if v.IsNil() {
		buf.WriteString("null")
		return nil
	}
	ptr := v.Pointer()
	if v.Len() > 0 {
		if e.active[ptr] {
			return ErrCycle
		}
		e.active[ptr] = true
		defer delete(e.active, ptr)
	}

	keys := v.MapKeys()
	type kv struct {
		key string
		val reflect.Value
	}
	pairs := make([]kv, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, kv{key: fmt.Sprint(k.Interface()), val: v.MapIndex(k)})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	buf.WriteByte('{')
	for i, p := range pairs {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(p.key)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		if err := e.encode(buf, p.val); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func (e *encoder) encodeSequence(buf *strings.Builder, v reflect.Value) error {
	if v.Kind() == reflect.Slice && v.Len() > 0 {
		ptr := v.Pointer()
		if e.active[ptr] {
			return ErrCycle
		}
		e.active[ptr] = true
		defer delete(e.active, ptr)
	}
	buf.WriteByte('[')
	for i := 0; i < v.Len(); i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := e.encode(buf, v.Index(i)); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func (e *encoder) encodeStruct(buf *strings.Builder, v reflect.Value) error {
	type field struct {
		name string
		val  reflect.Value
	}
	var fields []field
	t := v.Type()
	for _, sf := range reflect.VisibleFields(t) {
		if !sf.IsExported() || len(sf.Index) == 0 {
			continue
		}
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name := sf.Name
		omitempty := false
		if tag != "" {
			parts := strings.Split(tag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
			for _, p := range parts[1:] {
				if p == "omitempty" {
					omitempty = true
				}
			}
		}
		fv := v.FieldByIndex(sf.Index)
		if omitempty && isEmptyValue(fv) {
			continue
		}
		fields = append(fields, field{name: name, val: fv})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].name < fields[j].name })

	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(f.name)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		if err := e.encode(buf, f.val); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	}
	return false
}

// formatNumber renders f in the shortest round-trip decimal form, printing
// integral values without a trailing ".0" so that 2 and 2.0 canonicalize
// identically.
func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
