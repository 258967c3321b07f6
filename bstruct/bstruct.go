// Package bstruct converts Go structs into the raw byte layouts of
// foreign (non-Go) structures.
//
// Its primary consumer is the test suites of the scanning and
// ordered-index packages, which assemble synthetic memory images of
// the host's record and tree node layouts and then run the discovery
// heuristics against them.
package bstruct

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
)

// Byter can convert itself into bytes of the specified byte order.
type Byter interface {
	ToBytes(binary.ByteOrder) []byte
}

// FieldInfo describes a struct field that was just encoded.
type FieldInfo struct {
	Index  int
	Name   string
	Type   string
	Offset int
	Value  []byte
}

// StructToBytes encodes the exported fields of s in declaration order
// with no padding beyond what the struct declares explicitly (use
// [N]byte fields for padding and inline buffers). The optional optFn
// is invoked for every encoded field, which is handy for recording
// field offsets while building a synthetic image.
func StructToBytes(s interface{}, bo binary.ByteOrder, optFn func(FieldInfo) error) ([]byte, error) {
	if s == nil {
		return nil, errors.New("struct is nil")
	}

	structValue := reflect.ValueOf(s)
	if structValue.Kind() != reflect.Struct {
		return nil, fmt.Errorf("expected a struct - got %T", s)
	}

	structType := structValue.Type()
	numFields := structValue.NumField()

	var b []byte

	for i := 0; i < numFields; i++ {
		field := structType.Field(i)
		fieldValue := structValue.Field(i)

		at := len(b)

		switch t := fieldValue.Interface().(type) {
		case Byter:
			b = append(b, t.ToBytes(bo)...)
		case uint8:
			b = append(b, t)
		case uint16:
			b = append(b, make([]byte, 2)...)
			bo.PutUint16(b[len(b)-2:], t)
		case uint32:
			b = append(b, make([]byte, 4)...)
			bo.PutUint32(b[len(b)-4:], t)
		case uint64:
			b = append(b, make([]byte, 8)...)
			bo.PutUint64(b[len(b)-8:], t)
		default:
			if field.Type.Kind() == reflect.Array && field.Type.Elem().Kind() == reflect.Uint8 {
				for j := 0; j < fieldValue.Len(); j++ {
					b = append(b, byte(fieldValue.Index(j).Uint()))
				}
				break
			}

			return nil, fmt.Errorf("unsupported data type %T for field %q (index %d)",
				t, field.Name, i)
		}

		if optFn != nil {
			err := optFn(FieldInfo{
				Index:  i,
				Name:   field.Name,
				Type:   field.Type.String(),
				Offset: at,
				Value:  b[at:],
			})
			if err != nil {
				return nil, err
			}
		}
	}

	return b, nil
}
