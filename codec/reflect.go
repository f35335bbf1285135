package codec

import (
	"reflect"
	"sync"

	"github.com/cockroachdb/errors"
)

var (
	marshalerType   = reflect.TypeOf((*Marshaler)(nil)).Elem()
	unmarshalerType = reflect.TypeOf((*Unmarshaler)(nil)).Elem()
	voidType        = reflect.TypeOf(Void{})
)

// encodeValue is the slow path for named and composite types.
//
//   - slice: uint32 count, then elements ([]byte-like slices use WriteBytes)
//   - array: elements only, the length is part of the type
//   - map:   uint32 count, then key/value pairs in iteration order
//   - struct: exported fields in declaration order
//   - pointer: the pointee; nil is an error
func encodeValue(b *Buffer, v reflect.Value) error {
	if !v.IsValid() {
		return errors.Wrap(ErrNilValue, "encode")
	}
	t := v.Type()
	if t == voidType {
		return nil
	}
	if t.Implements(marshalerType) {
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return errors.Wrapf(ErrNilValue, "encode %s", t)
		}
		return v.Interface().(Marshaler).MarshalRPC(b)
	}
	if reflect.PointerTo(t).Implements(marshalerType) {
		p := reflect.New(t)
		p.Elem().Set(v)
		return p.Interface().(Marshaler).MarshalRPC(b)
	}

	switch v.Kind() {
	case reflect.Bool:
		b.WriteBool(v.Bool())
	case reflect.Int8:
		b.WriteInt8(int8(v.Int()))
	case reflect.Int16:
		b.WriteInt16(int16(v.Int()))
	case reflect.Int32:
		b.WriteInt32(int32(v.Int()))
	case reflect.Int, reflect.Int64:
		b.WriteInt64(v.Int())
	case reflect.Uint8:
		b.WriteUint8(uint8(v.Uint()))
	case reflect.Uint16:
		b.WriteUint16(uint16(v.Uint()))
	case reflect.Uint32:
		b.WriteUint32(uint32(v.Uint()))
	case reflect.Uint, reflect.Uint64, reflect.Uintptr:
		b.WriteUint64(v.Uint())
	case reflect.Float32:
		b.WriteFloat32(float32(v.Float()))
	case reflect.Float64:
		b.WriteFloat64(v.Float())
	case reflect.String:
		b.WriteString(v.String())
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			b.WriteBytes(v.Bytes())
			return nil
		}
		b.WriteUint32(uint32(v.Len()))
		for i := 0; i < v.Len(); i++ {
			if err := encodeValue(b, v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := encodeValue(b, v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		b.WriteUint32(uint32(v.Len()))
		iter := v.MapRange()
		for iter.Next() {
			if err := encodeValue(b, iter.Key()); err != nil {
				return err
			}
			if err := encodeValue(b, iter.Value()); err != nil {
				return err
			}
		}
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if err := encodeValue(b, v.Field(i)); err != nil {
				return errors.Wrapf(err, "field %s.%s", t.Name(), t.Field(i).Name)
			}
		}
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return errors.Wrapf(ErrNilValue, "encode %s", t)
		}
		return encodeValue(b, v.Elem())
	default:
		return errors.Wrapf(ErrUnsupportedType, "encode %s", t)
	}
	return nil
}

// decodeValue mirrors encodeValue. v must be settable.
func decodeValue(b *Buffer, v reflect.Value) error {
	t := v.Type()
	if t == voidType {
		return nil
	}
	if v.CanAddr() && reflect.PointerTo(t).Implements(unmarshalerType) {
		return v.Addr().Interface().(Unmarshaler).UnmarshalRPC(b)
	}

	switch v.Kind() {
	case reflect.Bool:
		x, err := b.ReadBool()
		if err != nil {
			return err
		}
		v.SetBool(x)
	case reflect.Int8:
		x, err := b.ReadInt8()
		if err != nil {
			return err
		}
		v.SetInt(int64(x))
	case reflect.Int16:
		x, err := b.ReadInt16()
		if err != nil {
			return err
		}
		v.SetInt(int64(x))
	case reflect.Int32:
		x, err := b.ReadInt32()
		if err != nil {
			return err
		}
		v.SetInt(int64(x))
	case reflect.Int, reflect.Int64:
		x, err := b.ReadInt64()
		if err != nil {
			return err
		}
		v.SetInt(x)
	case reflect.Uint8:
		x, err := b.ReadUint8()
		if err != nil {
			return err
		}
		v.SetUint(uint64(x))
	case reflect.Uint16:
		x, err := b.ReadUint16()
		if err != nil {
			return err
		}
		v.SetUint(uint64(x))
	case reflect.Uint32:
		x, err := b.ReadUint32()
		if err != nil {
			return err
		}
		v.SetUint(uint64(x))
	case reflect.Uint, reflect.Uint64, reflect.Uintptr:
		x, err := b.ReadUint64()
		if err != nil {
			return err
		}
		v.SetUint(x)
	case reflect.Float32:
		x, err := b.ReadFloat32()
		if err != nil {
			return err
		}
		v.SetFloat(float64(x))
	case reflect.Float64:
		x, err := b.ReadFloat64()
		if err != nil {
			return err
		}
		v.SetFloat(x)
	case reflect.String:
		x, err := b.ReadString()
		if err != nil {
			return err
		}
		v.SetString(x)
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			x, err := b.ReadBytes()
			if err != nil {
				return err
			}
			v.SetBytes(x)
			return nil
		}
		n, err := b.ReadUint32()
		if err != nil {
			return err
		}
		if err := checkCount(b, n, minWireSize(t.Elem()), t); err != nil {
			return err
		}
		s := reflect.MakeSlice(t, 0, min(int(n), b.Remaining()))
		for i := uint32(0); i < n; i++ {
			elem := reflect.New(t.Elem()).Elem()
			if err := decodeValue(b, elem); err != nil {
				return err
			}
			s = reflect.Append(s, elem)
		}
		v.Set(s)
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := decodeValue(b, v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		n, err := b.ReadUint32()
		if err != nil {
			return err
		}
		if err := checkCount(b, n, minWireSize(t.Key())+minWireSize(t.Elem()), t); err != nil {
			return err
		}
		m := reflect.MakeMapWithSize(t, min(int(n), b.Remaining()))
		for i := uint32(0); i < n; i++ {
			key := reflect.New(t.Key()).Elem()
			if err := decodeValue(b, key); err != nil {
				return err
			}
			val := reflect.New(t.Elem()).Elem()
			if err := decodeValue(b, val); err != nil {
				return err
			}
			m.SetMapIndex(key, val)
		}
		v.Set(m)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if err := decodeValue(b, v.Field(i)); err != nil {
				return errors.Wrapf(err, "field %s.%s", t.Name(), t.Field(i).Name)
			}
		}
	case reflect.Pointer:
		if v.IsNil() {
			v.Set(reflect.New(t.Elem()))
		}
		return decodeValue(b, v.Elem())
	default:
		return errors.Wrapf(ErrUnsupportedType, "decode %s", t)
	}
	return nil
}

// maxEmptyElems bounds the count of a slice or map whose elements encode as
// zero bytes, since such a count is not backed by any input.
const maxEmptyElems = 1 << 16

// checkCount rejects an element count that the remaining input cannot hold.
func checkCount(b *Buffer, n uint32, elemSize int, t reflect.Type) error {
	if elemSize == 0 {
		if n > maxEmptyElems {
			return errors.Wrapf(ErrShortBuffer, "decode %s: %d empty elements", t, n)
		}
		return nil
	}
	if uint64(n)*uint64(elemSize) > uint64(b.Remaining()) {
		return errors.Wrapf(ErrShortBuffer, "decode %s: %d elements need at least %d bytes, have %d",
			t, n, uint64(n)*uint64(elemSize), b.Remaining())
	}
	return nil
}

var wireSizes sync.Map // reflect.Type -> int

// minWireSize is the fewest bytes any value of t encodes to. Types with their
// own Unmarshaler count as zero because their layout is unknown.
func minWireSize(t reflect.Type) int {
	if n, ok := wireSizes.Load(t); ok {
		return n.(int)
	}
	n := wireSizeOf(t, map[reflect.Type]bool{})
	wireSizes.Store(t, n)
	return n
}

func wireSizeOf(t reflect.Type, seen map[reflect.Type]bool) int {
	if t == voidType || reflect.PointerTo(t).Implements(unmarshalerType) {
		return 0
	}
	switch t.Kind() {
	case reflect.Bool, reflect.Int8, reflect.Uint8:
		return 1
	case reflect.Int16, reflect.Uint16:
		return 2
	case reflect.Int32, reflect.Uint32, reflect.Float32:
		return 4
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint64, reflect.Uintptr, reflect.Float64:
		return 8
	case reflect.String, reflect.Slice, reflect.Map:
		return 4
	case reflect.Array:
		return t.Len() * wireSizeOf(t.Elem(), seen)
	case reflect.Struct:
		if seen[t] {
			return 0
		}
		seen[t] = true
		n := 0
		for i := 0; i < t.NumField(); i++ {
			if t.Field(i).IsExported() {
				n += wireSizeOf(t.Field(i).Type, seen)
			}
		}
		delete(seen, t)
		return n
	case reflect.Pointer:
		if seen[t] {
			return 0
		}
		seen[t] = true
		n := wireSizeOf(t.Elem(), seen)
		delete(seen, t)
		return n
	default:
		return 0
	}
}
