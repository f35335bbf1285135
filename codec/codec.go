// Package codec implements the positional binary encoding used on the wire.
//
// There are no type tags and no field names: the sender and the receiver must
// agree on the exact sequence of types. A value list [int32 7, string "hi"]
// encodes as
//
//	00 00 00 07 | 00 00 00 02 'h' 'i'
//
// Fixed-width numbers are big-endian, int and uint always travel as 64 bits,
// strings and byte slices carry a uint32 length prefix, Void carries nothing.
// Composite values (slices, arrays, maps, structs, pointers) go through the
// reflection path in reflect.go.
package codec

import (
	"reflect"

	"github.com/cockroachdb/errors"
)

// Void is the payload of a function that returns nothing. It encodes as zero bytes.
type Void struct{}

// Marshaler is implemented by types that write their own positional encoding.
type Marshaler interface {
	MarshalRPC(b *Buffer) error
}

// Unmarshaler is the read side of Marshaler.
type Unmarshaler interface {
	UnmarshalRPC(b *Buffer) error
}

// Encode appends the encoding of v to b.
func Encode(b *Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		return errors.Wrap(ErrNilValue, "encode")
	case Void, *Void:
		return nil
	case Marshaler:
		if rv := reflect.ValueOf(x); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return errors.Wrapf(ErrNilValue, "encode %T", x)
		}
		return x.MarshalRPC(b)
	case bool:
		b.WriteBool(x)
	case int8:
		b.WriteInt8(x)
	case int16:
		b.WriteInt16(x)
	case int32:
		b.WriteInt32(x)
	case int64:
		b.WriteInt64(x)
	case int:
		b.WriteInt64(int64(x))
	case uint8:
		b.WriteUint8(x)
	case uint16:
		b.WriteUint16(x)
	case uint32:
		b.WriteUint32(x)
	case uint64:
		b.WriteUint64(x)
	case uint:
		b.WriteUint64(uint64(x))
	case float32:
		b.WriteFloat32(x)
	case float64:
		b.WriteFloat64(x)
	case string:
		b.WriteString(x)
	case []byte:
		b.WriteBytes(x)
	default:
		return encodeValue(b, reflect.ValueOf(v))
	}
	return nil
}

// Decode reads one value from b into the value ptr points to.
func Decode(b *Buffer, ptr any) error {
	var err error
	switch x := ptr.(type) {
	case nil:
		return errors.Wrap(ErrNilValue, "decode")
	case *Void:
		return nil
	case Unmarshaler:
		return x.UnmarshalRPC(b)
	case *bool:
		*x, err = b.ReadBool()
	case *int8:
		*x, err = b.ReadInt8()
	case *int16:
		*x, err = b.ReadInt16()
	case *int32:
		*x, err = b.ReadInt32()
	case *int64:
		*x, err = b.ReadInt64()
	case *int:
		var v int64
		v, err = b.ReadInt64()
		*x = int(v)
	case *uint8:
		*x, err = b.ReadUint8()
	case *uint16:
		*x, err = b.ReadUint16()
	case *uint32:
		*x, err = b.ReadUint32()
	case *uint64:
		*x, err = b.ReadUint64()
	case *uint:
		var v uint64
		v, err = b.ReadUint64()
		*x = uint(v)
	case *float32:
		*x, err = b.ReadFloat32()
	case *float64:
		*x, err = b.ReadFloat64()
	case *string:
		*x, err = b.ReadString()
	case *[]byte:
		*x, err = b.ReadBytes()
	default:
		rv := reflect.ValueOf(ptr)
		if rv.Kind() != reflect.Pointer || rv.IsNil() {
			return errors.Wrapf(ErrNilValue, "decode target must be a non-nil pointer, got %T", ptr)
		}
		return decodeValue(b, rv.Elem())
	}
	return err
}

// Read decodes the next value of type T.
func Read[T any](b *Buffer) (T, error) {
	var v T
	err := Decode(b, &v)
	return v, err
}

// EncodeArgs encodes args in order, with nothing between them.
func EncodeArgs(b *Buffer, args ...any) error {
	for i, arg := range args {
		if err := Encode(b, arg); err != nil {
			return errors.Wrapf(err, "encode argument %d (%T)", i, arg)
		}
	}
	return nil
}

// DecodeArgs decodes one fresh value per entry of types, in order. It is the
// read side of EncodeArgs.
func DecodeArgs(b *Buffer, types []reflect.Type) ([]reflect.Value, error) {
	vals := make([]reflect.Value, 0, len(types))
	for i, t := range types {
		v, err := DecodeType(b, t)
		if err != nil {
			return nil, errors.Wrapf(err, "decode argument %d (%s)", i, t)
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// DecodeType decodes the next value as a fresh instance of t.
func DecodeType(b *Buffer, t reflect.Type) (reflect.Value, error) {
	v := reflect.New(t).Elem()
	if err := decodeValue(b, v); err != nil {
		return reflect.Value{}, err
	}
	return v, nil
}
