// SPDX-License-Identifier: GPL-3.0-or-later

// Package any implements the Any taxonomy (spec §6): the tagged-value
// representation the broker and reflective dispatch use to carry method
// arguments and return values, including across a process boundary.
//
// There is no ecosystem tagged-union codec in the teacher's dependency
// set shaped for this exact taxonomy — [github.com/bassosimone/dnscodec]
// encodes DNS messages specifically — so this package is built directly
// on [encoding/binary] and [bytes]; see DESIGN.md.
package any

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/esmicro/kernel/internal/errkind"
)

// Kind identifies the scalar or reference type carried by a [Value].
type Kind uint8

const (
	Void Kind = iota
	Bool
	Octet
	Short
	UnsignedShort
	Long
	UnsignedLong
	LongLong
	UnsignedLongLong
	Float
	Double
	String
	Object
)

func (k Kind) String() string {
	switch k {
	case Void:
		return "Void"
	case Bool:
		return "Bool"
	case Octet:
		return "Octet"
	case Short:
		return "Short"
	case UnsignedShort:
		return "UnsignedShort"
	case Long:
		return "Long"
	case UnsignedLong:
		return "UnsignedLong"
	case LongLong:
		return "LongLong"
	case UnsignedLongLong:
		return "UnsignedLongLong"
	case Float:
		return "Float"
	case Double:
		return "Double"
	case String:
		return "String"
	case Object:
		return "Object"
	default:
		return "Unknown"
	}
}

// ObjectRef identifies an object by the triple (pid, oid, iface): the
// owning process, its handle within that process's capability table, and
// the interface name the handle was obtained through (spec §3, §4.2).
type ObjectRef struct {
	PID   uint32
	OID   int32
	Iface string
}

// Value is a tagged value in the Any taxonomy. FlagAny marks
// variant-typed values that must be preserved across marshalling instead
// of being coerced to a method signature's declared type (spec §6).
type Value struct {
	Kind    Kind
	FlagAny bool

	boolVal   bool
	octetVal  byte
	shortVal  int16
	ushortVal uint16
	longVal   int32
	ulongVal  uint32
	llongVal  int64
	ullongVal uint64
	floatVal  float32
	doubleVal float64
	stringVal string
	objectVal *ObjectRef
}

func VoidValue() Value                { return Value{Kind: Void} }
func BoolValue(v bool) Value          { return Value{Kind: Bool, boolVal: v} }
func OctetValue(v byte) Value         { return Value{Kind: Octet, octetVal: v} }
func ShortValue(v int16) Value        { return Value{Kind: Short, shortVal: v} }
func UnsignedShortValue(v uint16) Value {
	return Value{Kind: UnsignedShort, ushortVal: v}
}
func LongValue(v int32) Value  { return Value{Kind: Long, longVal: v} }
func UnsignedLongValue(v uint32) Value {
	return Value{Kind: UnsignedLong, ulongVal: v}
}
func LongLongValue(v int64) Value { return Value{Kind: LongLong, llongVal: v} }
func UnsignedLongLongValue(v uint64) Value {
	return Value{Kind: UnsignedLongLong, ullongVal: v}
}
func FloatValue(v float32) Value  { return Value{Kind: Float, floatVal: v} }
func DoubleValue(v float64) Value { return Value{Kind: Double, doubleVal: v} }
func StringValue(v string) Value  { return Value{Kind: String, stringVal: v} }
func ObjectValue(ref *ObjectRef) Value {
	return Value{Kind: Object, objectVal: ref}
}

// AsAny returns a copy of v with FlagAny set, marking it as a
// variant-typed value that must round-trip without coercion.
func (v Value) AsAny() Value {
	v.FlagAny = true
	return v
}

func (v Value) Bool() (bool, error) {
	if v.Kind != Bool {
		return false, errWrongKind(Bool, v.Kind)
	}
	return v.boolVal, nil
}

func (v Value) Octet() (byte, error) {
	if v.Kind != Octet {
		return 0, errWrongKind(Octet, v.Kind)
	}
	return v.octetVal, nil
}

func (v Value) Short() (int16, error) {
	if v.Kind != Short {
		return 0, errWrongKind(Short, v.Kind)
	}
	return v.shortVal, nil
}

func (v Value) UnsignedShort() (uint16, error) {
	if v.Kind != UnsignedShort {
		return 0, errWrongKind(UnsignedShort, v.Kind)
	}
	return v.ushortVal, nil
}

func (v Value) Long() (int32, error) {
	if v.Kind != Long {
		return 0, errWrongKind(Long, v.Kind)
	}
	return v.longVal, nil
}

func (v Value) UnsignedLong() (uint32, error) {
	if v.Kind != UnsignedLong {
		return 0, errWrongKind(UnsignedLong, v.Kind)
	}
	return v.ulongVal, nil
}

func (v Value) LongLong() (int64, error) {
	if v.Kind != LongLong {
		return 0, errWrongKind(LongLong, v.Kind)
	}
	return v.llongVal, nil
}

func (v Value) UnsignedLongLong() (uint64, error) {
	if v.Kind != UnsignedLongLong {
		return 0, errWrongKind(UnsignedLongLong, v.Kind)
	}
	return v.ullongVal, nil
}

func (v Value) Float32() (float32, error) {
	if v.Kind != Float {
		return 0, errWrongKind(Float, v.Kind)
	}
	return v.floatVal, nil
}

func (v Value) Float64() (float64, error) {
	if v.Kind != Double {
		return 0, errWrongKind(Double, v.Kind)
	}
	return v.doubleVal, nil
}

func (v Value) String() (string, error) {
	if v.Kind != String {
		return "", errWrongKind(String, v.Kind)
	}
	return v.stringVal, nil
}

func (v Value) Object() (*ObjectRef, error) {
	if v.Kind != Object {
		return nil, errWrongKind(Object, v.Kind)
	}
	return v.objectVal, nil
}

func errWrongKind(want, got Kind) error {
	return errkind.New(errkind.InvalidArg, errKindMismatch{want: want, got: got})
}

type errKindMismatch struct{ want, got Kind }

func (e errKindMismatch) Error() string {
	return "any: expected " + e.want.String() + ", got " + e.got.String()
}

// Marshal encodes v as: [kind byte][flagAny byte][kind-specific payload].
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(v.Kind))
	if v.FlagAny {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	switch v.Kind {
	case Void:
		// no payload
	case Bool:
		if v.boolVal {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case Octet:
		buf.WriteByte(v.octetVal)
	case Short:
		writeUint(&buf, uint16(v.shortVal))
	case UnsignedShort:
		writeUint(&buf, v.ushortVal)
	case Long:
		writeUint(&buf, uint32(v.longVal))
	case UnsignedLong:
		writeUint(&buf, v.ulongVal)
	case LongLong:
		writeUint(&buf, uint64(v.llongVal))
	case UnsignedLongLong:
		writeUint(&buf, v.ullongVal)
	case Float:
		writeUint(&buf, math.Float32bits(v.floatVal))
	case Double:
		writeUint(&buf, math.Float64bits(v.doubleVal))
	case String:
		writeUint(&buf, uint32(len(v.stringVal)))
		buf.WriteString(v.stringVal)
	case Object:
		ref := v.objectVal
		if ref == nil {
			return nil, errkind.New(errkind.InvalidArg, errNilObject{})
		}
		writeUint(&buf, ref.PID)
		writeUint(&buf, uint32(ref.OID))
		writeUint(&buf, uint32(len(ref.Iface)))
		buf.WriteString(ref.Iface)
	default:
		return nil, errkind.New(errkind.InvalidArg, errUnknownKind{kind: v.Kind})
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a [Value] previously produced by [Marshal].
func Unmarshal(data []byte) (Value, error) {
	r := bytes.NewReader(data)
	kindByte, err := r.ReadByte()
	if err != nil {
		return Value{}, errkind.New(errkind.BadMessage, err)
	}
	flagByte, err := r.ReadByte()
	if err != nil {
		return Value{}, errkind.New(errkind.BadMessage, err)
	}
	kind := Kind(kindByte)
	v := Value{Kind: kind, FlagAny: flagByte != 0}

	switch kind {
	case Void:
		// no payload
	case Bool:
		b, err := r.ReadByte()
		if err != nil {
			return Value{}, errkind.New(errkind.BadMessage, err)
		}
		v.boolVal = b != 0
	case Octet:
		b, err := r.ReadByte()
		if err != nil {
			return Value{}, errkind.New(errkind.BadMessage, err)
		}
		v.octetVal = b
	case Short:
		u, err := readUint16(r)
		if err != nil {
			return Value{}, err
		}
		v.shortVal = int16(u)
	case UnsignedShort:
		u, err := readUint16(r)
		if err != nil {
			return Value{}, err
		}
		v.ushortVal = u
	case Long:
		u, err := readUint32(r)
		if err != nil {
			return Value{}, err
		}
		v.longVal = int32(u)
	case UnsignedLong:
		u, err := readUint32(r)
		if err != nil {
			return Value{}, err
		}
		v.ulongVal = u
	case LongLong:
		u, err := readUint64(r)
		if err != nil {
			return Value{}, err
		}
		v.llongVal = int64(u)
	case UnsignedLongLong:
		u, err := readUint64(r)
		if err != nil {
			return Value{}, err
		}
		v.ullongVal = u
	case Float:
		u, err := readUint32(r)
		if err != nil {
			return Value{}, err
		}
		v.floatVal = math.Float32frombits(u)
	case Double:
		u, err := readUint64(r)
		if err != nil {
			return Value{}, err
		}
		v.doubleVal = math.Float64frombits(u)
	case String:
		n, err := readUint32(r)
		if err != nil {
			return Value{}, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Value{}, errkind.New(errkind.BadMessage, err)
		}
		v.stringVal = string(buf)
	case Object:
		pid, err := readUint32(r)
		if err != nil {
			return Value{}, err
		}
		oid, err := readUint32(r)
		if err != nil {
			return Value{}, err
		}
		n, err := readUint32(r)
		if err != nil {
			return Value{}, err
		}
		iface := make([]byte, n)
		if _, err := io.ReadFull(r, iface); err != nil {
			return Value{}, errkind.New(errkind.BadMessage, err)
		}
		v.objectVal = &ObjectRef{PID: pid, OID: int32(oid), Iface: string(iface)}
	default:
		return Value{}, errkind.New(errkind.BadMessage, errUnknownKind{kind: kind})
	}
	return v, nil
}

func writeUint[T ~uint16 | ~uint32 | ~uint64](buf *bytes.Buffer, v T) {
	switch any(v).(type) {
	case uint16:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(v))
		buf.Write(b[:])
	case uint32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v))
		buf.Write(b[:])
	case uint64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v))
		buf.Write(b[:])
	}
}

func readUint16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, errkind.New(errkind.BadMessage, err)
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, errkind.New(errkind.BadMessage, err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, errkind.New(errkind.BadMessage, err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

type errUnknownKind struct{ kind Kind }

func (e errUnknownKind) Error() string { return "any: unknown kind " + e.kind.String() }

type errNilObject struct{}

func (errNilObject) Error() string { return "any: nil object reference" }
