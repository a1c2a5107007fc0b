package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/coral-mesh/remoteprof/internal/schema"
)

// Envelope field numbers. Numbers are never reused; unknown numbers are
// skipped on decode so newer peers can add fields.
const (
	fieldType          protowire.Number = 1
	fieldSeq           protowire.Number = 2
	fieldResponse      protowire.Number = 3
	fieldEvent         protowire.Number = 4
	fieldPayload       protowire.Number = 5
	fieldSchema        protowire.Number = 6
	fieldConfiguration protowire.Number = 7
	fieldError         protowire.Number = 8
	fieldStopRecording protowire.Number = 9
	fieldIsRootGroup   protowire.Number = 10
)

// Value field numbers, one per Kind.
const (
	valueNull   protowire.Number = 1
	valueBool   protowire.Number = 2
	valueInt    protowire.Number = 3
	valueFloat  protowire.Number = 4
	valueString protowire.Number = 5
	valueBytes  protowire.Number = 6
	valueTime   protowire.Number = 7
	valueList   protowire.Number = 8
	valueMap    protowire.Number = 9
)

// maxDepth bounds nesting of lists and maps.
const maxDepth = 64

// Encode serializes an envelope body (without the frame header).
func Encode(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, protoErr("encode", "nil envelope")
	}
	if !env.Type.Valid() {
		return nil, protoErr("encode", "unknown command type %d", env.Type)
	}
	if env.Type == CommandProfilingStoryEvent && !env.Response && !env.Event.Valid() {
		return nil, protoErr("encode", "story event with invalid kind %d", env.Event)
	}

	b := make([]byte, 0, 64)
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(env.Type))
	if env.Seq != 0 {
		b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
		b = protowire.AppendVarint(b, env.Seq)
	}
	if env.Response {
		b = protowire.AppendTag(b, fieldResponse, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if env.Event != EventUnknown {
		b = protowire.AppendTag(b, fieldEvent, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(env.Event))
	}
	if env.Payload != nil {
		body, err := appendMap(nil, env.Payload, 0)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, body)
	}
	if env.Schema != nil {
		b = protowire.AppendTag(b, fieldSchema, protowire.BytesType)
		b = protowire.AppendBytes(b, appendDescriptor(nil, env.Schema))
	}
	if env.Configuration != nil {
		b = protowire.AppendTag(b, fieldConfiguration, protowire.BytesType)
		b = protowire.AppendBytes(b, env.Configuration)
	}
	if env.Error != "" {
		b = protowire.AppendTag(b, fieldError, protowire.BytesType)
		b = protowire.AppendString(b, env.Error)
	}
	if env.StopRecording != nil {
		b = protowire.AppendTag(b, fieldStopRecording, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(*env.StopRecording))
	}
	if env.IsRootGroup != nil {
		b = protowire.AppendTag(b, fieldIsRootGroup, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(*env.IsRootGroup))
	}
	return b, nil
}

// Decode parses an envelope body. Any malformed input yields a
// *ProtocolError.
func Decode(b []byte) (*Envelope, error) {
	env := &Envelope{}
	sawType := false

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, &ProtocolError{Op: "decode envelope", Err: protowire.ParseError(n)}
		}
		b = b[n:]

		switch {
		case num == fieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, &ProtocolError{Op: "decode command type", Err: protowire.ParseError(n)}
			}
			if v >= uint64(commandTypeCount) {
				return nil, protoErr("decode command type", "unknown command type %d", v)
			}
			env.Type = CommandType(v)
			sawType = true
			b = b[n:]
		case num == fieldSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, &ProtocolError{Op: "decode seq", Err: protowire.ParseError(n)}
			}
			env.Seq = v
			b = b[n:]
		case num == fieldResponse && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, &ProtocolError{Op: "decode response flag", Err: protowire.ParseError(n)}
			}
			env.Response = protowire.DecodeBool(v)
			b = b[n:]
		case num == fieldEvent && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, &ProtocolError{Op: "decode event kind", Err: protowire.ParseError(n)}
			}
			if v > math.MaxUint8 {
				return nil, protoErr("decode event kind", "event kind %d out of range", v)
			}
			env.Event = EventKind(v)
			b = b[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, &ProtocolError{Op: "decode payload", Err: protowire.ParseError(n)}
			}
			m, err := consumeMap(raw, 0)
			if err != nil {
				return nil, err
			}
			env.Payload = m
			b = b[n:]
		case num == fieldSchema && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, &ProtocolError{Op: "decode schema", Err: protowire.ParseError(n)}
			}
			d, err := consumeDescriptor(raw)
			if err != nil {
				return nil, err
			}
			env.Schema = d
			b = b[n:]
		case num == fieldConfiguration && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, &ProtocolError{Op: "decode configuration", Err: protowire.ParseError(n)}
			}
			env.Configuration = append([]byte{}, raw...)
			b = b[n:]
		case num == fieldError && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, &ProtocolError{Op: "decode error text", Err: protowire.ParseError(n)}
			}
			env.Error = string(raw)
			b = b[n:]
		case (num == fieldStopRecording || num == fieldIsRootGroup) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, &ProtocolError{Op: "decode flag", Err: protowire.ParseError(n)}
			}
			flag := protowire.DecodeBool(v)
			if num == fieldStopRecording {
				env.StopRecording = &flag
			} else {
				env.IsRootGroup = &flag
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, &ProtocolError{Op: fmt.Sprintf("skip field %d", num), Err: protowire.ParseError(n)}
			}
			b = b[n:]
		}
	}

	if !sawType {
		return nil, protoErr("decode envelope", "missing command type")
	}
	if env.Type == CommandProfilingStoryEvent && !env.Response && !env.Event.Valid() {
		return nil, protoErr("decode envelope", "story event with unknown kind %d", env.Event)
	}
	return env, nil
}

func appendValue(b []byte, v Value, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, protoErr("encode value", "nesting deeper than %d", maxDepth)
	}
	switch v.kind {
	case KindNull:
		b = protowire.AppendTag(b, valueNull, protowire.VarintType)
		b = protowire.AppendVarint(b, 0)
	case KindBool:
		b = protowire.AppendTag(b, valueBool, protowire.VarintType)
		b = protowire.AppendVarint(b, v.num)
	case KindInt:
		b = protowire.AppendTag(b, valueInt, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v.num)))
	case KindFloat:
		b = protowire.AppendTag(b, valueFloat, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, v.num)
	case KindString:
		b = protowire.AppendTag(b, valueString, protowire.BytesType)
		b = protowire.AppendString(b, v.str)
	case KindBytes:
		b = protowire.AppendTag(b, valueBytes, protowire.BytesType)
		b = protowire.AppendBytes(b, v.raw)
	case KindTime:
		b = protowire.AppendTag(b, valueTime, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v.num)))
	case KindList:
		var body []byte
		for _, elem := range v.list {
			eb, err := appendValue(nil, elem, depth+1)
			if err != nil {
				return nil, err
			}
			body = protowire.AppendTag(body, 1, protowire.BytesType)
			body = protowire.AppendBytes(body, eb)
		}
		b = protowire.AppendTag(b, valueList, protowire.BytesType)
		b = protowire.AppendBytes(b, body)
	case KindMap:
		body, err := appendMap(nil, v.m, depth+1)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, valueMap, protowire.BytesType)
		b = protowire.AppendBytes(b, body)
	default:
		return nil, protoErr("encode value", "unknown value kind %d", v.kind)
	}
	return b, nil
}

func appendMap(b []byte, m *Map, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, protoErr("encode map", "nesting deeper than %d", maxDepth)
	}
	var err error
	m.Range(func(key string, v Value) bool {
		var vb []byte
		vb, err = appendValue(nil, v, depth)
		if err != nil {
			return false
		}
		var entry []byte
		entry = protowire.AppendTag(entry, 1, protowire.BytesType)
		entry = protowire.AppendString(entry, key)
		entry = protowire.AppendTag(entry, 2, protowire.BytesType)
		entry = protowire.AppendBytes(entry, vb)

		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
		return true
	})
	if err != nil {
		return nil, err
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

func consumeValue(b []byte, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, protoErr("decode value", "nesting deeper than %d", maxDepth)
	}
	v := Value{}
	seen := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Value{}, &ProtocolError{Op: "decode value", Err: protowire.ParseError(n)}
		}
		b = b[n:]
		if seen {
			return Value{}, protoErr("decode value", "value carries more than one variant")
		}
		seen = true

		switch {
		case num == valueNull && typ == protowire.VarintType,
			num == valueBool && typ == protowire.VarintType,
			num == valueInt && typ == protowire.VarintType,
			num == valueTime && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Value{}, &ProtocolError{Op: "decode value", Err: protowire.ParseError(n)}
			}
			b = b[n:]
			switch num {
			case valueNull:
				v = Null()
			case valueBool:
				v = Bool(protowire.DecodeBool(x))
			case valueInt:
				v = Int(protowire.DecodeZigZag(x))
			case valueTime:
				v = Value{kind: KindTime, num: uint64(protowire.DecodeZigZag(x))}
			}
		case num == valueFloat && typ == protowire.Fixed64Type:
			x, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return Value{}, &ProtocolError{Op: "decode value", Err: protowire.ParseError(n)}
			}
			b = b[n:]
			v = Value{kind: KindFloat, num: x}
		case (num == valueString || num == valueBytes || num == valueList || num == valueMap) &&
			typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Value{}, &ProtocolError{Op: "decode value", Err: protowire.ParseError(n)}
			}
			b = b[n:]
			switch num {
			case valueString:
				v = String(string(raw))
			case valueBytes:
				v = Bytes(raw)
			case valueList:
				list, err := consumeList(raw, depth+1)
				if err != nil {
					return Value{}, err
				}
				v = Value{kind: KindList, list: list}
			case valueMap:
				m, err := consumeMap(raw, depth+1)
				if err != nil {
					return Value{}, err
				}
				v = MapValue(m)
			}
		default:
			return Value{}, protoErr("decode value", "unknown variant field %d (wire type %d)", num, typ)
		}
	}
	if !seen {
		return Value{}, protoErr("decode value", "empty value")
	}
	return v, nil
}

func consumeList(b []byte, depth int) ([]Value, error) {
	var out []Value
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, &ProtocolError{Op: "decode list", Err: protowire.ParseError(n)}
		}
		b = b[n:]
		if num != 1 || typ != protowire.BytesType {
			return nil, protoErr("decode list", "unexpected field %d", num)
		}
		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, &ProtocolError{Op: "decode list", Err: protowire.ParseError(n)}
		}
		b = b[n:]
		elem, err := consumeValue(raw, depth)
		if err != nil {
			return nil, err
		}
		out = append(out, elem)
	}
	return out, nil
}

func consumeMap(b []byte, depth int) (*Map, error) {
	if depth > maxDepth {
		return nil, protoErr("decode map", "nesting deeper than %d", maxDepth)
	}
	m := NewMap()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, &ProtocolError{Op: "decode map", Err: protowire.ParseError(n)}
		}
		b = b[n:]
		if num != 1 || typ != protowire.BytesType {
			return nil, protoErr("decode map", "unexpected field %d", num)
		}
		entry, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, &ProtocolError{Op: "decode map entry", Err: protowire.ParseError(n)}
		}
		b = b[n:]

		key, val, err := consumeEntry(entry, depth)
		if err != nil {
			return nil, err
		}
		m.Set(key, val)
	}
	return m, nil
}

func consumeEntry(b []byte, depth int) (string, Value, error) {
	var (
		key    string
		val    Value
		hasKey bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", Value{}, &ProtocolError{Op: "decode map entry", Err: protowire.ParseError(n)}
		}
		b = b[n:]
		if typ != protowire.BytesType || (num != 1 && num != 2) {
			return "", Value{}, protoErr("decode map entry", "unexpected field %d", num)
		}
		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return "", Value{}, &ProtocolError{Op: "decode map entry", Err: protowire.ParseError(n)}
		}
		b = b[n:]
		if num == 1 {
			key, hasKey = string(raw), true
			continue
		}
		v, err := consumeValue(raw, depth)
		if err != nil {
			return "", Value{}, err
		}
		val = v
	}
	if !hasKey {
		return "", Value{}, protoErr("decode map entry", "entry without key")
	}
	return key, val, nil
}

func appendDescriptor(b []byte, d *schema.Descriptor) []byte {
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, d.Entity)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.Version))
	for _, f := range d.Fields {
		var fb []byte
		fb = protowire.AppendTag(fb, 1, protowire.BytesType)
		fb = protowire.AppendString(fb, f.Name)
		fb = protowire.AppendTag(fb, 2, protowire.VarintType)
		fb = protowire.AppendVarint(fb, uint64(f.Type))
		if f.Optional {
			fb = protowire.AppendTag(fb, 3, protowire.VarintType)
			fb = protowire.AppendVarint(fb, 1)
		}
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, fb)
	}
	return b
}

func consumeDescriptor(b []byte) (*schema.Descriptor, error) {
	d := &schema.Descriptor{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, &ProtocolError{Op: "decode schema", Err: protowire.ParseError(n)}
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, &ProtocolError{Op: "decode schema entity", Err: protowire.ParseError(n)}
			}
			d.Entity = string(raw)
			b = b[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, &ProtocolError{Op: "decode schema version", Err: protowire.ParseError(n)}
			}
			if v > math.MaxUint32 {
				return nil, protoErr("decode schema version", "version %d out of range", v)
			}
			d.Version = uint32(v)
			b = b[n:]
		case num == 3 && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, &ProtocolError{Op: "decode schema field", Err: protowire.ParseError(n)}
			}
			f, err := consumeField(raw)
			if err != nil {
				return nil, err
			}
			d.Fields = append(d.Fields, f)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, &ProtocolError{Op: "decode schema", Err: protowire.ParseError(n)}
			}
			b = b[n:]
		}
	}
	if err := d.Validate(); err != nil {
		return nil, &ProtocolError{Op: "decode schema", Err: err}
	}
	return d, nil
}

func consumeField(b []byte) (schema.Field, error) {
	var f schema.Field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return f, &ProtocolError{Op: "decode schema field", Err: protowire.ParseError(n)}
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return f, &ProtocolError{Op: "decode schema field name", Err: protowire.ParseError(n)}
			}
			f.Name = string(raw)
			b = b[n:]
		case (num == 2 || num == 3) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return f, &ProtocolError{Op: "decode schema field", Err: protowire.ParseError(n)}
			}
			if num == 2 {
				// Types this build does not know decode as TypeUnknown.
				if v > uint64(schema.TypeMap) {
					v = uint64(schema.TypeUnknown)
				}
				f.Type = schema.FieldType(v)
			} else {
				f.Optional = protowire.DecodeBool(v)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return f, &ProtocolError{Op: "decode schema field", Err: protowire.ParseError(n)}
			}
			b = b[n:]
		}
	}
	return f, nil
}
