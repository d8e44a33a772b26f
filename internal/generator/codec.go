package generator

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// GenerateRequest asks for the program of one seed.
//
//	message GenerateRequest { int64 seed = 1; }
type GenerateRequest struct {
	Seed int64
}

// Program is a generated source file.
//
//	message Program { string language = 1; string text = 2; }
type Program struct {
	Language string
	Text     string
}

func (r *GenerateRequest) marshal() []byte {
	var b []byte
	if r.Seed != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Seed))
	}
	return b
}

func (r *GenerateRequest) unmarshal(b []byte) error {
	*r = GenerateRequest{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return n, protowire.ParseError(n)
			}
			r.Seed = int64(v)
			return n, nil
		}
		return skip(num, typ, b)
	})
}

func (p *Program) marshal() []byte {
	var b []byte
	if p.Language != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, p.Language)
	}
	if p.Text != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, p.Text)
	}
	return b
}

func (p *Program) unmarshal(b []byte) error {
	*p = Program{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType || (num != 1 && num != 2) {
			return skip(num, typ, b)
		}
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return n, protowire.ParseError(n)
		}
		if num == 1 {
			p.Language = v
		} else {
			p.Text = v
		}
		return n, nil
	})
}

func walk(b []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := field(num, typ, b)
		if err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func skip(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return n, protowire.ParseError(n)
	}
	return n, nil
}

type wireMessage interface {
	marshal() []byte
	unmarshal([]byte) error
}

// protoCodec speaks the protobuf binary format for the two generator
// messages. It registers under the "proto" name so gRPC peers see the usual
// application/grpc+proto content type.
type protoCodec struct{}

func (protoCodec) Name() string { return "proto" }

func (protoCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("proto codec: unsupported message %T", v)
	}
	return m.marshal(), nil
}

func (protoCodec) Unmarshal(b []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("proto codec: unsupported message %T", v)
	}
	return m.unmarshal(b)
}
