package patch

import (
	"bytes"
	"io"
	"iter"

	"github.com/nainya/eavstore/pkg/ident"
	"github.com/nainya/eavstore/pkg/value"
	"github.com/nainya/eavstore/pkg/wire"
)

type decodeFunc func(r *wire.Reader) (Instruction, error)

// decoders is indexed by opcode
var decoders = [opcodeCount]decodeFunc{
	OpSetReference: decodeSetReference,
	OpSetString:    decodeSetString,
	OpSetFloat:     decodeSetFloat,
	OpSetFlag:      decodeSetFlag,
	OpClearFlag:    decodeClearFlag,
	OpSetTag:       decodeSetTag,
	OpSetColor:     decodeSetColor,
	OpSetImage:     decodeSetImage,
	OpSetMesh:      decodeSetMesh,
}

// Decoder pulls instructions from a byte source one at a time. It is not
// safe for concurrent use.
type Decoder struct {
	r *wire.Reader
}

// NewDecoder creates a decoder over r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: wire.NewReader(r)}
}

// Next decodes the next instruction. It returns io.EOF when the source ends
// between instructions. Any other error is terminal and no partial
// instruction is returned.
func (d *Decoder) Next() (Instruction, error) {
	start := d.r.Offset()
	tag, err := d.r.ReadTag()
	if err != nil {
		return nil, err
	}

	op := Opcode(tag)
	if !op.Valid() {
		return nil, &wire.DecodeError{
			Field:  "opcode",
			Offset: start,
			Err:    wire.ErrUnknownOpcode,
			Detail: op.String(),
		}
	}
	return decoders[op](d.r)
}

// Offset returns the number of bytes consumed so far
func (d *Decoder) Offset() int64 {
	return d.r.Offset()
}

// All returns a lazy sequence over the instructions in r. Iteration stops
// after the first error, which is yielded with a nil instruction.
func All(r io.Reader) iter.Seq2[Instruction, error] {
	return func(yield func(Instruction, error) bool) {
		d := NewDecoder(r)
		for {
			in, err := d.Next()
			if err == io.EOF {
				return
			}
			if !yield(in, err) || err != nil {
				return
			}
		}
	}
}

// DecodeOne decodes exactly one instruction from data
func DecodeOne(data []byte) (Instruction, error) {
	r := wire.NewReader(bytes.NewReader(data))
	d := &Decoder{r: r}
	in, err := d.Next()
	if err == io.EOF {
		return nil, &wire.DecodeError{Field: "opcode", Err: wire.ErrUnexpectedEOF}
	}
	if err != nil {
		return nil, err
	}
	if err := r.ExpectEOF(); err != nil {
		return nil, err
	}
	return in, nil
}

func readHeader(r *wire.Reader, name string) (entity, attribute ident.ID, err error) {
	if entity, err = r.ReadID(name + ".entity"); err != nil {
		return
	}
	attribute, err = r.ReadID(name + ".attribute")
	return
}

func decodeSetReference(r *wire.Reader) (Instruction, error) {
	e, a, err := readHeader(r, "SetReference")
	if err != nil {
		return nil, err
	}
	v, err := r.ReadID("SetReference.value")
	if err != nil {
		return nil, err
	}
	return SetReference{Entity: e, Attribute: a, Value: v}, nil
}

func decodeSetString(r *wire.Reader) (Instruction, error) {
	e, a, err := readHeader(r, "SetString")
	if err != nil {
		return nil, err
	}
	s, err := r.ReadString16("SetString.value")
	if err != nil {
		return nil, err
	}
	return SetString{Entity: e, Attribute: a, Value: s}, nil
}

func decodeSetFloat(r *wire.Reader) (Instruction, error) {
	e, a, err := readHeader(r, "SetFloat")
	if err != nil {
		return nil, err
	}
	f, err := r.ReadFloat32("SetFloat.value")
	if err != nil {
		return nil, err
	}
	return SetFloat{Entity: e, Attribute: a, Value: f}, nil
}

func decodeSetFlag(r *wire.Reader) (Instruction, error) {
	e, a, err := readHeader(r, "SetFlag")
	if err != nil {
		return nil, err
	}
	return SetFlag{Entity: e, Attribute: a}, nil
}

func decodeClearFlag(r *wire.Reader) (Instruction, error) {
	e, a, err := readHeader(r, "ClearFlag")
	if err != nil {
		return nil, err
	}
	return ClearFlag{Entity: e, Attribute: a}, nil
}

func decodeSetTag(r *wire.Reader) (Instruction, error) {
	id, err := r.ReadID("SetTag.id")
	if err != nil {
		return nil, err
	}
	start := r.Offset()
	tag, err := r.ReadString8("SetTag.tag")
	if err != nil {
		return nil, err
	}
	if tag == "" {
		return nil, r.Malformed("SetTag.tag", start, "empty tag")
	}
	return SetTag{ID: id, Tag: tag}, nil
}

func decodeSetColor(r *wire.Reader) (Instruction, error) {
	e, a, err := readHeader(r, "SetColor")
	if err != nil {
		return nil, err
	}
	c, err := value.ReadColor(r, "SetColor.color")
	if err != nil {
		return nil, err
	}
	return SetColor{Entity: e, Attribute: a, Color: c}, nil
}

func decodeSetImage(r *wire.Reader) (Instruction, error) {
	e, a, err := readHeader(r, "SetImage")
	if err != nil {
		return nil, err
	}
	im, err := value.ReadImage(r, "SetImage.image")
	if err != nil {
		return nil, err
	}
	return SetImage{Entity: e, Attribute: a, Image: im}, nil
}

func decodeSetMesh(r *wire.Reader) (Instruction, error) {
	e, a, err := readHeader(r, "SetMesh")
	if err != nil {
		return nil, err
	}
	m, err := value.ReadMesh(r, "SetMesh.mesh")
	if err != nil {
		return nil, err
	}
	return SetMesh{Entity: e, Attribute: a, Mesh: m}, nil
}
