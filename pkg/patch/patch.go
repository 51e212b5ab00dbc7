package patch

import (
	"bytes"
	"fmt"
	"io"
)

// Patch is an ordered, replayable sequence of instructions
type Patch []Instruction

// AppendBinary appends every instruction in order
func (p Patch) AppendBinary(buf []byte) ([]byte, error) {
	for i, in := range p {
		var err error
		if buf, err = in.AppendBinary(buf); err != nil {
			return nil, fmt.Errorf("patch: instruction %d (%s): %w", i, in.Opcode(), err)
		}
	}
	return buf, nil
}

// MarshalBinary implements encoding.BinaryMarshaler
func (p Patch) MarshalBinary() ([]byte, error) {
	return p.AppendBinary(nil)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (p *Patch) UnmarshalBinary(data []byte) error {
	decoded, err := Read(bytes.NewReader(data))
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

// WriteTo writes the serialized patch to w
func (p Patch) WriteTo(w io.Writer) (int64, error) {
	buf, err := p.AppendBinary(nil)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// ApplyTo applies each instruction in order, stopping at the first error
func (p Patch) ApplyTo(t Target) error {
	for i, in := range p {
		if err := in.ApplyTo(t); err != nil {
			return fmt.Errorf("patch: applying instruction %d (%s): %w", i, in.Opcode(), err)
		}
	}
	return nil
}

// Equal reports whether both patches hold equal instructions in the same order
func (p Patch) Equal(other Patch) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if !p[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// Counts returns the number of instructions per opcode
func (p Patch) Counts() map[Opcode]int {
	counts := make(map[Opcode]int)
	for _, in := range p {
		counts[in.Opcode()]++
	}
	return counts
}

// Read decodes every instruction from r
func Read(r io.Reader) (Patch, error) {
	var p Patch
	for in, err := range All(r) {
		if err != nil {
			return nil, err
		}
		p = append(p, in)
	}
	return p, nil
}

// Decode decodes a complete patch held in memory
func Decode(data []byte) (Patch, error) {
	return Read(bytes.NewReader(data))
}
