// Package patch implements the binary instruction stream that records and
// replays mutations of an EAV database.
//
// A patch is a plain concatenation of instructions. Each instruction starts
// with a one-byte opcode followed by a fixed or length-prefixed payload:
//
//	0 SetReference  entity, attribute, value id
//	1 SetString     entity, attribute, u16 length, UTF-8
//	2 SetFloat      entity, attribute, f32
//	3 SetFlag       entity, attribute
//	4 ClearFlag     entity, attribute
//	5 SetTag        id, u8 length (non-zero), UTF-8
//	6 SetColor      entity, attribute, RGB
//	7 SetImage      entity, attribute, image
//	8 SetMesh       entity, attribute, mesh
//
// There is no header, framing or checksum; the stream ends where the source
// ends and truncation inside an instruction is an error.
package patch

import "fmt"

// Opcode tags an instruction on the wire
type Opcode byte

const (
	OpSetReference Opcode = 0
	OpSetString    Opcode = 1
	OpSetFloat     Opcode = 2
	OpSetFlag      Opcode = 3
	OpClearFlag    Opcode = 4
	OpSetTag       Opcode = 5
	OpSetColor     Opcode = 6
	OpSetImage     Opcode = 7
	OpSetMesh      Opcode = 8

	opcodeCount = 9
)

var opcodeNames = [opcodeCount]string{
	OpSetReference: "SetReference",
	OpSetString:    "SetString",
	OpSetFloat:     "SetFloat",
	OpSetFlag:      "SetFlag",
	OpClearFlag:    "ClearFlag",
	OpSetTag:       "SetTag",
	OpSetColor:     "SetColor",
	OpSetImage:     "SetImage",
	OpSetMesh:      "SetMesh",
}

// Valid reports whether op is a known opcode
func (op Opcode) Valid() bool {
	return op < opcodeCount
}

func (op Opcode) String() string {
	if !op.Valid() {
		return fmt.Sprintf("Opcode(%d)", byte(op))
	}
	return opcodeNames[op]
}

// Opcodes lists every known opcode in wire order
func Opcodes() []Opcode {
	ops := make([]Opcode, opcodeCount)
	for i := range ops {
		ops[i] = Opcode(i)
	}
	return ops
}
