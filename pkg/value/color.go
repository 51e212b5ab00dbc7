// Package value holds the structured value types stored by the database and
// carried by patch instructions. Values are immutable once constructed and
// every constructor validates its input.
package value

import (
	"fmt"

	"github.com/nainya/eavstore/pkg/ident"
	"github.com/nainya/eavstore/pkg/wire"
)

// Color is an opaque RGB color
type Color struct {
	R, G, B uint8
}

// ColorSize is the encoded size of a Color
const ColorSize = 3

// RGB builds a Color
func RGB(r, g, b uint8) Color {
	return Color{R: r, G: g, B: b}
}

// AppendBinary appends the three channel bytes
func (c Color) AppendBinary(buf []byte) ([]byte, error) {
	return append(buf, c.R, c.G, c.B), nil
}

func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// ReadColor decodes a Color
func ReadColor(r *wire.Reader, field string) (Color, error) {
	b, err := r.ReadBytes(field, ColorSize)
	if err != nil {
		return Color{}, err
	}
	return Color{R: b[0], G: b[1], B: b[2]}, nil
}

// ColorWithOpacity is a premultiplied RGBA color: no channel exceeds alpha
type ColorWithOpacity struct {
	R, G, B, A uint8
}

// ColorWithOpacitySize is the encoded size of a ColorWithOpacity
const ColorWithOpacitySize = 4

// NewColorWithOpacity validates premultiplication
func NewColorWithOpacity(r, g, b, a uint8) (ColorWithOpacity, error) {
	c := ColorWithOpacity{R: r, G: g, B: b, A: a}
	if err := c.Validate(); err != nil {
		return ColorWithOpacity{}, err
	}
	return c, nil
}

// Opaque converts a Color to a fully opaque ColorWithOpacity
func Opaque(c Color) ColorWithOpacity {
	return ColorWithOpacity{R: c.R, G: c.G, B: c.B, A: 255}
}

// Validate reports whether the channels are premultiplied by alpha
func (c ColorWithOpacity) Validate() error {
	if c.R > c.A || c.G > c.A || c.B > c.A {
		return ident.Invalid("color", fmt.Sprintf("channel exceeds alpha %d in premultiplied color", c.A))
	}
	return nil
}

// AppendBinary appends the four channel bytes
func (c ColorWithOpacity) AppendBinary(buf []byte) ([]byte, error) {
	return append(buf, c.R, c.G, c.B, c.A), nil
}

func (c ColorWithOpacity) String() string {
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}

// ReadColorWithOpacity decodes and validates a premultiplied color
func ReadColorWithOpacity(r *wire.Reader, field string) (ColorWithOpacity, error) {
	start := r.Offset()
	b, err := r.ReadBytes(field, ColorWithOpacitySize)
	if err != nil {
		return ColorWithOpacity{}, err
	}
	c := ColorWithOpacity{R: b[0], G: b[1], B: b[2], A: b[3]}
	if err := c.Validate(); err != nil {
		return ColorWithOpacity{}, r.Malformed(field, start, "%v", err)
	}
	return c, nil
}
