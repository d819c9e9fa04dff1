// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package thermal holds a raw thermal frame as sent by the camera and the
// acquisition metadata that comes with it.
package thermal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
)

// Size of a frame. This is the resolution of a FLIR Lepton 3.
const (
	Width  = 160
	Height = 120
)

// ErrSize is returned when a decoded image is not Width x Height.
var ErrSize = errors.New("thermal: unexpected frame size")

// Frame implements image.Image. It is essentially a Gray16 with a fixed size,
// which saves bound checks in the processing loops.
//
// Values are raw sensor counts. They have no physical unit until calibrated.
type Frame struct {
	Pix [Width * Height]uint16 // 38400 bytes, row-major.
}

func (f *Frame) ColorModel() color.Model {
	return color.Gray16Model
}

func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, Width, Height)
}

func (f *Frame) At(x, y int) color.Color {
	return color.Gray16{Y: f.Gray16At(x, y)}
}

func (f *Frame) Gray16At(x, y int) uint16 {
	return f.Pix[y*Width+x]
}

// MinMax returns the coldest and hottest sample.
func (f *Frame) MinMax() (dark, hot uint16) {
	dark = 0xffff
	for _, v := range f.Pix {
		if v > hot {
			hot = v
		}
		if v < dark {
			dark = v
		}
	}
	return dark, hot
}

func (f *Frame) Equal(r *Frame) bool {
	return f.Pix == r.Pix
}

// Decode reads a PNG encoded frame, as served by the camera.
func Decode(r io.Reader) (*Frame, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("thermal: %w", err)
	}
	return FromImage(img)
}

// FromImage copies img into a new Frame.
//
// A 16 bits gray image is read as big endian sample pairs, which is how the
// camera packs the samples. Other color models are converted.
func FromImage(img image.Image) (*Frame, error) {
	b := img.Bounds()
	if b.Dx() != Width || b.Dy() != Height {
		return nil, fmt.Errorf("%w: %dx%d", ErrSize, b.Dx(), b.Dy())
	}
	f := &Frame{}
	if g, ok := img.(*image.Gray16); ok {
		for y := 0; y < Height; y++ {
			row := g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):]
			base := y * Width
			for x := 0; x < Width; x++ {
				f.Pix[base+x] = binary.BigEndian.Uint16(row[2*x:])
			}
		}
		return f, nil
	}
	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			c := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			f.Pix[y*Width+x] = c.Y
		}
	}
	return f, nil
}

// Encode writes the frame as a 16 bits gray PNG.
func Encode(w io.Writer, f *Frame) error {
	return png.Encode(w, f)
}
