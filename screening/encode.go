// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package screening

import (
	"image"
	"math"

	"github.com/maruel/feverscreen/thermal"
)

// Encode returns the false color image of a frame.
func Encode(f *thermal.Frame, e *Estimate) *image.RGBA {
	dst := image.NewRGBA(f.Bounds())
	EncodeInto(dst, f, e)
	return dst
}

// EncodeInto renders the false color image of a frame into dst, which must
// be at least thermal.Width x thermal.Height.
//
// Samples are scaled linearly between e.Dark and e.Hot down to 8 bits
// without gamma. When scanning, samples above e.CheckRaw are tinted amber,
// above e.FeverRaw red. A uniform frame renders black.
func EncodeInto(dst *image.RGBA, f *thermal.Frame, e *Estimate) {
	dynamicRange := 0.
	if e.Hot > e.Dark {
		dynamicRange = 255 / float64(e.Hot-e.Dark)
	}
	dark := float64(e.Dark)
	b := dst.Bounds()
	for y := 0; y < thermal.Height; y++ {
		p := dst.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < thermal.Width; x++ {
			s := float64(f.Pix[y*thermal.Width+x])
			v := (s - dark) * dynamicRange
			r, g, bl := v, v, v
			switch {
			case !e.Scanning:
			case e.FeverRaw < s:
				r = 255
				g *= 0.5
				bl *= 0.5
			case e.CheckRaw < s:
				r = 192
				g = 192
				bl *= 0.5
			}
			dst.Pix[p] = clamp8(r)
			dst.Pix[p+1] = clamp8(g)
			dst.Pix[p+2] = clamp8(bl)
			dst.Pix[p+3] = 255
			p += 4
		}
	}
}

// clamp8 rounds half to even, like a canvas does.
func clamp8(v float64) uint8 {
	v = math.RoundToEven(v)
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
