// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package screening converts a raw thermal frame into a temperature estimate
// and a false color image.
//
// The mapping is linear around the calibration reference: one raw count is
// Slope °C. The estimate is taken on the hottest sample of the frame, which
// is expected to be the forehead of the subject standing in front of the
// camera.
package screening

import (
	"fmt"

	"github.com/maruel/feverscreen/calibration"
	"github.com/maruel/feverscreen/thermal"
)

// Slope is the temperature increment per raw count, in °C.
const Slope = 0.01

// Thresholds, in °C.
const (
	ErrorThreshold  = 45.
	FeverThreshold  = 40.
	CheckThreshold  = 38.
	NormalThreshold = 35.5
)

// Raw thresholds reported outside of Scan mode. Encode doesn't tint when not
// scanning, even a saturated sample.
const (
	FeverRawSentinel = 65535
	CheckRawSentinel = 65534
)

// Classification of a temperature estimate.
type Classification int

// Valid values for Classification.
const (
	None   Classification = 0 // Too cold to be a person; leave the display unchanged.
	Normal Classification = 1
	Check  Classification = 2
	Fever  Classification = 3
	Error  Classification = 4 // Too hot to be a person.
)

func (c Classification) String() string {
	switch c {
	case None:
		return "none"
	case Normal:
		return "normal"
	case Check:
		return "check"
	case Fever:
		return "fever"
	case Error:
		return "error"
	default:
		panic(fmt.Sprintf("screening: unknown classification %d", int(c)))
	}
}

// Classify classifies a temperature estimate.
func Classify(c float64) Classification {
	switch {
	case c > ErrorThreshold:
		return Error
	case c > FeverThreshold:
		return Fever
	case c > CheckThreshold:
		return Check
	case c > NormalThreshold:
		return Normal
	default:
		return None
	}
}

// Estimate is the result of Map.
type Estimate struct {
	Dark           uint16         // Coldest sample.
	Hot            uint16         // Hottest sample.
	Scanning       bool           // TemperatureC and Classification are only valid in Scan mode.
	TemperatureC   float64        //
	FeverRaw       float64        // Samples above are tinted red.
	CheckRaw       float64        // Samples above are tinted amber.
	Classification Classification //
}

// Temperature maps a raw value to °C.
func Temperature(raw float64, s calibration.State) float64 {
	return s.TemperatureC + (raw-float64(s.RawValue))*Slope
}

// RawThreshold is the inverse of Temperature.
func RawThreshold(c float64, s calibration.State) float64 {
	return (c-s.TemperatureC)/Slope + float64(s.RawValue)
}

// Map computes the estimate for a frame.
//
// In Calibrate mode, it records the hottest sample as the reference raw
// value. This is the only place where a frame changes the calibration.
func Map(f *thermal.Frame, s *calibration.State) Estimate {
	e := Estimate{FeverRaw: FeverRawSentinel, CheckRaw: CheckRawSentinel}
	e.Dark, e.Hot = f.MinMax()
	switch s.Mode {
	case calibration.Init:
	case calibration.Calibrate:
		s.Observe(e.Hot)
	case calibration.Scan:
		e.Scanning = true
		e.TemperatureC = Temperature(float64(e.Hot), *s)
		e.FeverRaw = RawThreshold(FeverThreshold, *s)
		e.CheckRaw = RawThreshold(CheckThreshold, *s)
		e.Classification = Classify(e.TemperatureC)
	default:
		panic(fmt.Sprintf("screening: unknown mode %d", int(s.Mode)))
	}
	return e
}
