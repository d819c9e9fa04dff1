// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package thermal

import "time"

// FFCState describes the Flat-Field Correction state as reported by the
// camera.
type FFCState string

// Values sent by the camera. Only FFCComplete means the readings are
// trustworthy.
const (
	// No FFC was requested.
	FFCNever FFCState = "never"
	// The camera is about to close the shutter.
	FFCImminent FFCState = "imminent"
	// FFC is in progress. It lasts 23 frames (at 27fps) so less than a second.
	FFCInProgress FFCState = "in progress"
	// FFC was completed successfully.
	FFCComplete FFCState = "complete"
)

// Metadata is sent by the camera along each frame.
//
// time.Duration are sent as raw nanoseconds.
type Metadata struct {
	FrameCount   int           `json:",omitempty"` //
	FFCState     FFCState      //
	TimeOn       time.Duration // Time since the camera was powered on.
	LastFFCTime  time.Duration // Value of TimeOn at the last FFC.
	TempC        float64       `json:",omitempty"` // Sensor temperature.
	LastFFCTempC float64       `json:",omitempty"` // Sensor temperature at the last FFC.
}

// SinceFFC returns the time elapsed since the last FFC.
func (m *Metadata) SinceFFC() time.Duration {
	return m.TimeOn - m.LastFFCTime
}
