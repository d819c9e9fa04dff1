// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package calibration holds the operator declared reference temperature and
// the calibrate/scan mode.
//
// The camera is not radiometric. The operator points it at a target of known
// temperature in calibration mode, which records the hottest raw sample seen.
// Scan mode then maps raw samples linearly around that reference.
package calibration

import (
	"fmt"
	"math"
)

// Mode is the operating mode.
type Mode int

// Valid values for Mode.
const (
	Init      Mode = 0
	Calibrate Mode = 1
	Scan      Mode = 2
)

func (m Mode) String() string {
	switch m {
	case Init:
		return "init"
	case Calibrate:
		return "calibrate"
	case Scan:
		return "scan"
	default:
		panic(fmt.Sprintf("calibration: unknown mode %d", int(m)))
	}
}

// Limits of what the operator can declare.
const (
	MinTemperature     = 10.
	MaxTemperature     = 90.
	DefaultTemperature = 35.5 // Initial reference.
	SafeTemperature    = 35.6 // Used when an increment goes out of range.
	Step               = 0.1  // Warmer/Cooler increment.
	DefaultRawValue    = 10   // Initial reference raw value, before any frame.
)

// State is the calibration state. Its methods are the only mutators.
//
// It is not safe for concurrent use.
type State struct {
	Mode         Mode    // Current mode.
	TemperatureC float64 // True temperature of the calibration target, in °C.
	RawValue     int     // Hottest raw sample seen while calibrating.
}

// New returns the state at process start.
func New() State {
	return State{Mode: Init, TemperatureC: DefaultTemperature, RawValue: DefaultRawValue}
}

// Reasonable returns true if c is an acceptable reference temperature.
func Reasonable(c float64) bool {
	return !math.IsNaN(c) && c >= MinTemperature && c <= MaxTemperature
}

// SetTemperature sets the reference temperature.
//
// Returns false and keeps the previous value if c is not Reasonable.
func (s *State) SetTemperature(c float64) bool {
	if !Reasonable(c) {
		return false
	}
	s.TemperatureC = c
	return true
}

// SetTemperatureSafe is like SetTemperature but falls back to
// SafeTemperature.
func (s *State) SetTemperatureSafe(c float64) {
	if !Reasonable(c) {
		c = SafeTemperature
	}
	s.SetTemperature(c)
}

// Warmer increments the reference temperature by Step.
func (s *State) Warmer() {
	s.SetTemperatureSafe(s.TemperatureC + Step)
}

// Cooler decrements the reference temperature by Step.
func (s *State) Cooler() {
	s.SetTemperatureSafe(s.TemperatureC - Step)
}

// StartCalibration switches to Calibrate mode.
//
// It returns true when the device should be kept awake, which is every
// transition except the initial one.
func (s *State) StartCalibration(initial bool) bool {
	s.Mode = Calibrate
	return !initial
}

// StartScan switches to Scan mode. See StartCalibration for the return
// value.
func (s *State) StartScan(initial bool) bool {
	s.Mode = Scan
	return !initial
}

// Observe records the hottest raw sample of a frame. It is ignored outside
// of Calibrate mode.
func (s *State) Observe(hot uint16) {
	if s.Mode == Calibrate {
		s.RawValue = int(hot)
	}
}

// Controls describes the operator controls for a mode.
type Controls struct {
	Title            string
	CalibrateEnabled bool // The "calibrate" control can be used.
	ScanEnabled      bool // The "scan" control can be used.
	ShowScanSettings bool
}

// Controls returns the operator controls for the current mode.
func (s *State) Controls() Controls {
	switch s.Mode {
	case Init:
		return Controls{CalibrateEnabled: true, ScanEnabled: true}
	case Calibrate:
		return Controls{Title: "Calibrate", ScanEnabled: true}
	case Scan:
		return Controls{Title: "Scanning...", CalibrateEnabled: true, ShowScanSettings: true}
	default:
		panic(fmt.Sprintf("calibration: unknown mode %d", int(s.Mode)))
	}
}

// FormatTemperature formats a temperature for the operator.
func FormatTemperature(c float64) string {
	return fmt.Sprintf("%.1f° C", c)
}
