// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package metrics exposes the scan loop activity as Prometheus metrics.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Valid values for the status label of RecordAcquisition.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics contains the Prometheus metrics for the scan loop.
type Metrics struct {
	acquisitionsTotal   *prometheus.CounterVec
	acquisitionDuration prometheus.Histogram
	framesTotal         *prometheus.CounterVec
	ffcWait             prometheus.Gauge
	temperature         prometheus.Gauge
	classificationTotal *prometheus.CounterVec
	mode                prometheus.Gauge
	referenceTemp       prometheus.Gauge
	referenceRaw        prometheus.Gauge
}

// New creates the metrics and registers them in reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		acquisitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feverscreen_acquisitions_total",
				Help: "Total number of camera acquisitions",
			},
			[]string{"status"},
		),
		acquisitionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name: "feverscreen_acquisition_duration_seconds",
				Help: "Time taken to fetch a frame and its metadata from the camera",
				// 10ms to ~5s.
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
			},
		),
		framesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feverscreen_frames_total",
				Help: "Total number of frames processed",
			},
			[]string{"kind"}, // kind: good, duplicate
		),
		ffcWait: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "feverscreen_ffc_wait",
				Help: "1 while readings are hidden because of a recent flat-field correction",
			},
		),
		temperature: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "feverscreen_temperature_celsius",
				Help: "Last estimated temperature of the hottest point",
			},
		),
		classificationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feverscreen_classifications_total",
				Help: "Total number of readings per classification",
			},
			[]string{"classification"},
		),
		mode: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "feverscreen_mode",
				Help: "Operating mode: 0 init, 1 calibrate, 2 scan",
			},
		),
		referenceTemp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "feverscreen_reference_temperature_celsius",
				Help: "Reference temperature used for calibration",
			},
		),
		referenceRaw: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "feverscreen_reference_raw",
				Help: "Raw sensor value recorded at calibration",
			},
		),
	}
	if err := reg.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.acquisitionsTotal.Describe(ch)
	m.acquisitionDuration.Describe(ch)
	m.framesTotal.Describe(ch)
	m.ffcWait.Describe(ch)
	m.temperature.Describe(ch)
	m.classificationTotal.Describe(ch)
	m.mode.Describe(ch)
	m.referenceTemp.Describe(ch)
	m.referenceRaw.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.acquisitionsTotal.Collect(ch)
	m.acquisitionDuration.Collect(ch)
	m.framesTotal.Collect(ch)
	m.ffcWait.Collect(ch)
	m.temperature.Collect(ch)
	m.classificationTotal.Collect(ch)
	m.mode.Collect(ch)
	m.referenceTemp.Collect(ch)
	m.referenceRaw.Collect(ch)
}

// RecordAcquisition records one camera round trip.
func (m *Metrics) RecordAcquisition(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.acquisitionsTotal.WithLabelValues(status).Inc()
	if status == StatusSuccess {
		m.acquisitionDuration.Observe(d.Seconds())
	}
}

// RecordFrame records a processed frame.
func (m *Metrics) RecordFrame(duplicate bool) {
	if m == nil {
		return
	}
	if duplicate {
		m.framesTotal.WithLabelValues("duplicate").Inc()
	} else {
		m.framesTotal.WithLabelValues("good").Inc()
	}
}

// SetFFCWait records whether readings are currently hidden.
func (m *Metrics) SetFFCWait(wait bool) {
	if m == nil {
		return
	}
	if wait {
		m.ffcWait.Set(1)
	} else {
		m.ffcWait.Set(0)
	}
}

// RecordReading records a temperature estimate shown to the operator.
func (m *Metrics) RecordReading(c float64, classification string) {
	if m == nil {
		return
	}
	m.temperature.Set(c)
	m.classificationTotal.WithLabelValues(classification).Inc()
}

// SetCalibration records the operating mode and the calibration reference.
func (m *Metrics) SetCalibration(mode int, tempC float64, raw int) {
	if m == nil {
		return
	}
	m.mode.Set(float64(mode))
	m.referenceTemp.Set(tempC)
	m.referenceRaw.Set(float64(raw))
}
