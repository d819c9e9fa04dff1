// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package scanner runs the periodic acquisition loop.
//
// A single goroutine owns the calibration state. Acquisitions run in their
// own goroutines and may overlap; operator commands are sent as messages to
// the owner goroutine.
package scanner

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/maruel/feverscreen/calibration"
	"github.com/maruel/feverscreen/camera"
	"github.com/maruel/feverscreen/internal/metrics"
	"github.com/maruel/feverscreen/screening"
	"github.com/maruel/feverscreen/thermal"
)

// Default values for Options.
const (
	DefaultInterval    = 500 * time.Millisecond
	DefaultFFCCooldown = 60 * time.Second
)

// ErrStopped is returned by commands sent after Run returned.
var ErrStopped = errors.New("scanner: not running")

// Source returns one frame along its metadata.
//
// camera.Client implements this interface.
type Source interface {
	Snapshot(ctx context.Context) (*camera.Snapshot, error)
}

// Display presents updates to the operator.
//
// Show is called from the owner goroutine and must not block for long.
type Display interface {
	Show(u *Update)
}

// Awaker is told when the operator changed mode so the screen stays on.
type Awaker interface {
	KeepAwake()
}

// Update is published after each processed frame and each state change.
type Update struct {
	Image    *image.RGBA // nil when only the state changed.
	Metadata thermal.Metadata
	Estimate screening.Estimate
	State    calibration.State
	Controls calibration.Controls
	FFCWait  bool   // Readings are unreliable; show the wait notice.
	Reading  string // Formatted temperature; empty unless scanning.
}

// Options configures a Controller.
type Options struct {
	Interval    time.Duration
	FFCCooldown time.Duration
	Log         logrus.FieldLogger
	Metrics     *metrics.Metrics
}

// Stats is returned by Controller.Stats().
type Stats struct {
	GoodFrames         int
	DuplicateFrames    int
	FailedAcquisitions int
	FFCWaits           int
}

// Controller is the scan loop.
type Controller struct {
	src   Source
	disp  Display
	awake Awaker
	opts  Options
	log   logrus.FieldLogger

	started atomic.Bool
	cmds    chan command
	done    chan struct{}

	goodFrames         atomic.Int64
	duplicateFrames    atomic.Int64
	failedAcquisitions atomic.Int64
	ffcWaits           atomic.Int64

	// Owned by the Run goroutine.
	state     calibration.State
	last      *thermal.Frame
	sometimes rate.Sometimes
}

// New returns a Controller. Call Run to start it.
//
// awake may be nil.
func New(src Source, disp Display, awake Awaker, opts Options) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.FFCCooldown <= 0 {
		opts.FFCCooldown = DefaultFFCCooldown
	}
	l := opts.Log
	if l == nil {
		nl := logrus.New()
		nl.SetLevel(logrus.PanicLevel)
		l = nl
	}
	return &Controller{
		src:       src,
		disp:      disp,
		awake:     awake,
		opts:      opts,
		log:       l,
		cmds:      make(chan command),
		done:      make(chan struct{}),
		state:     calibration.New(),
		sometimes: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Run acquires frames until ctx is canceled. It returns nil on
// cancellation.
//
// It starts in calibration mode.
func (c *Controller) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("scanner: Run called twice")
	}
	defer close(c.done)
	ctx, cancel := context.WithCancel(ctx)
	wg := sync.WaitGroup{}
	defer func() {
		cancel()
		wg.Wait()
	}()

	c.state.StartCalibration(true)
	c.publishState()

	results := make(chan acquisition)
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			// Schedule the next tick before starting the acquisition so a slow
			// camera doesn't slow down the cadence.
			t.Reset(c.opts.Interval)
			wg.Add(1)
			go func() {
				defer wg.Done()
				start := time.Now()
				s, err := c.src.Snapshot(ctx)
				select {
				case results <- acquisition{snapshot: s, err: err, duration: time.Since(start)}:
				case <-ctx.Done():
				}
			}()
		case a := <-results:
			c.process(a)
		case cmd := <-c.cmds:
			cmd.reply <- c.apply(cmd.op, cmd.arg)
		}
	}
}

// Stats returns the loop counters.
func (c *Controller) Stats() Stats {
	return Stats{
		GoodFrames:         int(c.goodFrames.Load()),
		DuplicateFrames:    int(c.duplicateFrames.Load()),
		FailedAcquisitions: int(c.failedAcquisitions.Load()),
		FFCWaits:           int(c.ffcWaits.Load()),
	}
}

// State returns the current calibration state.
func (c *Controller) State(ctx context.Context) (calibration.State, error) {
	r, err := c.send(ctx, opState, 0)
	return r.state, err
}

// StartCalibration switches to calibration mode.
func (c *Controller) StartCalibration(ctx context.Context) (calibration.State, error) {
	r, err := c.send(ctx, opCalibrate, 0)
	return r.state, err
}

// StartScan switches to scanning mode.
func (c *Controller) StartScan(ctx context.Context) (calibration.State, error) {
	r, err := c.send(ctx, opScan, 0)
	return r.state, err
}

// Warmer increases the reference temperature by one step.
func (c *Controller) Warmer(ctx context.Context) (calibration.State, error) {
	r, err := c.send(ctx, opWarmer, 0)
	return r.state, err
}

// Cooler decreases the reference temperature by one step.
func (c *Controller) Cooler(ctx context.Context) (calibration.State, error) {
	r, err := c.send(ctx, opCooler, 0)
	return r.state, err
}

// SetTemperature sets the reference temperature. It returns false and
// leaves the state unchanged when the value is not reasonable.
func (c *Controller) SetTemperature(ctx context.Context, tempC float64) (calibration.State, bool, error) {
	r, err := c.send(ctx, opSetTemperature, tempC)
	return r.state, r.accepted, err
}

// NeedsFFCWait returns true when readings taken with this metadata are not
// trustworthy because a flat-field correction is pending or too recent.
func NeedsFFCWait(m *thermal.Metadata, cooldown time.Duration) bool {
	return m.FFCState != thermal.FFCComplete || m.SinceFFC() < cooldown
}

// Private details.

type op int

const (
	opState op = iota
	opCalibrate
	opScan
	opWarmer
	opCooler
	opSetTemperature
)

type command struct {
	op    op
	arg   float64
	reply chan reply
}

type reply struct {
	state    calibration.State
	accepted bool
}

type acquisition struct {
	snapshot *camera.Snapshot
	err      error
	duration time.Duration
}

func (c *Controller) send(ctx context.Context, o op, arg float64) (reply, error) {
	cmd := command{op: o, arg: arg, reply: make(chan reply, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return reply{}, ErrStopped
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
	return <-cmd.reply, nil
}

// apply runs in the Run goroutine.
func (c *Controller) apply(o op, arg float64) reply {
	r := reply{accepted: true}
	awake := false
	switch o {
	case opState:
		r.state = c.state
		return r
	case opCalibrate:
		awake = c.state.StartCalibration(false)
	case opScan:
		awake = c.state.StartScan(false)
	case opWarmer:
		c.state.Warmer()
	case opCooler:
		c.state.Cooler()
	case opSetTemperature:
		r.accepted = c.state.SetTemperature(arg)
	}
	if awake && c.awake != nil {
		c.awake.KeepAwake()
	}
	r.state = c.state
	c.log.WithFields(logrus.Fields{
		"mode":        c.state.Mode,
		"temperature": c.state.TemperatureC,
		"raw":         c.state.RawValue,
	}).Info("calibration changed")
	c.publishState()
	return r
}

func (c *Controller) publishState() {
	c.opts.Metrics.SetCalibration(int(c.state.Mode), c.state.TemperatureC, c.state.RawValue)
	c.disp.Show(&Update{State: c.state, Controls: c.state.Controls()})
}

// process runs in the Run goroutine.
func (c *Controller) process(a acquisition) {
	if a.err != nil {
		c.failedAcquisitions.Add(1)
		c.opts.Metrics.RecordAcquisition(metrics.StatusError, a.duration)
		logged := false
		c.sometimes.Do(func() {
			logged = true
			c.log.WithError(a.err).Warn("acquisition failed")
		})
		if !logged {
			c.log.WithError(a.err).Debug("acquisition failed")
		}
		return
	}
	c.opts.Metrics.RecordAcquisition(metrics.StatusSuccess, a.duration)
	s := a.snapshot
	dup := c.last != nil && c.last.Equal(s.Frame)
	c.last = s.Frame
	if dup {
		c.duplicateFrames.Add(1)
	} else {
		c.goodFrames.Add(1)
	}
	c.opts.Metrics.RecordFrame(dup)

	u := &Update{Metadata: s.Metadata}
	u.FFCWait = NeedsFFCWait(&s.Metadata, c.opts.FFCCooldown)
	if u.FFCWait {
		c.ffcWaits.Add(1)
	}
	c.opts.Metrics.SetFFCWait(u.FFCWait)
	u.Estimate = screening.Map(s.Frame, &c.state)
	u.State = c.state
	u.Controls = c.state.Controls()
	u.Image = screening.Encode(s.Frame, &u.Estimate)
	if u.Estimate.Scanning {
		u.Reading = calibration.FormatTemperature(u.Estimate.TemperatureC)
		c.opts.Metrics.RecordReading(u.Estimate.TemperatureC, u.Estimate.Classification.String())
	}
	c.opts.Metrics.SetCalibration(int(c.state.Mode), c.state.TemperatureC, c.state.RawValue)
	c.disp.Show(u)
}
