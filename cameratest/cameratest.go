// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package cameratest implements a fake camera management interface.
package cameratest

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/maruel/feverscreen/camera"
	"github.com/maruel/feverscreen/thermal"
)

// Camera is a fake camera serving camera.MetadataPath and camera.RawPath.
//
// By default the camera has been on for a while and its last FFC is old
// enough for readings to be trusted.
type Camera struct {
	Username string // If set, requests must use basic authentication.
	Password string

	mu       sync.Mutex
	noise    *noise
	start    time.Time
	frames   int
	metadata *thermal.Metadata
	subject  uint16
	fail     int
}

// New returns a fake camera.
func New() *Camera {
	return &Camera{noise: makeNoise(), start: time.Now().UTC()}
}

// SetMetadata forces the metadata returned. Use nil to go back to the
// default.
func (c *Camera) SetMetadata(m *thermal.Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata = m
}

// SetSubject adds a hot spot of the given raw value in the middle of the
// frame, like a forehead. Use 0 to remove it.
func (c *Camera) SetSubject(raw uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subject = raw
}

// Fail makes the next n requests fail with 503.
func (c *Camera) Fail(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = n
}

// Frames returns the number of frames served.
func (c *Camera) Frames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

func (c *Camera) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if c.Username != "" || c.Password != "" {
		if u, p, ok := r.BasicAuth(); !ok || u != c.Username || p != c.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="camera"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Only GET is supported", http.StatusMethodNotAllowed)
		return
	}
	c.mu.Lock()
	if c.fail > 0 {
		c.fail--
		c.mu.Unlock()
		http.Error(w, "Busy", http.StatusServiceUnavailable)
		return
	}
	c.mu.Unlock()
	switch r.URL.Path {
	case camera.MetadataPath:
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(c.Metadata()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	case camera.RawPath:
		buf := bytes.Buffer{}
		if err := thermal.Encode(&buf, c.NextFrame()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
		_, _ = w.Write(buf.Bytes())
	default:
		http.Error(w, "Not Found", http.StatusNotFound)
	}
}

// Metadata returns the metadata as it would be served now.
func (c *Camera) Metadata() *thermal.Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.metadata != nil {
		m := *c.metadata
		return &m
	}
	// Pretend the camera was started 5 minutes before the fake and did its
	// last FFC at startup.
	return &thermal.Metadata{
		FrameCount:   c.frames,
		FFCState:     thermal.FFCComplete,
		TimeOn:       5*time.Minute + time.Since(c.start),
		LastFFCTime:  0,
		TempC:        30,
		LastFFCTempC: 30,
	}
}

// NextFrame renders a new frame.
func (c *Camera) NextFrame() *thermal.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := &thermal.Frame{}
	c.noise.update()
	c.noise.render(f)
	if c.subject != 0 {
		for y := thermal.Height/2 - 10; y < thermal.Height/2+10; y++ {
			for x := thermal.Width/2 - 8; x < thermal.Width/2+8; x++ {
				f.Pix[y*thermal.Width+x] = c.subject
			}
		}
	}
	c.frames++
	return f
}

//

type vector struct {
	intensity float64
	x         float64
	y         float64
}

// noise is cheezy but gets us going for testing without a device.
type noise struct {
	rand    *rand.Rand
	vectors []vector
}

func makeNoise() *noise {
	n := &noise{rand: rand.New(rand.NewSource(0))}
	n.vectors = make([]vector, 10)
	for i := range n.vectors {
		n.vectors[i].intensity = n.rand.NormFloat64() * 10
		n.vectors[i].x = n.rand.NormFloat64()*28 + thermal.Width/2
		n.vectors[i].y = n.rand.NormFloat64()*20 + thermal.Height/2
	}
	return n
}

func (n *noise) update() {
	for i := range n.vectors {
		n.vectors[i].intensity += n.rand.NormFloat64() * 0.1
		n.vectors[i].x += n.rand.NormFloat64() * 0.1
		n.vectors[i].y += n.rand.NormFloat64() * 0.1
	}
}

func (n *noise) render(f *thermal.Frame) {
	const base = 8192
	const dynamicRange = 128
	for y := 0; y < thermal.Height; y++ {
		fy := float64(y)
		for x := 0; x < thermal.Width; x++ {
			fx := float64(x)
			value := float64(base)
			for _, vect := range n.vectors {
				distance := (vect.x-fx)*(vect.x-fx) + (vect.y-fy)*(vect.y-fy)
				if distance < 1 {
					distance = 1
				}
				value += vect.intensity / distance
			}
			if value >= base+dynamicRange {
				value = base + dynamicRange
			}
			if value < base-dynamicRange {
				value = base - dynamicRange
			}
			f.Pix[y*thermal.Width+x] = uint16(value)
		}
	}
}
