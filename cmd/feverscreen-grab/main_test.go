// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"image/png"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maruel/feverscreen/camera"
	"github.com/maruel/feverscreen/cameratest"
	"github.com/maruel/feverscreen/thermal"
)

func TestGrab(t *testing.T) {
	c, _ := newCamera(t)
	out := filepath.Join(t.TempDir(), "out.png")
	stdout := bytes.Buffer{}
	require.NoError(t, grab(context.Background(), c, &stdout, out, &flags{meta: true}))
	assert.Contains(t, stdout.String(), "FFCState:     complete")
	assert.Contains(t, stdout.String(), "Hot:          9000")

	fp, err := os.Open(out)
	require.NoError(t, err)
	defer fp.Close()
	f, err := thermal.Decode(fp)
	require.NoError(t, err)
	_, hot := f.MinMax()
	assert.Equal(t, uint16(9000), hot)
}

func TestGrab_metaOnly(t *testing.T) {
	c, fake := newCamera(t)
	stdout := bytes.Buffer{}
	require.NoError(t, grab(context.Background(), c, &stdout, "", &flags{meta: true}))
	assert.Contains(t, stdout.String(), "FFCState:     complete")
	assert.NotContains(t, stdout.String(), "Hot:")
	assert.Equal(t, 0, fake.Frames())
}

func TestGrab_frameOnly(t *testing.T) {
	c, fake := newCamera(t)
	out := filepath.Join(t.TempDir(), "out.png")
	stdout := bytes.Buffer{}
	require.NoError(t, grab(context.Background(), c, &stdout, out, &flags{}))
	assert.Empty(t, stdout.String())
	assert.Equal(t, 1, fake.Frames())
	_, err := os.Stat(out)
	require.NoError(t, err)
}

func TestGrab_color(t *testing.T) {
	c, _ := newCamera(t)
	out := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, grab(context.Background(), c, &bytes.Buffer{}, out, &flags{color: true, scan: true, refTemp: 35.5, refRaw: 8600}))
	fp, err := os.Open(out)
	require.NoError(t, err)
	defer fp.Close()
	img, err := png.Decode(fp)
	require.NoError(t, err)
	// 9000 is 39.5°C: tinted as to be checked.
	r, g, _, _ := img.At(thermal.Width/2, thermal.Height/2).RGBA()
	assert.Equal(t, uint32(192*0x101), r)
	assert.Equal(t, uint32(192*0x101), g)
}

func TestColorize(t *testing.T) {
	f := &thermal.Frame{}
	for i := range f.Pix {
		f.Pix[i] = 8192
	}
	f.Pix[0] = 8292
	img := colorize(f, &flags{})
	assert.Equal(t, uint8(255), img.Pix[0])
	assert.Equal(t, uint8(0), img.Pix[4])
	// In scan mode calibrated on the hottest point, nothing is tinted.
	img = colorize(f, &flags{scan: true, refTemp: 36})
	assert.Equal(t, []uint8{255, 255, 255, 255}, img.Pix[0:4])
}

func TestColorize_refRaw(t *testing.T) {
	f := &thermal.Frame{}
	for i := range f.Pix {
		f.Pix[i] = 8192
	}
	f.Pix[0] = 8692
	// 8692 is 40.5°C when 8192 is 35.5°C.
	img := colorize(f, &flags{scan: true, refTemp: 35.5, refRaw: 8192})
	assert.Equal(t, []uint8{255, 128, 128, 255}, img.Pix[0:4])
	assert.Equal(t, []uint8{0, 0, 0, 255}, img.Pix[4:8])
}

func TestCommand_args(t *testing.T) {
	cmd := newRootCmd(&bytes.Buffer{})
	cmd.SetArgs(nil)
	require.Error(t, cmd.Execute())
}

func newCamera(t *testing.T) (*camera.Client, *cameratest.Camera) {
	fake := cameratest.New()
	fake.SetSubject(9000)
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	c, err := camera.New(camera.Options{URL: srv.URL})
	require.NoError(t, err)
	return c, fake
}
