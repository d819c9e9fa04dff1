// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cameratest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maruel/feverscreen/camera"
	"github.com/maruel/feverscreen/thermal"
)

func TestCamera(t *testing.T) {
	fake := New()
	fake.Username = "admin"
	fake.Password = "feathers"
	fake.SetSubject(9500)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c, err := camera.New(camera.Options{URL: srv.URL, Username: "admin", Password: "feathers"})
	require.NoError(t, err)
	s, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, thermal.FFCComplete, s.Metadata.FFCState)
	assert.GreaterOrEqual(t, s.Metadata.SinceFFC(), 5*time.Minute)
	_, hot := s.Frame.MinMax()
	assert.Equal(t, uint16(9500), hot)
	assert.Equal(t, 1, fake.Frames())
}

func TestCamera_auth(t *testing.T) {
	fake := New()
	fake.Username = "admin"
	fake.Password = "feathers"
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c, err := camera.New(camera.Options{URL: srv.URL, Username: "admin", Password: "wrong"})
	require.NoError(t, err)
	_, err = c.Snapshot(context.Background())
	var se *camera.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
}

func TestCamera_fail(t *testing.T) {
	fake := New()
	fake.Fail(1)
	srv := httptest.NewServer(fake)
	defer srv.Close()
	c, err := camera.New(camera.Options{URL: srv.URL})
	require.NoError(t, err)
	_, err = c.Metadata(context.Background())
	require.Error(t, err)
	_, err = c.Metadata(context.Background())
	require.NoError(t, err)
}

func TestCamera_metadata(t *testing.T) {
	fake := New()
	fake.SetMetadata(&thermal.Metadata{FFCState: thermal.FFCInProgress, TimeOn: time.Minute, LastFFCTime: time.Minute})
	m := fake.Metadata()
	assert.Equal(t, thermal.FFCInProgress, m.FFCState)
	fake.SetMetadata(nil)
	assert.Equal(t, thermal.FFCComplete, fake.Metadata().FFCState)
}

func TestNoise(t *testing.T) {
	fake := New()
	f := fake.NextFrame()
	dark, hot := f.MinMax()
	assert.GreaterOrEqual(t, dark, uint16(8192-128))
	assert.LessOrEqual(t, hot, uint16(8192+128))
}
