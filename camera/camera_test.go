// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package camera

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maruel/feverscreen/thermal"
)

const (
	testURL      = "http://camera.local"
	metadataJSON = `{"FFCState":"complete","TimeOn":70000000000,"LastFFCTime":0}`
)

func TestSnapshot(t *testing.T) {
	c, mock := newTestClient(t)
	var queries []string
	mock.RegisterResponder(http.MethodGet, testURL+MetadataPath, authed(t, httpmock.NewStringResponder(http.StatusOK, metadataJSON)))
	mock.RegisterResponder(http.MethodGet, rawRegexp(), func(req *http.Request) (*http.Response, error) {
		queries = append(queries, req.URL.RawQuery)
		return authed(t, httpmock.NewBytesResponder(http.StatusOK, testPNG(t)))(req)
	})

	s, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, thermal.FFCComplete, s.Metadata.FFCState)
	assert.EqualValues(t, 70000000000, s.Metadata.TimeOn)
	assert.Equal(t, uint16(8192), s.Frame.Pix[0])
	assert.Equal(t, uint16(9000), s.Frame.Pix[thermal.Width*thermal.Height-1])

	_, err = c.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, queries, 2)
	assert.NotEmpty(t, queries[0])
	assert.NotEqual(t, queries[0], queries[1], "raw frame requests must not be cacheable")
	assert.Equal(t, 4, mock.GetTotalCallCount())
}

func TestSnapshot_status(t *testing.T) {
	c, mock := newTestClient(t)
	mock.RegisterResponder(http.MethodGet, testURL+MetadataPath, httpmock.NewStringResponder(http.StatusUnauthorized, "no"))
	mock.RegisterResponder(http.MethodGet, rawRegexp(), httpmock.NewBytesResponder(http.StatusOK, testPNG(t)))

	_, err := c.Snapshot(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se), "%v", err)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, MetadataPath, se.URL)
}

func TestSnapshot_transport(t *testing.T) {
	c, mock := newTestClient(t)
	mock.RegisterResponder(http.MethodGet, testURL+MetadataPath, httpmock.NewErrorResponder(errors.New("unreachable")))
	mock.RegisterResponder(http.MethodGet, rawRegexp(), httpmock.NewBytesResponder(http.StatusOK, testPNG(t)))

	_, err := c.Snapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestSnapshot_decode(t *testing.T) {
	c, mock := newTestClient(t)
	mock.RegisterResponder(http.MethodGet, testURL+MetadataPath, httpmock.NewStringResponder(http.StatusOK, metadataJSON))
	mock.RegisterResponder(http.MethodGet, rawRegexp(), httpmock.NewStringResponder(http.StatusOK, "garbage"))
	_, err := c.Snapshot(context.Background())
	require.Error(t, err)

	c, mock = newTestClient(t)
	mock.RegisterResponder(http.MethodGet, testURL+MetadataPath, httpmock.NewStringResponder(http.StatusOK, "{"))
	mock.RegisterResponder(http.MethodGet, rawRegexp(), httpmock.NewBytesResponder(http.StatusOK, testPNG(t)))
	_, err = c.Snapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metadata")
}

func TestMetadataAndFrame(t *testing.T) {
	c, mock := newTestClient(t)
	mock.RegisterResponder(http.MethodGet, testURL+MetadataPath, httpmock.NewStringResponder(http.StatusOK, `{"FFCState":"in progress","TimeOn":5,"LastFFCTime":4}`))
	mock.RegisterResponder(http.MethodGet, rawRegexp(), httpmock.NewBytesResponder(http.StatusOK, testPNG(t)))

	m, err := c.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, thermal.FFCInProgress, m.FFCState)
	f, err := c.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(8192), f.Pix[0])
}

func TestNew(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
	_, err = New(Options{URL: "ftp://camera"})
	assert.Error(t, err)
	c, err := New(Options{URL: "http://camera/"})
	require.NoError(t, err)
	assert.Same(t, http.DefaultClient, c.client)
}

//

func newTestClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	mock := httpmock.NewMockTransport()
	c, err := New(Options{URL: testURL, Username: "admin", Password: "feathers", Client: &http.Client{Transport: mock}})
	require.NoError(t, err)
	return c, mock
}

func rawRegexp() string {
	return `=~^` + testURL + RawPath + `\?\d+$`
}

// authed fails the request unless it carries the test credentials.
func authed(t *testing.T, r httpmock.Responder) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		user, pass, ok := req.BasicAuth()
		if !ok || user != "admin" || pass != "feathers" {
			t.Errorf("bad credentials: %q %q", user, pass)
			return httpmock.NewStringResponse(http.StatusUnauthorized, ""), nil
		}
		return r(req)
	}
}

func testPNG(t *testing.T) []byte {
	f := &thermal.Frame{}
	for i := range f.Pix {
		f.Pix[i] = 8192
	}
	f.Pix[len(f.Pix)-1] = 9000
	buf := bytes.Buffer{}
	require.NoError(t, thermal.Encode(&buf, f))
	return buf.Bytes()
}
