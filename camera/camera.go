// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package camera fetches thermal frames from the camera management interface
// over HTTP.
package camera

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maruel/feverscreen/thermal"
)

// Paths served by the camera.
const (
	MetadataPath = "/api/camera/metadata"
	RawPath      = "/camera/snapshot-raw"
)

// Snapshot is a frame and the metadata fetched with it.
type Snapshot struct {
	Frame    *thermal.Frame
	Metadata thermal.Metadata
}

// Options to connect to a camera.
type Options struct {
	URL      string       // Base URL of the camera, e.g. http://192.168.178.37
	Username string       // Basic authentication.
	Password string       //
	Client   *http.Client // Defaults to http.DefaultClient.
}

// StatusError is returned when the camera replies with a non 2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (s *StatusError) Error() string {
	return fmt.Sprintf("camera: %s: %d %s", s.URL, s.StatusCode, http.StatusText(s.StatusCode))
}

// Client fetches snapshots from a camera. It is safe for concurrent use.
//
// No timeout is applied to requests; cancel the context instead.
type Client struct {
	base     *url.URL
	username string
	password string
	client   *http.Client

	mu       sync.Mutex
	lastBust int64
}

// New returns a client for the camera at opts.URL.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("camera: URL is required")
	}
	base, err := url.Parse(strings.TrimSuffix(opts.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("camera: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("camera: unsupported scheme %q", base.Scheme)
	}
	c := &Client{base: base, username: opts.Username, password: opts.Password, client: opts.Client}
	if c.client == nil {
		c.client = http.DefaultClient
	}
	return c, nil
}

// Snapshot fetches the metadata and a raw frame.
//
// Both requests are sent concurrently, then both payloads are decoded
// concurrently.
func (c *Client) Snapshot(ctx context.Context) (*Snapshot, error) {
	var md, raw []byte
	eg, ctx2 := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		md, err = c.get(ctx2, MetadataPath, "")
		return err
	})
	eg.Go(func() error {
		var err error
		raw, err = c.get(ctx2, RawPath, c.cacheBust())
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	s := &Snapshot{}
	dec := errgroup.Group{}
	dec.Go(func() error {
		return decodeMetadata(md, &s.Metadata)
	})
	dec.Go(func() error {
		var err error
		s.Frame, err = thermal.Decode(bytes.NewReader(raw))
		return err
	})
	if err := dec.Wait(); err != nil {
		return nil, err
	}
	return s, nil
}

// Metadata fetches only the metadata.
func (c *Client) Metadata(ctx context.Context) (*thermal.Metadata, error) {
	data, err := c.get(ctx, MetadataPath, "")
	if err != nil {
		return nil, err
	}
	m := &thermal.Metadata{}
	if err := decodeMetadata(data, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Frame fetches only a raw frame.
func (c *Client) Frame(ctx context.Context) (*thermal.Frame, error) {
	data, err := c.get(ctx, RawPath, c.cacheBust())
	if err != nil {
		return nil, err
	}
	return thermal.Decode(bytes.NewReader(data))
}

// Private details.

func (c *Client) get(ctx context.Context, path, query string) ([]byte, error) {
	u := *c.base
	u.Path += path
	u.RawQuery = query
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("camera: %w", err)
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("camera: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: u.Path, StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("camera: reading %s: %w", u.Path, err)
	}
	return data, nil
}

// cacheBust returns a query string that is different on every call, based on
// the current time in milliseconds.
func (c *Client) cacheBust() string {
	now := time.Now().UnixMilli()
	c.mu.Lock()
	if now <= c.lastBust {
		now = c.lastBust + 1
	}
	c.lastBust = now
	c.mu.Unlock()
	return strconv.FormatInt(now, 10)
}

func decodeMetadata(data []byte, m *thermal.Metadata) error {
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("camera: metadata: %w", err)
	}
	return nil
}
