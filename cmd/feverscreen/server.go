// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image/png"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"

	"github.com/maruel/feverscreen/calibration"
	"github.com/maruel/feverscreen/scanner"
	"github.com/maruel/feverscreen/thermal"
)

// controller is implemented by *scanner.Controller.
type controller interface {
	State(ctx context.Context) (calibration.State, error)
	StartCalibration(ctx context.Context) (calibration.State, error)
	StartScan(ctx context.Context) (calibration.State, error)
	Warmer(ctx context.Context) (calibration.State, error)
	Cooler(ctx context.Context) (calibration.State, error)
	SetTemperature(ctx context.Context, tempC float64) (calibration.State, bool, error)
	Stats() scanner.Stats
}

// WebServer serves the operator page, the live stream and the control API.
//
// It implements scanner.Display and scanner.Awaker.
type WebServer struct {
	ctrl controller
	log  logrus.FieldLogger
	e    *echo.Echo

	cond   sync.Cond
	events [16]event        // Ring of the most recent events.
	seq    int              // Sequence number of the most recent event, 0 if none.
	last   *scanner.Update  // Most recent update with an image.
	closed bool
}

// newWebServer returns a WebServer. ctrl must be set before serving.
func newWebServer(log logrus.FieldLogger, metrics http.Handler) *WebServer {
	s := &WebServer{
		log:  log,
		e:    echo.New(),
		cond: *sync.NewCond(&sync.Mutex{}),
	}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.Use(s.logRequests)
	s.e.GET("/", s.root)
	s.e.GET("/stream", echo.WrapHandler(websocket.Handler(s.stream)))
	s.e.GET("/frame.png", s.frame)
	s.e.GET("/api/state", s.state)
	s.e.POST("/api/calibrate", s.command(controller.StartCalibration))
	s.e.POST("/api/scan", s.command(controller.StartScan))
	s.e.POST("/api/warmer", s.command(controller.Warmer))
	s.e.POST("/api/cooler", s.command(controller.Cooler))
	s.e.PUT("/api/temperature", s.temperature)
	if metrics != nil {
		s.e.GET("/metrics", echo.WrapHandler(metrics))
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *WebServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.e.ServeHTTP(w, r)
}

// Show implements scanner.Display.
func (s *WebServer) Show(u *scanner.Update) {
	s.push(event{update: u})
}

// KeepAwake implements scanner.Awaker.
func (s *WebServer) KeepAwake() {
	s.push(event{awake: true})
}

// Close wakes up and terminates all the streams.
func (s *WebServer) Close() {
	s.cond.L.Lock()
	s.closed = true
	s.cond.L.Unlock()
	s.cond.Broadcast()
}

// status is sent as a M frame and returned by the API.
type status struct {
	Mode             string
	Title            string
	CalibrateEnabled bool
	ScanEnabled      bool
	ShowScanSettings bool
	TemperatureC     float64 // Reference temperature.
	Temperature      string  // Formatted reference temperature.
	RawValue         int
	FFCWait          bool              `json:",omitempty"`
	Reading          string            `json:",omitempty"`
	Classification   string            `json:",omitempty"`
	Metadata         *thermal.Metadata `json:",omitempty"`
	Stats            *scanner.Stats    `json:",omitempty"`
}

func makeStatus(st calibration.State) status {
	c := st.Controls()
	return status{
		Mode:             strings.ToLower(st.Mode.String()),
		Title:            c.Title,
		CalibrateEnabled: c.CalibrateEnabled,
		ScanEnabled:      c.ScanEnabled,
		ShowScanSettings: c.ShowScanSettings,
		TemperatureC:     st.TemperatureC,
		Temperature:      calibration.FormatTemperature(st.TemperatureC),
		RawValue:         st.RawValue,
	}
}

func makeUpdateStatus(u *scanner.Update) status {
	out := makeStatus(u.State)
	if u.Image != nil {
		out.FFCWait = u.FFCWait
		out.Metadata = &u.Metadata
		if u.Estimate.Scanning {
			out.Reading = u.Reading
			out.Classification = u.Estimate.Classification.String()
		}
	}
	return out
}

// commandResponse is returned by the control API.
type commandResponse struct {
	Accepted bool
	status
}

// Private details.

type event struct {
	update *scanner.Update
	awake  bool
}

func (s *WebServer) push(e event) {
	s.cond.L.Lock()
	s.seq++
	s.events[s.seq%len(s.events)] = e
	if e.update != nil && e.update.Image != nil {
		s.last = e.update
	}
	s.cond.L.Unlock()
	s.cond.Broadcast()
}

// next returns the event with sequence number seq or the oldest one still
// in the ring if seq was overwritten. It blocks until one is available.
//
// Returns false once the server is closed.
func (s *WebServer) next(seq int) (event, int, bool) {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	for !s.closed && seq > s.seq {
		s.cond.Wait()
	}
	if s.closed {
		return event{}, seq, false
	}
	if oldest := s.seq - len(s.events) + 1; seq < oldest {
		seq = oldest
	}
	return s.events[seq%len(s.events)], seq, true
}

func (s *WebServer) root(c echo.Context) error {
	return c.HTMLBlob(http.StatusOK, read("root.html"))
}

func (s *WebServer) frame(c echo.Context) error {
	s.cond.L.Lock()
	u := s.last
	s.cond.L.Unlock()
	if u == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no frame yet")
	}
	buf := bytes.Buffer{}
	if err := png.Encode(&buf, u.Image); err != nil {
		return err
	}
	c.Response().Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	return c.Blob(http.StatusOK, "image/png", buf.Bytes())
}

func (s *WebServer) state(c echo.Context) error {
	st, err := s.ctrl.State(c.Request().Context())
	if err != nil {
		return controlError(err)
	}
	out := makeStatus(st)
	stats := s.ctrl.Stats()
	out.Stats = &stats
	return c.JSON(http.StatusOK, out)
}

func (s *WebServer) command(f func(controller, context.Context) (calibration.State, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		st, err := f(s.ctrl, c.Request().Context())
		if err != nil {
			return controlError(err)
		}
		return c.JSON(http.StatusOK, commandResponse{Accepted: true, status: makeStatus(st)})
	}
}

// temperature accepts {"TemperatureC": 36.2}. The value may also be sent as
// a string. An unparsable or unreasonable value is rejected and the state is
// left unchanged.
func (s *WebServer) temperature(c echo.Context) error {
	req := struct {
		TemperatureC json.RawMessage
	}{}
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st, ok, err := s.ctrl.SetTemperature(c.Request().Context(), parseTemperature(req.TemperatureC))
	if err != nil {
		return controlError(err)
	}
	return c.JSON(http.StatusOK, commandResponse{Accepted: ok, status: makeStatus(st)})
}

// parseTemperature returns NaN when raw is not a number.
func parseTemperature(raw json.RawMessage) float64 {
	v := strings.TrimSpace(string(raw))
	if unquoted, err := strconv.Unquote(v); err == nil {
		v = strings.TrimSpace(unquoted)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func controlError(err error) error {
	if errors.Is(err, scanner.ErrStopped) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return err
}

// stream sends the updates as WebSocket frames.
//
// Frame I is a base64 encoded PNG, frame M is the JSON encoded status and
// frame A asks the page to keep the screen awake.
func (s *WebServer) stream(w *websocket.Conn) {
	id := uuid.New()
	log := s.log.WithFields(logrus.Fields{"client": id.String(), "remote": w.Request().RemoteAddr})
	log.Info("websocket connected")
	defer w.Close()
	s.cond.L.Lock()
	seq := s.seq + 1
	last := s.last
	s.cond.L.Unlock()
	buf := &bytes.Buffer{}
	if last != nil {
		if err := writeUpdate(w, buf, last); err != nil {
			log.WithError(err).Info("websocket closed")
			return
		}
	}
	for {
		e, n, ok := s.next(seq)
		if !ok {
			log.Info("websocket closed by server")
			return
		}
		seq = n + 1
		var err error
		if e.awake {
			_, err = w.Write([]byte("A"))
		} else {
			err = writeUpdate(w, buf, e.update)
		}
		if err != nil {
			log.WithError(err).Info("websocket closed")
			return
		}
	}
}

func writeUpdate(w *websocket.Conn, buf *bytes.Buffer, u *scanner.Update) error {
	if u.Image != nil {
		buf.Reset()
		buf.WriteByte('I')
		encoder := base64.NewEncoder(base64.StdEncoding, buf)
		if err := png.Encode(encoder, u.Image); err != nil {
			return err
		}
		encoder.Close()
		if _, err := w.Write(buf.Bytes()); err != nil {
			return err
		}
	}
	buf.Reset()
	buf.WriteByte('M')
	if err := json.NewEncoder(buf).Encode(makeUpdateStatus(u)); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// logRequests logs each HTTP request.
func (s *WebServer) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		req := c.Request()
		res := c.Response()
		s.log.WithFields(logrus.Fields{
			"remote":   req.RemoteAddr,
			"status":   res.Status,
			"size":     res.Size,
			"method":   req.Method,
			"uri":      req.RequestURI,
			"duration": time.Since(start).Round(time.Microsecond),
		}).Debug("http")
		return nil
	}
}
