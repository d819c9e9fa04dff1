// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// feverscreen-grab captures a single frame from the camera.
package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/maruel/interrupt"
	"github.com/spf13/cobra"

	"github.com/maruel/feverscreen/calibration"
	"github.com/maruel/feverscreen/camera"
	"github.com/maruel/feverscreen/internal/config"
	"github.com/maruel/feverscreen/screening"
	"github.com/maruel/feverscreen/thermal"
)

type flags struct {
	configPath string
	color      bool
	meta       bool
	scan       bool
	refTemp    float64
	refRaw     uint16
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	f := flags{}
	cmd := &cobra.Command{
		Use:           "feverscreen-grab [out.png]",
		Short:         "Captures a single frame from the thermal camera",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := ""
			if len(args) == 1 {
				out = args[0]
			} else if !f.meta {
				return errors.New("supply path to PNG to save, or use --meta")
			}
			cfg, err := loadConfig(f.configPath)
			if err != nil {
				return err
			}
			c, err := camera.New(camera.Options{URL: cfg.Camera.URL, Username: cfg.Camera.Username, Password: cfg.Camera.Password})
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() {
				select {
				case <-interrupt.Channel:
					cancel()
				case <-ctx.Done():
				}
			}()
			return grab(ctx, c, stdout, out, &f)
		},
	}
	cmd.Flags().StringVar(&f.configPath, "config", "", "config file; defaults to ~/.config/feverscreen/feverscreen.json")
	cmd.Flags().BoolVar(&f.color, "color", false, "save the 8 bits visualization instead of the raw 16 bits frame")
	cmd.Flags().BoolVar(&f.meta, "meta", false, "print metadata")
	cmd.Flags().BoolVar(&f.scan, "scan", false, "with --color, tint the frame as in scanning mode")
	cmd.Flags().Float64Var(&f.refTemp, "ref-temp", calibration.DefaultTemperature, "with --scan, reference temperature in °C")
	cmd.Flags().Uint16Var(&f.refRaw, "ref-raw", 0, "with --scan, raw value of the reference; defaults to the hottest point of the frame")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// grab fetches only what is needed: the metadata, the frame or both. out may
// be empty when only printing the metadata.
func grab(ctx context.Context, c *camera.Client, stdout io.Writer, out string, f *flags) error {
	var m *thermal.Metadata
	var frame *thermal.Frame
	var err error
	switch {
	case f.meta && out != "":
		var s *camera.Snapshot
		if s, err = c.Snapshot(ctx); err == nil {
			m, frame = &s.Metadata, s.Frame
		}
	case f.meta:
		m, err = c.Metadata(ctx)
	default:
		frame, err = c.Frame(ctx)
	}
	if err != nil {
		return err
	}
	if m != nil {
		printMetadata(stdout, m, frame)
	}
	if out == "" {
		return nil
	}
	w, err := os.Create(out)
	if err != nil {
		return err
	}
	if f.color {
		err = png.Encode(w, colorize(frame, f))
	} else {
		err = thermal.Encode(w, frame)
	}
	if err2 := w.Close(); err == nil {
		err = err2
	}
	return err
}

func printMetadata(w io.Writer, m *thermal.Metadata, frame *thermal.Frame) {
	fmt.Fprintf(w, "FFCState:     %s\n", m.FFCState)
	fmt.Fprintf(w, "TimeOn:       %s\n", m.TimeOn)
	fmt.Fprintf(w, "LastFFCTime:  %s\n", m.LastFFCTime)
	fmt.Fprintf(w, "SinceFFC:     %s\n", m.SinceFFC())
	if m.FrameCount != 0 {
		fmt.Fprintf(w, "FrameCount:   %d\n", m.FrameCount)
	}
	if m.TempC != 0 {
		fmt.Fprintf(w, "TempC:        %.2f\n", m.TempC)
	}
	if frame != nil {
		dark, hot := frame.MinMax()
		fmt.Fprintf(w, "Dark:         %d\n", dark)
		fmt.Fprintf(w, "Hot:          %d\n", hot)
	}
}

// colorize renders the frame as the viewer does.
//
// With --scan, the reference is recorded the way the viewer does it: a
// calibration observing the reference raw value, then scanning.
func colorize(frame *thermal.Frame, f *flags) *image.RGBA {
	st := calibration.New()
	if f.scan {
		st.SetTemperatureSafe(f.refTemp)
		raw := f.refRaw
		if raw == 0 {
			_, raw = frame.MinMax()
		}
		st.StartCalibration(true)
		st.Observe(raw)
		st.StartScan(true)
	}
	e := screening.Map(frame, &st)
	return screening.Encode(frame, &e)
}

func mainImpl() error {
	_ = godotenv.Load()
	interrupt.HandleCtrlC()
	return newRootCmd(os.Stdout).Execute()
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\nfeverscreen-grab: %s.\n", err)
		os.Exit(1)
	}
}
