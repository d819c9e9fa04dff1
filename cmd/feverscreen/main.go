// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// feverscreen serves a fever screening page fed by a networked thermal
// camera.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"time"

	"github.com/joho/godotenv"
	"github.com/maruel/interrupt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/maruel/feverscreen/camera"
	"github.com/maruel/feverscreen/cameratest"
	"github.com/maruel/feverscreen/internal/config"
	"github.com/maruel/feverscreen/internal/logging"
	"github.com/maruel/feverscreen/internal/metrics"
	"github.com/maruel/feverscreen/scanner"
)

type flags struct {
	port        int
	configPath  string
	fake        bool
	writeConfig bool
	cpuprofile  string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	f := flags{}
	cmd := &cobra.Command{
		Use:           "feverscreen",
		Short:         "Fever screening viewer for a networked thermal camera",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, &f)
		},
	}
	cmd.Flags().IntVar(&f.port, "port", 8010, "http port to listen on")
	cmd.Flags().StringVar(&f.configPath, "config", "", "config file; defaults to ~/.config/feverscreen/feverscreen.json")
	cmd.Flags().BoolVar(&f.fake, "fake", false, "use a simulated camera")
	cmd.Flags().BoolVar(&f.writeConfig, "write-config", false, "write the normalized config file and exit")
	cmd.Flags().StringVar(&f.cpuprofile, "cpuprofile", "", "dump CPU profile in file")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "log HTTP requests and every acquisition failure")
	return cmd
}

func run(cmd *cobra.Command, f *flags) error {
	if f.cpuprofile != "" {
		fp, err := os.Create(f.cpuprofile)
		if err != nil {
			return err
		}
		defer fp.Close()
		if err := pprof.StartCPUProfile(fp); err != nil {
			return err
		}
		defer pprof.StopCPUProfile()
	}

	if f.configPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		f.configPath = p
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if f.writeConfig {
		return cfg.Write(f.configPath)
	}
	if cmd.Flags().Changed("port") {
		cfg.HTTP.Port = f.port
	}
	if f.verbose {
		cfg.Log.Level = "debug"
	}

	log, closer, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return err
	}
	defer closer.Close()

	interrupt.HandleCtrlC()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-interrupt.Channel:
			cancel()
		case <-ctx.Done():
		}
	}()

	if f.fake {
		url, stop, err := startFakeCamera(cfg.Camera.Username, cfg.Camera.Password)
		if err != nil {
			return err
		}
		defer stop()
		cfg.Camera.URL = url
		log.WithField("url", url).Info("using simulated camera")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w\nIf testing without hardware, use --fake to simulate a camera", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}
	cam, err := camera.New(camera.Options{URL: cfg.Camera.URL, Username: cfg.Camera.Username, Password: cfg.Camera.Password})
	if err != nil {
		return err
	}
	w := newWebServer(log.WithField("component", "http"), promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	ctrl := scanner.New(cam, w, w, scanner.Options{
		Interval:    cfg.Scan.Interval,
		FFCCooldown: cfg.Scan.FFCCooldown,
		Log:         log.WithField("component", "scanner"),
		Metrics:     m,
	})
	w.ctrl = ctrl

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.HTTP.Port))
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: w, ReadHeaderTimeout: 10 * time.Second}
	log.WithField("addr", ln.Addr().String()).Info("listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctrl.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		w.Close()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		changed, err := watchExecutable(gctx)
		if changed {
			log.Info("executable changed, exiting")
		}
		cancel()
		return err
	})
	g.Go(func() error {
		logStats(gctx, log, ctrl)
		return nil
	})
	return g.Wait()
}

// logStats periodically logs the loop counters until ctx is done.
func logStats(ctx context.Context, log logrus.FieldLogger, ctrl *scanner.Controller) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s := ctrl.Stats()
			log.WithFields(logrus.Fields{
				"good":      s.GoodFrames,
				"duplicate": s.DuplicateFrames,
				"failed":    s.FailedAcquisitions,
				"ffc_waits": s.FFCWaits,
			}).Info("stats")
		}
	}
}

// startFakeCamera serves a simulated camera on localhost.
func startFakeCamera(username, password string) (string, func(), error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, err
	}
	fake := cameratest.New()
	fake.Username = username
	fake.Password = password
	// Something warm in the middle of the frame.
	fake.SetSubject(8192 + 128 + 100)
	srv := &http.Server{Handler: fake, ReadHeaderTimeout: 10 * time.Second}
	go srv.Serve(ln)
	return "http://" + ln.Addr().String(), func() { srv.Close() }, nil
}

func mainImpl() error {
	// .env is optional.
	_ = godotenv.Load()
	return newRootCmd().Execute()
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\nfeverscreen: %s.\n", err)
		os.Exit(1)
	}
}
