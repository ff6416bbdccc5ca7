// Package app assembles the long-running monitor process from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" // registers handlers on http.DefaultServeMux
	"time"

	"github.com/dj-oyu/spineguard/internal/config"
	"github.com/dj-oyu/spineguard/internal/emitter"
	"github.com/dj-oyu/spineguard/internal/logger"
	"github.com/dj-oyu/spineguard/internal/metrics"
	"github.com/dj-oyu/spineguard/internal/pose"
	"github.com/dj-oyu/spineguard/internal/posture"
	"github.com/dj-oyu/spineguard/internal/render"
	"github.com/dj-oyu/spineguard/internal/session"
	"github.com/dj-oyu/spineguard/internal/webmonitor"
	"github.com/dj-oyu/spineguard/internal/webrtc"
)

var appLog = logger.Module("Main")

const shutdownTimeout = 5 * time.Second

// App owns every component of a serve process.
type App struct {
	Config     config.Config
	Metrics    *metrics.Metrics
	Controller *session.Controller
	// Ingest is nil unless the source kind is ingest.
	Ingest *pose.IngestSource
	// WebRTC and MQTT are nil when disabled.
	WebRTC  *webrtc.Server
	MQTT    *emitter.MQTTEmitter
	Monitor *webmonitor.Server

	ctx        context.Context
	cancel     context.CancelFunc
	httpServer *http.Server
	pprof      *http.Server
}

// NewSource builds the landmark source named by cfg.Kind. The ingest source
// is also returned on its own so HTTP can publish into it.
func NewSource(cfg config.SourceConfig) (pose.Source, *pose.IngestSource, error) {
	switch cfg.Kind {
	case config.SourceIngest, "":
		in := pose.NewIngestSource()
		return in, in, nil
	case config.SourceReplay:
		return &pose.ReplaySource{Path: cfg.Replay.Path, FPS: cfg.Replay.FPS, Loop: cfg.Replay.Loop}, nil, nil
	case config.SourceWorker:
		w := cfg.Worker
		return &pose.WorkerSource{
			Command:     w.Command,
			Args:        w.Args,
			Camera:      pose.NewCamera(w.Device, w.Width, w.Height),
			JPEGQuality: w.JPEGQuality,
		}, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
}

// NewEvaluator resolves the configured profile and applies a configured
// calibration.
func NewEvaluator(cfg config.Config) (*posture.Evaluator, error) {
	profile, err := cfg.Profile()
	if err != nil {
		return nil, err
	}
	ev := posture.NewEvaluator(profile)
	if cfg.Posture.IdealAngle != nil {
		ev.Calibrate(*cfg.Posture.IdealAngle)
	}
	return ev, nil
}

// New wires the controller, its sinks and the HTTP server. Nothing is
// started until Run.
func New(cfg config.Config) (*App, error) {
	m := metrics.New()

	ev, err := NewEvaluator(cfg)
	if err != nil {
		return nil, fmt.Errorf("posture: %w", err)
	}
	src, ingest, err := NewSource(cfg.Source)
	if err != nil {
		return nil, err
	}

	ctrl, err := session.New(session.Options{
		Source:        src,
		Evaluator:     ev,
		Renderer:      render.New(cfg.Render, ev.Profile()),
		Metrics:       m,
		AlertThrottle: cfg.Session.AlertThrottle(),
		StretchEvery:  cfg.Session.StretchEvery(),
		TimerInterval: cfg.Session.TimerInterval(),
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		Config:     cfg,
		Metrics:    m,
		Controller: ctrl,
		Ingest:     ingest,
		ctx:        ctx,
		cancel:     cancel,
	}

	if cfg.WebRTC.Enabled {
		a.WebRTC = webrtc.NewServer(cfg.WebRTC.STUNServers, cfg.WebRTC.MaxPeers, m)
	}
	if cfg.MQTT.Broker != "" {
		a.MQTT = emitter.NewMQTTEmitter(cfg.MQTT, m)
		ctrl.AddSink(a.MQTT)
	}

	mon, err := webmonitor.NewServer(webmonitor.Config{
		Addr:           cfg.HTTP.Addr,
		StatusInterval: cfg.HTTP.StatusInterval(),
		MJPEGInterval:  cfg.HTTP.MJPEGInterval(),
		JPEGQuality:    cfg.HTTP.JPEGQuality,
		RecordingDir:   cfg.HTTP.RecordingDir,
	}, webmonitor.Options{
		Controller: ctrl,
		Ingest:     ingest,
		WebRTC:     a.WebRTC,
		Metrics:    m,
		Context:    ctx,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	a.Monitor = mon

	a.httpServer = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mon.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Streaming handlers end when the app context is cancelled.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	if cfg.HTTP.PprofAddr != "" {
		a.pprof = &http.Server{Addr: cfg.HTTP.PprofAddr, Handler: http.DefaultServeMux}
	}
	return a, nil
}

// Run serves until ctx is cancelled or the listener fails, then shuts
// everything down.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		a.Shutdown()
		return fmt.Errorf("listen on %s: %w", a.httpServer.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	appLog.Info("SpineGuard starting")
	appLog.Info("  HTTP server: %s", ln.Addr())
	appLog.Info("  Source: %s", a.Config.Source.Kind)
	appLog.Info("  Preset: %s", a.Controller.Profile().Name)

	if a.MQTT != nil {
		if err := a.MQTT.Connect(ctx); err != nil {
			appLog.Warn("MQTT unavailable, continuing without it: %v", err)
		}
	}

	if a.pprof != nil {
		go func() {
			appLog.Info("Starting pprof server on %s", a.pprof.Addr)
			if err := a.pprof.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLog.Warn("pprof server error: %v", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if a.Config.Session.AutoStart {
		if err := a.Controller.Start(a.ctx); err != nil {
			appLog.Warn("auto-start failed: %v", err)
		}
	}

	var serveErr error
	select {
	case <-ctx.Done():
		appLog.Info("Shutting down...")
	case err, ok := <-errCh:
		if ok {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	if err := a.Shutdown(); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// Shutdown stops the session, disconnects clients and closes the servers.
// It is safe to call more than once.
func (a *App) Shutdown() error {
	a.Controller.Stop()
	a.cancel()
	a.Monitor.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := a.httpServer.Shutdown(ctx)
	if a.pprof != nil {
		a.pprof.Shutdown(ctx)
	}

	if a.WebRTC != nil {
		a.WebRTC.Close()
	}
	if a.MQTT != nil {
		a.MQTT.Disconnect()
	}
	appLog.Info("Server stopped")
	return err
}
