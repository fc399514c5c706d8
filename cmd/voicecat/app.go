package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/diamondburned/arivoice/voice"
	"github.com/diamondburned/arivoice/voice/dca"
)

// newApp wires a single voice session that plays cfg.File. The app shuts
// itself down once the file is played.
func newApp(cfg *Config) *fx.App {
	return fx.New(
		fx.Supply(cfg),
		fx.Provide(
			newLogger,
			newRegistry,
			newSource,
			newSession,
		),
		fx.Invoke(
			registerMetricsServer,
			registerSession,
		),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
	)
}

func newRegistry() (*prometheus.Registry, *voice.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, voice.NewMetrics(reg)
}

func newSource(cfg *Config) (*dca.Source, error) {
	if cfg.File == "" {
		return nil, errors.New("no file to play")
	}

	f, err := os.Open(cfg.File)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}
	defer f.Close()

	src, err := dca.Load(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load %q", cfg.File)
	}

	return src, nil
}

type newSessionParams struct {
	fx.In
	Cfg     *Config
	Source  *dca.Source
	Metrics *voice.Metrics
	Logger  *zap.Logger
}

func newSession(p newSessionParams) *voice.Session {
	s := voice.NewSession(p.Source)
	s.Metrics = p.Metrics
	s.DiscoveryTimeout = p.Cfg.Voice.DiscoveryTimeout
	s.ErrorLog = func(err error) { p.Logger.Warn("voice session error", zap.Error(err)) }

	logger := p.Logger.Named("voice")

	s.Handler.HandleCallback(func(ev voice.Event) {
		switch ev := ev.(type) {
		case *voice.StateChangedEvent:
			logger.Info("session state changed",
				zap.Stringer("guild", ev.GuildID),
				zap.String("from", string(ev.From)),
				zap.String("to", string(ev.To)))

		case *voice.SpeakingEvent:
			logger.Debug("user speaking",
				zap.Stringer("user", ev.UserID),
				zap.Uint32("ssrc", ev.SSRC),
				zap.Bool("speaking", ev.Speaking))

		case *voice.SignalingClosedEvent:
			logger.Warn("voice gateway closed",
				zap.Int("code", ev.Code),
				zap.String("reason", ev.Reason))

		case *voice.DisconnectedEvent:
			logger.Info("disconnected", zap.Stringer("reason", ev.Reason))
		}
	})

	return s
}

type registerSessionParams struct {
	fx.In
	LC         fx.Lifecycle
	Shutdowner fx.Shutdowner
	Cfg        *Config
	Session    *voice.Session
	Source     *dca.Source
	Logger     *zap.Logger
}

// registerSession starts the session with the app and disconnects it on stop.
func registerSession(p registerSessionParams) error {
	params, err := p.Cfg.Params()
	if err != nil {
		return err
	}

	done := make(chan struct{})

	p.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, p.Cfg.Voice.StartTimeout)
			defer cancel()

			p.Logger.Info("starting voice session",
				zap.Stringer("guild", params.GuildID),
				zap.String("endpoint", params.Endpoint),
				zap.Int("frames", p.Source.Len()))

			if err := p.Session.Start(ctx, params); err != nil {
				return errors.Wrap(err, "failed to start voice session")
			}

			go func() {
				select {
				case <-p.Source.Drained():
				case <-done:
					return
				}

				// Let the last frame and the speaking update go out.
				time.Sleep(5 * voice.FrameDuration)

				p.Logger.Info("finished playing", zap.String("file", p.Cfg.File))
				p.Shutdowner.Shutdown()
			}()

			return nil
		},
		OnStop: func(context.Context) error {
			close(done)
			return p.Session.Disconnect(voice.LeftChannel)
		},
	})

	return nil
}

type registerMetricsParams struct {
	fx.In
	LC       fx.Lifecycle
	Cfg      *Config
	Registry *prometheus.Registry
	Logger   *zap.Logger
}

// registerMetricsServer serves /metrics if an address is configured.
func registerMetricsServer(p registerMetricsParams) {
	if p.Cfg.Metrics.Address == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              p.Cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	p.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			l, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return errors.Wrap(err, "failed to listen for metrics")
			}

			p.Logger.Info("serving metrics", zap.Stringer("addr", l.Addr()))

			go func() {
				if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
					p.Logger.Error("metrics server stopped", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
