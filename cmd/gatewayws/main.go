// Command gatewayws keeps a session with the gateway open and forwards every DISPATCH event to the
// log and, optionally, to NATS.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/sonirico/gatewayws"
)

func main() {
	configPath := flag.String("config", "", "optional TOML config file")
	flag.Parse()

	base := logrus.New()
	logger := gatewayws.NewLogrusLogger(base)

	if err := run(*configPath, base, logger); err != nil {
		logger.Errorf("%s. Aborting.", err)
		os.Exit(1)
	}
}

func run(configPath string, base *logrus.Logger, logger gatewayws.Logger) error {
	cfg, err := loadConfig(configPath, os.Getenv)
	if err != nil {
		return err
	}

	level, err := gatewayws.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	base.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := gatewayws.NewMetrics(reg)

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(logger, cfg.MetricsAddr, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sink, closeSink, err := buildSink(logger, cfg)
	if err != nil {
		return err
	}
	defer closeSink()

	dialParams, err := gatewayws.NewStaticDialParamsRepo(logger, cfg.ConnectURL)
	if err != nil {
		return err
	}

	session := gatewayws.NewSession(gatewayws.SessionConfig{
		DeveloperID:   cfg.DeveloperID,
		APIKey:        cfg.APIKey,
		Authenticator: gatewayws.NewHTTPAuthenticator(logger, &fasthttp.Client{Name: "gatewayws"}, cfg.AuthURL),
		ChannelFactory: gatewayws.NewWebsocketChannelFactory(
			logger,
			websocket.DefaultDialer,
			dialParams,
			gatewayws.ErrorAdapters{},
		),
		Sink:    sink,
		Logger:  logger,
		Metrics: metrics,
		Jitter:  gatewayws.RatioJitter(cfg.HeartbeatJitterRatio),
	})

	if err := session.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		session.Stop()
		return nil
	case <-session.CloseChan():
		return exitError(session.CloseErr())
	}
}

// exitError reports why a session that closed on its own should fail the process. Local stops and
// normal remote closes are clean exits.
func exitError(closeErr error) error {
	if closeErr == nil || errors.Is(closeErr, gatewayws.ErrTerminated) {
		return nil
	}
	var ce *gatewayws.CloseError
	if errors.As(closeErr, &ce) && !ce.Abnormal() {
		return nil
	}
	return errors.Wrap(closeErr, "session closed")
}

// buildSink always logs events and, when a NATS URL is configured, republishes them there too.
func buildSink(logger gatewayws.Logger, cfg config) (gatewayws.EventSink, func(), error) {
	logSink := gatewayws.NewLogSink(logger)
	if cfg.NATSURL == "" {
		return logSink, func() {}, nil
	}

	nc, err := nats.Connect(cfg.NATSURL, nats.Name("gatewayws"))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "connect to nats at %s", cfg.NATSURL)
	}
	logger.Infof("forwarding dispatch events to nats subject %s.>", cfg.NATSSubject)

	closeFn := func() {
		if err := nc.Drain(); err != nil {
			logger.Warnf("cannot drain nats connection: %s", err)
		}
	}
	return gatewayws.MultiSink(logSink, gatewayws.NewNATSSink(nc, cfg.NATSSubject)), closeFn, nil
}

func serveMetrics(logger gatewayws.Logger, addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics server stopped: %s", err)
		}
	}()
	logger.Infof("serving metrics on %s/metrics", addr)
	return srv
}
