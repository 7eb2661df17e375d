package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kestrelsync/docsync/internal/accesslog"
	"github.com/kestrelsync/docsync/internal/conflict"
	"github.com/kestrelsync/docsync/internal/config"
	"github.com/kestrelsync/docsync/internal/eventsink"
	"github.com/kestrelsync/docsync/internal/ingress"
	"github.com/kestrelsync/docsync/internal/metrics"
	"github.com/kestrelsync/docsync/internal/middleware"
	"github.com/kestrelsync/docsync/internal/ratelimit"
	"github.com/kestrelsync/docsync/internal/remote"
	"github.com/kestrelsync/docsync/internal/store"
	"github.com/kestrelsync/docsync/internal/sweep"
	"github.com/kestrelsync/docsync/internal/syncengine"
	"github.com/kestrelsync/docsync/internal/worker"
)

// Server is the composition root: it owns every long-lived component and
// wires the HTTP mux that fronts the ingress, health, status, and metrics
// endpoints.
type Server struct {
	cfg       *config.Config
	log       *slog.Logger
	store     *store.Store
	engine    *syncengine.Engine
	sweeper   *sweep.Sweeper
	worker    *worker.Worker
	sink      *eventsink.Dispatcher
	metrics   *metrics.Collector
	limiter   *ratelimit.Limiter
	accessLog *accesslog.AccessLogger
}

func New(cfg *config.Config) (*Server, error) {
	log := newLogger(cfg.Logging.Level)

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	cloud := remote.NewClient(cfg.Sides.Cloud.Name, cfg.Sides.Cloud.URL, cfg.Sides.Cloud.APIKey, cfg.Sides.Cloud.APISecret, log)
	local := remote.NewClient(cfg.Sides.Local.Name, cfg.Sides.Local.URL, cfg.Sides.Local.APIKey, cfg.Sides.Local.APISecret, log)

	sink := eventsink.NewDispatcher(cfg.EventSink.Workers, cfg.EventSink.QueueSize, 3, log)
	wireEventSinkBackends(sink, cfg.EventSink, log)

	mc := metrics.NewCollector()
	mc.SetQueueDepthSource(st.QueueDepth)
	sink.SetMetrics(mc)

	eng := &syncengine.Engine{
		Store: st,
		Cloud: cloud,
		Local: local,
		Rules: syncengine.Rules{
			ExcludeFields:      cfg.SyncRules.ExcludeFields,
			ConflictResolution: conflict.Policy(cfg.SyncRules.ConflictResolution),
		},
		Sink:    sink,
		Metrics: mc,
		Log:     log,
	}

	sw := &sweep.Sweeper{
		Engine:   eng,
		Cloud:    cloud,
		Local:    local,
		Doctypes: cfg.SyncRules.Doctypes,
		Limit:    cfg.Sweeper.Limit,
		Log:      log,
	}

	w := &worker.Worker{
		Store:             st,
		Engine:            eng,
		BatchSize:         cfg.Worker.BatchSize,
		PollInterval:      time.Duration(cfg.Worker.PollIntervalSecs) * time.Second,
		WatchdogThreshold: time.Duration(cfg.Worker.WatchdogSecs) * time.Second,
		WatchdogEvery:     5,
		Log:               log,
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimit.IPRPS, cfg.RateLimit.IPBurst, cfg.RateLimit.SideRPS, cfg.RateLimit.SideBurst)

	var accessLogger *accesslog.AccessLogger
	if cfg.Logging.Level != "" {
		// access log lives alongside the database by default
		accessLogger, err = accesslog.NewAccessLogger(cfg.Database.Path + ".access.log")
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("init access logger: %w", err)
		}
	}

	return &Server{
		cfg:       cfg,
		log:       log,
		store:     st,
		engine:    eng,
		sweeper:   sw,
		worker:    w,
		sink:      sink,
		metrics:   mc,
		limiter:   limiter,
		accessLog: accessLogger,
	}, nil
}

func wireEventSinkBackends(sink *eventsink.Dispatcher, cfg config.EventSinkConfig, log *slog.Logger) {
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic != "" {
		sink.AddBackend(eventsink.NewKafkaBackend(cfg.Kafka.Brokers, cfg.Kafka.Topic))
	}
	if cfg.NATS.Enabled && cfg.NATS.URL != "" && cfg.NATS.Subject != "" {
		natsBackend, err := eventsink.NewNATSBackend(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			log.Warn("nats backend failed to connect", "error", err)
		} else {
			sink.AddBackend(natsBackend)
		}
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr != "" {
		sink.AddBackend(eventsink.NewRedisBackend(cfg.Redis.Addr, cfg.Redis.Channel, ""))
	}
	if cfg.AMQP.Enabled && cfg.AMQP.URL != "" {
		sink.AddBackend(eventsink.NewAMQPBackend(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.RoutingKey))
	}
	if cfg.Postgres.Enabled && cfg.Postgres.ConnString != "" {
		sink.AddBackend(eventsink.NewPostgresBackend(cfg.Postgres.ConnString, cfg.Postgres.Table))
	}
	if cfg.Elasticsearch.Enabled && cfg.Elasticsearch.URL != "" {
		sink.AddBackend(eventsink.NewElasticsearchBackend(cfg.Elasticsearch.URL, cfg.Elasticsearch.Index))
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// Run starts the server and blocks until a shutdown signal is received.
func (s *Server) Run() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler())
	mux.HandleFunc("/ready", readyHandler(s.store))
	mux.Handle("/metrics", s.metrics)
	mux.Handle("/status", &ingress.StatusHandler{Store: s.store})

	var handler http.Handler = mux
	handler = middleware.Latency(s.metrics, handler)
	handler = middleware.RequestID(handler)
	handler = middleware.PanicRecovery(handler)

	addr := s.cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Webhooks are served on their own listener (webhook.host/webhook.port)
	// so an operator can firewall ingress separately from the health,
	// status, and metrics surface.
	webhookMux := http.NewServeMux()
	webhookHandler := &ingress.Handler{
		Store:     s.store,
		Secret:    s.cfg.Webhook.Secret,
		Guard:     s.limiter,
		Log:       s.log,
		AccessLog: s.accessLog,
		Metrics:   s.metrics,
	}
	webhookHandler.Mount(webhookMux)

	var webhookHTTPHandler http.Handler = webhookMux
	webhookHTTPHandler = middleware.Latency(s.metrics, webhookHTTPHandler)
	webhookHTTPHandler = middleware.RequestID(webhookHTTPHandler)
	webhookHTTPHandler = middleware.PanicRecovery(webhookHTTPHandler)

	webhookAddr := s.cfg.WebhookAddr()
	webhookServer := &http.Server{
		Addr:    webhookAddr,
		Handler: webhookHTTPHandler,
	}

	var challengeHandler http.Handler
	if s.cfg.Server.TLS.AutoTLS {
		tlsCfg, ch := NewAutoTLS(AutoTLSConfig{
			Enabled:  true,
			Domains:  []string{s.cfg.Server.TLS.Domain},
			CacheDir: s.cfg.Server.TLS.CacheDir,
		})
		httpServer.TLSConfig = tlsCfg
		challengeHandler = ch
	}

	s.log.Info("docsync starting", "addr", addr, "webhook_addr", webhookAddr, "doctypes", s.cfg.SyncRules.Doctypes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.sink.Start(ctx)
	go s.worker.Run(ctx)

	var sweepTicker *time.Ticker
	if s.cfg.Sweeper.Enabled {
		sweepTicker = time.NewTicker(time.Duration(s.cfg.Sweeper.IntervalSecs) * time.Second)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-sweepTicker.C:
					stats := s.sweeper.SyncAllDoctypes(ctx)
					s.log.Info("sweep complete", "total", stats.Total, "success", stats.Success, "skipped", stats.Skipped, "conflicts", stats.Conflicts, "failed", stats.Failed)
				}
			}
		}()
	}

	errCh := make(chan error, 2)
	go func() {
		switch {
		case s.cfg.Server.TLS.AutoTLS:
			if challengeHandler != nil {
				go http.ListenAndServe(":80", challengeHandler)
			}
			errCh <- httpServer.ListenAndServeTLS("", "")
		case s.cfg.Server.TLS.Enabled:
			errCh <- httpServer.ListenAndServeTLS(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
		default:
			errCh <- httpServer.ListenAndServe()
		}
	}()
	go func() {
		errCh <- webhookServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-sigCh:
		s.log.Info("shutdown signal received", "signal", sig.String())
	}

	if sweepTicker != nil {
		sweepTicker.Stop()
	}

	timeout := time.Duration(s.cfg.Server.ShutdownTimeoutSecs) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("graceful shutdown timed out", "timeout", timeout, "error", err)
		return err
	}
	if err := webhookServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("webhook listener shutdown timed out", "timeout", timeout, "error", err)
		return err
	}

	cancel()
	s.sink.Stop()
	s.log.Info("server stopped gracefully")
	return nil
}

func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.accessLog != nil {
		s.accessLog.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}
