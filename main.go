package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	alertapp "swapstation-ops/internal/alerts/application"
	alertmemory "swapstation-ops/internal/alerts/infrastructure/memory"
	alertrepo "swapstation-ops/internal/alerts/infrastructure/postgres"
	alerthttp "swapstation-ops/internal/alerts/interfaces/http"
	"swapstation-ops/internal/alerts/notify"
	"swapstation-ops/internal/alerts/rules"
	"swapstation-ops/internal/audit"
	"swapstation-ops/internal/auth"
	"swapstation-ops/internal/config"
	"swapstation-ops/internal/eventing"
	"swapstation-ops/internal/logging"
	"swapstation-ops/internal/observability/metrics"
	"swapstation-ops/internal/platform/postgres"
	"swapstation-ops/internal/scheduler"
	telemetryapp "swapstation-ops/internal/telemetry/application"
	telemetry "swapstation-ops/internal/telemetry/domain"
	telemetrymemory "swapstation-ops/internal/telemetry/infrastructure/memory"
	telemetrypostgres "swapstation-ops/internal/telemetry/infrastructure/postgres"
	statecache "swapstation-ops/internal/telemetry/infrastructure/redis"
	telemetryhttp "swapstation-ops/internal/telemetry/interfaces/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(cfg, os.Args[2:]); err != nil {
			logger.WithError(err).Fatal("issue token")
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("service stopped")
	}
}

type stores struct {
	samples   telemetry.SampleRepository
	alerts    alertapp.AlertRepository
	decisions alertapp.DecisionRepository
	reader    notify.AlertReader
	audit     audit.Store
}

func openStores(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*stores, func(), error) {
	if cfg.Database.URL == "" {
		logger.Warn("database.url not set, running on in-memory stores")
		alertStore := alertmemory.NewAlertRepository()
		return &stores{
			samples:   telemetrymemory.NewSampleRepository(),
			alerts:    alertStore,
			decisions: alertStore,
			reader:    alertStore,
			audit:     audit.NewMemoryStore(),
		}, func() {}, nil
	}

	db, err := postgres.Open(ctx, cfg.Database.URL, postgres.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.Migrate {
		if err := postgres.Migrate(db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		logger.Info("database migrations applied")
	}
	alertStore := alertrepo.NewAlertRepository(db)
	return &stores{
		samples:   telemetrypostgres.NewSampleRepository(db),
		alerts:    alertStore,
		decisions: alertrepo.NewDecisionRepository(db),
		reader:    alertStore,
		audit:     audit.NewRepository(db),
	}, func() { _ = db.Close() }, nil
}

func loadThresholds(ctx context.Context, path string, logger logrus.FieldLogger) *rules.Store {
	if path == "" {
		return rules.NewStore(rules.DefaultConfig())
	}
	cfg, err := rules.LoadConfig(path)
	if err != nil {
		logger.WithError(err).WithField("path", path).Warn("thresholds not loaded, using defaults")
		return rules.NewStore(rules.DefaultConfig())
	}
	store := rules.NewStore(cfg)
	go func() {
		if err := store.Watch(ctx, path, logger); err != nil {
			logger.WithError(err).Warn("thresholds watcher stopped")
		}
	}()
	return store
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	st, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	thresholds := loadThresholds(ctx, cfg.Rules.Path, logger)
	evaluator := rules.NewEvaluator(thresholds)

	recorder, err := audit.NewRecorder(st.audit, logger, audit.WithBuffer(cfg.Audit.Buffer))
	if err != nil {
		return err
	}
	auditCtx, stopAudit := context.WithCancel(context.Background())
	auditDone := make(chan struct{})
	go func() {
		defer close(auditDone)
		_ = recorder.Run(auditCtx)
	}()
	defer func() {
		stopAudit()
		<-auditDone
	}()

	sse := alerthttp.NewSSEBroker()
	hub := alerthttp.NewHub()
	go hub.Run(ctx)
	live := []alertapp.AlertNotifier{sse, hub}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		redisNotifier, err := notify.NewRedisNotifier(redisClient, cfg.Redis.Channel, logger)
		if err != nil {
			return err
		}
		live = append(live, redisNotifier)
	}

	if cfg.Webhook.URL != "" {
		channel, err := notify.NewWebhookChannel(cfg.Webhook.URL, notify.WithTimeout(cfg.Webhook.Timeout))
		if err != nil {
			return err
		}
		tpl, err := notify.NewTemplate(notify.DefaultTemplate)
		if err != nil {
			return err
		}
		webhook, err := notify.NewNotifier(st.reader, channel, tpl,
			notify.WithCooldown(cfg.Webhook.Cooldown),
			notify.WithDedupeWindow(cfg.Webhook.DedupeWindow),
			notify.WithEscalation(cfg.Webhook.Escalation),
			notify.WithRequestTimeout(cfg.Webhook.Timeout),
			notify.WithNotifierLogger(logger),
		)
		if err != nil {
			return err
		}
		defer webhook.Close()
		live = append(live, webhook)
	}

	serviceOpts := []alertapp.ServiceOption{
		alertapp.WithAuditRecorder(recorder),
		alertapp.WithNotifier(notify.NewMultiNotifier(live...)),
		alertapp.WithLogger(logger),
		alertapp.WithSweep(cfg.Sweep.Lookback, cfg.Sweep.ActiveWindow, cfg.Sweep.Workers),
	}
	if cfg.AMQP.URL != "" {
		conn, ch, err := notify.DialAMQP(cfg.AMQP.URL)
		if err != nil {
			return err
		}
		defer conn.Close()
		defer ch.Close()
		publisher, err := notify.NewAMQPPublisher(ch, cfg.AMQP.Exchange)
		if err != nil {
			return err
		}
		serviceOpts = append(serviceOpts, alertapp.WithPublisher(publisher))
	}

	service, err := alertapp.NewService(st.alerts, st.decisions, st.samples, evaluator, serviceOpts...)
	if err != nil {
		return err
	}
	metrics.Init(service.PendingCount)

	bus := eventing.NewInMemoryBus()
	ingest, err := telemetryapp.NewIngestService(st.samples, service,
		telemetryapp.WithEventBus(bus),
		telemetryapp.WithAudit(recorder),
		telemetryapp.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	var telemetryOpts []telemetryhttp.Option
	if redisClient != nil {
		cache, err := statecache.NewStateCache(redisClient, cfg.Redis.StateTTL)
		if err != nil {
			return err
		}
		cache.Subscribe(bus)
		telemetryOpts = append(telemetryOpts, telemetryhttp.WithStateReader(cache))
	}

	mux := http.NewServeMux()
	alertHandler, err := alerthttp.NewHandler(service, logger)
	if err != nil {
		return err
	}
	alertHandler.Register(mux)
	mux.Handle("GET /api/v1/alerts/stream", alerthttp.NewStreamHandler(sse))
	mux.Handle("GET /api/v1/alerts/ws", hub)

	telemetryHandler, err := telemetryhttp.NewHandler(ingest, logger, telemetryOpts...)
	if err != nil {
		return err
	}
	telemetryHandler.Register(mux)

	mux.Handle("GET /api/v1/audit", audit.NewHandler(st.audit))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var handler http.Handler = mux
	if cfg.Auth.IngestSecret != "" {
		ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.Auth.IngestSecret), cfg.Auth.IngestMaxSkew)
		handler = onPath("/api/v1/metrics", ingestAuth.Wrap(mux), mux)
	} else {
		logger.Warn("auth.ingest_secret not set, metric intake is unsigned")
	}
	if cfg.Auth.JWTSecret != "" {
		policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
		handler = auth.NewMiddleware([]byte(cfg.Auth.JWTSecret), policy, auth.WithMiddlewareLogger(logger)).Wrap(handler)
	} else {
		logger.Warn("auth.jwt_secret not set, API is unauthenticated")
	}
	handler = corsMiddleware(handler, cfg.HTTP.CORSOrigin)
	handler = loggingMiddleware(handler, logger)

	cronJobs, err := scheduler.New(cfg.Sweep.Timezone, logger)
	if err != nil {
		return err
	}
	if cfg.Sweep.Enabled {
		if err := cronJobs.Add("rule-sweep", cfg.Sweep.Schedule, scheduler.SweepJob(service, logger)); err != nil {
			return err
		}
	}
	if err := cronJobs.Add("retention", cfg.Retention.Schedule, scheduler.RetentionJob(nil, logger,
		scheduler.Retention{Name: "station_metrics", Store: st.samples, MaxAge: cfg.Retention.Metrics},
		scheduler.Retention{Name: "audit_logs", Store: st.audit, MaxAge: cfg.Retention.Audit},
	)); err != nil {
		return err
	}
	if err := cronJobs.Start(); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.HTTP.Addr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := cronJobs.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("scheduler shutdown")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func issueToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("sub", "ops-manager", "token subject (decision user id)")
	role := fs.String("role", string(auth.RoleOperator), "viewer, operator or admin")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	normalized, ok := auth.NormalizeRole(*role)
	if !ok {
		return fmt.Errorf("unknown role %q", *role)
	}
	token, err := auth.IssueJWT([]byte(cfg.Auth.JWTSecret), *subject, normalized, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// onPath routes requests for path through wrapped and everything else through next.
func onPath(path string, wrapped, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == path {
			wrapped.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, origin string) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-Id, X-Ingest-Timestamp, X-Ingest-Signature")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"message":"OK"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler, logger logrus.FieldLogger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   resp.status,
			"duration": time.Since(start).String(),
			"remote":   audit.ClientIP(r),
		}).Info("http request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streaming through the logging wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrade take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
