package app

import (
	"context"
	"net/http"
	"sync"
	"time"

	"PPresence/global/config"
	"PPresence/logger"
	"PPresence/middleware"
	"PPresence/service/api"
	"PPresence/service/gateway"
	"PPresence/service/metrics"
	"PPresence/service/natsx"
	"PPresence/service/notification"
	"PPresence/service/presence"
	"PPresence/tools/ids"
	"PPresence/tools/safe"
	"PPresence/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// App is one assembled presence node.
type App struct {
	cfg *config.AppConfig
	log *zap.Logger

	Registry *presence.Registry
	Router   *presence.Router
	Handler  *presence.Handler
	Reaper   *presence.Reaper
	Notifier *notification.Notifier
	Engine   *gin.Engine

	verifier *security.Verifier
	bridge   bridge
	closers  []func(context.Context) error
}

// bridge is satisfied by *natsx.Bridge.
type bridge interface {
	Start() error
	Close()
}

// Build wires every component from cfg. External stores and NATS are
// connected here, so Build fails fast on bad endpoints.
func Build(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*App, error) {
	if log == nil {
		log = logger.Log
	}
	ids.SetNodeID(cfg.NodeID)

	a := &App{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.close(context.Background())
		}
	}()

	v, err := security.NewVerifier(cfg.SecurityOptions())
	if err != nil {
		return nil, errors.Wrap(err, "token verifier")
	}
	a.verifier = v

	a.Registry = presence.NewRegistry()
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(promReg, a.Registry.Size)
	if err != nil {
		return nil, err
	}
	obs := presence.Observers{presence.NewLogObserver(log.Named("presence")), m}

	a.Handler = presence.NewHandler(a.Registry, v, obs, log.Named("presence"))
	a.Router = presence.NewRouter(a.Registry, obs, log.Named("router"))
	a.Reaper = presence.NewReaper(a.Registry, cfg.Reaper.Interval, obs, log.Named("reaper"))

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Notifier = notification.NewNotifier(store, a.Router, log.Named("notify"))

	if len(cfg.NATS.Servers) > 0 {
		nc, err := natsx.Connect(cfg.NATS)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return nc.Drain() })
		a.bridge = natsx.NewBridge(nc, cfg.NATS.Queue, a.Router, a.Notifier, log.Named("natsx"),
			natsx.IdemMiddleware(natsx.NewMemIdem(ctx, 10*time.Minute), 0))
	}

	gw := gateway.NewServer(a.Handler, cfg.GatewayOptions(), log.Named("gateway"))
	a.Engine = newEngine(log, gw, api.New(a.Router, a.Notifier, cfg.InternalKey), promReg)

	ok = true
	return a, nil
}

func (a *App) openStore(ctx context.Context) (notification.Store, error) {
	nc := a.cfg.Notification
	switch nc.Store {
	case config.StoreRedis:
		rdb, err := notification.NewRedisClient(ctx, nc.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
		return notification.NewRedisStore(rdb, nc.Redis.MaxLen), nil
	case config.StoreMongo:
		cli, err := notification.ConnectMongo(ctx, nc.Mongo)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, cli.Disconnect)
		s := notification.NewMongoStore(cli.Database(nc.Mongo.Database))
		if err := s.EnsureIndexes(ctx); err != nil {
			a.log.Warn("notification index not created", zap.Error(err))
		}
		return s, nil
	default:
		return notification.NewMemoryStore(0), nil
	}
}

func newEngine(log *zap.Logger, gw *gateway.Server, a *api.API, g prometheus.Gatherer) *gin.Engine {
	e := gin.New()
	mids := middleware.NewManager(gin.Recovery())
	e.Use(middleware.AccessLog(log.Named("http"), "/ws", "/metrics"), mids.Use())

	e.GET("/ws", gw.HandleWS)
	e.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	e.GET("/metrics", gin.WrapH(metrics.Handler(g)))
	a.Register(e)
	return e
}

// Run serves HTTP and runs the reaper and NATS bridge until ctx is done, then
// shuts everything down.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{Addr: a.cfg.HTTP.Addr, Handler: a.Engine}

	if a.bridge != nil {
		if err := a.bridge.Start(); err != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
			defer cancel()
			a.Shutdown(shutdownCtx)
			return errors.Wrap(err, "nats bridge")
		}
	}

	var wg sync.WaitGroup
	if !a.cfg.Reaper.Disabled {
		wg.Add(1)
		safe.Go(func() {
			defer wg.Done()
			a.Reaper.Run(ctx)
		}, func(r any) { a.log.Error("reaper panicked", zap.Any("panic", r)) })
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("[HTTP] listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = errors.Wrap(err, "http server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown", zap.Error(err))
	}
	a.Shutdown(shutdownCtx)
	wg.Wait()
	return runErr
}

// Shutdown closes every registered session and releases external clients.
// It does not wait for the reaper; Run does.
func (a *App) Shutdown(ctx context.Context) {
	if a.bridge != nil {
		a.bridge.Close()
	}
	sessions := a.Registry.Clear()
	for _, s := range sessions {
		c := s.Conn
		_ = safe.Call(func() error { return c.Close() })
	}
	a.log.Info("sessions closed", zap.Int("count", len(sessions)))
	a.close(ctx)
}

func (a *App) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.log.Warn("close dependency", zap.Error(err))
		}
	}
	a.closers = nil
	if a.verifier != nil {
		a.verifier.Close()
		a.verifier = nil
	}
}
