package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"google.golang.org/grpc"

	"semaphore/badging/internal/badge"
	"semaphore/badging/internal/config"
	"semaphore/badging/internal/db"
	badginggrpc "semaphore/badging/internal/grpc"
	internalhttp "semaphore/badging/internal/http"
	"semaphore/badging/internal/jobs"
	"semaphore/badging/internal/kpi"
	"semaphore/badging/internal/location"
	"semaphore/badging/internal/realtime"
	"semaphore/badging/internal/workflow"
)

func main() {
	_ = godotenv.Load()

	args := os.Args
	if len(args) == 1 {
		args = append(args, "serve")
	}

	root := &cli.Command{
		Name:  "badging",
		Usage: "Workplace badging service and operator tools",
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			kioskCommand(),
			kpiCommand(),
			userCommand(),
			tokenCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.Run(ctx, args); err != nil {
		log.Fatal(err)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP and gRPC servers with background jobs",
		Action: func(ctx context.Context, _ *cli.Command) error {
			return serve(ctx, config.Load())
		},
	}
}

// app holds the wiring shared by serve and kiosk.
type app struct {
	cfg      config.Config
	store    *db.Store
	redis    *redis.Client
	badges   *badge.Service
	requests *workflow.Service
	kpis     *kpi.Service
	kpiCache *kpi.Cache
	live     *realtime.Loop
	notifier realtime.Notifier
	close    func()
}

func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.Timezone)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	store := db.NewStore(pool)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			pool.Close()
			return nil, err
		}
	}

	logger := log.Default()
	loc := cfg.Location()
	live := realtime.NewLoop(cfg.RealtimeQueueSize, logger)
	notifier := realtime.NewRedisNotifier(redisClient, live, logger)

	a := &app{
		cfg:   cfg,
		store: store,
		redis: redisClient,
		badges: badge.NewService(
			store.Badges(),
			location.NewAuthorizer(store.Queries, logger),
			badge.NewGuard(redisClient, cfg.ScanDedupWindow, logger),
			badge.WithNotifier(notifier),
			badge.WithGeolocationTimeout(cfg.GeolocationTimeout),
			badge.WithLogger(logger),
		),
		requests: workflow.NewService(store.Workflow(), workflow.WithLocation(loc), workflow.WithLogger(logger)),
		kpis:     kpi.NewService(store.Queries, loc, kpi.NewCalendar()),
		kpiCache: kpi.NewCache(redisClient, cfg.KpiCacheTTL),
		live:     live,
		notifier: notifier,
	}
	a.close = func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}
		pool.Close()
	}
	return a, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := realtime.SeedFrom(ctx, a.live, a.store.Queries.ListUsers, 5*time.Second); err != nil {
		log.Printf("realtime seed failed: %v", err)
	}
	go func() {
		if err := a.live.Run(ctx); err != nil {
			log.Printf("realtime loop stopped: %v", err)
		}
	}()
	if a.redis != nil {
		go func() {
			if err := realtime.Relay(ctx, a.redis, a.live, log.Default()); err != nil {
				log.Printf("realtime relay stopped: %v", err)
			}
		}()
	}

	server := internalhttp.NewServer(cfg, a.store, internalhttp.Services{
		Badges:   a.badges,
		Requests: a.requests,
		Kpis:     a.kpis,
		KpiCache: a.kpiCache,
		Live:     a.live,
		Notifier: a.notifier,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serviceAuthInterceptor, err := badginggrpc.NewServiceAuthUnaryInterceptor(cfg.ServiceAuthToken)
	if err != nil {
		return err
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(serviceAuthInterceptor))
	badginggrpc.RegisterKpiServiceServer(grpcServer, badginggrpc.NewKpiServer(a.kpis, cfg.Location()))

	if a.redis != nil {
		refresher := jobs.NewKpiRefresher(a.kpis, a.kpiCache, jobs.WithLocation(cfg.Location()))
		if err := refresher.Start(ctx, cfg.KpiRefreshCron); err != nil {
			return err
		}
	}
	jobs.StartRequestStatusJob(ctx, cfg, a.requests)

	errCh := make(chan error, 2)
	go func() {
		log.Printf("badging http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	go func() {
		log.Printf("badging grpc listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(listener); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		log.Printf("server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	grpcServer.GracefulStop()
	return err
}
