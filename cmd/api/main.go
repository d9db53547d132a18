package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"intake.org/internal/allocation"
	"intake.org/internal/auth"
	"intake.org/internal/config"
	"intake.org/internal/httpapi"
	"intake.org/internal/notify"
	"intake.org/internal/obs"
	"intake.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	log := obs.Logger()

	cfg, err := config.Load(".env", ".env.local")
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	obs.SetLevel(cfg.LogLevel)

	// Инициализация observability (регистрация метрик и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	auth.SetSecret(cfg.AuthSecret)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store allocation.Store
		probe httpapi.ReadyProbe
		sinks []notify.Sink
	)
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.WithError(err).Fatal("open db")
		}
		defer pgStore.Close()
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
		if cfg.Notify.InboxEnabled {
			sinks = append(sinks, notify.NewInbox(pgStore))
		}
	} else {
		log.Warn("INTAKE_PG_DSN is empty; using the in-memory store with a demo roster")
		store = demoRoster()
	}

	hub := notify.NewHub()
	if cfg.Notify.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Notify.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("parse redis url")
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		// Every instance relays the shared channel into its own hub.
		sinks = append(sinks, notify.NewRedisPublisher(rdb, cfg.Notify.RedisChannel, cfg.Producer))
		go func() {
			if err := notify.RelayRedis(ctx, rdb, cfg.Notify.RedisChannel, hub, log); err != nil {
				log.WithError(err).Error("redis relay stopped")
			}
		}()
	} else {
		sinks = append(sinks, hub)
	}
	if cfg.Notify.AMQPURL != "" {
		pub, err := notify.DialAMQP(cfg.Notify.AMQPURL, cfg.Notify.AMQPExchange, cfg.Producer)
		if err != nil {
			log.WithError(err).Fatal("connect amqp")
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}
	dispatcher := notify.NewDispatcher(sinks...)

	opts, err := cfg.EngineOptions()
	if err != nil {
		log.WithError(err).Fatal("load allocation policy")
	}
	engine := allocation.NewEngine(store, dispatcher, append(opts, allocation.WithLogger(log))...)

	// HTTP API
	api := httpapi.New(probe, version, engine, hub)
	api.SetRateLimit(cfg.RateLimit.Burst, cfg.RateLimit.RPS)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, httpapi.NewGRPCServer(probe))
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.WithError(err).Fatal("grpc listen")
	}

	log.WithFields(logrus.Fields{
		"version":  version,
		"http":     srv.Addr,
		"grpc":     cfg.GRPCAddr,
		"strategy": string(engine.Strategy()),
		"sinks":    dispatcher.Sinks(),
	}).Info("starting intake-api")

	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.WithError(err).Fatal("grpc serve")
		}
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	if err := engine.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("pending notifications abandoned")
	}
	log.Info("stopped")
}

func demoRoster() *allocation.InMemory {
	s := allocation.NewInMemory()
	s.AddReceiver("Receiver One", allocation.RoleGeneralReceiver, true)
	s.AddReceiver("Receiver Two", allocation.RoleGeneralReceiver, true)
	s.AddReceiver("Developer Desk", allocation.RoleDeveloper, true)
	s.AddReceiver("Enterprise Desk", allocation.RoleEnterpriseDesk, true)
	s.AddReceiver("Administrator", allocation.RoleAdministrator, true)
	return s
}
