package main

import (
	"context"
	"errors"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"syncboard/internal/api"
	"syncboard/internal/auth"
	"syncboard/internal/config"
	"syncboard/internal/discovery"
	"syncboard/internal/redis"
	"syncboard/internal/relay"
	"syncboard/internal/service/account"
	"syncboard/internal/storage"
	"syncboard/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("SYNCBOARD_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if cfgPath != "" || !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("load config: %v", err)
		}
		log.Printf("no config file, using defaults")
		cfg = config.Default()
	}

	dbType := os.Getenv("SYNCBOARD_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		rdb      *redis.Client
		presence relay.PresenceDirectory
		lister   api.PresenceLister
	)
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
		rp := relay.NewRedisPresence(rdb)
		rp.Listen(ctx, func(ev relay.PresenceEvent) {
			if ev.Member != nil {
				log.Printf("presence: %s %s %s", ev.Kind, ev.SessionID, ev.Member.Username)
				return
			}
			log.Printf("presence: %s %s", ev.Kind, ev.SessionID)
		})
		presence, lister = rp, rp
	}

	authService := auth.NewService(db, rdb, time.Duration(cfg.BasicConfig.TokenTTLHours)*time.Hour)
	accounts := account.NewService(db)

	dispatcher := worker.NewDispatcher(worker.Config{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	})
	defer dispatcher.Close()

	registry := relay.NewRegistry(relay.Options{
		QueueSize:       cfg.BasicConfig.SessionQueueSize,
		Presence:        presence,
		OnSessionClosed: dispatcher.CancelSession,
	})
	defer registry.Close()

	renderer := worker.NewCachingRenderer(dispatcher, rdb, 0)

	handlers := api.NewHandler(accounts, authService, registry, renderer, api.Options{
		AllowGuests:    cfg.BasicConfig.AllowGuests,
		SendBufferSize: cfg.BasicConfig.SendBufferSize,
		Board:          cfg.Board,
		Presence:       lister,
	})

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = config.DefaultServerAddress
	}

	if cfg.Discovery.Enabled {
		port, err := listenPort(addr)
		if err != nil {
			log.Fatalf("discovery: %v", err)
		}
		adv, err := discovery.Advertise(cfg.Discovery.Instance, port)
		if err != nil {
			log.Printf("discovery disabled: %v", err)
		} else {
			defer adv.Shutdown()
		}
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

func listenPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
