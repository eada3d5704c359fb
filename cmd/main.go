package main

import (
	"context"
	"github.com/redis/go-redis/v9"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"supmap-location/internal/api"
	"supmap-location/internal/cache"
	"supmap-location/internal/config"
	"supmap-location/internal/location"
	"supmap-location/internal/provider"
	"supmap-location/internal/ws"
	"syscall"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conf, err := config.New()
	if err != nil {
		return err
	}

	var loggerOpts slog.HandlerOptions
	if conf.Env == config.EnvDev {
		loggerOpts = slog.HandlerOptions{Level: slog.LevelDebug}
	}

	jsonHandler := slog.NewJSONHandler(os.Stdout, &loggerOpts)
	logger := slog.New(jsonHandler)
	slog.SetDefault(logger)

	redisClient := redis.NewClient(&redis.Options{Addr: net.JoinHostPort(conf.RedisHost, conf.RedisPort)})
	defer redisClient.Close()

	positionCache := cache.NewRedisPositionCache(redisClient, conf.LastPositionTTL)
	publisher := provider.NewRedisPublisher(redisClient, conf.RedisPositionsChannel)

	wsManager := ws.NewManager(ctx, logger, positionCache, publisher, conf.SessionConfig())
	go wsManager.Start()
	defer wsManager.Shutdown()

	newProvider := func(deviceID string) location.Provider {
		return provider.NewRedisProvider(logger, redisClient, conf.RedisPositionsChannel, deviceID)
	}

	server := api.NewServer(conf, wsManager, positionCache, newProvider, logger)
	if err := server.Start(ctx); err != nil {
		return err
	}

	return nil
}
