package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"supmap-location/internal/cache"
	"supmap-location/internal/config"
	"supmap-location/internal/location"
	"supmap-location/internal/ws"
	"sync"
	"time"
)

// ProviderFactory builds the provider used for a one-shot HTTP location request.
type ProviderFactory func(deviceID string) location.Provider

type Server struct {
	Config           *config.Config
	WebsocketManager *ws.Manager
	cache            cache.PositionCache
	newProvider      ProviderFactory
	logger           *slog.Logger
}

func NewServer(config *config.Config, wsManager *ws.Manager, positionCache cache.PositionCache, newProvider ProviderFactory, logger *slog.Logger) *Server {
	return &Server{
		Config:           config,
		WebsocketManager: wsManager,
		cache:            positionCache,
		newProvider:      newProvider,
		logger:           logger,
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Add("Cache-Control", "no-cache, no-store, must-revalidate;")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("API server is started.")); err != nil {
		s.logger.Error(fmt.Sprintf("Error writing response: %v", err))
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /devices/{deviceID}/ws", s.wsHandler())
	mux.HandleFunc("GET /devices/{deviceID}/watch", s.watchHandler())
	mux.HandleFunc("GET /devices/{deviceID}/location", s.locateHandler())
	mux.HandleFunc("GET /devices/{deviceID}/location/last", s.lastLocationHandler())
	mux.HandleFunc("DELETE /devices/{deviceID}/location/last", s.deleteLastLocationHandler())
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:    net.JoinHostPort(s.Config.APIServerHost, s.Config.APIServerPort),
		Handler: s.Handler(),
	}

	go func() {
		s.logger.Info("API server is running", "port", s.Config.APIServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server failed to listen and serve", "error", err)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("API server failed to shutdown", "error", err)
		}
	}()

	wg.Wait()
	return nil
}
