package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/coder/websocket"
	"github.com/matheodrd/httphelper/handler"
	"net/http"
	"net/url"
	"strconv"
	"supmap-location/internal/cache"
	"supmap-location/internal/gis"
	"supmap-location/internal/location"
	"supmap-location/internal/ws"
	"time"
)

func (s *Server) wsHandler() http.HandlerFunc {
	return handler.Handler(func(w http.ResponseWriter, r *http.Request) error {
		deviceID := r.PathValue("deviceID")
		if deviceID == "" {
			return handler.NewErrWithStatus(http.StatusBadRequest, errors.New("missing device id"))
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return handler.NewErrWithStatus(http.StatusInternalServerError, fmt.Errorf("websocket accept: %w", err))
		}

		s.WebsocketManager.HandleNewConnection(deviceID, conn)
		return nil
	})
}

func (s *Server) watchHandler() http.HandlerFunc {
	return handler.Handler(func(w http.ResponseWriter, r *http.Request) error {
		deviceID := r.PathValue("deviceID")
		if _, ok := s.WebsocketManager.Client(deviceID); !ok {
			return handler.NewErrWithStatus(http.StatusNotFound, ws.ErrUnknownDevice)
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return handler.NewErrWithStatus(http.StatusInternalServerError, fmt.Errorf("websocket accept: %w", err))
		}
		defer conn.CloseNow()

		if err := s.WebsocketManager.Watch(r.Context(), deviceID, conn); err != nil {
			s.logger.Debug("watcher detached", "deviceID", deviceID, "error", err)
		}
		return nil
	})
}

type locateResult struct {
	pos location.Position
	err error
}

// locateHandler runs a one-shot location session for the device, reusing the cached
// last known position when it still passes the filter.
func (s *Server) locateHandler() http.HandlerFunc {
	return handler.Handler(func(w http.ResponseWriter, r *http.Request) error {
		ctx := r.Context()
		deviceID := r.PathValue("deviceID")

		cfg, err := parseSessionConfig(r.URL.Query(), s.Config.SessionConfig())
		if err != nil {
			return handler.NewErrWithStatus(http.StatusBadRequest, err)
		}

		opts := []location.Option{
			location.WithConfig(cfg),
			location.WithLogger(s.logger.With("deviceID", deviceID)),
		}
		last, err := s.cache.GetLastPosition(ctx, deviceID)
		switch {
		case err == nil:
			opts = append(opts, location.WithLastPosition(last))
		case !errors.Is(err, cache.ErrNotFound):
			s.logger.Warn("failed to load last position", "deviceID", deviceID, "error", err)
		}

		session := location.NewSession(s.newProvider(deviceID), opts...)
		results := make(chan locateResult, 1)
		err = session.WaitForValidLocation(func(pos location.Position, err error) {
			results <- locateResult{pos: pos, err: err}
		})
		if err != nil {
			return fmt.Errorf("starting location session: %w", err)
		}

		select {
		case res := <-results:
			if res.err != nil {
				return handler.NewErrWithStatus(statusForError(res.err), res.err)
			}
			if err := s.cache.SetLastPosition(ctx, deviceID, res.pos); err != nil {
				s.logger.Warn("failed to cache last position", "deviceID", deviceID, "error", err)
			}
			fallback := !cfg.Accepts(res.pos, time.Now())
			return writeJSON(w, http.StatusOK, gis.PositionFeature(deviceID, res.pos, fallback))
		case <-ctx.Done():
			session.Cancel()
			return ctx.Err()
		}
	})
}

func (s *Server) lastLocationHandler() http.HandlerFunc {
	return handler.Handler(func(w http.ResponseWriter, r *http.Request) error {
		deviceID := r.PathValue("deviceID")
		pos, err := s.cache.GetLastPosition(r.Context(), deviceID)
		if errors.Is(err, cache.ErrNotFound) {
			return handler.NewErrWithStatus(http.StatusNotFound, err)
		}
		if err != nil {
			return fmt.Errorf("getting last position: %w", err)
		}
		return writeJSON(w, http.StatusOK, gis.PositionFeature(deviceID, pos, false))
	})
}

func (s *Server) deleteLastLocationHandler() http.HandlerFunc {
	return handler.Handler(func(w http.ResponseWriter, r *http.Request) error {
		deviceID := r.PathValue("deviceID")
		if err := s.cache.DeleteLastPosition(r.Context(), deviceID); err != nil {
			return fmt.Errorf("deleting last position: %w", err)
		}
		s.logger.Info("last position deleted", "deviceID", deviceID)
		w.WriteHeader(http.StatusNoContent)
		return nil
	})
}

func statusForError(err error) int {
	var startErr *location.ProviderStartError
	switch {
	case errors.Is(err, location.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &startErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// parseSessionConfig applies the accuracy, max_age and timeout query overrides to base.
func parseSessionConfig(q url.Values, base location.SessionConfig) (location.SessionConfig, error) {
	cfg := base
	if v := q.Get("accuracy"); v != "" {
		accuracy, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid accuracy %q: %w", v, err)
		}
		cfg.DesiredAccuracy = accuracy
	}
	if v := q.Get("max_age"); v != "" {
		maxAge, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid max_age %q: %w", v, err)
		}
		cfg.MaxAge = maxAge
	}
	if v := q.Get("timeout"); v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid timeout %q: %w", v, err)
		}
		cfg.Timeout = timeout
	}
	return cfg, cfg.Validate()
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	return nil
}
