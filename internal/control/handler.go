package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/saviobatista/nmea-bridge/internal/config"
)

const maxBodyBytes = 64 << 10

type okResponse struct {
	OK     bool           `json:"ok"`
	Config *config.Config `json:"config,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// NewHandler exposes the service over HTTP with CORS open to any origin.
// metrics may be nil.
func NewHandler(svc *Service, metrics http.Handler, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		status, err := svc.Status(r.Context())
		if err != nil {
			writeError(w, logger, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("POST /config", func(w http.ResponseWriter, r *http.Request) {
		patch, err := decodePatch(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, logger, http.StatusBadRequest, err)
			return
		}
		cfg, err := svc.UpdateConfig(r.Context(), patch)
		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, config.ErrInvalid) {
				code = http.StatusBadRequest
			}
			writeError(w, logger, code, err)
			return
		}
		writeJSON(w, http.StatusOK, okResponse{OK: true, Config: &cfg})
	})

	mux.HandleFunc("POST /connect", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Connect(r.Context()); err != nil {
			writeError(w, logger, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, okResponse{OK: true})
	})

	mux.HandleFunc("POST /disconnect", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Disconnect(r.Context()); err != nil {
			writeError(w, logger, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, okResponse{OK: true})
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, okResponse{OK: true})
	})

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	return withCORS(mux)
}

// decodePatch accepts a single JSON object with known keys only
func decodePatch(body io.Reader) (config.Patch, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return config.Patch{}, fmt.Errorf("failed to read body: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return config.Patch{}, errors.New("request body is empty")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var patch config.Patch
	if err := dec.Decode(&patch); err != nil {
		return config.Patch{}, fmt.Errorf("malformed body: %w", err)
	}
	if dec.More() {
		return config.Patch{}, errors.New("malformed body: trailing data")
	}
	return patch, nil
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, logger *slog.Logger, code int, err error) {
	if code >= http.StatusInternalServerError {
		logger.Error("Control request failed", "error", err)
	} else {
		logger.Debug("Control request rejected", "error", err)
	}
	writeJSON(w, code, okResponse{OK: false, Error: err.Error()})
}
