package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"pump-control/internal/general/jwt"
	"pump-control/internal/general/logger"
	"pump-control/internal/general/websocket"

	"github.com/google/uuid"
)

// PumpHTTPHandler serves the informational HTTP surface of the relay.
type PumpHTTPHandler struct {
	logger  *logger.Logger
	monitor *websocket.Monitor // nil when the monitor is disabled
	auth    *jwt.Manager
}

// NewPumpHTTPHandler wires the HTTP handler. monitor and auth may be nil.
func NewPumpHTTPHandler(logger *logger.Logger, monitor *websocket.Monitor, auth *jwt.Manager) *PumpHTTPHandler {
	return &PumpHTTPHandler{logger: logger, monitor: monitor, auth: auth}
}

// RegisterRoutes mounts the endpoints on the provided mux.
func (handler *PumpHTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", handler.logged(handler.handleRoot))
	mux.HandleFunc("GET /healthcheck", handler.handleHealth)

	if handler.monitor == nil || handler.auth == nil {
		return
	}
	mux.HandleFunc("GET /exchanges/recent", handler.logged(
		jwt.AuthMiddlewareFunc(handler.auth, jwt.RoleOperator, jwt.RoleViewer)(handler.handleRecentExchanges),
	))
	// authenticated by the first frame
	mux.HandleFunc("GET /ws/exchanges", handler.monitor.Connect)
}

// ----- general helpers -----

// logged attaches a request ID to the context and logs the completed request.
func (handler *PumpHTTPHandler) logged(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := handler.withReqID(r.Context(), r)
		next(w, r.WithContext(ctx))
		handler.logger.Debug(ctx, "http_request_served", "Served HTTP request", map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
}

// jsonResponse takes any type of data and encode it to HTTP response.
func (handler *PumpHTTPHandler) jsonResponse(ctx context.Context, w http.ResponseWriter, status int, data any) {
	buf, err := json.Marshal(data)
	if err != nil {
		handler.logger.Error(ctx, "response_encode_failed", "Failed to encode response", err, nil)
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}

// withReqID extracts or generates a request ID and adds it to the context.
func (handler *PumpHTTPHandler) withReqID(ctx context.Context, r *http.Request) context.Context {
	reqID := r.Header.Get("X-Request-ID")
	if strings.TrimSpace(reqID) == "" {
		reqID = uuid.NewString()
	}
	return handler.logger.WithRequestID(ctx, reqID)
}
