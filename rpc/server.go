package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	maxBodyBytes = 1 << 20
	maxBatch     = 100
)

// Server serves a Handler over HTTP POST. Both single requests and JSON-RPC
// batches (arrays of requests) are accepted.
type Server struct {
	handler   *Handler
	addr      string
	authToken string // empty → no auth required
	srv       *http.Server
	listener  net.Listener
	logger    *slog.Logger
}

// NewServer creates a Server on addr. If authToken is non-empty, every
// request must carry a matching "Authorization: Bearer <token>" header.
func NewServer(addr string, handler *Handler, authToken string) *Server {
	s := &Server{handler: handler, addr: addr, authToken: authToken, logger: slog.Default().With("pkg", "rpc")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.authenticate)
	r.Post("/", s.serveRPC)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Start binds the port synchronously then serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve", "err", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop shuts the server down, waiting up to 5 seconds for in-flight requests.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	want := []byte("Bearer " + s.authToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), want) != 1 {
			requestsCounter.WithLabelValues("unauthorized", "error").Inc()
			writeJSON(w, errResponse(nil, CodeUnauthorized, "unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, errResponse(nil, CodeParseError, err.Error()))
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(body, &batch); err != nil {
			writeJSON(w, errResponse(nil, CodeParseError, err.Error()))
			return
		}
		if len(batch) == 0 || len(batch) > maxBatch {
			writeJSON(w, errResponse(nil, CodeInvalidRequest, "batch must hold 1 to 100 requests"))
			return
		}
		out := make([]Response, len(batch))
		for i, raw := range batch {
			out[i] = s.handle(raw)
		}
		writeJSON(w, out)
		return
	}
	writeJSON(w, s.handle(body))
}

// handle decodes and dispatches one request.
func (s *Server) handle(raw []byte) Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errResponse(nil, CodeParseError, err.Error())
	}
	if req.JSONRPC != "2.0" {
		return errResponse(req.ID, CodeInvalidRequest, "jsonrpc must be '2.0'")
	}
	resp := s.handler.Dispatch(req)
	outcome := "ok"
	if resp.Error != nil {
		outcome = "error"
		s.logger.Debug("request failed", "method", req.Method, "code", resp.Error.Code, "err", resp.Error.Message)
	}
	requestsCounter.WithLabelValues(methodLabel(req.Method), outcome).Inc()
	return resp
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
