// Package api serves the auction directory over REST and streams auction
// events to websocket subscribers.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/directory"
	"github.com/tolelom/bidchain/events"
	"github.com/tolelom/bidchain/indexer"
	"github.com/tolelom/bidchain/logdb"
)

// Backend is what the API reads from.
type Backend struct {
	Chain     *core.Blockchain
	State     core.State
	Directory *directory.Directory
	Indexer   *indexer.Indexer
	Logs      *logdb.LogDB // may be nil

	NativeSymbol   string
	NativeDecimals int32
}

// Server is the REST and websocket front end.
type Server struct {
	backend  *Backend
	addr     string
	hub      *Hub
	srv      *http.Server
	listener net.Listener
	log      *slog.Logger
}

// NewServer creates a Server on addr. Events published on emitter are
// streamed to websocket clients once their block commits.
func NewServer(addr string, backend *Backend, emitter *events.Emitter) *Server {
	s := &Server{
		backend: backend,
		addr:    addr,
		hub:     NewHub(emitter),
		log:     slog.Default().With("pkg", "api"),
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)

	mux.Get("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Get("/events/ws", s.hub.ServeWS)

	mux.Group(func(r chi.Router) {
		r.Use(s.requestLogger)
		r.Use(middleware.Timeout(15 * time.Second))

		r.Route("/auctions", func(r chi.Router) {
			r.Get("/", s.handleListAuctions)
			r.Get("/active", s.handleListActive)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetAuction)
				r.Get("/bids", s.handleGetBids)
				r.Get("/bids/{bidder}", s.handleGetBid)
				r.Get("/events", s.handleAuctionEvents)
			})
		})
		r.Get("/sellers/{addr}/auctions", s.handleBySeller)
		r.Get("/bidders/{addr}/auctions", s.handleByBidder)
	})
	return mux
}

// requestLogger logs each request at debug level.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
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
			s.log.Error("serve", "err", err)
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

// Stop closes websocket subscribers and shuts the server down.
func (s *Server) Stop() error {
	s.hub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
