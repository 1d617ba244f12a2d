package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/socratat-b/orderbean/internal/auth"
	"github.com/socratat-b/orderbean/internal/event"
	"github.com/socratat-b/orderbean/internal/publisher"
	"github.com/socratat-b/orderbean/internal/session"
)

// Options wires the server's collaborators.
type Options struct {
	Publisher *publisher.Publisher
	Channel   session.Channel
	Auth      auth.Resolver
	// KeepaliveInterval for streaming sessions. Defaults to 30s.
	KeepaliveInterval time.Duration
	Logger            zerolog.Logger
}

// Server is the REST and streaming gateway. Streaming endpoints hold the
// request goroutine for the life of the connection; everything else is
// plain request/response JSON.
type Server struct {
	opts   Options
	logger zerolog.Logger
	srv    *http.Server
	lis    net.Listener
}

// New builds the server and its routes.
func New(opts Options) *Server {
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = 30 * time.Second
	}
	s := &Server{opts: opts, logger: opts.Logger.With().Str("component", "http").Logger()}

	r := chi.NewRouter()
	r.Use(cors)
	r.Get("/v1/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/v1/events/publish", s.handlePublish)
	r.Get("/v1/orders/{orderID}/events", s.handleOrderStream)
	r.Get("/v1/orders/events", s.handleBoardStream)
	r.Get("/v1/owner/events", s.handleOwnerStream)

	s.srv = &http.Server{Handler: r}
	return s
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info().Str("addr", l.Addr().String()).Msg("http listening")
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Close force-closes the listener.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type publishReq struct {
	Kind    event.Kind   `json:"kind"`
	OrderID string       `json:"orderId"`
	UserID  string       `json:"userId"`
	Status  event.Status `json:"status"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if _, err := s.principal(r, auth.RoleStaff, auth.RoleOwner); err != nil {
		s.authFail(w, err)
		return
	}
	var req publishReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if req.OrderID == "" || !req.Status.Valid() {
		http.Error(w, "orderId and a valid status are required", http.StatusBadRequest)
		return
	}
	switch req.Kind {
	case event.KindCreated, event.KindUpdated, event.KindStatusChanged:
	default:
		http.Error(w, "unknown kind", http.StatusBadRequest)
		return
	}
	s.opts.Publisher.Publish(r.Context(), req.Kind, event.OrderEvent{
		OrderID: req.OrderID,
		UserID:  req.UserID,
		Status:  req.Status,
	})
	w.WriteHeader(http.StatusAccepted)
}

// handleOrderStream streams events for one order. Open to every role; the
// session filters to the requested order id.
func (s *Server) handleOrderStream(w http.ResponseWriter, r *http.Request) {
	p, err := s.principal(r, auth.RoleCustomer, auth.RoleStaff, auth.RoleOwner)
	if err != nil {
		s.authFail(w, err)
		return
	}
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		http.Error(w, "order id required", http.StatusBadRequest)
		return
	}
	s.stream(w, r, p, orderID, event.AllTopics())
}

// handleBoardStream streams every order event, for the staff prep board.
func (s *Server) handleBoardStream(w http.ResponseWriter, r *http.Request) {
	p, err := s.principal(r, auth.RoleStaff, auth.RoleOwner)
	if err != nil {
		s.authFail(w, err)
		return
	}
	s.stream(w, r, p, "", event.AllTopics())
}

// handleOwnerStream streams every order event for the owner dashboard.
func (s *Server) handleOwnerStream(w http.ResponseWriter, r *http.Request) {
	p, err := s.principal(r, auth.RoleOwner)
	if err != nil {
		s.authFail(w, err)
		return
	}
	s.stream(w, r, p, "", event.AllTopics())
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request, p auth.Principal, orderFilter string, topics []event.Topic) {
	sink, ok := newSSESink(w, r)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	sess := session.New(session.Options{
		Principal:         p,
		OrderFilter:       orderFilter,
		Topics:            topics,
		Channel:           s.opts.Channel,
		KeepaliveInterval: s.opts.KeepaliveInterval,
		Logger:            s.logger,
	})
	if err := sess.Run(sink); err != nil {
		s.logger.Warn().Err(err).Msg("session ended with error")
	}
}

// principal resolves and gates the caller before any work happens.
func (s *Server) principal(r *http.Request, allowed ...auth.Role) (auth.Principal, error) {
	p, err := s.opts.Auth.Resolve(r)
	if err != nil {
		return auth.Principal{}, err
	}
	for _, role := range allowed {
		if p.Role == role {
			return p, nil
		}
	}
	return auth.Principal{}, auth.ErrForbidden
}

func (s *Server) authFail(w http.ResponseWriter, err error) {
	if errors.Is(err, auth.ErrForbidden) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
