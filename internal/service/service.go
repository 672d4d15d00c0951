package service

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/InsulaLabs/hmacfs/config"
	"github.com/InsulaLabs/hmacfs/internal/events"
	"github.com/InsulaLabs/hmacfs/internal/metrics"
	"github.com/InsulaLabs/hmacfs/pkg/vfs"
	"github.com/gorilla/websocket"
	"github.com/jellydator/ttlcache/v3"
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"
)

const (
	apiPrefix = "/fs/api/v1/"

	// Upper bound on a request body. Content travels base64 encoded.
	maxRequestBodySize = 32 << 20
)

type Service struct {
	appCtx context.Context
	cfg    *config.Config
	logger *slog.Logger
	fs     vfs.FileSystem
	ps     events.PubSub
	mux    *http.ServeMux

	startedAt time.Time

	/*
		One limiter per client address. Limiters of clients that have been
		quiet for RateLimiter.ClientTTL fall out of the cache, which keeps the
		table bounded no matter how many addresses have ever connected.
	*/
	limiters *ttlcache.Cache[string, *rate.Limiter]

	wsUpgrader       websocket.Upgrader
	eventSessions    *xsync.Map[string, *eventSession]
	wsConnectionLock sync.Mutex
	unsubscribe      events.Unsubscriber
}

func NewService(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Config,
	fs vfs.FileSystem,
	ps events.PubSub,
) (*Service, error) {
	if fs == nil {
		return nil, errors.New("service: file system is required")
	}
	if ps == nil {
		return nil, errors.New("service: pubsub is required")
	}

	limiters := ttlcache.New(
		ttlcache.WithTTL[string, *rate.Limiter](cfg.RateLimiter.ClientTTL),
	)
	go limiters.Start()

	s := &Service{
		appCtx:   ctx,
		cfg:      cfg,
		logger:   logger.WithGroup("service"),
		fs:       fs,
		ps:       ps,
		mux:      http.NewServeMux(),
		limiters: limiters,
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.Sessions.WebSocketReadBufferSize,
			WriteBufferSize: cfg.Sessions.WebSocketWriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		eventSessions: xsync.NewMap[string, *eventSession](),
		startedAt:     time.Now(),
	}

	unsub, err := ps.Subscribe(events.TopicChanges, &eventSubsystem{service: s})
	if err != nil {
		limiters.Stop()
		return nil, fmt.Errorf("subscribe to %s: %w", events.TopicChanges, err)
	}
	s.unsubscribe = unsub

	s.logger.Info("Initialized per-client rate limiter",
		"limit", cfg.RateLimiter.Limit,
		"burst", cfg.RateLimiter.Burst,
		"client_ttl", cfg.RateLimiter.ClientTTL)

	s.routes()
	return s, nil
}

func (s *Service) routes() {
	// Read handlers
	s.mux.Handle(apiPrefix+"stat", s.rateLimitMiddleware(http.HandlerFunc(s.statHandler)))
	s.mux.Handle(apiPrefix+"exists", s.rateLimitMiddleware(http.HandlerFunc(s.existsHandler)))
	s.mux.Handle(apiPrefix+"read", s.rateLimitMiddleware(http.HandlerFunc(s.readHandler)))
	s.mux.Handle(apiPrefix+"list", s.rateLimitMiddleware(http.HandlerFunc(s.listHandler)))
	s.mux.Handle(apiPrefix+"ping", s.rateLimitMiddleware(http.HandlerFunc(s.pingHandler)))

	// Mutation handlers
	s.mux.Handle(apiPrefix+"init", s.rateLimitMiddleware(http.HandlerFunc(s.initHandler)))
	s.mux.Handle(apiPrefix+"write", s.rateLimitMiddleware(http.HandlerFunc(s.writeHandler)))
	s.mux.Handle(apiPrefix+"mkdir", s.rateLimitMiddleware(http.HandlerFunc(s.mkdirHandler)))
	s.mux.Handle(apiPrefix+"remove", s.rateLimitMiddleware(http.HandlerFunc(s.removeHandler)))

	s.mux.Handle(apiPrefix+"events", s.rateLimitMiddleware(http.HandlerFunc(s.eventSubscribeHandler)))

	s.mux.Handle("/metrics", metrics.Handler())
}

// Handler is the complete HTTP surface, instrumented.
func (s *Service) Handler() http.Handler {
	return metrics.Middleware(s.mux)
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Service) limiterFor(key string) *rate.Limiter {
	if item := s.limiters.Get(key); item != nil {
		return item.Value()
	}
	item, _ := s.limiters.GetOrSet(key, rate.NewLimiter(rate.Limit(s.cfg.RateLimiter.Limit), s.cfg.RateLimiter.Burst))
	return item.Value()
}

// retryAfterSeconds is how long until the limiter grants one more token,
// rounded up to whole seconds.
func retryAfterSeconds(limiter *rate.Limiter) int {
	r := limiter.Reserve()
	defer r.Cancel()
	if !r.OK() {
		return 1
	}
	secs := int(math.Ceil(r.Delay().Seconds()))
	return max(secs, 1)
}

func (s *Service) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.cfg.RateLimiter.Limit <= 0 {
		s.logger.Warn("Rate limiting disabled", "limit", s.cfg.RateLimiter.Limit)
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		limiter := s.limiterFor(key)
		if !limiter.Allow() {
			s.logger.Warn("Rate limit exceeded", "path", r.URL.Path, "client", key)
			metrics.RecordRateLimited()
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(limiter)))
			s.writeErrorResponse(w, http.StatusTooManyRequests, "RATE_LIMITED", http.StatusText(http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run serves until the application context is cancelled.
func (s *Service) Run() error {
	httpListenAddr := s.cfg.HTTP.Binding
	tlsEnabled := s.cfg.HTTP.TLS.Cert != "" && s.cfg.HTTP.TLS.Key != ""
	s.logger.Info("Attempting to start server", "listen_addr", httpListenAddr, "tls_enabled", tlsEnabled)

	srv := &http.Server{
		Addr:              httpListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-s.appCtx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Server shutdown error", "error", err)
		}
		s.Close()
	}()

	var err error
	if tlsEnabled {
		s.logger.Info("Starting HTTPS server", "cert", s.cfg.HTTP.TLS.Cert, "key", s.cfg.HTTP.TLS.Key)
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		err = srv.ListenAndServeTLS(s.cfg.HTTP.TLS.Cert, s.cfg.HTTP.TLS.Key)
	} else {
		s.logger.Info("TLS cert or key not specified in config. Starting HTTP server (insecure).")
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
	return nil
}

// Close detaches from the event bus, drops every websocket session and stops
// the limiter cache. It is safe to call more than once.
func (s *Service) Close() {
	s.wsConnectionLock.Lock()
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.wsConnectionLock.Unlock()
	if unsub == nil {
		return
	}
	unsub()
	s.eventSessions.Range(func(_ string, session *eventSession) bool {
		session.conn.Close()
		return true
	})
	s.limiters.Stop()
}
