package metrics

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rtsup "remindbot/internal/runtime/supervisor"
	logx "remindbot/pkg/logx"
)

// ServerConfig controls the optional scrape endpoint. An empty Addr turns
// it off. A non-loopback Addr needs Token or AllowInsecure.
type ServerConfig struct {
	Addr          string
	Path          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c ServerConfig) enabled() bool { return strings.TrimSpace(c.Addr) != "" }

var errInsecureBind = errors.New("metrics: non-loopback addr requires token or allow_insecure")

// Server serves the registry over HTTP and restarts the listener when it
// fails.
type Server struct {
	log      logx.Logger
	gatherer prometheus.Gatherer

	// ops serializes Start, Stop and Reconfigure
	ops sync.Mutex
	cfg ServerConfig
	sup *rtsup.Supervisor
}

func NewServer(cfg ServerConfig, g prometheus.Gatherer, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return &Server{cfg: cfg, gatherer: g, log: log}
}

// Start is idempotent and a no-op without an address.
func (s *Server) Start(ctx context.Context) {
	s.ops.Lock()
	defer s.ops.Unlock()
	s.startLocked(ctx)
}

func (s *Server) Stop(ctx context.Context) {
	s.ops.Lock()
	defer s.ops.Unlock()
	s.stopLocked(ctx)
}

// Reconfigure brings the endpoint in line with cfg, restarting it only
// when something changed.
func (s *Server) Reconfigure(ctx context.Context, cfg ServerConfig) {
	s.ops.Lock()
	defer s.ops.Unlock()
	if cfg == s.cfg && (s.sup != nil) == cfg.enabled() {
		return
	}
	s.stopLocked(ctx)
	s.cfg = cfg
	s.startLocked(ctx)
}

func (s *Server) startLocked(ctx context.Context) {
	if s.sup != nil || !s.cfg.enabled() {
		return
	}
	cfg := s.cfg
	s.sup = rtsup.NewSupervisor(context.WithoutCancel(ctx), rtsup.WithLogger(s.log))
	s.sup.GoRestart("metrics.http", func(c context.Context) error { return s.serve(c, cfg) },
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.sup == nil {
		return
	}
	sup := s.sup
	s.sup = nil
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("metrics stop incomplete", logx.Err(err))
		return
	}
	s.log.Info("metrics stopped")
}

// serve runs one listener until ctx ends. Returning nil after cancel ends
// the restart loop.
func (s *Server) serve(ctx context.Context, cfg ServerConfig) error {
	addr := strings.TrimSpace(cfg.Addr)
	if cfg.Token == "" && !cfg.AllowInsecure && !isLoopbackAddr(addr) {
		s.log.Error("metrics refused to start", logx.String("addr", addr), logx.Err(errInsecureBind))
		// retrying cannot fix the config
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.handler(cfg), ReadTimeout: cfg.ReadTimeout, WriteTimeout: cfg.WriteTimeout}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()
	s.log.Info("metrics started", logx.String("addr", ln.Addr().String()), logx.String("path", metricsPath(cfg.Path)), logx.Bool("pprof", cfg.Pprof))

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		<-served
		return nil
	}
}

func (s *Server) handler(cfg ServerConfig) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+metricsPath(cfg.Path), promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	if cfg.Pprof {
		mux.HandleFunc("GET /debug/pprof/", pprof.Index)
		mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
	}
	return requireToken(cfg.Token, mux)
}

func metricsPath(p string) string {
	p = strings.TrimSpace(p)
	switch {
	case p == "":
		return "/metrics"
	case p[0] != '/':
		return "/" + p
	}
	return p
}

// requireToken accepts "Authorization: Bearer <token>" or ?token=<token>.
// An empty token disables the check.
func requireToken(token string, next http.Handler) http.Handler {
	want := []byte(strings.TrimSpace(token))
	if len(want) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			got = strings.TrimSpace(bearer)
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
