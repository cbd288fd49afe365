package httpserver

import (
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pastebin-lite/internal/metrics"
	"pastebin-lite/internal/paste"
	"pastebin-lite/web"
)

// Config captures server configuration.
type Config struct {
	Engine     *paste.Engine
	MaxBytes   int
	TrustProxy bool
	BaseURL    string
	// TestMode honours the x-test-now-ms request header as the current time.
	TestMode bool
	// Metrics exposes /metrics.
	Metrics bool
	Logger  *slog.Logger
}

// Server wraps HTTP handling logic.
type Server struct {
	engine     *paste.Engine
	router     chi.Router
	templates  *template.Template
	maxBytes   int
	trustProxy bool
	baseURL    *url.URL
	testMode   bool
	metrics    bool
	logger     *slog.Logger
}

// New constructs a new Server instance.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine required")
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 1_048_576
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	tmpl, err := template.New("layout").Funcs(template.FuncMap{
		"formatTime": func(t time.Time) string {
			return t.UTC().Format("Mon, 02 Jan 2006 15:04:05 MST")
		},
		"formatSize": formatSize,
		"deref": func(n *int) int {
			if n == nil {
				return 0
			}
			return *n
		},
	}).ParseFS(web.Templates, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	var parsedBase *url.URL
	if cfg.BaseURL != "" {
		parsedBase, err = url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url: %w", err)
		}
		if parsedBase.Scheme == "" || parsedBase.Host == "" {
			return nil, errors.New("base url must include scheme and host")
		}
		parsedBase.Path = strings.TrimSuffix(parsedBase.Path, "/")
	}

	srv := &Server{
		engine:     cfg.Engine,
		router:     chi.NewRouter(),
		templates:  tmpl,
		maxBytes:   cfg.MaxBytes,
		trustProxy: cfg.TrustProxy,
		baseURL:    parsedBase,
		testMode:   cfg.TestMode,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
	srv.routes()
	return srv, nil
}

// Handler returns the underlying router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(metrics.Middleware)
	r.Use(middleware.Compress(5, "text/html", "text/css", "application/json"))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	fileServer := http.FileServer(http.FS(web.Static))
	r.Handle("/static/*", fileServer)

	r.Get("/", s.handleIndex)
	r.Post("/pastes", s.handleCreate)

	r.Route("/p/{id}", func(pr chi.Router) {
		pr.Get("/", s.handleView)
		pr.Get("/qr", s.handleQR)
	})

	r.Route("/api", func(ar chi.Router) {
		ar.Post("/pastes", s.handleAPICreate)
		ar.Get("/pastes/{id}", s.handleAPIFetch)
		ar.Get("/healthz", s.handleHealth)
	})
	r.Get("/healthz", s.handleHealth)

	if s.metrics {
		r.Handle("/metrics", metrics.Handler())
	}
}

// engineFor returns the engine bound to the request's clock: the test clock
// when test mode is on and the request names an instant, the wall clock
// otherwise.
func (s *Server) engineFor(r *http.Request) *paste.Engine {
	if !s.testMode {
		return s.engine
	}
	c, ok := testClock(r)
	if !ok {
		return s.engine
	}
	return s.engine.At(c)
}

func (s *Server) isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if s.baseURL != nil && s.baseURL.Scheme == "https" {
		return true
	}
	if s.trustProxy {
		proto := strings.ToLower(r.Header.Get("X-Forwarded-Proto"))
		if proto == "https" {
			return true
		}
	}
	return false
}

func (s *Server) canonicalURL(r *http.Request, id string) string {
	if s.baseURL != nil {
		u := *s.baseURL
		if id != "" {
			u.Path = strings.TrimSuffix(u.Path, "/") + "/p/" + id
		}
		return u.String()
	}

	scheme := "http"
	if s.isSecureRequest(r) {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	path := "/"
	if id != "" {
		path = "/p/" + id
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, path)
}

func formatSize(size int) string {
	if size < 1024 {
		return fmt.Sprintf("%d B", size)
	}
	const unit = 1024.0
	kb := float64(size)
	for _, suffix := range []string{"KB", "MB", "GB"} {
		kb /= unit
		if kb < unit {
			return fmt.Sprintf("%.1f %s", kb, suffix)
		}
	}
	return fmt.Sprintf("%d B", size)
}
