// Package httpapi exposes the REST API: routing, bearer authentication,
// JSON encoding and the middleware stack around the domain services.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"managervnc/internal/db"
	"managervnc/internal/identity"
	"managervnc/internal/registry"
)

// maxBodyBytes bounds JSON request bodies; imports get importBodyBytes.
const (
	maxBodyBytes    = 1 << 20
	importBodyBytes = 16 << 20
)

// Options configures a Server.
type Options struct {
	BindAddr string
	Port     int
	CertPath string
	KeyPath  string

	CORSOrigins     []string
	AdminAllowCIDRs []string
	LoginRateMax    int
	LoginRateWindow time.Duration
}

// Server wires the HTTP surface to the services.
type Server struct {
	DB       *db.DB
	Identity *identity.Service
	Registry *registry.Service
	Logger   *slog.Logger

	opts         Options
	adminAllow   []*net.IPNet
	loginLimiter *fixedWindowLimiter
	handler      http.Handler
}

// New validates options and builds the router. Call Close to stop the
// background limiter cleanup.
func New(d *db.DB, ids *identity.Service, reg *registry.Service, logger *slog.Logger, opts Options) (*Server, error) {
	if d == nil || ids == nil || reg == nil {
		return nil, errors.New("db, identity and registry are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{DB: d, Identity: ids, Registry: reg, Logger: logger, opts: opts}
	for _, c := range opts.AdminAllowCIDRs {
		n, err := parseCIDRorIP(c)
		if err != nil {
			return nil, errors.New("invalid admin allow entry " + strconv.Quote(c) + ": " + err.Error())
		}
		s.adminAllow = append(s.adminAllow, n)
	}
	attempts, win := opts.LoginRateMax, opts.LoginRateWindow
	if attempts <= 0 {
		attempts = 10
	}
	if win <= 0 {
		win = time.Minute
	}
	s.loginLimiter = newFixedWindowLimiter(attempts, win)
	s.handler = s.routes()
	return s, nil
}

// Handler returns the full middleware-wrapped router.
func (s *Server) Handler() http.Handler { return s.handler }

// Close releases background resources.
func (s *Server) Close() {
	s.loginLimiter.Stop()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withRecover)
	r.Use(s.withRequestLog)
	r.Use(withSecurityHeaders)
	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Disposition"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.Group(func(r chi.Router) {
				r.Use(s.withAuth)
				r.Post("/logout", s.handleLogout)
				r.Get("/me", s.handleMe)
				r.Post("/password", s.handleChangePassword)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.withAuth)

			r.Route("/users", func(r chi.Router) {
				r.Use(s.withAdmin)
				r.Get("/", s.handleListUsers)
				r.Patch("/{id}", s.handleUpdateUser)
				r.Delete("/{id}", s.handleDeleteUser)
			})

			r.Route("/vnc-machines", func(r chi.Router) {
				r.Get("/", s.handleListMachines(db.PoolAll))
				r.Get("/shared", s.handleListMachines(db.PoolShared))
				r.Get("/personal", s.handleListMachines(db.PoolPersonal))
				r.Get("/export", s.handleExportMachines)
				r.Post("/import", s.handleImportMachines)
				r.Post("/", s.handleCreateMachine)
				r.Get("/{id}", s.handleGetMachine)
				r.Patch("/{id}", s.handleUpdateMachine)
				r.Delete("/{id}", s.handleDeleteMachine)
			})

			r.Route("/favorites", func(r chi.Router) {
				r.Get("/", s.handleListFavorites)
				r.Post("/{machineId}", s.handleToggleFavorite)
			})

			r.Route("/activity-logs", func(r chi.Router) {
				r.Get("/", s.handleListActivity)
				r.Post("/", s.handleLogActivity)
				r.Get("/export", s.handleExportActivity)
			})
		})
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully. TLS is
// used when both cert and key paths are set.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.opts.BindAddr, strconv.Itoa(s.opts.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.opts.CertPath != "" && s.opts.KeyPath != "" {
			s.Logger.Info("https listening", "addr", addr)
			err = httpServer.ListenAndServeTLS(s.opts.CertPath, s.opts.KeyPath)
		} else {
			s.Logger.Warn("http listening without tls", "addr", addr)
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.DB.Ping(r.Context()); err != nil {
		s.Logger.Error("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-content-type-options", "nosniff")
		w.Header().Set("x-frame-options", "DENY")
		w.Header().Set("referrer-policy", "no-referrer")
		if r.TLS != nil {
			w.Header().Set("strict-transport-security", "max-age=31536000")
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from an Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
