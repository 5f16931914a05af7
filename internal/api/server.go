// Package api serves the PawStudio REST API used by the mobile and web clients.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/digkill/pawstudio/internal/auth"
	"github.com/digkill/pawstudio/internal/service"
)

type Deps struct {
	Users      *service.UserService
	Credits    *service.CreditService
	Generation *service.GenerationService
	Images     *service.ImageService
	Scenes     *service.SceneService
	Payments   *service.PaymentService
	Admin      *service.AdminService
	Tokens     *auth.Tokens
}

type Server struct {
	addr           string
	log            *slog.Logger
	deps           Deps
	validate       *validator.Validate
	maxUploadBytes int64
	writeTimeout   time.Duration
	router         *chi.Mux
}

type Options struct {
	Addr           string
	MaxUploadBytes int64

	// WriteTimeout must outlast a full generation poll.
	WriteTimeout time.Duration
}

func NewServer(opts Options, log *slog.Logger, deps Deps) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:           opts.Addr,
		log:            log,
		deps:           deps,
		validate:       newValidator(),
		maxUploadBytes: opts.MaxUploadBytes,
		writeTimeout:   opts.WriteTimeout,
		router:         r,
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", s.handleSignup)
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
	})
	r.Get("/scenes", s.handleListScenes)

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/stripe", s.handleStripeWebhook)
		r.Post("/revenuecat", s.handleRevenueCatWebhook)
	})

	r.Group(func(protected chi.Router) {
		protected.Use(s.authenticate)

		protected.Get("/me", s.handleMe)
		protected.Delete("/me", s.handleDeleteMe)
		protected.Get("/credits", s.handleCredits)

		protected.Route("/images", func(r chi.Router) {
			r.Get("/", s.handleListImages)
			r.Post("/process", s.handleProcessImage)
			r.Post("/upload", s.handleUploadImage)
			r.Delete("/{id}", s.handleDeleteImage)
		})
		protected.Get("/photos", s.handleListPhotos)

		protected.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/stats", s.handleStats)
			r.Get("/reconcile", s.handleReconcile)
			r.Route("/users", func(r chi.Router) {
				r.Get("/", s.handleListUsers)
				r.Get("/{id}", s.handleGetUser)
				r.Put("/{id}", s.handleUpdateUser)
			})
			r.Route("/scenes", func(r chi.Router) {
				r.Get("/", s.handleAdminListScenes)
				r.Post("/", s.handleCreateScene)
				r.Put("/{id}", s.handleUpdateScene)
				r.Delete("/{id}", s.handleDeleteScene)
			})
		})
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}
