package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"harvestsync/internal/infrastructure/postgres/listener"
	"harvestsync/internal/interfaces/scheduler"
	"harvestsync/internal/shared/config"
	"harvestsync/internal/shared/middleware"
)

// writeGrace is added to the action deadline so a timed-out action can
// still write its error body.
const writeGrace = 15 * time.Second

// servers is the API listener plus the optional plain-HTTP redirector.
type servers struct {
	api      *http.Server
	redirect *http.Server
	tls      *config.TLSConfig
	errc     chan error
}

func newServers(handler http.Handler, cfg *config.Config) *servers {
	s := &servers{
		api: &http.Server{
			Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: cfg.Actions.Timeout + writeGrace,
			IdleTimeout:  60 * time.Second,
		},
		errc: make(chan error, 2),
	}

	if cfg.TLS.Enabled {
		s.tls = &cfg.TLS
		if cfg.TLS.RedirectHTTP {
			s.redirect = &http.Server{
				Addr:         ":80",
				Handler:      redirectToHTTPS(cfg.Server.AllowedHosts),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}
		}
	}
	return s
}

// start serves in the background. A listener that fails for any reason
// other than shutdown reports on the returned channel.
func (s *servers) start() <-chan error {
	if s.redirect != nil {
		go s.serve("HTTP redirect", s.redirect.Addr, s.redirect.ListenAndServe)
	}

	if s.tls != nil {
		go s.serve("HTTPS", s.api.Addr, func() error { return s.api.ListenAndServeTLS(s.tls.CertPath, s.tls.KeyPath) })
	} else {
		go s.serve("HTTP", s.api.Addr, s.api.ListenAndServe)
	}
	return s.errc
}

func (s *servers) serve(name, addr string, listen func() error) {
	log.Printf("%s server starting on %s", name, addr)
	if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("%s server error: %v", name, err)
		s.errc <- err
	}
}

func (s *servers) shutdown(ctx context.Context) {
	if s.redirect != nil {
		if err := s.redirect.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down HTTP redirect server: %v", err)
		}
	}
	if err := s.api.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down API server: %v", err)
	}
}

// background holds everything that runs beside the HTTP servers.
type background struct {
	schedulers []*scheduler.Scheduler
	pool       *scheduler.WorkerPool
	listener   *listener.SubscriptionListener
}

// gracefulShutdown stops intake before draining work: HTTP first, then the
// schedules, then the pool, and the revocation listener last so in-flight
// cycles still see deletions.
func gracefulShutdown(srv *servers, bg background, timeout time.Duration) {
	log.Println("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	srv.shutdown(ctx)

	for _, sched := range bg.schedulers {
		sched.Shutdown(timeout)
	}
	if bg.pool != nil {
		bg.pool.ShutdownWithTimeout(timeout)
	}
	if bg.listener != nil {
		bg.listener.Stop()
	}

	log.Println("Server stopped")
}

// redirectToHTTPS answers every request with a permanent redirect to the
// same path over HTTPS, for allowed hosts only.
func redirectToHTTPS(allowedHosts []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Header.Get("X-Forwarded-Host")
		if host == "" {
			host = r.Host
		}

		if !middleware.IsHostAllowed(host, allowedHosts) {
			http.Error(w, "Invalid host", http.StatusBadRequest)
			return
		}

		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
			if strings.Contains(h, ":") {
				host = "[" + h + "]"
			}
		}
		http.Redirect(w, r, "https://"+host+r.RequestURI, http.StatusMovedPermanently)
	})
}
