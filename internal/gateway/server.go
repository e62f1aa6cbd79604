// Package gateway exposes the session engine over HTTP and WebSocket.
package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/park285/cheese-arena/internal/engine"
	"github.com/park285/cheese-arena/internal/msgcat"
)

const (
	HeaderUserID   = "X-User-Id"
	HeaderUserName = "X-User-Name"
)

type Options struct {
	Now func() time.Time
	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit int
	// OriginPatterns are the websocket origins accepted besides same-host.
	OriginPatterns []string
}

type Server struct {
	eng  *engine.Engine
	cat  *msgcat.Catalog
	opts Options
}

func New(eng *engine.Engine, cat *msgcat.Catalog, opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if cat == nil {
		cat = msgcat.MustDefault()
	}
	return &Server{eng: eng, cat: cat, opts: opts}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/sessions", func(r chi.Router) {
		if s.opts.RateLimit > 0 {
			r.Use(rateLimit(s.opts.RateLimit, time.Minute))
		}
		r.Post("/", s.open)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.snapshot)
			r.Get("/clock", s.clock)
			r.Get("/stream", s.stream)
			r.Post("/join", s.join)
			r.Post("/move", s.move)
			r.Post("/draw/offer", s.action("draw_offer", s.eng.OfferDraw))
			r.Post("/draw/accept", s.action("draw_accept", s.eng.AcceptDraw))
			r.Post("/draw/decline", s.action("draw_decline", s.eng.DeclineDraw))
			r.Post("/resign", s.action("resign", s.eng.Resign))
			r.Post("/abort", s.action("abort", s.eng.Abort))
			r.Post("/timeout", s.action("timeout", s.eng.ClaimTimeout))
		})
	})
	return r
}

// StreamHandler serves only the websocket stream and health probes, for a
// dedicated listener.
func (s *Server) StreamHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(observe)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/sessions/{id}/stream", s.stream)
	return r
}

func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error": map[string]any{"code": "rate_limited", "message": "too many requests", "retryable": true},
			})
		}),
	)
}
