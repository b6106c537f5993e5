package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwrk-planet/room-client/internal/connectivity"
	"github.com/cwrk-planet/room-client/internal/timeline"
	"github.com/cwrk-planet/room-client/pkg/httputil"
)

type Deps struct {
	Store  *timeline.Store
	Sync   Syncer
	Outbox Outbox
	Net    connectivity.Signal

	Gatherer    prometheus.Gatherer // nil - без /metrics
	WS          http.HandlerFunc    // nil - без /ws
	CORSOrigins []string
	Timeout     time.Duration // 30s
}

func NewRouter(d Deps) http.Handler {
	if d.Timeout <= 0 {
		d.Timeout = 30 * time.Second
	}
	if len(d.CORSOrigins) == 0 {
		d.CORSOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httputil.MiddlewareRequestID)
	r.Use(httputil.MiddlewareLogging)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// WS живёт дольше любого таймаута
	if d.WS != nil {
		r.Get("/ws", d.WS)
	}

	h := &Handlers{Store: d.Store, Sync: d.Sync, Outbox: d.Outbox, Net: d.Net}

	r.Group(func(gr chi.Router) {
		gr.Use(middleware.Timeout(d.Timeout))

		// health
		gr.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			httputil.OK(w, map[string]string{"status": "ok"})
		})

		if d.Gatherer != nil {
			gr.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
		}

		gr.Get("/status", h.Status)
		gr.Get("/timeline", h.Timeline)
		gr.Post("/history/older", h.LoadOlder)

		gr.Route("/participants", func(pr chi.Router) {
			pr.Get("/", h.Participants)
			pr.Get("/{uuid}", h.Participant)
		})

		gr.Route("/messages", func(mr chi.Router) {
			mr.Post("/", h.SendMessage)
			mr.Post("/pending/{id}/retry", h.RetryPending)

			mr.Route("/{uuid}", func(rr chi.Router) {
				rr.Get("/", h.Message)
				rr.Post("/reactions", h.AddReaction)
			})
		})
	})

	return r
}
