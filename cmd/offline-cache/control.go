package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/pkg/notification"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const maxBodySize = 1 << 20

// control is the API the page scripts and the host use
// to deliver the events a browser would dispatch to the worker.
type control struct {
	worker *offlinecache.Worker
}

func newControlRouter(wk *offlinecache.Worker, gatherer prometheus.Gatherer, logger zerolog.Logger) chi.Router {
	c := control{worker: wk}
	r := chi.NewRouter()

	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Control request")
	}))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Post("/sync/{tag}", c.sync)
	r.Post("/periodic-sync/{tag}", c.periodicSync)
	// JSON only: a cross-origin page can send simple text/plain POSTs
	r.With(middleware.AllowContentType("application/json")).Post("/push", c.push)
	r.With(middleware.AllowContentType("application/json")).Post("/notification-click", c.notificationClick)
	r.Post("/queue/{tag}", c.queueForm)
	r.Get("/caches", c.caches)
	r.Get("/state", c.state)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

func (c control) sync(w http.ResponseWriter, r *http.Request) {
	report, err := c.worker.Sync(r.Context(), chi.URLParam(r, "tag"))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (c control) periodicSync(w http.ResponseWriter, r *http.Request) {
	report, err := c.worker.PeriodicSync(r.Context(), chi.URLParam(r, "tag"))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (c control) push(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	n, ok, err := c.worker.Push(r.Context(), payload)
	if errors.Is(err, notification.ErrInvalidPayload) {
		writeError(w, r, http.StatusBadRequest, err)
		return
	} else if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (c control) notificationClick(w http.ResponseWriter, r *http.Request) {
	var n notification.Notification
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&n); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	err := c.worker.NotificationClick(r.Context(), n, r.URL.Query().Get("action"))
	if errors.Is(err, notification.ErrForeignURL) {
		writeError(w, r, http.StatusBadRequest, err)
		return
	} else if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c control) queueForm(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	f, err := c.worker.QueueForm(r.Context(), chi.URLParam(r, "tag"), r.Header.Get("Content-Type"), body)
	if errors.Is(err, offlinecache.ErrUnknownSyncTag) {
		writeError(w, r, http.StatusNotFound, err)
		return
	} else if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":        f.ID,
		"tag":       f.Tag,
		"url":       f.URL,
		"createdAt": f.CreatedAt,
	})
}

func (c control) caches(w http.ResponseWriter, r *http.Request) {
	infos, err := c.worker.Caches()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (c control) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"state":   string(c.worker.State()),
		"static":  c.worker.StaticCacheName(),
		"dynamic": c.worker.DynamicCacheName(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	hlog.FromRequest(r).Error().Err(err).Str("url", r.URL.String()).Msg("Control request failed")
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
