// Package httpapi exposes the symbol service over HTTP with JSON responses.
//
//	GET    /healthz
//	GET    /symbols
//	PUT    /symbols/{name}?dpi=300      body: template image
//	DELETE /symbols/{name}
//	POST   /detect?symbols=a,b          body: page image
//	GET    /runs/{id}
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ironsheep/symbol-count-mcp/internal/detection"
	"github.com/ironsheep/symbol-count-mcp/internal/imaging"
	"github.com/ironsheep/symbol-count-mcp/internal/service"
	"github.com/ironsheep/symbol-count-mcp/internal/store"
)

// maxBody caps uploaded images.
const maxBody = 64 << 20

// API serves a service.Service.
type API struct {
	svc *service.Service
	log *slog.Logger
}

// New returns an API over svc.
func New(svc *service.Service, log *slog.Logger) *API {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &API{svc: svc, log: log}
}

// Handler returns the router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)

	r.Get("/healthz", a.handleHealth)
	r.Route("/symbols", func(r chi.Router) {
		r.Get("/", a.handleListSymbols)
		r.Put("/{name}", a.handlePutSymbol)
		r.Delete("/{name}", a.handleDeleteSymbol)
	})
	r.Post("/detect", a.handleDetect)
	r.Get("/runs/{id}", a.handleRun)
	return r
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"elapsed", time.Since(start))
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleListSymbols(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.Symbols(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"symbols": list, "count": len(list)})
}

func (a *API) handlePutSymbol(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var dpi float64
	if v := r.URL.Query().Get("dpi"); v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil || d < 0 {
			http.Error(w, "invalid dpi", http.StatusBadRequest)
			return
		}
		dpi = d
	}
	img, err := imaging.Decode(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t, err := a.svc.RegisterSymbol(r.Context(), name, img, dpi)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":   t.Name,
		"width":  t.Width,
		"height": t.Height,
		"dpi":    t.DPI,
	})
}

func (a *API) handleDeleteSymbol(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteSymbol(r.Context(), chi.URLParam(r, "name")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDetect(w http.ResponseWriter, r *http.Request) {
	img, err := imaging.Decode(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var opts service.Options
	if v := r.URL.Query().Get("symbols"); v != "" {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				opts.Symbols = append(opts.Symbols, s)
			}
		}
	}
	res, err := a.svc.DetectImage(r.Context(), img, opts)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleRun(w http.ResponseWriter, r *http.Request) {
	sum, err := a.svc.RunSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// statusOf maps service errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, detection.ErrUnknownSymbol), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, detection.ErrInvalidConfig), errors.Is(err, detection.ErrDegenerateTemplate):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		a.log.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
