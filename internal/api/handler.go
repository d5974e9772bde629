// Package api exposes the synced countries over a small JSON HTTP API.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/country_sync/internal/db"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100

	msgNotFound = "Country not found."
)

// CountryRepository is the storage the handlers work against
type CountryRepository interface {
	Get(ctx context.Context, id string) (*db.Country, error)
	Create(ctx context.Context, c *db.Country) error
	Update(ctx context.Context, c *db.Country) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, page, limit int) (*db.Page, error)
}

type Handler struct {
	repo      CountryRepository
	validator *RequestValidator
}

func NewHandler(repo CountryRepository) *Handler {
	return &Handler{repo: repo, validator: NewRequestValidator()}
}

// Register mounts the country routes on r
func (h *Handler) Register(r chi.Router) {
	r.Route("/countries", func(r chi.Router) {
		r.Get("/list", h.HandleList)
		r.Post("/", h.HandleCreate)
		r.Get("/{id}", h.HandleGet)
		r.Patch("/{id}", h.HandleUpdate)
		r.Delete("/{id}", h.HandleDelete)
	})
}

// NewRouter builds the complete HTTP surface: the country API, /metrics when
// metricsHandler is not nil, and a liveness probe
func NewRouter(h *Handler, metricsHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusOK, "ok", nil)
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}
	h.Register(r)
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logrus.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("Handled request")
	})
}

// HandleList returns one page of countries ordered by name
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := min(queryInt(r, "limit", DefaultPageLimit), MaxPageLimit)

	result, err := h.repo.List(r.Context(), page, limit)
	if err != nil {
		h.internalError(w, r, err, "list countries")
		return
	}
	writeMessage(w, http.StatusOK, "success", result)
}

// HandleGet returns a single country by id
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	country, err := h.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, r, err, "get country")
		return
	}
	writeMessage(w, http.StatusOK, "success", country)
}

// HandleCreate stores a new country
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	country := &db.Country{}
	req.apply(country)
	if err := h.repo.Create(r.Context(), country); err != nil {
		h.writeStoreError(w, r, err, "create country")
		return
	}

	logrus.WithFields(logrus.Fields{"id": country.ID, "flag": country.Flag}).Info("Country created")
	writeMessage(w, http.StatusCreated, "Country created successfully", country)
}

// HandleUpdate replaces every field of an existing country
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	country, err := h.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, r, err, "get country")
		return
	}

	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	req.apply(country)
	if err := h.repo.Update(r.Context(), country); err != nil {
		h.writeStoreError(w, r, err, "update country")
		return
	}

	logrus.WithFields(logrus.Fields{"id": country.ID, "flag": country.Flag}).Info("Country updated")
	writeMessage(w, http.StatusOK, "Country updated successfully", country)
}

// HandleDelete removes a country
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.repo.Delete(r.Context(), id); err != nil {
		h.writeStoreError(w, r, err, "delete country")
		return
	}

	logrus.WithField("id", id).Info("Country deleted")
	writeMessage(w, http.StatusOK, "Country deleted successfully!", nil)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (*CountryRequest, bool) {
	req, err := h.validator.Decode(r)
	if err == nil {
		return req, true
	}
	var fe FieldErrors
	if errors.As(err, &fe) {
		writeValidationError(w, fe)
		return nil, false
	}
	writeMessage(w, http.StatusBadRequest, err.Error(), nil)
	return nil, false
}

func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, db.ErrCountryNotFound):
		writeMessage(w, http.StatusNotFound, msgNotFound, nil)
	case errors.Is(err, db.ErrDuplicateFlag):
		writeValidationError(w, FieldErrors{"flag": "This value is already used."})
	default:
		h.internalError(w, r, err, op)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error, op string) {
	logrus.WithFields(logrus.Fields{
		"operation":  op,
		"request_id": middleware.GetReqID(r.Context()),
	}).WithError(err).Error("Request failed")
	writeMessage(w, http.StatusInternalServerError, "Internal server error", nil)
}

// queryInt reads a positive integer query parameter, falling back to def
func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 1 {
		return def
	}
	return n
}
