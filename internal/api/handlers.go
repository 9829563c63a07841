// Package api exposes the entity pipelines over HTTP.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/rpattn/entityapi/internal/auth"
	"github.com/rpattn/entityapi/internal/domain"
	"github.com/rpattn/entityapi/internal/export"
	"github.com/rpattn/entityapi/internal/service"
)

const maxBodyBytes = 10 << 20

// Handler serves the entity, export and health endpoints.
type Handler struct {
	entities    *service.EntityService
	exports     *export.Service
	metrics     http.Handler
	metricsPath string
	logger      *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithExportService enables POST /entities/export.
func WithExportService(svc *export.Service) Option {
	return func(h *Handler) {
		h.exports = svc
	}
}

// WithMetricsHandler serves handler at path.
func WithMetricsHandler(path string, handler http.Handler) Option {
	return func(h *Handler) {
		h.metrics = handler
		h.metricsPath = path
	}
}

// WithLogger sets the logger used for server errors.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler creates a Handler over the entity service.
func NewHandler(entities *service.EntityService, opts ...Option) *Handler {
	h := &Handler{entities: entities, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	if h.metricsPath == "" {
		h.metricsPath = "/metrics"
	}
	return h
}

// Routes registers every endpoint on a new ServeMux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("POST /entities/{entity_type}", h.createEntity)
	mux.HandleFunc("PUT /entities/{id}", h.updateEntity)
	mux.HandleFunc("GET /entities/{id}", h.getEntity)
	mux.HandleFunc("GET /entities/{id}/index", h.getIndexDocument)
	for _, rel := range []service.Relation{
		service.RelationAncestors,
		service.RelationDescendants,
		service.RelationParents,
		service.RelationChildren,
	} {
		mux.HandleFunc("GET /"+string(rel)+"/{id}", h.related(rel))
	}
	if h.exports != nil {
		mux.Handle("POST /entities/export", export.NewHTTPHandler(h.exports, h.writeError))
	}
	if h.metrics != nil {
		mux.Handle("GET "+h.metricsPath, h.metrics)
	}
	return mux
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) createEntity(w http.ResponseWriter, r *http.Request) {
	req, err := requireUser(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	input, err := decodeRecord(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	created, err := h.entities.Create(r.Context(), req, r.PathValue("entity_type"), input)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) updateEntity(w http.ResponseWriter, r *http.Request) {
	req, err := requireUser(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	input, err := decodeRecord(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	updated, err := h.entities.Update(r.Context(), req, r.PathValue("id"), input)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) getEntity(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	rec, err := h.entities.Get(r.Context(), requestContext(r), r.PathValue("id"), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) getIndexDocument(w http.ResponseWriter, r *http.Request) {
	req, err := requireUser(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	doc, err := h.entities.GetIndexDocument(r.Context(), req, r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) related(rel service.Relation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseFilter(r)
		if err != nil {
			h.writeError(w, err)
			return
		}
		list, err := h.entities.Related(r.Context(), requestContext(r), r.PathValue("id"), rel, filter)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if list == nil {
			list = []domain.Record{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// writeError renders err through the AppError envelope. Server errors are
// logged; client errors are expected rejections and are not.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	app := ToAppError(err)
	if app.HTTPStatus >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("code", app.Code), zap.Error(err))
	}
	writeJSON(w, app.HTTPStatus, app)
}

// requestContext returns the caller attached by the request-context
// middleware, or an anonymous caller.
func requestContext(r *http.Request) *domain.RequestContext {
	if req, ok := auth.RequestFromContext(r.Context()); ok {
		return req
	}
	return &domain.RequestContext{Headers: r.Header.Clone()}
}

func requireUser(r *http.Request) (*domain.RequestContext, error) {
	req := requestContext(r)
	if req.User == nil || req.User.Sub == "" {
		return nil, domain.ErrUnauthorized
	}
	return req, nil
}

// decodeRecord reads a JSON object body.
func decodeRecord(w http.ResponseWriter, r *http.Request) (domain.Record, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, malformed("unable to read request body")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, malformed("a JSON object body is required")
	}
	var input domain.Record
	if err := json.Unmarshal(body, &input); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, malformed("the request body must be a JSON object")
		}
		return nil, malformed("invalid JSON: " + err.Error())
	}
	if input == nil {
		return nil, malformed("the request body must be a JSON object")
	}
	return input, nil
}

func malformed(message string) error {
	return &domain.SchemaValidationError{Reason: domain.ReasonMalformedPayload, Message: message}
}

// parseFilter reads the repeatable property= and exclude= query parameters.
// Values may also be comma separated.
func parseFilter(r *http.Request) (domain.PropertyFilter, error) {
	query := r.URL.Query()
	include := splitValues(query["property"])
	exclude := splitValues(query["exclude"])
	switch {
	case len(include) > 0 && len(exclude) > 0:
		return domain.PropertyFilter{}, domain.NewInvalidInput("property", "property and exclude cannot be combined")
	case len(include) > 0:
		return domain.PropertyFilter{Properties: include, Mode: domain.FilterInclude}, nil
	case len(exclude) > 0:
		return domain.PropertyFilter{Properties: exclude, Mode: domain.FilterExclude}, nil
	}
	return domain.PropertyFilter{}, nil
}

func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
