package export

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rpattn/entityapi/internal/auth"
	"github.com/rpattn/entityapi/internal/domain"
)

// ErrorWriter renders a service error.
type ErrorWriter func(w http.ResponseWriter, err error)

type Handler struct {
	service  *Service
	writeErr ErrorWriter
}

// NewHTTPHandler serves POST exports. A nil ErrorWriter falls back to
// http.Error with status 400.
func NewHTTPHandler(service *Service, writeErr ErrorWriter) http.Handler {
	if writeErr == nil {
		writeErr = func(w http.ResponseWriter, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	return &Handler{service: service, writeErr: writeErr}
}

type exportPayload struct {
	UUIDs      []string `json:"uuids"`
	Format     string   `json:"format"`
	Properties []string `json:"properties"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	var payload exportPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeErr(w, domain.NewInvalidInput("body", "invalid payload: %v", err))
		return
	}
	format, err := ParseFormat(payload.Format)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	req, _ := auth.RequestFromContext(r.Context())

	file, err := h.service.Export(r.Context(), req, Request{
		UUIDs:      payload.UUIDs,
		Format:     format,
		Properties: payload.Properties,
	})
	if err != nil {
		h.writeErr(w, err)
		return
	}

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", file.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Data)
}
