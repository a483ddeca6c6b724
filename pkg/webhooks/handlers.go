package webhooks

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/civichub/planengine/pkg/audit"
	"github.com/civichub/planengine/pkg/httputil"
)

// Handlers manages endpoints over HTTP
type Handlers struct {
	notifier *Notifier
}

// NewHandlers creates webhook handlers
func NewHandlers(notifier *Notifier) *Handlers {
	return &Handlers{notifier: notifier}
}

// RegisterRoutes registers webhook routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks", h.createEndpoint).Methods(http.MethodPost)
	router.HandleFunc("/webhooks", h.listEndpoints).Methods(http.MethodGet)
	router.HandleFunc("/webhooks/{id}", h.getEndpoint).Methods(http.MethodGet)
	router.HandleFunc("/webhooks/{id}", h.updateEndpoint).Methods(http.MethodPut)
	router.HandleFunc("/webhooks/{id}", h.deleteEndpoint).Methods(http.MethodDelete)
	router.HandleFunc("/webhooks/{id}/activate", h.setActive(true)).Methods(http.MethodPost)
	router.HandleFunc("/webhooks/{id}/deactivate", h.setActive(false)).Methods(http.MethodPost)
	router.HandleFunc("/webhooks/{id}/deliveries", h.listDeliveries).Methods(http.MethodGet)
	router.HandleFunc("/webhooks/{id}/stats", h.stats).Methods(http.MethodGet)
}

// endpointRequest carries the secret, which Endpoint never serializes
type endpointRequest struct {
	URL         string            `json:"url"`
	Events      []audit.EventType `json:"events"`
	Format      Format            `json:"format"`
	Secret      string            `json:"secret"`
	Description string            `json:"description"`
}

func (r endpointRequest) endpoint() *Endpoint {
	return &Endpoint{
		URL:         r.URL,
		Events:      r.Events,
		Format:      r.Format,
		Secret:      r.Secret,
		Description: r.Description,
	}
}

// createEndpoint handles POST /webhooks
func (h *Handlers) createEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	endpoint := req.endpoint()
	if err := h.notifier.Register(endpoint); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, endpoint)
}

// listEndpoints handles GET /webhooks
func (h *Handlers) listEndpoints(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{"webhooks": h.notifier.List()})
}

// getEndpoint handles GET /webhooks/{id}
func (h *Handlers) getEndpoint(w http.ResponseWriter, r *http.Request) {
	endpoint, err := h.notifier.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, endpoint)
}

// updateEndpoint handles PUT /webhooks/{id}
func (h *Handlers) updateEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	endpoint, err := h.notifier.Update(mux.Vars(r)["id"], req.endpoint())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, endpoint)
}

// deleteEndpoint handles DELETE /webhooks/{id}
func (h *Handlers) deleteEndpoint(w http.ResponseWriter, r *http.Request) {
	if err := h.notifier.Unregister(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// setActive handles POST /webhooks/{id}/activate and /deactivate
func (h *Handlers) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		endpoint, err := h.notifier.SetActive(mux.Vars(r)["id"], active)
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.WriteSuccess(w, endpoint)
	}
}

// listDeliveries handles GET /webhooks/{id}/deliveries?limit=50
func (h *Handlers) listDeliveries(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.notifier.Get(id); err != nil {
		writeError(w, err)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteBadRequest(w, "Invalid limit")
			return
		}
		limit = n
	}
	httputil.WriteSuccess(w, map[string]interface{}{"deliveries": h.notifier.Deliveries(id, limit)})
}

// stats handles GET /webhooks/{id}/stats
func (h *Handlers) stats(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.notifier.Get(id); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, h.notifier.Stats(id))
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEndpointNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrInvalidEndpoint):
		httputil.WriteUnprocessable(w, err.Error())
	default:
		httputil.WriteInternalError(w)
	}
}
