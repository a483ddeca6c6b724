package audit

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/civichub/planengine/pkg/httputil"
	"github.com/civichub/planengine/pkg/observability"
)

// Handlers provides HTTP handlers for reading the audit trail
type Handlers struct {
	store Searcher
}

// NewHandlers creates new audit handlers
func NewHandlers(store Searcher) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes registers audit routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/events", h.listEvents).Methods(http.MethodGet)
	router.HandleFunc("/tenants/{tenant_id}/history", h.tenantHistory).Methods(http.MethodGet)
}

// listEvents handles GET /audit/events
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}
	if raw := r.URL.Query().Get("tenant_id"); raw != "" {
		tenantID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.WriteBadRequest(w, "Invalid tenant_id")
			return
		}
		filter.TenantID = &tenantID
	}
	h.search(w, r, filter)
}

// tenantHistory handles GET /tenants/{tenant_id}/history
func (h *Handlers) tenantHistory(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathIDOrError(w, r, "tenant_id")
	if !ok {
		return
	}
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}
	filter.TenantID = &tenantID
	h.search(w, r, filter)
}

func (h *Handlers) search(w http.ResponseWriter, r *http.Request, filter SearchFilter) {
	format, err := ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.store.Search(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("audit search failed")
		httputil.WriteInternalError(w)
		return
	}

	if format == ExportFormatJSON {
		httputil.WriteSuccess(w, map[string]interface{}{
			"events": events,
			"count":  len(events),
			"limit":  filter.EffectiveLimit(),
			"offset": filter.Offset,
		})
		return
	}

	body, err := Export(events, format)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("audit export failed")
		httputil.WriteInternalError(w)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// parseFilter reads type, status, since, until, limit and offset from the query string
func parseFilter(w http.ResponseWriter, r *http.Request) (SearchFilter, bool) {
	query := r.URL.Query()
	var filter SearchFilter

	for _, raw := range query["type"] {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.EventTypes = append(filter.EventTypes, EventType(t))
			}
		}
	}
	if raw := query.Get("status"); raw != "" {
		status := EventStatus(raw)
		filter.Status = &status
	}

	for key, dest := range map[string]**time.Time{"since": &filter.StartTime, "until": &filter.EndTime} {
		if query.Get(key) == "" {
			continue
		}
		t, err := httputil.ParseQueryTime(r, key, time.Time{})
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return filter, false
		}
		*dest = &t
	}

	for key, dest := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := query.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.WriteBadRequest(w, "Invalid "+key)
			return filter, false
		}
		*dest = n
	}

	return filter, true
}
