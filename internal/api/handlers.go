package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/veritas-os/veritas/internal/fuji"
	"github.com/veritas-os/veritas/internal/memory"
	"github.com/veritas-os/veritas/internal/schema"
	"github.com/veritas-os/veritas/internal/service/veritas"
)

// Handlers wires every route to the Service, mirroring the teacher's
// Handlers struct: one method per endpoint, HTTP-only concerns (body
// decode, status codes) with everything domain-specific delegated to
// Service.
type Handlers struct {
	svc     *veritas.Service
	broker  *Broker
	maxBody int64
}

func newHandlers(svc *veritas.Service, broker *Broker, maxBody int64) *Handlers {
	return &Handlers{svc: svc, broker: broker, maxBody: maxBody}
}

// HandleHealth serves GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Health())
}

// HandleDecide serves POST /v1/decide, the pipeline's sole entrypoint.
func (h *Handlers) HandleDecide(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "request body too large or unreadable")
		return
	}

	// Decoded twice from the same bytes: once into the typed request the
	// pipeline expects, once into a generic map so the coercion layer
	// (internal/schema.Coerce) can see keys the typed struct drops, per
	// spec.md §3's "never silently discard an unrecognized field".
	var req schema.DecideRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid JSON body")
		return
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid JSON body")
		return
	}

	resp := h.svc.Decide(r.Context(), req, raw)
	if h.broker != nil {
		h.broker.Publish(decisionEvent{
			RequestID:      resp.RequestID.String(),
			DecisionStatus: resp.DecisionStatus,
			Risk:           resp.Gate.Risk,
		})
	}

	writeJSON(w, statusForRejection(resp), resp)
}

// HandleValidateGate serves POST /v1/fuji/validate: run only the safety
// gate over arbitrary text, without the rest of the decision pipeline.
func (h *Handlers) HandleValidateGate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text" validate:"required"`
	}
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid JSON body")
		return
	}
	verdict := h.svc.ValidateGate(req.Text)
	writeJSON(w, http.StatusOK, verdict)
}

// HandleGetPolicy serves GET /v1/governance/policy.
func (h *Handlers) HandleGetPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GetPolicy())
}

// HandlePatchPolicy serves PATCH /v1/governance/policy: the body is
// merged onto the live policy (only non-zero fields override), never a
// full replace, so a caller never has to resend fields it isn't
// changing.
func (h *Handlers) HandlePatchPolicy(w http.ResponseWriter, r *http.Request) {
	var patch fuji.Policy
	if err := decodeJSON(w, r, h.maxBody, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid JSON body")
		return
	}
	updatedBy := "operator"
	if p, ok := PrincipalFromContext(r.Context()); ok {
		updatedBy = p.AuthenticatedAs
	}
	merged, err := h.svc.UpdatePolicyPatch(updatedBy, patch)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, merged)
}

// HandleValueDrift serves GET /v1/governance/value-drift?user_id=...
func (h *Handlers) HandleValueDrift(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "user_id is required")
		return
	}
	report, err := h.svc.ValueDrift(userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleMemoryPut serves POST /v1/memory/put.
func (h *Handlers) HandleMemoryPut(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string         `json:"user_id" validate:"required"`
		Kind     memory.Kind    `json:"kind" validate:"required"`
		Text     string         `json:"text" validate:"required"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid JSON body")
		return
	}
	id, err := h.svc.MemoryPut(r.Context(), req.UserID, req.Kind, req.Text, req.Metadata)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

// HandleMemoryGet serves GET /v1/memory/get?user_id=&id=.
func (h *Handlers) HandleMemoryGet(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	idStr := r.URL.Query().Get("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "id must be a UUID")
		return
	}
	rec, err := h.svc.MemoryGet(userID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleMemorySearch serves POST /v1/memory/search.
func (h *Handlers) HandleMemorySearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string        `json:"user_id" validate:"required"`
		Query  string        `json:"query" validate:"required"`
		K      int           `json:"k,omitempty"`
		Kinds  []memory.Kind `json:"kinds,omitempty"`
	}
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid JSON body")
		return
	}
	if req.K <= 0 {
		req.K = 10
	}
	records, err := h.svc.MemorySearch(r.Context(), req.UserID, req.Query, req.K, req.Kinds)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

// HandleTrustLogsByRequest serves GET /v1/trust/logs/by-request/{id}.
func (h *Handlers) HandleTrustLogsByRequest(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("id")
	record, err := h.svc.TrustLogsByRequestID(requestID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// HandleTrustVerify serves GET /v1/trust/verify.
func (h *Handlers) HandleTrustVerify(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.VerifyTrustLog()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if !result.OK {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

// HandleEvents serves GET /v1/events, an SSE stream of decision
// summaries, grounded on the teacher's HandleSubscribe (same
// Content-Type/Cache-Control/Connection header set and Flusher check),
// but sourced from the in-process Broker instead of Postgres
// LISTEN/NOTIFY.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming not supported")
		return
	}
	if h.broker == nil {
		writeError(w, http.StatusServiceUnavailable, "capability_unavailable", "event stream not configured")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsubscribe := h.broker.Subscribe()
	defer unsubscribe()

	ctx := r.Context()
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}
