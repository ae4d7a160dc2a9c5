package api

import (
	"encoding/json"
	"net/http"

	"github.com/veritas-os/veritas/internal/errs"
	"github.com/veritas-os/veritas/internal/schema"
)

// errorBody is the JSON shape every non-2xx response carries, a narrower
// version of the teacher's model.ErrorResponse envelope (VERITAS has no
// multi-field problem-details spec to match; a code plus a message is
// enough for a single-operator surface).
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// statusForKind maps an errs.Kind to the HTTP status the API surface
// returns for it. KindGateRejected never reaches here: it surfaces
// in-band on DecideResponse.DecisionStatus, not as an HTTP error.
func statusForKind(k errs.Kind) int {
	switch k {
	case errs.KindInvalidInput:
		return http.StatusBadRequest
	case errs.KindUnauthorized:
		return http.StatusUnauthorized
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	case errs.KindCapabilityUnavailable, errs.KindTransientIO:
		return http.StatusServiceUnavailable
	case errs.KindPolicyError, errs.KindChainIntegrity:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// statusForRejection picks the HTTP status for a DecideResponse,
// distinguishing a successful (even if rejected-by-gate) decision from
// one the pipeline could not compute at all. A gate rejection is a
// normal, fully-computed decision (200), not an HTTP error; only the
// fatal/abstain paths (invalid input, policy failure, deadline, an
// unclassified internal fault) are reported as non-2xx.
func statusForRejection(resp schema.DecideResponse) int {
	if resp.OK {
		return http.StatusOK
	}
	switch resp.RejectionReason {
	case "invalid_input":
		return http.StatusBadRequest
	case "deadline_exceeded":
		return http.StatusGatewayTimeout
	case "policy_error":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	k := errs.KindOf(err)
	writeError(w, statusForKind(k), string(k), err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
