package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"pulsecast/internal/fault"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// writeFault maps the error taxonomy onto HTTP statuses. Infrastructure and
// internal failures are reported with a generic message so store or platform
// details never leak to clients.
func writeFault(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	status := statusForKind(kind)
	message := err.Error()
	switch kind {
	case fault.KindInfrastructure:
		var fe *fault.Error
		if errors.As(err, &fe) {
			message = fe.Message()
		}
	case fault.KindInternal:
		message = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": message, "kind": string(kind)})
}

func statusForKind(kind fault.Kind) int {
	switch kind {
	case fault.KindValidation:
		return http.StatusBadRequest
	case fault.KindUnauthorized:
		return http.StatusForbidden
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindConflict:
		return http.StatusConflict
	case fault.KindInfrastructure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return fault.Validation("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fault.Validation("malformed request body")
	}
	return nil
}

func invalidStatusError(raw string) error {
	return fault.Validation("unknown status %q", raw)
}

func notFoundPath() error {
	return fault.NotFound("resource not found")
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed", "kind": string(fault.KindValidation)})
}
