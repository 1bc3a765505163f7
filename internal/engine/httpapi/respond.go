package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/F6/labctrl-toolbox/internal/engine/session"
)

// WriteJSON marshals v as the response body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteMalformed responds 422 for a body that failed to decode (spec.md §6
// Error status codes).
func WriteMalformed(w http.ResponseWriter, err error) {
	WriteJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
}

// WriteResult implements spec.md §6's "200 with {"result": "error_*"} on
// domain errors" convention: every OpResult, success or domain failure
// alike, is reported as HTTP 200 with the result code in the body. Only
// auth and malformed-body failures get a non-200 status; those are handled
// by BearerMiddleware/RequireAccess and WriteMalformed respectively.
func WriteResult(w http.ResponseWriter, result session.OpResult) {
	WriteJSON(w, http.StatusOK, map[string]string{"result": string(result.Code)})
}

// WriteResultWithID attaches a client-supplied correlation id, matching the
// persistent-channel reply shape so both surfaces can share a response
// builder when a device package wants to.
func WriteResultWithID(w http.ResponseWriter, result session.OpResult, id *int) {
	body := map[string]interface{}{"result": string(result.Code)}
	if id != nil {
		body["id"] = *id
	}
	WriteJSON(w, http.StatusOK, body)
}
