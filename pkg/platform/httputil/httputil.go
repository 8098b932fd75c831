// Package httputil maps coded domain errors onto HTTP responses.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "limscore/pkg/domain-errors"
)

// errorResponse is the JSON error envelope returned by every endpoint.
type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

var statusByCode = map[dErrors.ErrorCode]int{
	dErrors.CodeBadRequest:            http.StatusBadRequest,
	dErrors.CodeValidation:            http.StatusUnprocessableEntity,
	dErrors.CodeNotFound:              http.StatusNotFound,
	dErrors.CodeUnauthorized:          http.StatusForbidden,
	dErrors.CodeInvalidTransition:     http.StatusConflict,
	dErrors.CodeReferentialViolation:  http.StatusUnprocessableEntity,
	dErrors.CodeStaleState:            http.StatusConflict,
	dErrors.CodeOrderNotConfirmed:     http.StatusConflict,
	dErrors.CodeOrderAlreadyReceipted: http.StatusConflict,
	dErrors.CodeTimeout:               http.StatusGatewayTimeout,
	dErrors.CodeInternal:              http.StatusInternalServerError,
}

// WriteError renders a coded error. Internal errors omit the description so
// infrastructure detail never leaks to clients.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.Code(err)
	status, ok := statusByCode[code]
	if !ok {
		code = dErrors.CodeInternal
		status = http.StatusInternalServerError
	}

	resp := errorResponse{Error: string(code)}
	if code != dErrors.CodeInternal {
		var de *dErrors.Error
		if errors.As(err, &de) {
			resp.Description = de.Message()
		}
	}
	WriteJSON(w, status, resp)
}

// WriteJSON renders v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
