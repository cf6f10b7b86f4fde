package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/diPencil/altayar-backend-sub000/internal/apperr"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func WriteError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}

func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// WriteAppError maps the error taxonomy onto HTTP statuses. Errors outside
// the taxonomy become a plain 500 without leaking internals.
func WriteAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	var code int
	switch kind {
	case apperr.KindValidation, apperr.KindInsufficientBalance:
		code = http.StatusBadRequest
	case apperr.KindNotFound:
		code = http.StatusNotFound
	case apperr.KindConflict:
		code = http.StatusConflict
	case apperr.KindState:
		code = http.StatusUnprocessableEntity
	default:
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error(), Kind: kind.String()})
}
