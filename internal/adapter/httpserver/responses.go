package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/adweave/skytrigger/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrRateLimited):
		code = http.StatusTooManyRequests
		codeStr = "RATE_LIMITED"
	case errors.Is(err, domain.ErrStoreUnavailable):
		code = http.StatusServiceUnavailable
		codeStr = "STORE_UNAVAILABLE"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error()}})
}
