package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/devrenanferrari/genesis/backend"
	"github.com/devrenanferrari/genesis/fs"
	"github.com/devrenanferrari/genesis/llm"
)

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// readJSON decodes the request body into a T, answering 400 or 413 itself on failure.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Detail: message})
}

// fail maps err to a status code. Client errors carry their message; server
// errors are logged and answered with a generic detail.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := errorStatus(err)
	if status >= 500 {
		s.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	writeError(w, status, detail)
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, fs.ErrInvalidPath):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, backend.ErrInvalidCredentials):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, backend.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, backend.ErrUserExists):
		return http.StatusConflict, err.Error()
	case llm.IsAPIError(err):
		return http.StatusBadGateway, "failed to generate code"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
