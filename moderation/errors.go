package moderation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/streamcart/livechat/persistence"
)

// The gateway fails closed: anything that is not a clean validation, authentication,
// authorization or not-found failure is treated as a store error.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("requester does not own the stream")
	ErrInvalid         = errors.New("invalid request")
)

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalid}, args...)...)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, persistence.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		// do not leak store internals to the caller
		message = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
