package endpoints

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/polarisvpn/polaris-linux/pkg/api"
	"github.com/polarisvpn/polaris-linux/pkg/daemon"
)

// ErrorResponse is the error payload of every control API endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps daemon and API errors onto control API status codes. The
// message is passed through verbatim for API errors so clients can show the
// backend's wording, like "Wrong credentials.".
func writeError(w http.ResponseWriter, err error) {
	var apiErr *api.Error
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusUnauthorized
		if apiErr.Status >= 400 {
			status = apiErr.Status
		}
		writeJSON(w, status, ErrorResponse{Error: apiErr.Message})
	case errors.Is(err, daemon.ErrNotLoggedIn):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
	case errors.Is(err, daemon.ErrNoSuchServer):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, daemon.ErrNoServerList):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
	case errors.Is(err, api.ErrNotReachable), errors.Is(err, api.ErrUnavailable):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "malformed request body"})
		return false
	}
	return true
}
