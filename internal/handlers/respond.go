package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"contextcache/pkg/types"
)

var errEmptyBody = errors.New("empty request body")

// decodeJSON reads one JSON value from the body. The returned status is 413
// when MaxBodySize cut the body short, else 400.
func decodeJSON(r *http.Request, v any) (int, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return http.StatusBadRequest, errEmptyBody
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return http.StatusRequestEntityTooLarge, fmt.Errorf("body exceeds %d bytes", tooLarge.Limit)
		}
		return http.StatusBadRequest, err
	}
	return 0, nil
}

// writeJSON is a small helper to send JSON responses consistently.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	resp := types.ErrorResponse{Error: code}
	if err != nil {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}
