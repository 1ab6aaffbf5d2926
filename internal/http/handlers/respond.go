package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/annavaram/storefront/internal/apperr"
)

const maxBodyBytes = 1 << 20

// respondJSON writes v with the given status
func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}

// respondErr maps a service error to its status. Unclassified errors are
// logged and answered with a generic 500.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	if appErr, ok := apperr.As(err); ok && appErr.Kind != apperr.Internal {
		respondWithError(w, appErr.Kind.Status(), appErr.Message)
		return
	}
	log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	respondWithError(w, http.StatusInternalServerError, "internal server error")
}

// decodeJSON reads a JSON body into dst and answers 400 itself on failure
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// pageParams reads limit and offset query parameters
func pageParams(r *http.Request, defLimit int) (int, int) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defLimit
	}
	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
