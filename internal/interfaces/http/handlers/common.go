// Package handlers implements the HTTP endpoints of the engine API.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeAppError maps err to its status.  Server errors are masked.
func writeAppError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	status := errors.HTTPStatusForCode(code)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		writeJSON(w, status, ErrorResponse{Code: string(errors.ErrCodeInternal), Message: "internal server error"})
		return
	}
	writeJSON(w, status, ErrorResponse{Code: string(code), Message: err.Error()})
}

// decodeJSON reads a request body of at most maxBytes into dst.  An empty
// body leaves dst at its zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}, maxBytes int64) error {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	switch {
	case err == nil, stderrors.Is(err, io.EOF):
		return nil
	default:
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return errors.Newf(errors.ErrCodeBadRequest, "request body exceeds %d bytes", tooLarge.Limit)
		}
		return errors.Wrap(err, errors.ErrCodeBadRequest, "invalid JSON request body")
	}
}
