package worker

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/clidesk/internal/db/claudelog"
	"github.com/thebtf/clidesk/internal/project"
	"github.com/thebtf/clidesk/internal/worker/session"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error    string               `json:"error"`
	Message  string               `json:"message,omitempty"`
	Code     string               `json:"code,omitempty"`
	Fields   []session.FieldError `json:"fields,omitempty"`
	Required []string             `json:"required,omitempty"`
	Path     string               `json:"path,omitempty"`
	ID       string               `json:"id,omitempty"`
}

var errEmptyBody = errors.New("request body is empty")

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write JSON response")
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request body", Message: err.Error()})
}

func missingFields(w http.ResponseWriter, fields ...string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "Missing required fields", Required: fields})
}

func validationFailed(w http.ResponseWriter, fields []session.FieldError) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "Validation failed", Code: "VALIDATION_FAILED", Fields: fields})
}

func notFound(w http.ResponseWriter, what, id string) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: what + " not found", ID: id})
}

// projectErrorCodes maps project sentinels to client-facing codes.
var projectErrorCodes = []struct {
	err  error
	code string
}{
	{project.ErrInvalidName, "INVALID_NAME"},
	{project.ErrInvalidPath, "INVALID_PATH"},
	{project.ErrDirectoryNotFound, "DIRECTORY_NOT_FOUND"},
	{project.ErrNotADirectory, "NOT_A_DIRECTORY"},
	{project.ErrDirectoryNotReadable, "DIRECTORY_NOT_READABLE"},
}

// writeError maps domain errors to status codes. Anything unrecognized is a
// persistence failure and becomes a 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Session not found", Message: err.Error()})
		return
	case errors.Is(err, project.ErrProjectNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Project not found", Message: err.Error()})
		return
	case errors.Is(err, session.ErrInvalidMessage):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid message", Code: "INVALID_MESSAGE", Message: err.Error()})
		return
	case errors.Is(err, claudelog.ErrReadOnly):
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Session store is read-only", Message: err.Error()})
		return
	}
	for _, pe := range projectErrorCodes {
		if errors.Is(err, pe.err) {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "Validation failed", Code: pe.code, Message: err.Error()})
			return
		}
	}

	log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
	writeJSON(w, http.StatusInternalServerError, errorBody{
		Error:   "Internal server error",
		Message: fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err),
	})
}

func (s *Service) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found", Path: r.URL.Path})
}

func (s *Service) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed", Path: r.URL.Path})
}
