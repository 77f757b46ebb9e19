package session

import (
	"bytes"
	"strings"

	"github.com/goccy/go-json"

	"github.com/thebtf/clidesk/pkg/models"
)

// FieldError describes one invalid field of a session payload.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Draft is an externally supplied session before it is accepted. Messages
// is kept raw so that a payload whose messages are not a list can be reported.
type Draft struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	ProjectID string                 `json:"projectId"`
	Context   *models.SessionContext `json:"context"`
	Messages  json.RawMessage        `json:"messages"`
}

// ValidateSession reports every field-level problem in d. It never consults
// the store.
func ValidateSession(d Draft) []FieldError {
	var errs []FieldError
	if strings.TrimSpace(d.ID) == "" {
		errs = append(errs, FieldError{Field: "id", Message: "id is required"})
	}
	if strings.TrimSpace(d.Name) == "" {
		errs = append(errs, FieldError{Field: "name", Message: "name must not be empty"})
	}
	if d.Context == nil || strings.TrimSpace(d.Context.WorkingDirectory) == "" {
		errs = append(errs, FieldError{Field: "context.workingDirectory", Message: "working directory is required"})
	}
	if raw := bytes.TrimSpace(d.Messages); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) && raw[0] != '[' {
		errs = append(errs, FieldError{Field: "messages", Message: "messages must be an array"})
	}
	return errs
}

// Request converts a valid draft into a create request.
func (d Draft) Request() (models.CreateSessionRequest, error) {
	req := models.CreateSessionRequest{
		ID:        d.ID,
		Name:      d.Name,
		ProjectID: d.ProjectID,
	}
	if d.Context != nil {
		req.Context = *d.Context
	}
	if raw := bytes.TrimSpace(d.Messages); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &req.Messages); err != nil {
			return req, err
		}
	}
	return req, nil
}
