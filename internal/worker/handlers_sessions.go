package worker

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	gormdb "github.com/thebtf/clidesk/internal/db/gorm"
	"github.com/thebtf/clidesk/internal/project"
	"github.com/thebtf/clidesk/internal/worker/session"
	"github.com/thebtf/clidesk/pkg/models"
)

// DefaultSessionListLimit applies when the request has no limit.
const DefaultSessionListLimit = 50

func (s *Service) handleListSessions(w http.ResponseWriter, r *http.Request) {
	filter := models.SessionFilter{
		ProjectID: r.URL.Query().Get("projectId"),
		Limit:     gormdb.ParseLimitParam(r, DefaultSessionListLimit),
		Offset:    gormdb.ParseOffsetParam(r),
	}

	sessions, err := s.sessionManager.ListSessions(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*models.ChatSession{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

func (s *Service) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		validationFailed(w, []session.FieldError{{Field: "name", Message: "name must not be empty"}})
		return
	}
	s.createSession(w, r, req)
}

// handleImportSession accepts a complete externally produced session.
func (s *Service) handleImportSession(w http.ResponseWriter, r *http.Request) {
	var draft session.Draft
	if err := decodeJSON(w, r, &draft); err != nil {
		badRequest(w, err)
		return
	}
	if errs := session.ValidateSession(draft); len(errs) > 0 {
		validationFailed(w, errs)
		return
	}
	req, err := draft.Request()
	if err != nil {
		validationFailed(w, []session.FieldError{{Field: "messages", Message: err.Error()}})
		return
	}

	existing, err := s.sessionManager.GetSession(r.Context(), req.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if existing != nil {
		writeJSON(w, http.StatusConflict, errorBody{Error: "Session already exists", ID: req.ID})
		return
	}
	s.createSession(w, r, req)
}

func (s *Service) createSession(w http.ResponseWriter, r *http.Request, req models.CreateSessionRequest) {
	if req.ProjectID != "" {
		if ok, err := s.projectExists(req.ProjectID); err != nil {
			writeError(w, r, err)
			return
		} else if !ok {
			validationFailed(w, []session.FieldError{{Field: "projectId", Message: "project does not exist"}})
			return
		}
	}

	sess, err := s.sessionManager.CreateSession(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.linkSession(sess.ProjectID, sess.ID)
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Service) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessionManager.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sess == nil {
		notFound(w, "Session", id)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Service) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var update models.SessionUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		badRequest(w, err)
		return
	}
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		validationFailed(w, []session.FieldError{{Field: "name", Message: "name must not be empty"}})
		return
	}

	before, err := s.sessionManager.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if before == nil {
		notFound(w, "Session", id)
		return
	}
	if update.ProjectID != nil && *update.ProjectID != "" && *update.ProjectID != before.ProjectID {
		if ok, err := s.projectExists(*update.ProjectID); err != nil {
			writeError(w, r, err)
			return
		} else if !ok {
			validationFailed(w, []session.FieldError{{Field: "projectId", Message: "project does not exist"}})
			return
		}
	}

	sess, err := s.sessionManager.UpdateSession(r.Context(), id, update)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sess.ProjectID != before.ProjectID {
		s.unlinkSession(before.ProjectID, id)
		s.linkSession(sess.ProjectID, id)
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Service) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := s.sessionManager.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sess == nil {
		notFound(w, "Session", id)
		return
	}

	deleted, err := s.sessionManager.RemoveSession(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !deleted {
		notFound(w, "Session", id)
		return
	}
	s.unlinkSession(sess.ProjectID, id)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "id": id})
}

func (s *Service) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var nm models.NewMessage
	if err := decodeJSON(w, r, &nm); err != nil {
		badRequest(w, err)
		return
	}
	if nm.Role == "" {
		missingFields(w, "role")
		return
	}

	msg, err := s.sessionManager.AddMessage(r.Context(), id, nm)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Service) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	messageID := chi.URLParam(r, "messageId")

	deleted, err := s.sessionManager.DeleteMessage(r.Context(), id, messageID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !deleted {
		notFound(w, "Message", messageID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "id": messageID})
}

func (s *Service) projectExists(id string) (bool, error) {
	p, err := s.projectManager.GetProject(id)
	if err != nil {
		return false, err
	}
	return p != nil, nil
}

// linkSession records sessionID on its project. The session itself is the
// source of truth, so failures are only logged.
func (s *Service) linkSession(projectID, sessionID string) {
	if projectID == "" {
		return
	}
	if err := s.projectManager.AddSession(projectID, sessionID); err != nil && !errors.Is(err, project.ErrProjectNotFound) {
		log.Warn().Err(err).Str("projectId", projectID).Str("sessionId", sessionID).Msg("Failed to link session to project")
	}
}

func (s *Service) unlinkSession(projectID, sessionID string) {
	if projectID == "" {
		return
	}
	if err := s.projectManager.RemoveSession(projectID, sessionID); err != nil && !errors.Is(err, project.ErrProjectNotFound) {
		log.Warn().Err(err).Str("projectId", projectID).Str("sessionId", sessionID).Msg("Failed to unlink session from project")
	}
}

// detachProjectSessions is the project delete hook: sessions outlive their
// project and only lose the reference.
func (s *Service) detachProjectSessions(ctx context.Context, projectID string) error {
	_, err := s.sessionManager.DetachProject(ctx, projectID)
	return err
}
