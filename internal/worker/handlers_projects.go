package worker

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/clidesk/internal/project"
	"github.com/thebtf/clidesk/pkg/models"
)

func projectList(projects []*models.Project) map[string]interface{} {
	if projects == nil {
		projects = []*models.Project{}
	}
	return map[string]interface{}{"projects": projects}
}

func (s *Service) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.projectManager.ListProjects()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projectList(projects))
}

func (s *Service) handleRecentProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.projectManager.GetRecentProjects()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projectList(projects))
}

func (s *Service) handleGetCurrentProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.projectManager.GetCurrentProject()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"project": p})
}

func (s *Service) handleSetCurrentProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProjectID *string `json:"projectId"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		badRequest(w, err)
		return
	}

	p, err := s.projectManager.SetCurrentProject(body.ProjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"project": p})
}

func (s *Service) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.projectManager.GetProject(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if p == nil {
		notFound(w, "Project", id)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Service) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req models.CreateProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	var missing []string
	if strings.TrimSpace(req.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(req.Path) == "" {
		missing = append(missing, "path")
	}
	if len(missing) > 0 {
		missingFields(w, missing...)
		return
	}

	p, err := s.projectManager.CreateProject(req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Service) handleOpenProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		badRequest(w, err)
		return
	}
	if strings.TrimSpace(body.Path) == "" {
		missingFields(w, "path")
		return
	}

	p, err := s.projectManager.OpenProjectDirectory(body.Path, body.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Service) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var update models.ProjectUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		badRequest(w, err)
		return
	}

	p, err := s.projectManager.UpdateProject(id, update)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Service) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := s.projectManager.DeleteProject(r.Context(), id)
	if !deleted {
		if err != nil {
			writeError(w, r, err)
			return
		}
		notFound(w, "Project", id)
		return
	}

	resp := map[string]interface{}{"success": true, "id": id}
	if errors.Is(err, project.ErrConfigNotSaved) {
		log.Warn().Err(err).Str("projectId", id).Msg("Project deleted but current and recent projects were not updated")
	}
	if errors.Is(err, project.ErrCleanupFailed) {
		log.Warn().Err(err).Str("projectId", id).Msg("Project deleted but sessions were not detached")
	}
	if err != nil {
		resp["warning"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
