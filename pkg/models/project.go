// Package models contains domain models for clidesk.
package models

import "time"

// Project is a tracked working directory.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Description string    `json:"description,omitempty"`
	SessionIDs  []string  `json:"sessionIds"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CreateProjectRequest describes a new project.
type CreateProjectRequest struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

// ProjectUpdate is a partial project update; nil fields are left untouched.
type ProjectUpdate struct {
	Name        *string `json:"name,omitempty"`
	Path        *string `json:"path,omitempty"`
	Description *string `json:"description,omitempty"`
}

// ProjectConfig is the small persisted document holding selection state.
type ProjectConfig struct {
	RecentProjects   []string `json:"recentProjects"`
	CurrentProjectID string   `json:"currentProjectId,omitempty"`
}
