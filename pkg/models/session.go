// Package models contains domain models for clidesk.
package models

import (
	"time"
)

// MessageRole identifies who authored a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Valid reports whether r is one of the known roles.
func (r MessageRole) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// SessionContext is the working-directory context of a chat session.
type SessionContext struct {
	WorkingDirectory string          `json:"workingDirectory"`
	Files            JSONStringArray `json:"files"`
}

// CodeBlock is a fenced code region extracted from a message.
type CodeBlock struct {
	ID        string `json:"id"`
	Language  string `json:"language"`
	Code      string `json:"code"`
	Filename  string `json:"filename,omitempty"`
	LineStart int    `json:"lineStart,omitempty"`
	LineEnd   int    `json:"lineEnd,omitempty"`
}

// MessageMetadata is optional data attached to a message at creation time.
type MessageMetadata struct {
	Command    string          `json:"command,omitempty"`
	Files      JSONStringArray `json:"files,omitempty"`
	CodeBlocks []CodeBlock     `json:"codeBlocks,omitempty"`
	TokenCount int             `json:"tokenCount,omitempty"`
}

// ChatMessage is one immutable entry of a conversation.
type ChatMessage struct {
	ID        string           `json:"id"`
	Role      MessageRole      `json:"role"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
}

// ChatSession is an ordered conversation scoped to a working directory.
type ChatSession struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	ProjectID    string         `json:"projectId,omitempty"`
	Messages     []ChatMessage  `json:"messages"`
	Context      SessionContext `json:"context"`
	MessageCount int            `json:"messageCount"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// Clone returns a deep copy of the session.
func (s *ChatSession) Clone() *ChatSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Context.Files = cloneStrings(s.Context.Files)
	if s.Messages != nil {
		out.Messages = make([]ChatMessage, len(s.Messages))
		for i := range s.Messages {
			out.Messages[i] = s.Messages[i].Clone()
		}
	}
	return &out
}

// Clone returns a deep copy of the message.
func (m ChatMessage) Clone() ChatMessage {
	if m.Metadata == nil {
		return m
	}
	md := *m.Metadata
	md.Files = cloneStrings(m.Metadata.Files)
	if m.Metadata.CodeBlocks != nil {
		md.CodeBlocks = append([]CodeBlock(nil), m.Metadata.CodeBlocks...)
	}
	m.Metadata = &md
	return m
}

func cloneStrings(in JSONStringArray) JSONStringArray {
	if in == nil {
		return nil
	}
	return append(JSONStringArray(nil), in...)
}

// NewMessage is the caller-supplied part of a message to append.
type NewMessage struct {
	ID        string           `json:"id,omitempty"`
	Role      MessageRole      `json:"role"`
	Content   string           `json:"content"`
	Timestamp *time.Time       `json:"timestamp,omitempty"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
}

// CreateSessionRequest describes a new session and its initial messages.
type CreateSessionRequest struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	ProjectID string         `json:"projectId,omitempty"`
	Context   SessionContext `json:"context"`
	Messages  []NewMessage   `json:"messages,omitempty"`
}

// SessionUpdate is a partial session update; nil fields are left untouched.
type SessionUpdate struct {
	Name      *string         `json:"name,omitempty"`
	ProjectID *string         `json:"projectId,omitempty"`
	Context   *SessionContext `json:"context,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u SessionUpdate) Empty() bool {
	return u.Name == nil && u.ProjectID == nil && u.Context == nil
}

// SessionFilter narrows a session listing.
type SessionFilter struct {
	ProjectID string
	Limit     int
	Offset    int
}
