package worker

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/clidesk/internal/db/claudelog"
	"github.com/thebtf/clidesk/internal/executor"
	"github.com/thebtf/clidesk/pkg/models"
)

// Turn is the outcome of relaying one user message to the CLI.
type Turn struct {
	SessionID string              `json:"sessionId"`
	Result    *executor.Result    `json:"result"`
	User      *models.ChatMessage `json:"userMessage,omitempty"`
	Assistant *models.ChatMessage `json:"assistantMessage,omitempty"`
	// Warning is set when the CLI answered but the reply could not be saved.
	Warning string `json:"warning,omitempty"`
}

// converse relays message to the CLI under sessionID. When a stored session
// has that id the exchange is persisted: the user message before the call
// and the reply after a successful one. Otherwise it is a pure relay.
// The CLI runs in workingDirectory if given, else in the current project's
// directory.
func (s *Service) converse(ctx context.Context, sessionID, message, workingDirectory string) (*Turn, error) {
	turn := &Turn{SessionID: sessionID}

	sess, err := s.sessionManager.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	persist := sess != nil
	if persist {
		turn.User, err = s.sessionManager.AddMessage(ctx, sessionID, models.NewMessage{
			Role:    models.RoleUser,
			Content: message,
		})
		switch {
		case errors.Is(err, claudelog.ErrReadOnly):
			persist = false
		case err != nil:
			return nil, err
		}
	}

	turn.Result = s.chat.SendMessage(ctx, sessionID, message, workingDirectory)
	if !persist || !turn.Result.Success {
		return turn, nil
	}

	turn.Assistant, err = s.sessionManager.AddMessage(ctx, sessionID, models.NewMessage{
		Role:     models.RoleAssistant,
		Content:  turn.Result.Output,
		Metadata: &models.MessageMetadata{Command: s.chat.Binary()},
	})
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to persist assistant reply")
		turn.Warning = "reply was not saved to the session: " + err.Error()
	}
	return turn, nil
}
