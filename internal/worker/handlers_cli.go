package worker

import (
	"bytes"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/thebtf/clidesk/internal/executor"
)

// maxTimeoutMs is the largest millisecond timeout a time.Duration can hold.
const maxTimeoutMs = math.MaxInt64 / int64(time.Millisecond)

// executeBody is the wire form of an execution request. Args stays raw so a
// non-array value can be reported as INVALID_ARGS.
type executeBody struct {
	Command          string          `json:"command"`
	Args             json.RawMessage `json:"args"`
	WorkingDirectory string          `json:"workingDirectory"`
	SessionID        string          `json:"sessionId"`
	// Timeout is in milliseconds.
	Timeout *int64 `json:"timeout"`
}

// resultStatus maps an execution outcome to an HTTP status. Runtime failures
// are still a successful HTTP exchange carrying a failed result.
func resultStatus(res *executor.Result) int {
	switch {
	case res.Success:
		return http.StatusOK
	case res.Code.IsValidation():
		return http.StatusBadRequest
	case res.Code == executor.CodeCommandNotAllowed:
		return http.StatusForbidden
	case res.Code == executor.CodeSessionBusy:
		return http.StatusConflict
	}
	return http.StatusOK
}

func (s *Service) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body executeBody
	if err := decodeJSON(w, r, &body); err != nil {
		badRequest(w, err)
		return
	}

	var missing []string
	if strings.TrimSpace(body.Command) == "" {
		missing = append(missing, "command")
	}
	if strings.TrimSpace(body.WorkingDirectory) == "" {
		missing = append(missing, "workingDirectory")
	}
	if strings.TrimSpace(body.SessionID) == "" {
		missing = append(missing, "sessionId")
	}
	if len(missing) > 0 {
		missingFields(w, missing...)
		return
	}

	req := executor.Request{
		Command:          body.Command,
		WorkingDirectory: body.WorkingDirectory,
		SessionID:        body.SessionID,
	}
	if raw := bytes.TrimSpace(body.Args); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &req.Args); err != nil {
			res := &executor.Result{Code: executor.CodeInvalidArgs, Error: "args must be an array of strings"}
			writeJSON(w, http.StatusBadRequest, res)
			return
		}
	}
	if body.Timeout != nil {
		if *body.Timeout > maxTimeoutMs {
			res := &executor.Result{Code: executor.CodeInvalidTimeout, Error: "Timeout is too large"}
			writeJSON(w, http.StatusBadRequest, res)
			return
		}
		d := time.Duration(*body.Timeout) * time.Millisecond
		req.Timeout = &d
	}

	res := s.executor.Execute(r.Context(), req)
	writeJSON(w, resultStatus(res), res)
}

func (s *Service) handleStartChat(w http.ResponseWriter, r *http.Request) {
	var req executor.StartChatRequest
	if err := decodeJSON(w, r, &req); err != nil && err != errEmptyBody {
		badRequest(w, err)
		return
	}

	out := s.chat.StartChat(r.Context(), req)
	writeJSON(w, resultStatus(out.Result), out)
}

func (s *Service) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Message          string `json:"message"`
		WorkingDirectory string `json:"workingDirectory"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		badRequest(w, err)
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		missingFields(w, "message")
		return
	}

	turn, err := s.converse(r.Context(), id, body.Message, body.WorkingDirectory)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, resultStatus(turn.Result), turn)
}

func (s *Service) handleKill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	if !s.executor.Kill(id) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "No running process", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "sessionId": id})
}

func (s *Service) handleProcesses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"processes": s.executor.ActiveProcesses()})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":     "ok",
		"version":    s.version,
		"uptime":     time.Since(s.startTime).Round(time.Second).String(),
		"sseClients": s.sseBroadcaster.ClientCount(),
	}
	if s.executor != nil {
		resp["activeProcesses"] = len(s.executor.ActiveProcesses())
	}
	if s.sessionManager != nil {
		resp["cachedSessions"] = s.sessionManager.CacheSize()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
