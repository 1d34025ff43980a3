package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/failure"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/identity"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/keys"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/lifecycle"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/media"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
)

const maxJSONBody = 1 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *slog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: service.logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		ready, checks := s.service.Ready(ctx)
		status, statusCode := "ready", http.StatusOK
		if !ready {
			status, statusCode = "not_ready", http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     ready,
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && (r.URL.Path == "/api/session/register" || r.URL.Path == "/api/session/login") {
		s.handleSignIn(w, r, r.URL.Path == "/api/session/register")
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		principal, err := s.service.Resolve(r.Context(), token)
		if err != nil {
			_, code, _, _ := mapError(err)
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "code": code})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated":  true,
			"contributorKey": principal.ContributorKey,
			"displayName":    principal.DisplayName,
			"role":           principal.Role,
			"expiresAt":      principal.Session.ExpiresAt,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		if err := s.service.Logout(r.Context(), bearerToken(r)); err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	principal, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/session/heartbeat":
		s.handleHeartbeat(w, r, principal)
	case len(parts) >= 3 && parts[0] == "api" && parts[1] == "drafts":
		s.handleDrafts(w, r, principal, parts[2], parts[3:])
	case len(parts) == 2 && parts[0] == "api" && parts[1] == "records" && r.Method == http.MethodGet:
		records, err := s.service.Records(r.Context(), principal)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"records": toRecordViews(records)})
	case len(parts) >= 3 && parts[0] == "api" && parts[1] == "records":
		s.handleRecord(w, r, principal, parts[2], parts[3:])
	case len(parts) == 2 && parts[0] == "api" && parts[1] == "search" && r.Method == http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, s.service.Search(principal, r.URL.Query().Get("q"), limit))
	case len(parts) >= 3 && parts[0] == "api" && parts[1] == "admin":
		s.handleAdmin(w, r, principal, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request, register bool) {
	var body struct {
		Name string `json:"name"`
		PIN  string `json:"pin"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	var (
		session identity.Session
		err     error
	)
	if register {
		session, err = s.service.Register(r.Context(), body.Name, body.PIN)
	} else {
		session, err = s.service.Login(r.Context(), body.Name, body.PIN)
	}
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	status := http.StatusOK
	if register {
		status = http.StatusCreated
	}
	writeJSON(w, status, toSessionView(session))
}

func (s *HTTPServer) handleHeartbeat(w http.ResponseWriter, r *http.Request, principal identity.Principal) {
	var body struct {
		Qualifying bool `json:"qualifying"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.Heartbeat(r.Context(), principal, body.Qualifying)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"timeout": toTimeoutView(result.Decision)})
}

type draftBody struct {
	DraftID    string        `json:"draftId"`
	Content    store.Content `json:"content"`
	Qualifying *bool         `json:"qualifying"`
}

func (s *HTTPServer) handleDrafts(w http.ResponseWriter, r *http.Request, principal identity.Principal, formType string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			view, err := s.service.OpenDraft(ctx, principal, formType)
			if err != nil {
				s.writeMappedError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"draft":   toDraftView(view.Draft),
				"created": view.Created,
				"summary": view.Summary,
			})
		case http.MethodPut:
			var body draftBody
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			draft, err := s.service.SaveDraft(ctx, principal, formType, body.DraftID, body.Content)
			if err != nil {
				s.writeMappedError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"draft": toDraftView(draft)})
		case http.MethodDelete:
			deleted, err := s.service.DiscardDraft(ctx, principal, formType)
			if err != nil {
				s.writeMappedError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": deleted})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch {
	case len(rest) == 1 && rest[0] == "autosave" && r.Method == http.MethodPost:
		var body draftBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		qualifying := body.Qualifying == nil || *body.Qualifying
		result, err := s.service.Autosave(ctx, principal, formType, body.DraftID, body.Content, qualifying)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"saved":     result.Saved,
			"draftGone": result.DraftGone,
			"timeout":   toTimeoutView(result.Decision),
		})
	case len(rest) == 1 && rest[0] == "submit" && r.Method == http.MethodPost:
		var body struct {
			DraftID string `json:"draftId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.SubmitDraft(ctx, principal, formType, body.DraftID)
		if failure.Is(err, failure.ErrStorageUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "SUBMISSION_FAILED", lifecycle.MsgDraftSafe, nil)
			return
		}
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		status := http.StatusCreated
		if result.Duplicate {
			status = http.StatusOK
		}
		writeJSON(w, status, toSubmitView(result))
	case len(rest) >= 2 && rest[0] == "audio":
		ownerFn := func(create bool) (string, error) {
			return s.service.draftOwner(ctx, principal, formType, create)
		}
		s.handleAudio(w, r, principal, ownerFn, rest[1:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleRecord(w http.ResponseWriter, r *http.Request, principal identity.Principal, recordID string, rest []string) {
	ctx := r.Context()

	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		view, err := s.service.RecordExport(ctx, principal, recordID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		payload := toRecordView(view.Record)
		payload.Transcripts = view.Transcripts
		writeJSON(w, http.StatusOK, payload)
	case len(rest) == 1 && rest[0] == "answers" && r.Method == http.MethodPatch:
		var body struct {
			Answers map[string]string `json:"answers"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		record, err := s.service.AmendAnswers(ctx, principal, recordID, body.Answers)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRecordView(record))
	case len(rest) >= 2 && rest[0] == "audio":
		ownerFn := func(bool) (string, error) {
			return s.service.recordOwner(ctx, principal, recordID)
		}
		s.handleAudio(w, r, principal, ownerFn, rest[1:])
	case len(rest) >= 1 && rest[0] == "followups":
		s.handleFollowUps(w, r, principal, recordID, rest[1:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleFollowUps(w http.ResponseWriter, r *http.Request, principal identity.Principal, recordID string, rest []string) {
	ctx := r.Context()

	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		questions, err := s.service.FollowUps(ctx, principal, recordID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"questions": toFollowUpViews(questions)})
	case len(rest) == 1 && rest[0] == "retry" && r.Method == http.MethodPost:
		questions, advisory, err := s.service.RetryFollowUps(ctx, principal, recordID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		payload := map[string]any{"questions": toFollowUpViews(questions)}
		if advisory != "" {
			payload["advisory"] = advisory
		}
		writeJSON(w, http.StatusOK, payload)
	case len(rest) == 1 && r.Method == http.MethodPut:
		var body struct {
			AnswerText string `json:"answerText"`
			WithAudio  bool   `json:"withAudio"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		answered, err := s.service.AnswerFollowUp(ctx, principal, recordID, rest[0], body.AnswerText, body.WithAudio)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toFollowUpView(answered))
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// handleAudio serves the audio routes shared by drafts and records. rest
// starts at the question id: {question}[/versions/{v}[/transcript]].
func (s *HTTPServer) handleAudio(w http.ResponseWriter, r *http.Request, principal identity.Principal, ownerFn func(create bool) (string, error), rest []string) {
	ctx := r.Context()
	questionID := rest[0]

	switch {
	case len(rest) == 1 && r.Method == http.MethodPost:
		owner, err := ownerFn(true)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		audio, err := io.ReadAll(http.MaxBytesReader(w, r.Body, media.MaxAudioBytes+1))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "AUDIO_TOO_LARGE", fmt.Sprintf("audio exceeds %d bytes", media.MaxAudioBytes), nil)
			return
		}
		v, err := s.service.AddAudio(ctx, principal, owner, questionID, audio, r.Header.Get("Content-Type"))
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAudioView(v))
	case len(rest) == 1 && r.Method == http.MethodGet:
		owner, err := ownerFn(false)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		versions, err := s.service.AudioHistory(ctx, owner, questionID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		payload := map[string]any{"versions": toAudioViews(versions), "current": nil}
		if len(versions) > 0 {
			payload["current"] = toAudioView(versions[len(versions)-1])
		}
		writeJSON(w, http.StatusOK, payload)
	case len(rest) >= 3 && rest[1] == "versions":
		version, err := strconv.Atoi(rest[2])
		if err != nil || version < 1 {
			writeError(w, http.StatusBadRequest, "INVALID_VERSION", "version must be a positive integer", nil)
			return
		}
		owner, err := ownerFn(false)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		s.handleAudioVersion(w, r, principal, owner, questionID, version, rest[3:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleAudioVersion(w http.ResponseWriter, r *http.Request, principal identity.Principal, owner, questionID string, version int, rest []string) {
	ctx := r.Context()

	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		data, contentType, err := s.service.AudioBytes(ctx, owner, questionID, version)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case len(rest) == 1 && rest[0] == "transcript" && r.Method == http.MethodPut:
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		v, err := s.service.EditTranscript(ctx, principal, owner, questionID, version, body.Text)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAudioView(v))
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, principal identity.Principal, parts []string) {
	ctx := r.Context()

	switch {
	case len(parts) == 1 && parts[0] == "records" && r.Method == http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		records, err := s.service.RecentRecords(ctx, principal, limit)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"records": toRecordViews(records)})
	case len(parts) == 2 && parts[0] == "records" && r.Method == http.MethodDelete:
		if err := s.service.DeleteRecord(ctx, principal, parts[1]); err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case len(parts) == 7 && parts[0] == "records" && parts[2] == "audio" && parts[4] == "versions" && parts[6] == "transcribe" && r.Method == http.MethodPost:
		version, err := strconv.Atoi(parts[5])
		if err != nil || version < 1 {
			writeError(w, http.StatusBadRequest, "INVALID_VERSION", "version must be a positive integer", nil)
			return
		}
		v, advisory, err := s.service.Transcribe(ctx, principal, keys.RecordOwner(parts[1]), parts[3], version)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		payload := map[string]any{"version": toAudioView(v)}
		if advisory != "" {
			payload["advisory"] = advisory
		}
		writeJSON(w, http.StatusOK, payload)
	case len(parts) == 1 && parts[0] == "settings" && r.Method == http.MethodGet:
		settings, err := s.service.Settings(ctx, principal)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		values := make(map[string]string, len(settings))
		for _, setting := range settings {
			values[setting.Key] = setting.Value
		}
		writeJSON(w, http.StatusOK, map[string]any{"settings": values})
	case len(parts) == 2 && parts[0] == "settings" && r.Method == http.MethodGet:
		value, err := s.service.Setting(ctx, principal, parts[1])
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"key": parts[1], "value": value})
	case len(parts) == 2 && parts[0] == "settings" && r.Method == http.MethodPut:
		var body struct {
			Value string `json:"value"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SetSetting(ctx, principal, parts[1], body.Value); err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"key": parts[1], "value": strings.TrimSpace(body.Value)})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (identity.Principal, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "SESSION_INVALID", "Please sign in", nil)
		return identity.Principal{}, false
	}
	principal, err := s.service.Resolve(r.Context(), token)
	if err != nil {
		s.writeMappedError(w, r, err)
		return identity.Principal{}, false
	}
	return principal, true
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("request_id", requestIDFrom(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", writer.status),
			slog.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
