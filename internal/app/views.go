package app

import (
	"time"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/autosave"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/identity"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/lifecycle"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
)

type sessionView struct {
	Token          string    `json:"token,omitempty"`
	ContributorKey string    `json:"contributorKey"`
	DisplayName    string    `json:"displayName"`
	Role           string    `json:"role"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

func toSessionView(s identity.Session) sessionView {
	return sessionView{
		Token:          s.Token,
		ContributorKey: s.ContributorKey,
		DisplayName:    s.DisplayName,
		Role:           s.Role,
		ExpiresAt:      s.ExpiresAt,
	}
}

type timeoutView struct {
	State            string `json:"state"`
	IdleSeconds      int64  `json:"idleSeconds"`
	ExpiresInSeconds int64  `json:"expiresInSeconds"`
	AutosaveDue      bool   `json:"autosaveDue"`
}

func toTimeoutView(d autosave.Decision) timeoutView {
	return timeoutView{
		State:            d.State.String(),
		IdleSeconds:      secondsOf(d.IdleFor),
		ExpiresInSeconds: secondsOf(d.ExpiresIn),
		AutosaveDue:      d.AutosaveDue,
	}
}

type draftView struct {
	ID         string          `json:"id"`
	FormType   string          `json:"formType"`
	Content    store.Content   `json:"content"`
	AudioFlags map[string]bool `json:"audioFlags"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

func toDraftView(d store.Draft) draftView {
	flags := d.AudioFlags
	if flags == nil {
		flags = map[string]bool{}
	}
	return draftView{
		ID:         d.ID,
		FormType:   d.FormType,
		Content:    d.Content,
		AudioFlags: flags,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

type recordView struct {
	ID             string            `json:"id"`
	ContributorKey string            `json:"contributorKey"`
	FormType       string            `json:"formType"`
	CreatedAt      time.Time         `json:"created_at"`
	CaseStartDate  string            `json:"case_start_date"`
	AmendedAt      *time.Time        `json:"amendedAt,omitempty"`
	Content        store.Content     `json:"content"`
	FollowUpStatus string            `json:"followUpStatus"`
	Transcripts    map[string]string `json:"transcripts,omitempty"`
}

func toRecordView(r store.Record) recordView {
	return recordView{
		ID:             r.ID,
		ContributorKey: r.ContributorKey,
		FormType:       r.FormType,
		CreatedAt:      r.CreatedAt,
		CaseStartDate:  r.CaseStartDate,
		AmendedAt:      r.AmendedAt,
		Content:        r.Content,
		FollowUpStatus: r.FollowUpStatus,
	}
}

func toRecordViews(records []store.Record) []recordView {
	out := make([]recordView, 0, len(records))
	for _, r := range records {
		out = append(out, toRecordView(r))
	}
	return out
}

type submitView struct {
	Record     recordView `json:"record"`
	Duplicate  bool       `json:"duplicate"`
	MediaMoved int64      `json:"mediaMoved"`
	Advisories []string   `json:"advisories"`
}

func toSubmitView(r lifecycle.FinalizeResult) submitView {
	advisories := r.Advisories
	if advisories == nil {
		advisories = []string{}
	}
	return submitView{
		Record:     toRecordView(r.Record),
		Duplicate:  r.Duplicate,
		MediaMoved: r.MediaMoved,
		Advisories: advisories,
	}
}

type audioView struct {
	QuestionID         string    `json:"questionId"`
	Version            int       `json:"version"`
	ContentType        string    `json:"contentType"`
	Size               int64     `json:"size"`
	OriginalTranscript *string   `json:"originalTranscript"`
	EditedTranscript   *string   `json:"editedTranscript"`
	Transcript         string    `json:"transcript"`
	TranscriptStatus   string    `json:"transcriptStatus"`
	TranscriptError    string    `json:"transcriptError,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

func toAudioView(v store.AudioVersion) audioView {
	return audioView{
		QuestionID:         v.QuestionID,
		Version:            v.Version,
		ContentType:        v.ContentType,
		Size:               v.Size,
		OriginalTranscript: v.OriginalTranscript,
		EditedTranscript:   v.EditedTranscript,
		Transcript:         v.Transcript(),
		TranscriptStatus:   v.TranscriptStatus,
		TranscriptError:    v.TranscriptError,
		CreatedAt:          v.CreatedAt,
	}
}

func toAudioViews(versions []store.AudioVersion) []audioView {
	out := make([]audioView, 0, len(versions))
	for _, v := range versions {
		out = append(out, toAudioView(v))
	}
	return out
}

type followUpView struct {
	ID                    string     `json:"id"`
	Category              string     `json:"category"`
	Ordinal               int        `json:"ordinal"`
	Text                  string     `json:"text"`
	AnswerText            string     `json:"answerText,omitempty"`
	AnswerAudioQuestionID string     `json:"answerAudioQuestionId,omitempty"`
	AnsweredAt            *time.Time `json:"answeredAt,omitempty"`
}

func toFollowUpView(q store.FollowUpQuestion) followUpView {
	return followUpView{
		ID:                    q.ID,
		Category:              q.Category,
		Ordinal:               q.Ordinal,
		Text:                  q.Text,
		AnswerText:            q.AnswerText,
		AnswerAudioQuestionID: q.AnswerAudioQuestionID,
		AnsweredAt:            q.AnsweredAt,
	}
}

func toFollowUpViews(questions []store.FollowUpQuestion) []followUpView {
	out := make([]followUpView, 0, len(questions))
	for _, q := range questions {
		out = append(out, toFollowUpView(q))
	}
	return out
}
