package store

import (
	"strings"
	"time"
)

const (
	RoleContributor = "contributor"
	RoleAdmin       = "admin"
)

// Follow-up batch states of a record.
const (
	FollowUpNone    = "none"
	FollowUpPending = "pending"
	FollowUpReady   = "ready"
	FollowUpFailed  = "failed"
)

// Transcript states of an audio version.
const (
	TranscriptPending = "pending"
	TranscriptReady   = "ready"
	TranscriptFailed  = "failed"
)

// MaxRecoveryAttempts bounds how often the sweeper retries a transcript or a
// follow-up batch before leaving it for an operator.
const MaxRecoveryAttempts = 5

type Contributor struct {
	Key         string
	DisplayName string
	PINHash     string
	Role        string
	LastOrdinal int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Demographics are the structured fields collected at the top of every form.
// Age, Gender, Race and State are required before a draft can be finalized.
type Demographics struct {
	Age                            string `json:"age,omitempty"`
	Gender                         string `json:"gender,omitempty"`
	Race                           string `json:"race,omitempty"`
	State                          string `json:"state,omitempty"`
	SNFName                        string `json:"snf_name,omitempty"`
	SNFDays                        string `json:"snf_days,omitempty"`
	ServicesDiscussed              string `json:"services_discussed,omitempty"`
	ServicesAccepted               string `json:"services_accepted,omitempty"`
	ServicesUtilizedAfterDischarge string `json:"services_utilized_after_discharge,omitempty"`
}

// Content is the full field set of a draft or record.
type Content struct {
	Demographics Demographics      `json:"demographics"`
	Answers      map[string]string `json:"answers,omitempty"`
}

// AnsweredCount counts narrative answers with non-blank text.
func (c Content) AnsweredCount() int {
	count := 0
	for _, answer := range c.Answers {
		if strings.TrimSpace(answer) != "" {
			count++
		}
	}
	return count
}

type Draft struct {
	ID             string
	ContributorKey string
	FormType       string
	Content        Content
	AudioFlags     map[string]bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Record struct {
	ID                string
	ContributorKey    string
	Ordinal           int
	FormType          string
	DraftID           string
	Content           Content
	CaseStartDate     string
	CreatedAt         time.Time
	AmendedAt         *time.Time
	FollowUpStatus    string
	FollowUpError     string
	FollowUpAttempts  int
	FollowUpUpdatedAt time.Time
}

type AudioVersion struct {
	OwnerRef           string
	QuestionID         string
	Version            int
	BlobKey            string
	ContentType        string
	Size               int64
	OriginalTranscript *string
	EditedTranscript   *string
	TranscriptStatus   string
	TranscriptError    string
	TranscriptAttempts int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Transcript returns the edited transcript, falling back to the original.
func (v AudioVersion) Transcript() string {
	if v.EditedTranscript != nil {
		return *v.EditedTranscript
	}
	if v.OriginalTranscript != nil {
		return *v.OriginalTranscript
	}
	return ""
}

type FollowUpQuestion struct {
	ID                    string
	RecordID              string
	Category              string
	Ordinal               int
	Text                  string
	AnswerText            string
	AnswerAudioQuestionID string
	AnsweredAt            *time.Time
	CreatedAt             time.Time
}

// Session is the server-side state behind an opaque session token.
type Session struct {
	TokenHash      string
	ContributorKey string
	IssuedAt       time.Time
	ExpiresAt      time.Time
	LastActivityAt time.Time
	LastAutosaveAt time.Time
	ExpiredAt      *time.Time
	RevokedAt      *time.Time
}

type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
