package lifecycle

import (
	"context"
	"fmt"
	"time"
)

// DraftSummary is what the resume banner shows for an unfinished draft.
type DraftSummary struct {
	DraftID   string    `json:"draftId"`
	FormType  string    `json:"formType"`
	Answered  int       `json:"answered"`
	Recorded  int       `json:"recorded"`
	UpdatedAt time.Time `json:"updatedAt"`
	LastSaved string    `json:"lastSaved"`
}

// Summary describes the contributor's draft for formType, or fails with
// failure.ErrNotFound when there is none.
func (m *Manager) Summary(ctx context.Context, contributorKey, formType string) (DraftSummary, error) {
	if err := m.checkFormType("draft summary", formType); err != nil {
		return DraftSummary{}, err
	}
	draft, err := m.store.GetDraft(ctx, contributorKey, formType)
	if err != nil {
		return DraftSummary{}, err
	}
	recorded := 0
	for _, present := range draft.AudioFlags {
		if present {
			recorded++
		}
	}
	return DraftSummary{
		DraftID:   draft.ID,
		FormType:  draft.FormType,
		Answered:  draft.Content.AnsweredCount(),
		Recorded:  recorded,
		UpdatedAt: draft.UpdatedAt,
		LastSaved: SavedAgo(m.now().Sub(draft.UpdatedAt)),
	}, nil
}

// SavedAgo renders an elapsed time the way the resume banner words it.
func SavedAgo(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute") + " ago"
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour") + " ago"
	default:
		return plural(int(d/(24*time.Hour)), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
