package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// Hash field names of the current-format record.
const (
	FieldChallengeID         = "challengeId"
	FieldWord                = "word"
	FieldNormalizedWord      = "normalizedWord"
	FieldWordListID          = "wordListId"
	FieldAuthorID            = "authorId"
	FieldAuthorName          = "authorName"
	FieldCreatedAt           = "createdAt"
	FieldDrawing             = "drawing"
	FieldPinnedCommentID     = "pinnedCommentId"
	FieldLastCommentUpdateAt = "lastCommentUpdateAt"
	FieldPendingUpdateJobID  = "pendingUpdateJobId"
)

// ChallengeRecord is the current data shape of one drawing challenge.
type ChallengeRecord struct {
	ChallengeID         string    `json:"challengeId"`
	Word                string    `json:"word"`
	NormalizedWord      string    `json:"normalizedWord"`
	WordListID          string    `json:"wordListId,omitempty"`
	AuthorID            string    `json:"authorId"`
	AuthorName          string    `json:"authorName"`
	CreatedAt           time.Time `json:"createdAt"`
	Drawing             Drawing   `json:"drawing"`
	PinnedCommentID     string    `json:"pinnedCommentId,omitempty"`
	LastCommentUpdateAt time.Time `json:"lastCommentUpdateAt,omitzero"`
	PendingUpdateJobID  string    `json:"pendingUpdateJobId,omitempty"`
}

func (r ChallengeRecord) ToHash() map[string]string {
	drawing, _ := json.Marshal(r.Drawing)
	fields := map[string]string{
		FieldChallengeID:    r.ChallengeID,
		FieldWord:           r.Word,
		FieldNormalizedWord: r.NormalizedWord,
		FieldWordListID:     r.WordListID,
		FieldAuthorID:       r.AuthorID,
		FieldAuthorName:     r.AuthorName,
		FieldCreatedAt:      formatMillis(r.CreatedAt),
		FieldDrawing:        string(drawing),
	}
	if r.PinnedCommentID != "" {
		fields[FieldPinnedCommentID] = r.PinnedCommentID
	}
	if !r.LastCommentUpdateAt.IsZero() {
		fields[FieldLastCommentUpdateAt] = formatMillis(r.LastCommentUpdateAt)
	}
	if r.PendingUpdateJobID != "" {
		fields[FieldPendingUpdateJobID] = r.PendingUpdateJobID
	}
	return fields
}

// ChallengeFromHash returns ok=false for an empty hash (no record).
func ChallengeFromHash(fields map[string]string) (ChallengeRecord, bool) {
	if len(fields) == 0 || fields[FieldChallengeID] == "" {
		return ChallengeRecord{}, false
	}
	rec := ChallengeRecord{
		ChallengeID:         fields[FieldChallengeID],
		Word:                fields[FieldWord],
		NormalizedWord:      fields[FieldNormalizedWord],
		WordListID:          fields[FieldWordListID],
		AuthorID:            fields[FieldAuthorID],
		AuthorName:          fields[FieldAuthorName],
		CreatedAt:           parseMillis(fields[FieldCreatedAt]),
		PinnedCommentID:     fields[FieldPinnedCommentID],
		LastCommentUpdateAt: parseMillis(fields[FieldLastCommentUpdateAt]),
		PendingUpdateJobID:  fields[FieldPendingUpdateJobID],
	}
	if raw := fields[FieldDrawing]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &rec.Drawing)
	}
	return rec, true
}

// DecodeCurrentPayload accepts a metadata payload only when it already
// carries the current record shape.
func DecodeCurrentPayload(payload []byte) (ChallengeRecord, bool) {
	if len(payload) == 0 {
		return ChallengeRecord{}, false
	}
	var rec ChallengeRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return ChallengeRecord{}, false
	}
	if rec.ChallengeID == "" || rec.Word == "" || rec.AuthorID == "" {
		return ChallengeRecord{}, false
	}
	return rec, true
}

func FormatMillis(t time.Time) string {
	return formatMillis(t)
}

func formatMillis(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
