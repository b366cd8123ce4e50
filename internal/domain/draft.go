package domain

import "time"

// DraftState enumerates moderation lifecycle states.
type DraftState string

const (
	StateInbox     DraftState = "INBOX"
	StateEditing   DraftState = "EDITING"
	StateReady     DraftState = "READY"
	StateScheduled DraftState = "SCHEDULED"
	StatePublished DraftState = "PUBLISHED"
	StateArchive   DraftState = "ARCHIVE"
	StateRejected  DraftState = "REJECTED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s DraftState) Terminal() bool {
	return s == StateArchive || s == StateRejected
}

// MessageRef points at a single transport message.
type MessageRef struct {
	ChatID    int64
	TopicID   int64
	MessageID int64
}

// Representation is the POST+CARD message pair mirroring one draft.
// A draft either owns a full pair or none; the pair is swapped atomically
// on every state move.
type Representation struct {
	Post MessageRef
	Card MessageRef
}

// Content is the human-visible part of a draft.
type Content struct {
	Title    string
	Body     string
	ImageURL string
}

// Empty reports whether the content carries nothing publishable.
func (c Content) Empty() bool {
	return c.Title == "" && c.Body == "" && c.ImageURL == ""
}

// Fingerprint is the deterministic identity of an ingested candidate.
type Fingerprint struct {
	URLHash string
	Vector  []float64
}

// Draft is a candidate post moving through moderation. Rows are never
// deleted; terminal states keep the record for audit.
type Draft struct {
	ID            string
	State         DraftState
	SourceURL     string
	NormalizedURL string
	Domain        string
	SourceName    string
	Content       Content
	Fingerprint   Fingerprint

	Representation *Representation
	PublishedRef   *MessageRef

	CreatedAt   time.Time
	UpdatedAt   time.Time
	PublishedAt time.Time
}

// Candidate is raw ingestion input before any draft exists.
type Candidate struct {
	URL         string
	Title       string
	Text        string
	ImageURL    string
	Source      string
	PublishedAt time.Time
}
