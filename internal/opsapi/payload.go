package opsapi

import (
	"time"

	"NewsCurator/internal/domain"
)

type messageRefPayload struct {
	ChatID    int64 `json:"chatId"`
	TopicID   int64 `json:"topicId,omitempty"`
	MessageID int64 `json:"messageId"`
}

type draftPayload struct {
	ID           string             `json:"id"`
	State        string             `json:"state"`
	SourceURL    string             `json:"sourceUrl"`
	SourceName   string             `json:"sourceName,omitempty"`
	Domain       string             `json:"domain,omitempty"`
	Title        string             `json:"title"`
	Body         string             `json:"body,omitempty"`
	ImageURL     string             `json:"imageUrl,omitempty"`
	Post         *messageRefPayload `json:"post,omitempty"`
	Card         *messageRefPayload `json:"card,omitempty"`
	PublishedRef *messageRefPayload `json:"publishedRef,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
	PublishedAt  *time.Time         `json:"publishedAt,omitempty"`
}

func draftResponse(draft domain.Draft) draftPayload {
	out := draftPayload{
		ID:         draft.ID,
		State:      string(draft.State),
		SourceURL:  draft.SourceURL,
		SourceName: draft.SourceName,
		Domain:     draft.Domain,
		Title:      draft.Content.Title,
		Body:       draft.Content.Body,
		ImageURL:   draft.Content.ImageURL,
		CreatedAt:  draft.CreatedAt,
		UpdatedAt:  draft.UpdatedAt,
	}
	if draft.Representation != nil {
		out.Post = refPayload(draft.Representation.Post)
		out.Card = refPayload(draft.Representation.Card)
	}
	if draft.PublishedRef != nil {
		out.PublishedRef = refPayload(*draft.PublishedRef)
	}
	if !draft.PublishedAt.IsZero() {
		at := draft.PublishedAt
		out.PublishedAt = &at
	}
	return out
}

func refPayload(ref domain.MessageRef) *messageRefPayload {
	return &messageRefPayload{ChatID: ref.ChatID, TopicID: ref.TopicID, MessageID: ref.MessageID}
}

type jobPayload struct {
	DraftID       string     `json:"draftId"`
	TargetTime    time.Time  `json:"targetTime"`
	NextRunAt     time.Time  `json:"nextRunAt"`
	Status        string     `json:"status"`
	AttemptCount  int        `json:"attemptCount"`
	MaxAttempts   int        `json:"maxAttempts"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
}

func jobResponse(job domain.ScheduledJob) jobPayload {
	out := jobPayload{
		DraftID:      job.DraftID,
		TargetTime:   job.TargetTime,
		NextRunAt:    job.NextRunAt,
		Status:       string(job.Status),
		AttemptCount: job.AttemptCount,
		MaxAttempts:  job.MaxAttempts,
		LastError:    job.LastError,
	}
	if !job.LastAttemptAt.IsZero() {
		at := job.LastAttemptAt
		out.LastAttemptAt = &at
	}
	return out
}
