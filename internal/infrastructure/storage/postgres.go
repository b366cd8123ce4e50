package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/ports"
)

// PostgresStore persists drafts, publication jobs, failure audit rows and
// semantic fingerprints in Postgres. All timestamps are stored in UTC.
type PostgresStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var (
	_ ports.DraftStore   = (*PostgresStore)(nil)
	_ ports.JobStore     = (*PostgresStore)(nil)
	_ ports.FailureStore = (*PostgresStore)(nil)
	_ ports.VectorStore  = (*PostgresStore)(nil)
)

// NewPostgresStore wires a sql.DB implementation and ensures the schema.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS drafts (
			id               TEXT PRIMARY KEY,
			state            TEXT NOT NULL,
			source_url       TEXT NOT NULL,
			normalized_url   TEXT NOT NULL,
			domain           TEXT NOT NULL DEFAULT '',
			source_name      TEXT NOT NULL DEFAULT '',
			title            TEXT NOT NULL DEFAULT '',
			body             TEXT NOT NULL DEFAULT '',
			image_url        TEXT NOT NULL DEFAULT '',
			url_hash         TEXT NOT NULL,
			post_chat_id     BIGINT,
			post_topic_id    BIGINT,
			post_message_id  BIGINT,
			card_chat_id     BIGINT,
			card_topic_id    BIGINT,
			card_message_id  BIGINT,
			pub_chat_id      BIGINT,
			pub_message_id   BIGINT,
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL,
			published_at     TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS drafts_url_hash_idx ON drafts (url_hash)`,
		`CREATE INDEX IF NOT EXISTS drafts_state_idx ON drafts (state)`,
		`CREATE TABLE IF NOT EXISTS scheduled_jobs (
			draft_id        TEXT PRIMARY KEY REFERENCES drafts (id),
			target_time     TIMESTAMPTZ NOT NULL,
			next_run_at     TIMESTAMPTZ NOT NULL,
			status          TEXT NOT NULL,
			attempt_count   INT NOT NULL DEFAULT 0,
			max_attempts    INT NOT NULL,
			last_attempt_at TIMESTAMPTZ,
			last_error      TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS scheduled_jobs_due_idx ON scheduled_jobs (status, next_run_at)`,
		`CREATE TABLE IF NOT EXISTS publish_failures (
			id          BIGSERIAL PRIMARY KEY,
			draft_id    TEXT NOT NULL,
			context     TEXT NOT NULL,
			attempt     INT NOT NULL,
			message     TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			resolved    BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS publish_failures_draft_idx ON publish_failures (draft_id)`,
		`CREATE TABLE IF NOT EXISTS fingerprint_vectors (
			url_hash       TEXT PRIMARY KEY,
			normalized_url TEXT NOT NULL,
			domain         TEXT NOT NULL DEFAULT '',
			vector         DOUBLE PRECISION[] NOT NULL,
			stored_at      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS fingerprint_vectors_stored_idx ON fingerprint_vectors (stored_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

var draftColumns = []string{
	"id", "state", "source_url", "normalized_url", "domain", "source_name",
	"title", "body", "image_url", "url_hash",
	"post_chat_id", "post_topic_id", "post_message_id",
	"card_chat_id", "card_topic_id", "card_message_id",
	"pub_chat_id", "pub_message_id",
	"created_at", "updated_at", "published_at",
}

// CreateDraft inserts a new draft row.
func (s *PostgresStore) CreateDraft(ctx context.Context, draft domain.Draft) error {
	query, args, err := s.sb.Insert("drafts").
		Columns(draftColumns...).
		Values(draftValues(draft)...).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert draft: %w", err)
	}
	return nil
}

// GetDraft returns the draft or domain.ErrNotFound.
func (s *PostgresStore) GetDraft(ctx context.Context, id string) (domain.Draft, error) {
	query, args, err := s.sb.Select(draftColumns...).
		From("drafts").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.Draft{}, fmt.Errorf("build select: %w", err)
	}

	draft, err := scanDraft(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Draft{}, fmt.Errorf("draft %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Draft{}, fmt.Errorf("scan draft: %w", err)
	}

	vec, err := s.draftVector(ctx, draft.Fingerprint.URLHash)
	if err != nil {
		return domain.Draft{}, err
	}
	draft.Fingerprint.Vector = vec
	return draft, nil
}

// UpdateDraft replaces the row only while its stored state equals expect.
func (s *PostgresStore) UpdateDraft(ctx context.Context, draft domain.Draft, expect domain.DraftState) error {
	values := map[string]any{
		"state":          string(draft.State),
		"source_url":     draft.SourceURL,
		"normalized_url": draft.NormalizedURL,
		"domain":         draft.Domain,
		"source_name":    draft.SourceName,
		"title":          draft.Content.Title,
		"body":           draft.Content.Body,
		"image_url":      draft.Content.ImageURL,
		"url_hash":       draft.Fingerprint.URLHash,
		"updated_at":     draft.UpdatedAt,
		"published_at":   nullTime(draft.PublishedAt),
	}
	for col, val := range representationValues(draft.Representation) {
		values[col] = val
	}
	for col, val := range publishedRefValues(draft.PublishedRef) {
		values[col] = val
	}

	query, args, err := s.sb.Update("drafts").
		SetMap(values).
		Where(sq.Eq{"id": draft.ID, "state": string(expect)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update draft: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// Either the row is gone or another writer moved the state.
		if _, getErr := s.GetDraft(ctx, draft.ID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("draft %s changed state, expected %s: %w", draft.ID, expect, domain.ErrStateConflict)
	}
	return nil
}

// FindDraftByURLHash looks up a non-archived draft with the given hash.
func (s *PostgresStore) FindDraftByURLHash(ctx context.Context, hash string) (domain.Draft, bool, error) {
	query, args, err := s.sb.Select(draftColumns...).
		From("drafts").
		Where(sq.Eq{"url_hash": hash}).
		Where(sq.NotEq{"state": string(domain.StateArchive)}).
		Limit(1).
		ToSql()
	if err != nil {
		return domain.Draft{}, false, fmt.Errorf("build select: %w", err)
	}

	draft, err := scanDraft(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Draft{}, false, nil
	}
	if err != nil {
		return domain.Draft{}, false, fmt.Errorf("scan draft: %w", err)
	}
	return draft, true, nil
}

var jobColumns = []string{
	"draft_id", "target_time", "next_run_at", "status",
	"attempt_count", "max_attempts", "last_attempt_at", "last_error",
	"created_at", "updated_at",
}

// CreateJob inserts a job row; a still-active job for the draft wins.
func (s *PostgresStore) CreateJob(ctx context.Context, job domain.ScheduledJob) error {
	query, args, err := s.sb.Insert("scheduled_jobs").
		Columns(jobColumns...).
		Values(
			job.DraftID, job.TargetTime, job.NextRunAt, string(job.Status),
			job.AttemptCount, job.MaxAttempts, nullTime(job.LastAttemptAt), job.LastError,
			job.CreatedAt, job.UpdatedAt,
		).
		Suffix(`ON CONFLICT (draft_id) DO UPDATE SET
			target_time = EXCLUDED.target_time,
			next_run_at = EXCLUDED.next_run_at,
			status = EXCLUDED.status,
			attempt_count = EXCLUDED.attempt_count,
			max_attempts = EXCLUDED.max_attempts,
			last_attempt_at = EXCLUDED.last_attempt_at,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
			WHERE scheduled_jobs.status NOT IN ('SCHEDULED', 'EXECUTING')`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("draft %s already has an active job", job.DraftID)
	}
	return nil
}

// GetJob returns the job or domain.ErrJobNotFound.
func (s *PostgresStore) GetJob(ctx context.Context, draftID string) (domain.ScheduledJob, error) {
	query, args, err := s.sb.Select(jobColumns...).
		From("scheduled_jobs").
		Where(sq.Eq{"draft_id": draftID}).
		ToSql()
	if err != nil {
		return domain.ScheduledJob{}, fmt.Errorf("build select: %w", err)
	}

	job, err := scanJob(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScheduledJob{}, fmt.Errorf("draft %s: %w", draftID, domain.ErrJobNotFound)
	}
	if err != nil {
		return domain.ScheduledJob{}, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// UpdateJob replaces the job row.
func (s *PostgresStore) UpdateJob(ctx context.Context, job domain.ScheduledJob) error {
	query, args, err := s.sb.Update("scheduled_jobs").
		SetMap(map[string]any{
			"target_time":     job.TargetTime,
			"next_run_at":     job.NextRunAt,
			"status":          string(job.Status),
			"attempt_count":   job.AttemptCount,
			"max_attempts":    job.MaxAttempts,
			"last_attempt_at": nullTime(job.LastAttemptAt),
			"last_error":      job.LastError,
			"updated_at":      job.UpdatedAt,
		}).
		Where(sq.Eq{"draft_id": job.DraftID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("draft %s: %w", job.DraftID, domain.ErrJobNotFound)
	}
	return nil
}

// ListDueJobs returns SCHEDULED jobs due at or before now, oldest first.
func (s *PostgresStore) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledJob, error) {
	builder := s.sb.Select(jobColumns...).
		From("scheduled_jobs").
		Where(sq.Eq{"status": string(domain.JobScheduled)}).
		Where(sq.LtOrEq{"next_run_at": now}).
		OrderBy("next_run_at ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return s.queryJobs(ctx, builder)
}

// ListStuckJobs returns EXECUTING jobs whose attempt started before cutoff.
func (s *PostgresStore) ListStuckJobs(ctx context.Context, cutoff time.Time, limit int) ([]domain.ScheduledJob, error) {
	builder := s.sb.Select(jobColumns...).
		From("scheduled_jobs").
		Where(sq.Eq{"status": string(domain.JobExecuting)}).
		Where(sq.Lt{"last_attempt_at": cutoff}).
		OrderBy("last_attempt_at ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return s.queryJobs(ctx, builder)
}

// ListFailedJobs returns jobs waiting on operator intervention.
func (s *PostgresStore) ListFailedJobs(ctx context.Context) ([]domain.ScheduledJob, error) {
	builder := s.sb.Select(jobColumns...).
		From("scheduled_jobs").
		Where(sq.Eq{"status": string(domain.JobFailed)}).
		OrderBy("draft_id ASC")
	return s.queryJobs(ctx, builder)
}

func (s *PostgresStore) queryJobs(ctx context.Context, builder sq.SelectBuilder) ([]domain.ScheduledJob, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return jobs, nil
}

// RecordFailure appends an audit row.
func (s *PostgresStore) RecordFailure(ctx context.Context, failure domain.PublishFailure) error {
	query, args, err := s.sb.Insert("publish_failures").
		Columns("draft_id", "context", "attempt", "message", "occurred_at", "resolved").
		Values(failure.DraftID, string(failure.Context), failure.Attempt, failure.Message, failure.OccurredAt, failure.Resolved).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert failure: %w", err)
	}
	return nil
}

// ResolveFailures marks all failures for the draft as resolved.
func (s *PostgresStore) ResolveFailures(ctx context.Context, draftID string) error {
	query, args, err := s.sb.Update("publish_failures").
		Set("resolved", true).
		Where(sq.Eq{"draft_id": draftID, "resolved": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("resolve failures: %w", err)
	}
	return nil
}

// SaveVector upserts a semantic fingerprint keyed by URL hash.
func (s *PostgresStore) SaveVector(ctx context.Context, vec domain.StoredVector) error {
	query, args, err := s.sb.Insert("fingerprint_vectors").
		Columns("url_hash", "normalized_url", "domain", "vector", "stored_at").
		Values(vec.URLHash, vec.NormalizedURL, vec.Domain, pq.Float64Array(vec.Vector), vec.StoredAt).
		Suffix(`ON CONFLICT (url_hash) DO UPDATE SET
			normalized_url = EXCLUDED.normalized_url,
			domain = EXCLUDED.domain,
			vector = EXCLUDED.vector,
			stored_at = EXCLUDED.stored_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert vector: %w", err)
	}
	return nil
}

// RecentVectors returns vectors stored at or after since, newest first.
func (s *PostgresStore) RecentVectors(ctx context.Context, since time.Time, limit int) ([]domain.StoredVector, error) {
	builder := s.sb.Select("url_hash", "normalized_url", "domain", "vector", "stored_at").
		From("fingerprint_vectors").
		Where(sq.GtOrEq{"stored_at": since}).
		OrderBy("stored_at DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	var vectors []domain.StoredVector
	for rows.Next() {
		var vec domain.StoredVector
		var raw pq.Float64Array
		if err := rows.Scan(&vec.URLHash, &vec.NormalizedURL, &vec.Domain, &raw, &vec.StoredAt); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		vec.Vector = []float64(raw)
		vectors = append(vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return vectors, nil
}

func (s *PostgresStore) draftVector(ctx context.Context, urlHash string) ([]float64, error) {
	if urlHash == "" {
		return nil, nil
	}
	query, args, err := s.sb.Select("vector").
		From("fingerprint_vectors").
		Where(sq.Eq{"url_hash": urlHash}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var raw pq.Float64Array
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan vector: %w", err)
	}
	return []float64(raw), nil
}

func draftValues(draft domain.Draft) []any {
	rep := representationValues(draft.Representation)
	ref := publishedRefValues(draft.PublishedRef)
	return []any{
		draft.ID, string(draft.State), draft.SourceURL, draft.NormalizedURL,
		draft.Domain, draft.SourceName,
		draft.Content.Title, draft.Content.Body, draft.Content.ImageURL,
		draft.Fingerprint.URLHash,
		rep["post_chat_id"], rep["post_topic_id"], rep["post_message_id"],
		rep["card_chat_id"], rep["card_topic_id"], rep["card_message_id"],
		ref["pub_chat_id"], ref["pub_message_id"],
		draft.CreatedAt, draft.UpdatedAt, nullTime(draft.PublishedAt),
	}
}

func representationValues(rep *domain.Representation) map[string]any {
	out := map[string]any{
		"post_chat_id": nil, "post_topic_id": nil, "post_message_id": nil,
		"card_chat_id": nil, "card_topic_id": nil, "card_message_id": nil,
	}
	if rep == nil {
		return out
	}
	out["post_chat_id"] = rep.Post.ChatID
	out["post_topic_id"] = rep.Post.TopicID
	out["post_message_id"] = rep.Post.MessageID
	out["card_chat_id"] = rep.Card.ChatID
	out["card_topic_id"] = rep.Card.TopicID
	out["card_message_id"] = rep.Card.MessageID
	return out
}

func publishedRefValues(ref *domain.MessageRef) map[string]any {
	out := map[string]any{"pub_chat_id": nil, "pub_message_id": nil}
	if ref == nil {
		return out
	}
	out["pub_chat_id"] = ref.ChatID
	out["pub_message_id"] = ref.MessageID
	return out
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraft(row rowScanner) (domain.Draft, error) {
	var (
		draft       domain.Draft
		state       string
		postChat    sql.NullInt64
		postTopic   sql.NullInt64
		postMsg     sql.NullInt64
		cardChat    sql.NullInt64
		cardTopic   sql.NullInt64
		cardMsg     sql.NullInt64
		pubChat     sql.NullInt64
		pubMsg      sql.NullInt64
		publishedAt sql.NullTime
	)
	err := row.Scan(
		&draft.ID, &state, &draft.SourceURL, &draft.NormalizedURL,
		&draft.Domain, &draft.SourceName,
		&draft.Content.Title, &draft.Content.Body, &draft.Content.ImageURL,
		&draft.Fingerprint.URLHash,
		&postChat, &postTopic, &postMsg,
		&cardChat, &cardTopic, &cardMsg,
		&pubChat, &pubMsg,
		&draft.CreatedAt, &draft.UpdatedAt, &publishedAt,
	)
	if err != nil {
		return domain.Draft{}, err
	}

	draft.State = domain.DraftState(state)
	if postChat.Valid && cardChat.Valid {
		draft.Representation = &domain.Representation{
			Post: domain.MessageRef{ChatID: postChat.Int64, TopicID: postTopic.Int64, MessageID: postMsg.Int64},
			Card: domain.MessageRef{ChatID: cardChat.Int64, TopicID: cardTopic.Int64, MessageID: cardMsg.Int64},
		}
	}
	if pubChat.Valid {
		draft.PublishedRef = &domain.MessageRef{ChatID: pubChat.Int64, MessageID: pubMsg.Int64}
	}
	if publishedAt.Valid {
		draft.PublishedAt = publishedAt.Time
	}
	return draft, nil
}

func scanJob(row rowScanner) (domain.ScheduledJob, error) {
	var (
		job         domain.ScheduledJob
		status      string
		lastAttempt sql.NullTime
	)
	err := row.Scan(
		&job.DraftID, &job.TargetTime, &job.NextRunAt, &status,
		&job.AttemptCount, &job.MaxAttempts, &lastAttempt, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return domain.ScheduledJob{}, err
	}
	job.Status = domain.JobStatus(status)
	if lastAttempt.Valid {
		job.LastAttemptAt = lastAttempt.Time
	}
	return job, nil
}
