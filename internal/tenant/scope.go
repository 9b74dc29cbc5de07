package tenant

import (
	"context"
	"encoding/json"
	"time"

	"eruditiontx/tenancy/internal/model"
	"eruditiontx/tenancy/internal/repository"
)

// scopeDDL is the fixed table set making up one tenant's data scope.
func scopeDDL(schema string) []string {
	return []string{
		`CREATE SCHEMA IF NOT EXISTS ` + schema,
		`CREATE TABLE IF NOT EXISTS ` + schema + `.questions (
			id UUID PRIMARY KEY,
			subject TEXT NOT NULL DEFAULT '',
			question TEXT NOT NULL,
			options JSONB NOT NULL DEFAULT '[]',
			answer TEXT NOT NULL DEFAULT '',
			created_by UUID NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ` + schema + `.assignments (
			id UUID PRIMARY KEY,
			title TEXT NOT NULL,
			question_ids JSONB NOT NULL DEFAULT '[]',
			created_by UUID NOT NULL,
			due_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ` + schema + `.analytics (
			id UUID PRIMARY KEY,
			event TEXT NOT NULL,
			identity_id UUID NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ` + schema + `.classes (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			teacher_id UUID NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
}

type Question struct {
	ID        string
	Subject   string
	Question  string
	Options   []string
	Answer    string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type QuestionUpdate struct {
	Subject  *string
	Question *string
	Options  *[]string
	Answer   *string
}

// Scope is the handle over one tenant's isolated tables. All queries
// are qualified by the tenant's schema; a Scope never reads or writes
// outside it.
type Scope struct {
	schema string
	store  *repository.Store
}

// Scope returns the data-scope handle for a resolved tenant. Handlers
// must obtain the tenant through Resolve on verified claims, never from
// request input.
func (d *Directory) Scope(tenant model.Tenant) *Scope {
	return &Scope{schema: SchemaName(tenant.Code), store: d.store}
}

func (s *Scope) InsertQuestion(ctx context.Context, q Question) error {
	options, err := json.Marshal(q.Options)
	if err != nil {
		return err
	}
	_, err = s.store.Pool().Exec(ctx, `
		INSERT INTO `+s.schema+`.questions (id, subject, question, options, answer, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, q.ID, q.Subject, q.Question, options, q.Answer, q.CreatedBy, q.CreatedAt, q.UpdatedAt)
	return err
}

func (s *Scope) GetQuestion(ctx context.Context, questionID string) (Question, error) {
	row := s.store.Pool().QueryRow(ctx, `
		SELECT id, subject, question, options, answer, created_by, created_at, updated_at
		FROM `+s.schema+`.questions
		WHERE id = $1
	`, questionID)
	return scanQuestion(row)
}

func (s *Scope) ListQuestions(ctx context.Context, subject string, limit int) ([]Question, error) {
	query := `
		SELECT id, subject, question, options, answer, created_by, created_at, updated_at
		FROM ` + s.schema + `.questions`
	args := []any{limit}
	if subject != "" {
		query += ` WHERE subject = $2`
		args = append(args, subject)
	}
	query += ` ORDER BY created_at LIMIT $1`

	rows, err := s.store.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (s *Scope) UpdateQuestion(ctx context.Context, questionID string, update QuestionUpdate) (Question, error) {
	current, err := s.GetQuestion(ctx, questionID)
	if err != nil {
		return Question{}, err
	}
	if update.Subject != nil {
		current.Subject = *update.Subject
	}
	if update.Question != nil {
		current.Question = *update.Question
	}
	if update.Options != nil {
		current.Options = *update.Options
	}
	if update.Answer != nil {
		current.Answer = *update.Answer
	}
	current.UpdatedAt = time.Now().UTC()

	options, err := json.Marshal(current.Options)
	if err != nil {
		return Question{}, err
	}
	_, err = s.store.Pool().Exec(ctx, `
		UPDATE `+s.schema+`.questions
		SET subject = $1, question = $2, options = $3, answer = $4, updated_at = $5
		WHERE id = $6
	`, current.Subject, current.Question, options, current.Answer, current.UpdatedAt, questionID)
	if err != nil {
		return Question{}, err
	}
	return current, nil
}

func (s *Scope) DeleteQuestion(ctx context.Context, questionID string) (bool, error) {
	tag, err := s.store.Pool().Exec(ctx, `
		DELETE FROM `+s.schema+`.questions WHERE id = $1
	`, questionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RecordEvent appends to the tenant's analytics table. Failures are the
// caller's to ignore; analytics never blocks a request.
func (s *Scope) RecordEvent(ctx context.Context, id, event, identityID string) error {
	_, err := s.store.Pool().Exec(ctx, `
		INSERT INTO `+s.schema+`.analytics (id, event, identity_id, recorded_at)
		VALUES ($1, $2, $3, $4)
	`, id, event, identityID, time.Now().UTC())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (Question, error) {
	var q Question
	var options []byte
	err := row.Scan(&q.ID, &q.Subject, &q.Question, &options, &q.Answer, &q.CreatedBy, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return Question{}, err
	}
	if err := json.Unmarshal(options, &q.Options); err != nil {
		return Question{}, err
	}
	return q, nil
}
