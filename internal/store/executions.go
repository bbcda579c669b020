package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Mutter0815/DripMailer/internal/model"
)

const executionCols = `id, campaign_id, step_index, contact_email,
	service_name, subject, sender_name, sender_email, html_body,
	schedule_at, status, sent_at, error, created_at`

func scanExecution(row interface{ Scan(...any) error }) (*model.Execution, error) {
	var (
		e      model.Execution
		errMsg *string
	)
	err := row.Scan(&e.ID, &e.CampaignID, &e.StepIndex, &e.ContactEmail,
		&e.Content.ServiceName, &e.Content.Subject, &e.Content.SenderName,
		&e.Content.SenderEmail, &e.Content.HTMLBody,
		&e.ScheduleAt, &e.Status, &e.SentAt, &errMsg, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if errMsg != nil {
		e.Error = *errMsg
	}
	return &e, nil
}

// InsertExecution runs on q when given (the start transaction) and on the
// plain DB otherwise (the processor chaining a next step).
func (s *Store) InsertExecution(ctx context.Context, q DBTX, e *model.Execution) error {
	if q == nil {
		q = s.DB
	}
	return q.QueryRowContext(ctx, `
		INSERT INTO executions
			(id, campaign_id, step_index, contact_email,
			 service_name, subject, sender_name, sender_email, html_body,
			 schedule_at, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at
	`, e.ID, e.CampaignID, e.StepIndex, e.ContactEmail,
		e.Content.ServiceName, e.Content.Subject, e.Content.SenderName,
		e.Content.SenderEmail, e.Content.HTMLBody,
		e.ScheduleAt, e.Status).Scan(&e.CreatedAt)
}

func (s *Store) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	e, err := scanExecution(s.DB.QueryRowContext(ctx,
		`SELECT `+executionCols+` FROM executions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("execution", id, err)
	}
	return e, nil
}

// ClaimExecution transitions status only if the row is still in `from`,
// reporting whether this caller won the claim. Two concurrent fires on the
// same execution resolve to a single send through this.
func (s *Store) ClaimExecution(ctx context.Context, id string, from, to model.ExecutionStatus) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE executions SET status=$3 WHERE id=$1 AND status=$2
	`, id, from, to)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) MarkExecutionSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE executions SET status='sent', sent_at=$2, error=NULL WHERE id=$1
	`, id, sentAt)
	return err
}

func (s *Store) MarkExecutionFailed(ctx context.Context, id, errMsg string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE executions SET status='failed', error=$2 WHERE id=$1
	`, id, errMsg)
	return err
}

func (s *Store) MarkExecutionSkipped(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE executions SET status='skipped' WHERE id=$1
	`, id)
	return err
}

// SkipScheduledExecutions resolves every still-scheduled execution of a
// campaign to skipped, returning the ids so pending timers can be dropped.
func (s *Store) SkipScheduledExecutions(ctx context.Context, campaignID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
		UPDATE executions SET status='skipped'
		WHERE campaign_id=$1 AND status='scheduled'
		RETURNING id
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) ListExecutionsByStatus(ctx context.Context, campaignID string, status model.ExecutionStatus) ([]model.Execution, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+executionCols+` FROM executions
		 WHERE campaign_id = $1 AND status = $2
		 ORDER BY schedule_at`, campaignID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExecutions(rows)
}

// ListPendingExecutions feeds boot recovery: every scheduled execution
// whose campaign is still running.
func (s *Store) ListPendingExecutions(ctx context.Context) ([]model.Execution, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT e.id, e.campaign_id, e.step_index, e.contact_email,
		       e.service_name, e.subject, e.sender_name, e.sender_email, e.html_body,
		       e.schedule_at, e.status, e.sent_at, e.error, e.created_at
		FROM executions e
		JOIN campaigns c ON c.id = e.campaign_id
		WHERE e.status = 'scheduled' AND c.status = 'running'
		ORDER BY e.schedule_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExecutions(rows)
}

func (s *Store) CountExecutionsInStatuses(ctx context.Context, campaignID string, statuses ...model.ExecutionStatus) (int, error) {
	ss := make([]string, len(statuses))
	for i, st := range statuses {
		ss[i] = string(st)
	}
	var n int
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM executions
		WHERE campaign_id = $1 AND status = ANY($2)
	`, campaignID, stringSlice(ss)).Scan(&n)
	return n, err
}

// ExecutionFilter narrows the execution listing; zero values mean "any".
type ExecutionFilter struct {
	OwnerID    string
	CampaignID string
	Status     model.ExecutionStatus
	StepIndex  *int
	Email      string // substring, case-insensitive
	Page       int
	PerPage    int
	SortBy     string
	Order      string
}

var executionSortCols = map[string]string{
	"scheduleAt": "e.schedule_at",
	"sentAt":     "e.sent_at",
	"createdAt":  "e.created_at",
	"stepIndex":  "e.step_index",
	"status":     "e.status",
	"email":      "e.contact_email",
}

// ListExecutions returns one page plus the total match count. Ownership is
// enforced through the campaign join.
func (s *Store) ListExecutions(ctx context.Context, f ExecutionFilter) ([]model.Execution, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}
	sortCol, ok := executionSortCols[f.SortBy]
	if !ok {
		sortCol = "e.schedule_at"
	}
	dir := "ASC"
	if strings.EqualFold(f.Order, "desc") {
		dir = "DESC"
	}

	where := []string{"c.owner_id = $1"}
	args := []any{f.OwnerID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.CampaignID != "" {
		add("e.campaign_id = $%d", f.CampaignID)
	}
	if f.Status != "" {
		add("e.status = $%d", f.Status)
	}
	if f.StepIndex != nil {
		add("e.step_index = $%d", *f.StepIndex)
	}
	if f.Email != "" {
		add("e.contact_email ILIKE $%d", "%"+f.Email+"%")
	}
	cond := strings.Join(where, " AND ")

	var total int
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM executions e
		JOIN campaigns c ON c.id = e.campaign_id
		WHERE `+cond, args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	limArgs := append(args, f.PerPage, (f.Page-1)*f.PerPage)
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT e.id, e.campaign_id, e.step_index, e.contact_email,
		       e.service_name, e.subject, e.sender_name, e.sender_email, e.html_body,
		       e.schedule_at, e.status, e.sent_at, e.error, e.created_at
		FROM executions e
		JOIN campaigns c ON c.id = e.campaign_id
		WHERE %s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d`, cond, sortCol, dir, len(args)+1, len(args)+2), limArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out, err := collectExecutions(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func collectExecutions(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]model.Execution, error) {
	var out []model.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}
