package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Mutter0815/DripMailer/internal/apperr"
	"github.com/Mutter0815/DripMailer/internal/model"
)

func (s *Store) InsertBulkJob(ctx context.Context, j *model.BulkJob) error {
	accounts, err := json.Marshal(j.AccountIDs)
	if err != nil {
		return err
	}
	return s.DB.QueryRowContext(ctx, `
		INSERT INTO bulk_jobs
			(id, owner_id, service_name, subject, sender_name, sender_email,
			 html_body, account_ids, total, sent_count, failed_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,0)
		RETURNING created_at
	`, j.ID, j.OwnerID, j.Content.ServiceName, j.Content.Subject,
		j.Content.SenderName, j.Content.SenderEmail, j.Content.HTMLBody,
		accounts, j.Total).Scan(&j.CreatedAt)
}

func (s *Store) GetBulkJob(ctx context.Context, id string) (*model.BulkJob, error) {
	var (
		j        model.BulkJob
		accounts []byte
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, owner_id, service_name, subject, sender_name, sender_email,
		       html_body, account_ids, total, sent_count, failed_count,
		       bookmarked, created_at
		FROM bulk_jobs
		WHERE id = $1
	`, id).Scan(&j.ID, &j.OwnerID, &j.Content.ServiceName, &j.Content.Subject,
		&j.Content.SenderName, &j.Content.SenderEmail, &j.Content.HTMLBody,
		&accounts, &j.Total, &j.SentCount, &j.FailedCount,
		&j.Bookmarked, &j.CreatedAt)
	if err != nil {
		return nil, notFound("bulk job", id, err)
	}
	if len(accounts) > 0 {
		if err := json.Unmarshal(accounts, &j.AccountIDs); err != nil {
			return nil, err
		}
	}
	return &j, nil
}

// AddBulkCounts bumps the job counters in place. Sends complete out of
// order across transports, so the increment happens in SQL, not in a
// read-modify-write round trip.
func (s *Store) AddBulkCounts(ctx context.Context, id string, sent, failed int) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE bulk_jobs
		   SET sent_count = sent_count + $2,
		       failed_count = failed_count + $3
		 WHERE id = $1
	`, id, sent, failed)
	return err
}

func (s *Store) InsertSendRecord(ctx context.Context, r *model.SendRecord) error {
	return s.DB.QueryRowContext(ctx, `
		INSERT INTO send_records (id, job_id, email, status, error)
		VALUES ($1,$2,$3,$4,NULLIF($5,''))
		RETURNING created_at
	`, r.ID, r.JobID, r.Email, r.Status, r.Error).Scan(&r.CreatedAt)
}

func (s *Store) MarkSendRecordFailed(ctx context.Context, id, errMsg string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE send_records SET status='failed', error=$2 WHERE id=$1
	`, id, errMsg)
	return err
}

func (s *Store) InsertScheduledJob(ctx context.Context, j *model.ScheduledJob) error {
	accounts, err := json.Marshal(j.AccountIDs)
	if err != nil {
		return err
	}
	recipients, err := json.Marshal(j.Recipients)
	if err != nil {
		return err
	}
	return s.DB.QueryRowContext(ctx, `
		INSERT INTO scheduled_jobs
			(id, owner_id, template_id, service_name, subject, sender_name,
			 sender_email, html_body, account_ids, recipients, schedule_at,
			 status, total)
		VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at
	`, j.ID, j.OwnerID, j.TemplateID, j.Content.ServiceName, j.Content.Subject,
		j.Content.SenderName, j.Content.SenderEmail, j.Content.HTMLBody,
		accounts, recipients, j.ScheduleAt, j.Status, j.Total).Scan(&j.CreatedAt)
}

const scheduledJobCols = `id, owner_id, COALESCE(template_id,''), service_name,
	subject, sender_name, sender_email, html_body, account_ids, recipients,
	schedule_at, status, total, sent_count, failed_count, created_at`

func scanScheduledJob(row interface{ Scan(...any) error }) (*model.ScheduledJob, error) {
	var (
		j          model.ScheduledJob
		accounts   []byte
		recipients []byte
	)
	err := row.Scan(&j.ID, &j.OwnerID, &j.TemplateID, &j.Content.ServiceName,
		&j.Content.Subject, &j.Content.SenderName, &j.Content.SenderEmail,
		&j.Content.HTMLBody, &accounts, &recipients,
		&j.ScheduleAt, &j.Status, &j.Total, &j.SentCount, &j.FailedCount, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(accounts) > 0 {
		if err := json.Unmarshal(accounts, &j.AccountIDs); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal(recipients, &j.Recipients); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *Store) GetScheduledJob(ctx context.Context, id string) (*model.ScheduledJob, error) {
	j, err := scanScheduledJob(s.DB.QueryRowContext(ctx,
		`SELECT `+scheduledJobCols+` FROM scheduled_jobs WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("scheduled job", id, err)
	}
	return j, nil
}

func (s *Store) ListScheduledJobs(ctx context.Context, ownerID string) ([]model.ScheduledJob, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+scheduledJobCols+` FROM scheduled_jobs
		 WHERE owner_id = $1 ORDER BY schedule_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ScheduledJob
	for rows.Next() {
		j, err := scanScheduledJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// ClaimScheduledJob moves scheduled -> processing, reporting whether this
// caller won. A lost race means another fire already owns the job.
func (s *Store) ClaimScheduledJob(ctx context.Context, id string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE scheduled_jobs SET status='processing'
		WHERE id=$1 AND status='scheduled'
	`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) MarkScheduledJob(ctx context.Context, id string, status model.JobStatus) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE scheduled_jobs SET status=$2 WHERE id=$1
	`, id, status)
	return err
}

// RescheduleScheduledJob rewrites schedule_at while the job is still
// scheduled; anything later is too far along to move.
func (s *Store) RescheduleScheduledJob(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE scheduled_jobs SET schedule_at=$2
		WHERE id=$1 AND status='scheduled'
	`, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) DeleteScheduledJob(ctx context.Context, id, ownerID string) error {
	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM scheduled_jobs
		WHERE id=$1 AND owner_id=$2 AND status='scheduled'
	`, id, ownerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("scheduled job", id)
	}
	return nil
}

func (s *Store) ListPendingScheduledJobs(ctx context.Context) ([]model.ScheduledJob, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+scheduledJobCols+` FROM scheduled_jobs
		 WHERE status = 'scheduled' ORDER BY schedule_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ScheduledJob
	for rows.Next() {
		j, err := scanScheduledJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}
