package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/Mutter0815/DripMailer/internal/apperr"
	"github.com/Mutter0815/DripMailer/internal/model"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	return New(db), mock, func() { db.Close() }
}

func TestInsertCampaign(t *testing.T) {
	s, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta(`
		INSERT INTO campaigns (id, owner_id, name, description, steps, status)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING created_at
	`)).
		WithArgs("c1", "owner-1", "welcome", "", sqlmock.AnyArg(), "draft").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	c := &model.Campaign{
		ID: "c1", OwnerID: "owner-1", Name: "welcome",
		Steps:  []model.Step{{Subject: "hi", SenderEmail: "a@b.c", Body: "x"}},
		Status: model.CampaignDraft,
	}
	if err := s.InsertCampaign(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	if c.CreatedAt.IsZero() {
		t.Fatal("created_at not scanned back")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestStartCampaignTx_WithTx(t *testing.T) {
	s, mock, done := newMock(t)
	defer done()
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`
		UPDATE campaigns
		   SET recipients=$2, status='running', updated_at=$3
		 WHERE id=$1 AND status='draft'
	`)).
		WithArgs("c1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`
		INSERT INTO executions
	`)).
		WithArgs("e1", "c1", 0, "a@x.io", "", "hi", "", "a@b.c", "x",
			sqlmock.AnyArg(), "scheduled").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectCommit()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		started, err := s.StartCampaignTx(ctx, tx, "c1",
			[]model.Recipient{{Email: "a@x.io"}}, time.Now())
		if err != nil {
			return err
		}
		if !started {
			t.Fatal("want started=true for a draft")
		}
		return s.InsertExecution(ctx, tx, &model.Execution{
			ID: "e1", CampaignID: "c1", ContactEmail: "a@x.io",
			Content:    model.ContentSnapshot{Subject: "hi", SenderEmail: "a@b.c", HTMLBody: "x"},
			ScheduleAt: time.Now(),
			Status:     model.ExecutionScheduled,
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestStartCampaignTx_NotDraft(t *testing.T) {
	s, mock, done := newMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE campaigns`)).
		WithArgs("c1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		started, err := s.StartCampaignTx(context.Background(), tx, "c1", nil, time.Now())
		if err != nil {
			return err
		}
		if !started {
			return apperr.InvalidState("start", "running")
		}
		return nil
	})
	if !apperr.IsInvalidState(err) {
		t.Fatalf("err = %v, want invalid-state", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

// InsertExecution falls back to the plain DB when no transaction is given,
// the path the processor uses when chaining a next step.
func TestInsertExecution_NoTx(t *testing.T) {
	s, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO executions`)).
		WithArgs("e1", "c1", 1, "a@x.io", "", "hi", "", "a@b.c", "x",
			sqlmock.AnyArg(), "scheduled").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	err := s.InsertExecution(context.Background(), nil, &model.Execution{
		ID: "e1", CampaignID: "c1", StepIndex: 1, ContactEmail: "a@x.io",
		Content:    model.ContentSnapshot{Subject: "hi", SenderEmail: "a@b.c", HTMLBody: "x"},
		ScheduleAt: time.Now(),
		Status:     model.ExecutionScheduled,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestClaimExecution(t *testing.T) {
	s, mock, done := newMock(t)
	defer done()

	mock.ExpectExec(regexp.QuoteMeta(`
		UPDATE executions SET status=$3 WHERE id=$1 AND status=$2
	`)).
		WithArgs("e1", "scheduled", "processing").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`
		UPDATE executions SET status=$3 WHERE id=$1 AND status=$2
	`)).
		WithArgs("e1", "scheduled", "processing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := s.ClaimExecution(context.Background(), "e1",
		model.ExecutionScheduled, model.ExecutionProcessing)
	if err != nil || !won {
		t.Fatalf("first claim = (%v, %v), want won", won, err)
	}
	won, err = s.ClaimExecution(context.Background(), "e1",
		model.ExecutionScheduled, model.ExecutionProcessing)
	if err != nil || won {
		t.Fatalf("second claim = (%v, %v), want lost", won, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSkipScheduledExecutions(t *testing.T) {
	s, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta(`
		UPDATE executions SET status='skipped'
		WHERE campaign_id=$1 AND status='scheduled'
		RETURNING id
	`)).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("e1").AddRow("e2"))

	ids, err := s.SkipScheduledExecutions(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "e1" || ids[1] != "e2" {
		t.Fatalf("ids = %v", ids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetExecution_NotFound(t *testing.T) {
	s, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery(`SELECT .+ FROM executions WHERE id = \$1`).
		WithArgs("gone").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetExecution(context.Background(), "gone")
	if !apperr.IsNotFound(err) {
		t.Fatalf("err = %v, want not-found", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCountExecutionsInStatuses(t *testing.T) {
	s, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT COUNT(*) FROM executions
		WHERE campaign_id = $1 AND status = ANY($2)
	`)).
		WithArgs("c1", `{"scheduled","processing"}`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := s.CountExecutionsInStatuses(context.Background(), "c1",
		model.ExecutionScheduled, model.ExecutionProcessing)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestListExecutions_Filters(t *testing.T) {
	s, mock, done := newMock(t)
	defer done()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(
		`WHERE c.owner_id = $1 AND e.campaign_id = $2 AND e.status = $3`)).
		WithArgs("owner-1", "c1", "sent").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`LIMIT $4 OFFSET $5`)).
		WithArgs("owner-1", "c1", "sent", 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "campaign_id", "step_index", "contact_email",
			"service_name", "subject", "sender_name", "sender_email", "html_body",
			"schedule_at", "status", "sent_at", "error", "created_at",
		}).AddRow("e1", "c1", 0, "a@x.io", "", "hi", "", "a@b.c", "x",
			now, "sent", now, nil, now))

	out, total, err := s.ListExecutions(context.Background(), ExecutionFilter{
		OwnerID:    "owner-1",
		CampaignID: "c1",
		Status:     model.ExecutionSent,
	})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(out) != 1 || out[0].ID != "e1" {
		t.Fatalf("out = %v, total = %d", out, total)
	}
	if out[0].SentAt == nil {
		t.Fatal("sent_at not scanned")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPromoteCampaignCompleted_OnlyRunning(t *testing.T) {
	s, mock, done := newMock(t)
	defer done()

	mock.ExpectExec(regexp.QuoteMeta(`
		UPDATE campaigns SET status='completed', updated_at=NOW()
		WHERE id=$1 AND status='running'
	`)).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	// cancelled campaign: the guard must refuse the promotion
	promoted, err := s.PromoteCampaignCompleted(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if promoted {
		t.Fatal("promotion must only apply to running campaigns")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAddBulkCounts(t *testing.T) {
	s, mock, done := newMock(t)
	defer done()

	mock.ExpectExec(regexp.QuoteMeta(`
		UPDATE bulk_jobs
		   SET sent_count = sent_count + $2,
		       failed_count = failed_count + $3
		 WHERE id = $1
	`)).
		WithArgs("j1", 1, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.AddBulkCounts(context.Background(), "j1", 1, 0); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestClaimScheduledJob(t *testing.T) {
	s, mock, done := newMock(t)
	defer done()

	mock.ExpectExec(regexp.QuoteMeta(`
		UPDATE scheduled_jobs SET status='processing'
		WHERE id=$1 AND status='scheduled'
	`)).
		WithArgs("j1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	won, err := s.ClaimScheduledJob(context.Background(), "j1")
	if err != nil || !won {
		t.Fatalf("claim = (%v, %v), want won", won, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRescheduleScheduledJob_PastScheduled(t *testing.T) {
	s, mock, done := newMock(t)
	defer done()

	mock.ExpectExec(regexp.QuoteMeta(`
		UPDATE scheduled_jobs SET schedule_at=$2
		WHERE id=$1 AND status='scheduled'
	`)).
		WithArgs("j1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	moved, err := s.RescheduleScheduledJob(context.Background(), "j1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if moved {
		t.Fatal("a fired job must not be movable")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDeleteScheduledJob_NotScheduled(t *testing.T) {
	s, mock, done := newMock(t)
	defer done()

	mock.ExpectExec(regexp.QuoteMeta(`
		DELETE FROM scheduled_jobs
		WHERE id=$1 AND owner_id=$2 AND status='scheduled'
	`)).
		WithArgs("j1", "owner-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeleteScheduledJob(context.Background(), "j1", "owner-1")
	if !apperr.IsNotFound(err) {
		t.Fatalf("err = %v, want not-found", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestListSMTPAccounts_ArrayFilter(t *testing.T) {
	s, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT id, owner_id, host, port, secure, auth_user, auth_pass
		FROM smtp_accounts
		WHERE owner_id = $1 AND id = ANY($2)
	`)).
		WithArgs("owner-1", `{"s1","s2"}`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "owner_id", "host", "port", "secure", "auth_user", "auth_pass",
		}).AddRow("s1", "owner-1", "smtp1.acme.io", 587, false, "u", "p"))

	accounts, err := s.ListSMTPAccounts(context.Background(), "owner-1", []string{"s1", "s2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 1 || accounts[0].Host != "smtp1.acme.io" {
		t.Fatalf("accounts = %v", accounts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
