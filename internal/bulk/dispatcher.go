package bulk

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Mutter0815/DripMailer/internal/apperr"
	"github.com/Mutter0815/DripMailer/internal/model"
	"github.com/Mutter0815/DripMailer/internal/sched"
	"github.com/Mutter0815/DripMailer/pkg/logx"
)

type DispatcherStorage interface {
	InsertBulkJob(ctx context.Context, j *model.BulkJob) error
	GetBulkJob(ctx context.Context, id string) (*model.BulkJob, error)

	InsertScheduledJob(ctx context.Context, j *model.ScheduledJob) error
	GetScheduledJob(ctx context.Context, id string) (*model.ScheduledJob, error)
	ListScheduledJobs(ctx context.Context, ownerID string) ([]model.ScheduledJob, error)
	ClaimScheduledJob(ctx context.Context, id string) (bool, error)
	MarkScheduledJob(ctx context.Context, id string, status model.JobStatus) error
	RescheduleScheduledJob(ctx context.Context, id string, at time.Time) (bool, error)
	DeleteScheduledJob(ctx context.Context, id, ownerID string) error
	ListPendingScheduledJobs(ctx context.Context) ([]model.ScheduledJob, error)

	GetTemplate(ctx context.Context, id, ownerID string) (*model.Template, error)
}

// Dispatcher owns ScheduledJob lifecycles and hands fired jobs to the
// worker as freshly materialized BulkJobs.
type Dispatcher struct {
	store  DispatcherStorage
	worker *Worker
	sched  *sched.Scheduler
	log    *zap.SugaredLogger
}

func NewDispatcher(st DispatcherStorage, w *Worker, sc *sched.Scheduler) *Dispatcher {
	return &Dispatcher{store: st, worker: w, sched: sc, log: logx.Named("dispatch")}
}

func jobKey(id string) string { return "job:" + id }

// BulkRequest is the caller-facing input for both immediate and deferred
// bulk sends. TemplateID, when set, overrides the inline content.
type BulkRequest struct {
	OwnerID    string
	TemplateID string
	Content    model.ContentSnapshot
	AccountIDs []string
	Recipients []model.Recipient
}

func (d *Dispatcher) resolveRequest(ctx context.Context, req *BulkRequest) error {
	if len(req.Recipients) == 0 {
		return apperr.Validation("at least one recipient is required")
	}
	for i, r := range req.Recipients {
		if r.Email == "" {
			return apperr.Validation("recipient %d has an empty email", i)
		}
	}
	if req.TemplateID != "" {
		tpl, err := d.store.GetTemplate(ctx, req.TemplateID, req.OwnerID)
		if err != nil {
			return err
		}
		req.Content = model.ContentSnapshot{
			ServiceName: tpl.ServiceName,
			Subject:     tpl.Subject,
			SenderName:  tpl.SenderName,
			SenderEmail: tpl.SenderEmail,
			HTMLBody:    tpl.HTMLBody,
		}
	}
	switch {
	case req.Content.Subject == "":
		return apperr.Validation("subject is required")
	case req.Content.SenderEmail == "":
		return apperr.Validation("sender email is required")
	case req.Content.HTMLBody == "":
		return apperr.Validation("html body is required")
	}
	return nil
}

// StartBulkJob creates a BulkJob and begins dispatch immediately.
func (d *Dispatcher) StartBulkJob(ctx context.Context, req BulkRequest) (*model.BulkJob, error) {
	if err := d.resolveRequest(ctx, &req); err != nil {
		return nil, err
	}
	job := &model.BulkJob{
		ID:         uuid.NewString(),
		OwnerID:    req.OwnerID,
		Content:    req.Content,
		AccountIDs: req.AccountIDs,
		Total:      len(req.Recipients),
	}
	if err := d.store.InsertBulkJob(ctx, job); err != nil {
		return nil, err
	}
	if err := d.worker.Start(ctx, job, req.Recipients); err != nil {
		return nil, err
	}
	d.log.Infow("bulk_job_started", "job_id", job.ID, "total", job.Total)
	return job, nil
}

// ScheduleBulkJob defers a bulk send to sendAt.
func (d *Dispatcher) ScheduleBulkJob(ctx context.Context, req BulkRequest, sendAt time.Time) (*model.ScheduledJob, error) {
	if !sendAt.After(d.sched.Now()) {
		return nil, apperr.Validation("schedule_at must be in the future")
	}
	if err := d.resolveRequest(ctx, &req); err != nil {
		return nil, err
	}
	job := &model.ScheduledJob{
		ID:         uuid.NewString(),
		OwnerID:    req.OwnerID,
		TemplateID: req.TemplateID,
		Content:    req.Content,
		AccountIDs: req.AccountIDs,
		Recipients: req.Recipients,
		ScheduleAt: sendAt,
		Status:     model.JobScheduled,
		Total:      len(req.Recipients),
	}
	if err := d.store.InsertScheduledJob(ctx, job); err != nil {
		return nil, err
	}
	d.schedule(job)
	d.log.Infow("bulk_job_scheduled", "job_id", job.ID, "schedule_at", sendAt, "total", job.Total)
	return job, nil
}

func (d *Dispatcher) schedule(job *model.ScheduledJob) {
	id := job.ID
	d.sched.Schedule(jobKey(id), job.ScheduleAt, func() {
		if err := d.fire(context.Background(), id); err != nil {
			d.log.Errorw("scheduled_job_fire_error", "job_id", id, "error", err)
		}
	})
}

// Reschedule moves a still-scheduled job to a new instant, replacing its
// timer.
func (d *Dispatcher) Reschedule(ctx context.Context, id, ownerID string, sendAt time.Time) (*model.ScheduledJob, error) {
	if !sendAt.After(d.sched.Now()) {
		return nil, apperr.Validation("schedule_at must be in the future")
	}
	job, err := d.GetScheduledJob(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	moved, err := d.store.RescheduleScheduledJob(ctx, id, sendAt)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, apperr.InvalidState("reschedule", string(job.Status))
	}
	job.ScheduleAt = sendAt
	d.schedule(job)
	d.log.Infow("bulk_job_rescheduled", "job_id", id, "schedule_at", sendAt)
	return job, nil
}

// CancelScheduled deletes a job that has not fired yet.
func (d *Dispatcher) CancelScheduled(ctx context.Context, id, ownerID string) error {
	job, err := d.GetScheduledJob(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if job.Status != model.JobScheduled {
		return apperr.InvalidState("cancel", string(job.Status))
	}
	if err := d.store.DeleteScheduledJob(ctx, id, ownerID); err != nil {
		return err
	}
	d.sched.Cancel(jobKey(id))
	d.log.Infow("bulk_job_cancelled", "job_id", id)
	return nil
}

func (d *Dispatcher) GetScheduledJob(ctx context.Context, id, ownerID string) (*model.ScheduledJob, error) {
	job, err := d.store.GetScheduledJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, apperr.NotFound("scheduled job", id)
	}
	return job, nil
}

func (d *Dispatcher) ListScheduledJobs(ctx context.Context, ownerID string) ([]model.ScheduledJob, error) {
	return d.store.ListScheduledJobs(ctx, ownerID)
}

func (d *Dispatcher) GetBulkJob(ctx context.Context, id, ownerID string) (*model.BulkJob, error) {
	job, err := d.store.GetBulkJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, apperr.NotFound("bulk job", id)
	}
	return job, nil
}

// fire materializes a due ScheduledJob into a BulkJob run. Once the worker
// accepts the batch the ScheduledJob is completed; progress from there on
// belongs to the BulkJob.
func (d *Dispatcher) fire(ctx context.Context, id string) error {
	claimed, err := d.store.ClaimScheduledJob(ctx, id)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	job, err := d.store.GetScheduledJob(ctx, id)
	if err != nil {
		return err
	}

	bulkJob := &model.BulkJob{
		ID:         uuid.NewString(),
		OwnerID:    job.OwnerID,
		Content:    job.Content,
		AccountIDs: job.AccountIDs,
		Total:      len(job.Recipients),
	}
	if err := d.store.InsertBulkJob(ctx, bulkJob); err != nil {
		d.markFailed(ctx, id, err)
		return err
	}
	if err := d.worker.Start(ctx, bulkJob, job.Recipients); err != nil {
		d.markFailed(ctx, id, err)
		return err
	}
	if err := d.store.MarkScheduledJob(ctx, id, model.JobCompleted); err != nil {
		return err
	}
	d.log.Infow("scheduled_job_materialized", "job_id", id, "bulk_job_id", bulkJob.ID)
	return nil
}

func (d *Dispatcher) markFailed(ctx context.Context, id string, cause error) {
	if err := d.store.MarkScheduledJob(ctx, id, model.JobFailed); err != nil {
		d.log.Errorw("scheduled_job_status_error", "job_id", id, "error", err)
	}
	d.log.Errorw("scheduled_job_failed", "job_id", id, "error", cause)
}

// Recover re-registers timers for every still-scheduled job on boot.
func (d *Dispatcher) Recover(ctx context.Context) error {
	jobs, err := d.store.ListPendingScheduledJobs(ctx)
	if err != nil {
		return err
	}
	for i := range jobs {
		d.schedule(&jobs[i])
	}
	d.log.Infow("pending_jobs_recovered", "count", len(jobs))
	return nil
}
