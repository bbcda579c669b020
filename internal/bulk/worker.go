// Package bulk implements the flat (non-drip) send path: a rate-limited
// worker that fans a fixed recipient batch out across the transport pool,
// and the dispatcher that defers such jobs to a future instant.
package bulk

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Mutter0815/DripMailer/internal/apperr"
	"github.com/Mutter0815/DripMailer/internal/mailer"
	"github.com/Mutter0815/DripMailer/internal/model"
	"github.com/Mutter0815/DripMailer/internal/render"
	"github.com/Mutter0815/DripMailer/pkg/logx"
	"github.com/Mutter0815/DripMailer/pkg/metrics"
	"github.com/Mutter0815/DripMailer/pkg/rmq"
)

type WorkerStorage interface {
	AddBulkCounts(ctx context.Context, id string, sent, failed int) error
	InsertSendRecord(ctx context.Context, r *model.SendRecord) error
	MarkSendRecordFailed(ctx context.Context, id, errMsg string) error
}

type TransportResolver interface {
	Resolve(ctx context.Context, ownerID string, accountIDs []string) (*mailer.Pool, error)
}

type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, o rmq.Outcome) error
}

type WorkerConfig struct {
	// RatePerMinute is the per-transport send budget; the inter-batch
	// interval is derived from it.
	RatePerMinute int
	BaseURL       string
}

type jobRun struct {
	cancelled chan struct{}
	once      sync.Once
}

func (r *jobRun) cancel() { r.once.Do(func() { close(r.cancelled) }) }

type Worker struct {
	store     WorkerStorage
	transport TransportResolver
	events    OutcomePublisher
	interval  time.Duration
	baseURL   string
	log       *zap.SugaredLogger

	mu   sync.Mutex
	jobs map[string]*jobRun
}

func NewWorker(st WorkerStorage, tr TransportResolver, events OutcomePublisher, cfg WorkerConfig) *Worker {
	rate := cfg.RatePerMinute
	if rate <= 0 {
		rate = 60
	}
	return &Worker{
		store:     st,
		transport: tr,
		events:    events,
		interval:  time.Minute / time.Duration(rate),
		baseURL:   cfg.BaseURL,
		log:       logx.Named("bulk"),
		jobs:      make(map[string]*jobRun),
	}
}

// Start begins rate-limited dispatch of rows for job. At most one run per
// job id may be in flight.
func (w *Worker) Start(ctx context.Context, job *model.BulkJob, rows []model.Recipient) error {
	w.mu.Lock()
	if _, ok := w.jobs[job.ID]; ok {
		w.mu.Unlock()
		return apperr.AlreadyRunning(job.ID)
	}
	run := &jobRun{cancelled: make(chan struct{})}
	w.jobs[job.ID] = run
	w.mu.Unlock()

	pool, err := w.transport.Resolve(ctx, job.OwnerID, job.AccountIDs)
	if err != nil {
		w.finish(job.ID)
		return err
	}

	queue := make([]model.Recipient, len(rows))
	copy(queue, rows)

	// The run outlives the caller: an HTTP request context dies when the
	// handler returns, long before a paced batch drains. Only the
	// synchronous resolve above shares the caller's deadline.
	go w.run(context.WithoutCancel(ctx), job, queue, pool, run)
	return nil
}

// Cancel stops further batches for a running job. In-flight sends finish.
func (w *Worker) Cancel(jobID string) {
	w.mu.Lock()
	run, ok := w.jobs[jobID]
	w.mu.Unlock()
	if ok {
		run.cancel()
	}
}

// Running reports whether a run for jobID is in flight.
func (w *Worker) Running(jobID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.jobs[jobID]
	return ok
}

func (w *Worker) finish(jobID string) {
	w.mu.Lock()
	delete(w.jobs, jobID)
	w.mu.Unlock()
}

func (w *Worker) run(ctx context.Context, job *model.BulkJob, queue []model.Recipient, pool *mailer.Pool, run *jobRun) {
	defer w.finish(job.ID)
	w.log.Infow("bulk_run_started",
		"job_id", job.ID, "rows", len(queue), "transports", pool.Size(),
		"interval", w.interval.String())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-run.cancelled:
			w.log.Infow("bulk_run_cancelled", "job_id", job.ID, "remaining", len(queue))
			return
		case <-ctx.Done():
			w.log.Infow("bulk_run_stopped", "job_id", job.ID, "remaining", len(queue))
			return
		default:
		}
		if len(queue) == 0 {
			w.log.Infow("bulk_run_done", "job_id", job.ID)
			return
		}

		// One row per transport per tick: throughput scales with the
		// number of configured accounts.
		var wg sync.WaitGroup
		for _, t := range pool.All() {
			if len(queue) == 0 {
				break
			}
			row := queue[0]
			queue = queue[1:]

			wg.Add(1)
			go func(t mailer.Transport, row model.Recipient) {
				defer wg.Done()
				w.sendOne(ctx, job, t, row)
			}(t, row)
		}
		wg.Wait()

		if len(queue) == 0 {
			w.log.Infow("bulk_run_done", "job_id", job.ID)
			return
		}
		select {
		case <-run.cancelled:
			w.log.Infow("bulk_run_cancelled", "job_id", job.ID, "remaining", len(queue))
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) sendOne(ctx context.Context, job *model.BulkJob, t mailer.Transport, row model.Recipient) {
	subject := render.Fields(job.Content.Subject, row)
	html := render.Fields(job.Content.HTMLBody, row)

	// The record goes in first so its id can key the tracking pixel.
	rec := &model.SendRecord{
		ID:     uuid.NewString(),
		JobID:  job.ID,
		Email:  row.Email,
		Status: "sent",
	}
	if err := w.store.InsertSendRecord(ctx, rec); err != nil {
		w.log.Errorw("send_record_insert_error", "job_id", job.ID, "email", row.Email, "error", err)
		return
	}
	html += render.TrackingPixel(w.baseURL, rec.ID)

	start := time.Now()
	sendErr := t.Send(ctx, mailer.Message{
		FromName: job.Content.SenderName,
		From:     job.Content.SenderEmail,
		To:       row.Email,
		Subject:  subject,
		HTML:     html,
	})
	metrics.SendDuration.Observe(time.Since(start).Seconds())

	outcome := rmq.Outcome{
		Source:      "bulk",
		RecordID:    rec.ID,
		JobID:       job.ID,
		Email:       row.Email,
		CompletedAt: time.Now(),
	}

	if sendErr != nil {
		metrics.BulkSendsFailed.Inc()
		if err := w.store.MarkSendRecordFailed(ctx, rec.ID, sendErr.Error()); err != nil {
			w.log.Errorw("send_record_update_error", "record_id", rec.ID, "error", err)
		}
		if err := w.store.AddBulkCounts(ctx, job.ID, 0, 1); err != nil {
			w.log.Errorw("bulk_counts_error", "job_id", job.ID, "error", err)
		}
		w.log.Infow("bulk_send_failed", "job_id", job.ID, "email", row.Email, "error", sendErr)
		outcome.Status = "failed"
		outcome.Error = sendErr.Error()
	} else {
		metrics.BulkSendsSent.Inc()
		if err := w.store.AddBulkCounts(ctx, job.ID, 1, 0); err != nil {
			w.log.Errorw("bulk_counts_error", "job_id", job.ID, "error", err)
		}
		outcome.Status = "sent"
	}

	if w.events != nil {
		if err := w.events.PublishOutcome(ctx, outcome); err != nil {
			w.log.Warnw("outcome_publish_error", "record_id", rec.ID, "error", err)
		}
	}
}
