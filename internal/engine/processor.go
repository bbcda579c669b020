package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Mutter0815/DripMailer/internal/apperr"
	"github.com/Mutter0815/DripMailer/internal/mailer"
	"github.com/Mutter0815/DripMailer/internal/model"
	"github.com/Mutter0815/DripMailer/pkg/metrics"
	"github.com/Mutter0815/DripMailer/pkg/rmq"
)

// ProcessExecution runs one execution end to end: claim, send, record the
// outcome, chain the next step on success, and promote the campaign to
// completed once nothing is left pending. Safe to invoke concurrently for
// the same id; only one caller wins the scheduled->processing claim.
func (e *Engine) ProcessExecution(ctx context.Context, id string) error {
	metrics.ExecutionsProcessed.Inc()

	exec, err := e.store.GetExecution(ctx, id)
	if err != nil {
		return err
	}
	if exec.Status != model.ExecutionScheduled {
		return nil
	}

	fields := []any{
		"execution_id", exec.ID,
		"campaign_id", exec.CampaignID,
		"step_index", exec.StepIndex,
		"email", exec.ContactEmail,
	}

	// A fired timer may have lost a race with pause or cancel; the
	// campaign status re-check is the authoritative backstop.
	camp, err := e.store.GetCampaign(ctx, exec.CampaignID)
	if err != nil && !apperr.IsNotFound(err) {
		// Transient lookup failure: leave the row scheduled so boot
		// recovery (or a retried fire) can still run it.
		return err
	}
	if err != nil || camp.Status != model.CampaignRunning {
		if claimed, cerr := e.store.ClaimExecution(ctx, id, model.ExecutionScheduled, model.ExecutionSkipped); cerr != nil {
			return cerr
		} else if claimed {
			metrics.ExecutionsSkipped.Inc()
			e.log.Infow("execution_skipped", fields...)
		}
		return nil
	}

	claimed, err := e.store.ClaimExecution(ctx, id, model.ExecutionScheduled, model.ExecutionProcessing)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	pool, err := e.transport.Resolve(ctx, camp.OwnerID, nil)
	if err != nil {
		metrics.ExecutionsFailed.Inc()
		if merr := e.store.MarkExecutionFailed(ctx, id, err.Error()); merr != nil {
			return merr
		}
		e.log.Errorw("transport_resolve_error", append(fields, "error", err)...)
		return nil
	}

	start := time.Now()
	sendErr := pool.Pick().Send(ctx, mailer.Message{
		FromName: exec.Content.SenderName,
		From:     exec.Content.SenderEmail,
		To:       exec.ContactEmail,
		Subject:  exec.Content.Subject,
		HTML:     exec.Content.HTMLBody,
	})
	metrics.SendDuration.Observe(time.Since(start).Seconds())

	now := e.sched.Now()
	outcome := rmq.Outcome{
		Source:      "execution",
		RecordID:    exec.ID,
		CampaignID:  exec.CampaignID,
		StepIndex:   exec.StepIndex,
		Email:       exec.ContactEmail,
		CompletedAt: now,
	}

	if sendErr != nil {
		// Failures are terminal for this execution; the chain stops
		// here for this recipient.
		metrics.ExecutionsFailed.Inc()
		if err := e.store.MarkExecutionFailed(ctx, id, sendErr.Error()); err != nil {
			return err
		}
		e.log.Infow("send_failed", append(fields, "error", sendErr)...)
		outcome.Status = string(model.ExecutionFailed)
		outcome.Error = sendErr.Error()
		e.publish(ctx, outcome)
		return e.maybeComplete(ctx, exec.CampaignID)
	}

	metrics.ExecutionsSent.Inc()
	if err := e.store.MarkExecutionSent(ctx, id, now); err != nil {
		return err
	}
	e.log.Infow("send_success", fields...)
	outcome.Status = string(model.ExecutionSent)
	e.publish(ctx, outcome)

	if err := e.chainNext(ctx, camp, exec, now); err != nil {
		e.log.Errorw("chain_next_step_error", append(fields, "error", err)...)
	}
	return e.maybeComplete(ctx, exec.CampaignID)
}

// chainNext creates and schedules the next step's execution for the same
// recipient. Called only after the current step reached sent.
func (e *Engine) chainNext(ctx context.Context, camp *model.Campaign, exec *model.Execution, sentAt time.Time) error {
	nextIndex := exec.StepIndex + 1
	if nextIndex >= len(camp.Steps) {
		return nil
	}
	step := camp.Steps[nextIndex]
	if !conditionPasses(step.Condition) {
		e.log.Infow("step_condition_blocked",
			"campaign_id", camp.ID, "step_index", nextIndex,
			"condition", step.Condition, "email", exec.ContactEmail)
		return nil
	}

	var tpl *model.Template
	if step.TemplateID != "" {
		var err error
		tpl, err = e.store.GetTemplate(ctx, step.TemplateID, camp.OwnerID)
		if err != nil {
			return err
		}
	}

	next := &model.Execution{
		ID:           uuid.NewString(),
		CampaignID:   camp.ID,
		StepIndex:    nextIndex,
		ContactEmail: exec.ContactEmail,
		Content:      resolveContent(step, tpl),
		ScheduleAt:   sentAt.Add(step.Delay),
		Status:       model.ExecutionScheduled,
	}
	if err := e.store.InsertExecution(ctx, nil, next); err != nil {
		return err
	}
	e.scheduleExecution(next)
	e.log.Infow("next_step_scheduled",
		"campaign_id", camp.ID, "step_index", nextIndex,
		"email", exec.ContactEmail, "schedule_at", next.ScheduleAt)
	return nil
}

func (e *Engine) maybeComplete(ctx context.Context, campaignID string) error {
	remaining, err := e.store.CountExecutionsInStatuses(ctx, campaignID,
		model.ExecutionScheduled, model.ExecutionProcessing)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	promoted, err := e.store.PromoteCampaignCompleted(ctx, campaignID)
	if err != nil {
		return err
	}
	if promoted {
		e.log.Infow("campaign_completed", "campaign_id", campaignID)
	}
	return nil
}
