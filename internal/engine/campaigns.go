package engine

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/Mutter0815/DripMailer/internal/apperr"
	"github.com/Mutter0815/DripMailer/internal/model"
	"github.com/Mutter0815/DripMailer/internal/store"
)

func (e *Engine) CreateCampaign(ctx context.Context, ownerID, name, description string, steps []model.Step) (*model.Campaign, error) {
	if name == "" {
		return nil, apperr.Validation("campaign name is required")
	}
	if len(steps) == 0 {
		return nil, apperr.Validation("at least one step is required")
	}
	for i, s := range steps {
		if s.Delay < 0 {
			return nil, apperr.Validation("step %d has a negative delay", i)
		}
		switch s.Condition {
		case "", model.CondAlways, model.CondNoReply, model.CondOpened, model.CondReplied:
		default:
			return nil, apperr.Validation("step %d has unknown condition %q", i, s.Condition)
		}
	}

	c := &model.Campaign{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Name:        name,
		Description: description,
		Steps:       steps,
		Status:      model.CampaignDraft,
	}
	if err := e.store.InsertCampaign(ctx, c); err != nil {
		return nil, err
	}
	e.log.Infow("campaign_created", "campaign_id", c.ID, "steps", len(steps))
	return c, nil
}

func (e *Engine) GetCampaign(ctx context.Context, id, ownerID string) (*model.Campaign, error) {
	c, err := e.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.OwnerID != ownerID {
		return nil, apperr.NotFound("campaign", id)
	}
	return c, nil
}

func (e *Engine) ListCampaigns(ctx context.Context, ownerID string, limit, offset int) ([]model.Campaign, error) {
	return e.store.ListCampaigns(ctx, ownerID, limit, offset)
}

func (e *Engine) UpdateCampaign(ctx context.Context, c *model.Campaign) (*model.Campaign, error) {
	cur, err := e.GetCampaign(ctx, c.ID, c.OwnerID)
	if err != nil {
		return nil, err
	}
	if cur.Status != model.CampaignDraft {
		return nil, apperr.InvalidState("update", string(cur.Status))
	}
	if err := e.store.UpdateCampaignDraft(ctx, c); err != nil {
		return nil, err
	}
	return e.GetCampaign(ctx, c.ID, c.OwnerID)
}

// DeleteCampaign removes a draft. Campaigns past draft must be cancelled
// instead, which resolves their executions to skipped first, so deletion
// never has live executions to cascade onto.
func (e *Engine) DeleteCampaign(ctx context.Context, id, ownerID string) error {
	return e.store.DeleteCampaignDraft(ctx, id, ownerID)
}

// StartCampaign snapshots the recipients, creates the step-0 execution
// for each of them, and hands every execution to the scheduler. Later
// steps are created by the processor as their predecessors succeed.
func (e *Engine) StartCampaign(ctx context.Context, id, ownerID string, recipients []model.Recipient) (*model.Campaign, error) {
	camp, err := e.GetCampaign(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if camp.Status != model.CampaignDraft {
		return nil, apperr.InvalidState("start", string(camp.Status))
	}
	if len(camp.Steps) == 0 {
		return nil, apperr.Validation("campaign has no steps")
	}
	if len(recipients) == 0 {
		return nil, apperr.Validation("campaign has no recipients")
	}
	for i, r := range recipients {
		if r.Email == "" {
			return nil, apperr.Validation("recipient %d has an empty email", i)
		}
	}

	// Validate every step's content now: a broken template reference is
	// a start-time error, never a fire-time surprise.
	templates := make(map[string]*model.Template)
	for i, step := range camp.Steps {
		var tpl *model.Template
		if step.TemplateID != "" {
			tpl, err = e.store.GetTemplate(ctx, step.TemplateID, ownerID)
			if err != nil {
				return nil, err
			}
			templates[step.TemplateID] = tpl
		}
		if err := validateContent(resolveContent(step, tpl), i); err != nil {
			return nil, err
		}
	}

	step0 := camp.Steps[0]
	content := resolveContent(step0, templates[step0.TemplateID])
	now := e.sched.Now()
	fireAt := now.Add(step0.Delay)

	execs := make([]*model.Execution, 0, len(recipients))
	err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
		started, err := e.store.StartCampaignTx(ctx, tx, id, recipients, now)
		if err != nil {
			return err
		}
		if !started {
			return apperr.InvalidState("start", string(camp.Status))
		}
		for _, r := range recipients {
			exec := &model.Execution{
				ID:           uuid.NewString(),
				CampaignID:   id,
				StepIndex:    0,
				ContactEmail: r.Email,
				Content:      content,
				ScheduleAt:   fireAt,
				Status:       model.ExecutionScheduled,
			}
			if err := e.store.InsertExecution(ctx, tx, exec); err != nil {
				return err
			}
			execs = append(execs, exec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, exec := range execs {
		e.scheduleExecution(exec)
	}
	e.log.Infow("campaign_started",
		"campaign_id", id, "recipients", len(recipients), "first_fire_at", fireAt)
	return e.GetCampaign(ctx, id, ownerID)
}

// PauseCampaign drops the pending timers but leaves every execution
// scheduled with its original fire time, so resume can reuse it.
func (e *Engine) PauseCampaign(ctx context.Context, id, ownerID string) (*model.Campaign, error) {
	camp, err := e.GetCampaign(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if camp.Status != model.CampaignRunning {
		return nil, apperr.InvalidState("pause", string(camp.Status))
	}

	// Status flips before the timers go: a timer that fires during the
	// window hits the processor's running re-check instead of sending.
	if err := e.store.UpdateCampaignStatus(ctx, id, model.CampaignPaused); err != nil {
		return nil, err
	}
	pending, err := e.store.ListExecutionsByStatus(ctx, id, model.ExecutionScheduled)
	if err != nil {
		return nil, err
	}
	for _, exec := range pending {
		e.sched.Cancel(executionKey(exec.ID))
	}
	e.log.Infow("campaign_paused", "campaign_id", id, "pending", len(pending))
	return e.GetCampaign(ctx, id, ownerID)
}

// ResumeCampaign re-registers every still-scheduled execution with its
// stored fire time; past-due ones run immediately.
func (e *Engine) ResumeCampaign(ctx context.Context, id, ownerID string) (*model.Campaign, error) {
	camp, err := e.GetCampaign(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if camp.Status != model.CampaignPaused {
		return nil, apperr.InvalidState("resume", string(camp.Status))
	}
	if err := e.store.UpdateCampaignStatus(ctx, id, model.CampaignRunning); err != nil {
		return nil, err
	}
	pending, err := e.store.ListExecutionsByStatus(ctx, id, model.ExecutionScheduled)
	if err != nil {
		return nil, err
	}
	for i := range pending {
		e.scheduleExecution(&pending[i])
	}
	// A send that was in flight when the pause landed may have resolved
	// the last execution; its completion check lost against the paused
	// status, so re-run it now that the campaign is running again.
	if err := e.maybeComplete(ctx, id); err != nil {
		return nil, err
	}
	e.log.Infow("campaign_resumed", "campaign_id", id, "pending", len(pending))
	return e.GetCampaign(ctx, id, ownerID)
}

// CancelCampaign is terminal: pending timers are dropped and every
// still-scheduled execution resolves to skipped.
func (e *Engine) CancelCampaign(ctx context.Context, id, ownerID string) (*model.Campaign, error) {
	camp, err := e.GetCampaign(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if camp.Status != model.CampaignRunning && camp.Status != model.CampaignPaused {
		return nil, apperr.InvalidState("cancel", string(camp.Status))
	}
	if err := e.store.UpdateCampaignStatus(ctx, id, model.CampaignCancelled); err != nil {
		return nil, err
	}
	skipped, err := e.store.SkipScheduledExecutions(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, execID := range skipped {
		e.sched.Cancel(executionKey(execID))
	}
	e.log.Infow("campaign_cancelled", "campaign_id", id, "skipped", len(skipped))
	return e.GetCampaign(ctx, id, ownerID)
}

// ExecutionPage is one page of the execution listing plus paging meta.
type ExecutionPage struct {
	Data       []model.Execution `json:"data"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	PerPage    int               `json:"per_page"`
	TotalPages int               `json:"total_pages"`
}

func (e *Engine) ListExecutions(ctx context.Context, f store.ExecutionFilter) (*ExecutionPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}
	execs, total, err := e.store.ListExecutions(ctx, f)
	if err != nil {
		return nil, err
	}
	return &ExecutionPage{
		Data:       execs,
		Total:      total,
		Page:       f.Page,
		PerPage:    f.PerPage,
		TotalPages: (total + f.PerPage - 1) / f.PerPage,
	}, nil
}

func (e *Engine) GetExecution(ctx context.Context, id, ownerID string) (*model.Execution, error) {
	exec, err := e.store.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	camp, err := e.store.GetCampaign(ctx, exec.CampaignID)
	if err != nil || camp.OwnerID != ownerID {
		return nil, apperr.NotFound("execution", id)
	}
	return exec, nil
}
