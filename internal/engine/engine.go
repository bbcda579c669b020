// Package engine owns the drip-campaign state machine: the campaign
// control surface, the per-execution processor, and boot recovery. All
// scheduling goes through the injected timer scheduler; all persistence
// through Storage.
package engine

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/Mutter0815/DripMailer/internal/mailer"
	"github.com/Mutter0815/DripMailer/internal/model"
	"github.com/Mutter0815/DripMailer/internal/sched"
	"github.com/Mutter0815/DripMailer/internal/store"
	"github.com/Mutter0815/DripMailer/pkg/logx"
	"github.com/Mutter0815/DripMailer/pkg/rmq"
)

// Storage is the slice of the store the engine needs; *store.Store
// satisfies it, tests hand in fakes.
type Storage interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error

	InsertCampaign(ctx context.Context, c *model.Campaign) error
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, ownerID string, limit, offset int) ([]model.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id string, status model.CampaignStatus) error
	UpdateCampaignDraft(ctx context.Context, c *model.Campaign) error
	PromoteCampaignCompleted(ctx context.Context, id string) (bool, error)
	StartCampaignTx(ctx context.Context, tx store.DBTX, id string, recipients []model.Recipient, startedAt time.Time) (bool, error)
	DeleteCampaignDraft(ctx context.Context, id, ownerID string) error

	InsertExecution(ctx context.Context, q store.DBTX, e *model.Execution) error
	GetExecution(ctx context.Context, id string) (*model.Execution, error)
	ClaimExecution(ctx context.Context, id string, from, to model.ExecutionStatus) (bool, error)
	MarkExecutionSent(ctx context.Context, id string, sentAt time.Time) error
	MarkExecutionFailed(ctx context.Context, id, errMsg string) error
	MarkExecutionSkipped(ctx context.Context, id string) error
	SkipScheduledExecutions(ctx context.Context, campaignID string) ([]string, error)
	ListExecutionsByStatus(ctx context.Context, campaignID string, status model.ExecutionStatus) ([]model.Execution, error)
	ListPendingExecutions(ctx context.Context) ([]model.Execution, error)
	CountExecutionsInStatuses(ctx context.Context, campaignID string, statuses ...model.ExecutionStatus) (int, error)
	ListExecutions(ctx context.Context, f store.ExecutionFilter) ([]model.Execution, int, error)

	GetTemplate(ctx context.Context, id, ownerID string) (*model.Template, error)
}

// TransportResolver yields the transport pool for a sender.
type TransportResolver interface {
	Resolve(ctx context.Context, ownerID string, accountIDs []string) (*mailer.Pool, error)
}

// OutcomePublisher feeds send outcomes to the tracking side. Optional.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, o rmq.Outcome) error
}

type Engine struct {
	store     Storage
	sched     *sched.Scheduler
	transport TransportResolver
	events    OutcomePublisher
	log       *zap.SugaredLogger
}

func New(st Storage, sc *sched.Scheduler, tr TransportResolver, events OutcomePublisher) *Engine {
	return &Engine{
		store:     st,
		sched:     sc,
		transport: tr,
		events:    events,
		log:       logx.Named("engine"),
	}
}

func executionKey(id string) string { return "execution:" + id }

func (e *Engine) scheduleExecution(exec *model.Execution) {
	id := exec.ID
	e.sched.Schedule(executionKey(id), exec.ScheduleAt, func() {
		if err := e.ProcessExecution(context.Background(), id); err != nil {
			e.log.Errorw("process_execution_error", "execution_id", id, "error", err)
		}
	})
}

func (e *Engine) publish(ctx context.Context, o rmq.Outcome) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishOutcome(ctx, o); err != nil {
		e.log.Warnw("outcome_publish_error", "record_id", o.RecordID, "error", err)
	}
}
