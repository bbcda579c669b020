package engine

import "context"

// Recover re-derives pending execution timers from the store. The timer
// registry is process-local, so every boot starts from what persistence
// says is still scheduled.
func (e *Engine) Recover(ctx context.Context) error {
	pending, err := e.store.ListPendingExecutions(ctx)
	if err != nil {
		return err
	}
	for i := range pending {
		e.scheduleExecution(&pending[i])
	}
	e.log.Infow("pending_executions_recovered", "count", len(pending))
	return nil
}
