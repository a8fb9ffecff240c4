package app

import (
	"context"
	"time"

	"shelfbot/internal/eventbus"
	"shelfbot/internal/fleet/engine"
	"shelfbot/internal/storage"
	logx "shelfbot/pkg/logx"
)

// recordAudit appends every finished task to the store until ctx is done.
// Events still buffered at shutdown are flushed before it returns.
func recordAudit(ctx context.Context, events <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	write := func(e eventbus.Event) {
		if e.Type != engine.EventTaskCompleted && e.Type != engine.EventTaskCancelled {
			return
		}
		te, ok := e.Data.(engine.TaskEvent)
		if !ok {
			return
		}
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := store.AppendAudit(wctx, storage.AuditEntry{
			At:       e.Time,
			TaskID:   te.ID,
			TaskName: te.Name,
			Kind:     te.Kind,
			RobotID:  te.RobotID,
			Status:   string(te.Status),
			Error:    te.Error,
			TookMS:   te.Duration.Milliseconds(),
		}); err != nil {
			log.Warn("audit append failed", logx.String("task", te.ID), logx.Err(err))
		}
	}

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			write(e)
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-events:
					if !ok {
						return
					}
					write(e)
				default:
					return
				}
			}
		}
	}
}
