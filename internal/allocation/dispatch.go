package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"intake.org/internal/obs"
)

// notification is one deferred call into the Notifier.
type notification struct {
	kind       string
	receiverID int64
	send       func(ctx context.Context) error
}

func (e *Engine) allocatedJob(rc Receiver, c Case) notification {
	return notification{
		kind:       NotificationAllocated,
		receiverID: rc.ID,
		send: func(ctx context.Context) error {
			return e.notifier.NotifyAllocated(ctx, rc, c.Type, c.RequestingParty)
		},
	}
}

// afterAllocation decides which notifications follow a committed allocation.
// The preview is read right after commit so it sees the case just written.
func (e *Engine) afterAllocation(ctx context.Context, creator, assigned Receiver, c Case) []notification {
	var jobs []notification
	if creator.Role != RoleDeveloper {
		next, err := e.PreviewNext(ctx, c.Type)
		switch {
		case err != nil:
			e.log.WithFields(logrus.Fields{
				"case_id":   c.ID,
				"case_type": string(c.Type),
				"error":     err.Error(),
			}).Debug("upcoming receiver unavailable")
		case next.ID != assigned.ID:
			jobs = append(jobs, notification{
				kind:       NotificationUpcoming,
				receiverID: next.ID,
				send: func(ctx context.Context) error {
					return e.notifier.NotifyUpcoming(ctx, next, assigned.Name, c.Type, c.RequestingParty)
				},
			})
		}
	}
	if assigned.ID != creator.ID {
		jobs = append(jobs, e.allocatedJob(assigned, c))
	}
	return jobs
}

// dispatch sends jobs in the background. Failures are logged and counted only.
func (e *Engine) dispatch(ctx context.Context, jobs []notification) {
	if len(jobs) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		ctx, cancel := context.WithTimeout(ctx, e.notifyTimeout)
		defer cancel()
		for _, job := range jobs {
			e.send(ctx, job)
		}
	}()
}

func (e *Engine) send(ctx context.Context, job notification) {
	started := time.Now()
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = job.send(ctx)
	}()
	if err == nil {
		obs.ObserveNotification(job.kind, "sent")
		return
	}
	err = fmt.Errorf("%w: %w", ErrNotification, err)
	obs.ObserveNotification(job.kind, "failed")
	e.log.WithFields(logrus.Fields{
		"kind":        job.kind,
		"receiver_id": job.receiverID,
		"elapsed_ms":  time.Since(started).Milliseconds(),
		"error":       err.Error(),
	}).Warn("notification dropped")
}
