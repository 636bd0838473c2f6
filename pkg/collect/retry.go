package collect

import (
	"context"
	"fmt"
	"time"

	"github.com/synaptica-ai/specimen-tracking/pkg/common/logger"
	"github.com/synaptica-ai/specimen-tracking/pkg/common/models"
)

// Reprocessor is satisfied by *Service.
type Reprocessor interface {
	Reprocess(ctx context.Context, id string) (*Result, error)
}

// RetryHandler consumes submission_unresolved events. It waits until the
// event's not_before time, then reprocesses the submission. A submission that
// is still unresolved is requeued by Reprocess itself, so only failures that
// left nothing queued are returned to the consumer.
func RetryHandler(r Reprocessor) func(ctx context.Context, event models.Event) error {
	return func(ctx context.Context, event models.Event) error {
		if event.Type != EventSubmissionUnresolved {
			return nil
		}
		id, _ := event.Data["submission_id"].(string)
		if id == "" {
			logger.Log.WithField("event_id", event.ID).Warn("retry event without submission id")
			return nil
		}

		if notBefore, ok := retryNotBefore(event); ok {
			if err := sleepUntil(ctx, notBefore); err != nil {
				return err
			}
		}

		res, err := r.Reprocess(ctx, id)
		switch {
		case err == nil, IsUnresolved(err), IsRejection(err):
			return nil
		case res != nil && res.Status == StatusUnresolved:
			logger.ForSubmission(id, res.FormType).WithError(err).Warn("reprocessing failed, submission requeued")
			return nil
		default:
			return fmt.Errorf("reprocessing submission %s: %w", id, err)
		}
	}
}

func retryNotBefore(event models.Event) (time.Time, bool) {
	raw, ok := event.Data["not_before"].(string)
	if !ok || raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
