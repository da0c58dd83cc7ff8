package lifecycle

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/dispatcher"
	"github.com/garyjia/overturn/internal/application/port"
	"github.com/garyjia/overturn/internal/domain/claim"
	"github.com/garyjia/overturn/internal/domain/event"
	"github.com/garyjia/overturn/internal/domain/workflow"
)

// NotifyOnResult passes every confirmed move into the result stage to n
func NotifyOnResult(d dispatcher.Dispatcher, n port.Notifier, logger *zap.Logger) {
	d.SubscribeNamed(event.TypeTransitionResolved, "lifecycle.notify_result", func(ctx context.Context, evt *event.Event) error {
		o, ok := event.Value[Outcome](evt, PayloadOutcome)
		if !ok || o.Resolution != ResolutionConfirmed || o.To != workflow.StatusResult {
			return nil
		}
		c, ok := event.Value[*claim.Claim](evt, PayloadClaim)
		if !ok {
			return fmt.Errorf("event %s has no claim payload", evt.ID)
		}
		if err := n.NotifyResult(ctx, c); err != nil {
			logger.Error("Result notification failed", zap.String("claim_id", c.ID), zap.Error(err))
			return err
		}
		return nil
	})
}
