package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/boosty-org/assignment-engine/internal/events"
)

// Notifier subscribes to assignment events and emits structured log
// notifications for operators.
type Notifier struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewNotifier creates the notifier.
func NewNotifier(dispatcher events.Dispatcher, logger *zap.Logger) *Notifier {
	return &Notifier{dispatcher: dispatcher, logger: logger}
}

// RegisterHandlers subscribes to all assignment event types.
func (n *Notifier) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, eventType := range events.AllTypes() {
		n.dispatcher.Subscribe(eventType, n.handle)
	}
}

func (n *Notifier) handle(ctx context.Context, event events.Event) error {
	n.logger.Info("assignment event",
		zap.String("type", string(event.Type)),
		zap.String("assignment_id", event.AssignmentID),
		zap.Any("payload", event.Payload))
	return nil
}
