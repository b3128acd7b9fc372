package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"genflow/internal/model"
)

// Message is a push notification about a project.
type Message struct {
	Title string
	Body  string
	// Project groups the notifications of one project together on the device.
	Project string
	// Urgent messages break through focus modes where the channel supports it.
	Urgent bool
}

// Notifier sends a human readable notification to an external channel.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// MultiNotifier combines multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send tries every notifier and returns the joined errors.
func (m *MultiNotifier) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Forwarder relays new generations and failure cascades from a Hub to a Notifier.
type Forwarder struct {
	hub      *Hub
	notifier Notifier
	logger   *slog.Logger
}

// NewForwarder creates a forwarder. It does nothing until Run is called.
func NewForwarder(hub *Hub, notifier Notifier, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Forwarder{hub: hub, notifier: notifier, logger: logger.With("svc", "notify.Forwarder")}
}

// Run blocks forwarding events until ctx is done.
func (f *Forwarder) Run(ctx context.Context) error {
	sub := f.hub.Subscribe("")
	defer f.hub.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			msg, ok := messageFor(ev)
			if !ok {
				continue
			}
			if err := f.notifier.Send(ctx, msg); err != nil {
				f.logger.Warn("forward notification", "type", ev.Type, "project_id", msg.Project, "err", err)
			}
		}
	}
}

// messageFor picks the events worth a push. Cancellations are user initiated
// and stay silent.
func messageFor(ev Event) (Message, bool) {
	switch p := ev.Payload.(type) {
	case TaskCompleted:
		return Message{
			Title:   "Generation ready",
			Body:    fmt.Sprintf("Task %s produced a new generation in project %s.", p.TaskID, p.ProjectID),
			Project: p.ProjectID,
		}, true
	case TasksCascaded:
		if p.Status != model.TaskStatusFailed || len(p.TaskIDs) == 0 {
			return Message{}, false
		}
		return Message{
			Title:   "Tasks failed",
			Body:    fmt.Sprintf("Task %s failed and took %d dependent task(s) down in project %s.", p.SourceTaskID, len(p.TaskIDs), p.ProjectID),
			Project: p.ProjectID,
			Urgent:  true,
		}, true
	default:
		return Message{}, false
	}
}
