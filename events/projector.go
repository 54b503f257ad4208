package events

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"todo-agent/domain"
)

// DefaultPollInterval is how long the projector waits after an empty or failed dequeue.
const DefaultPollInterval = time.Second

var errMalformed = errors.New("malformed task event")

// Projector moves task events from the queue into the activity log.
type Projector struct {
	queue     Queue
	activity  *ActivityLog
	log       *log.Logger
	interval  time.Duration
	processed *prometheus.CounterVec
}

func NewProjector(queue Queue, activity *ActivityLog, logger *log.Logger, reg prometheus.Registerer) *Projector {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Projector{
		queue:    queue,
		activity: activity,
		log:      logger,
		interval: DefaultPollInterval,
		processed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "todo_agent_events_projected_total",
			Help: "Task events taken off the event queue, by result.",
		}, []string{"result"}),
	}
}

// Run polls until ctx is cancelled.
func (p *Projector) Run(ctx context.Context) {
	p.log.Info("activity projector started")
	for {
		handled, err := p.ProcessOne(ctx)
		if ctx.Err() != nil {
			p.log.Info("activity projector stopped")
			return
		}
		if err != nil {
			p.log.Errorf("project event: %v", err)
		}
		if handled && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			p.log.Info("activity projector stopped")
			return
		case <-time.After(p.interval):
		}
	}
}

// ProcessOne handles at most one message. It reports whether a message was taken off the
// queue. A message whose append fails stays queued and becomes visible again later.
func (p *Projector) ProcessOne(ctx context.Context) (bool, error) {
	resp, err := p.queue.DequeueMessage(ctx, nil)
	if err != nil {
		return false, err
	}
	if len(resp.Messages) == 0 {
		return false, nil
	}
	msg := resp.Messages[0]
	if msg.MessageID == nil || msg.PopReceipt == nil {
		return false, errMalformed
	}

	ev, err := decodeEvent(msg)
	switch {
	case err != nil:
		p.log.WithField("message_id", *msg.MessageID).Warnf("dropping task event: %v", err)
		p.processed.WithLabelValues("dropped").Inc()
	default:
		if err := p.activity.Append(ctx, ev); err != nil {
			p.processed.WithLabelValues("error").Inc()
			return true, err
		}
		p.processed.WithLabelValues("ok").Inc()
	}

	if _, err := p.queue.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt, nil); err != nil {
		return true, err
	}
	return true, nil
}

func decodeEvent(msg *azqueue.DequeuedMessage) (domain.TaskEvent, error) {
	var ev domain.TaskEvent
	if msg.MessageText == nil {
		return ev, errMalformed
	}
	if err := sonic.UnmarshalString(*msg.MessageText, &ev); err != nil {
		return ev, err
	}
	if ev.ID == "" || ev.UserID == "" || ev.Type == "" {
		return ev, errMalformed
	}
	return ev, nil
}
