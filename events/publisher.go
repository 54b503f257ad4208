// Package events ships task events to an Azure Storage queue and projects them into an
// activity table.
package events

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"todo-agent/domain"
)

// Queue is the part of *azqueue.QueueClient used here.
type Queue interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// NewQueueClient connects to a queue with the retry policy used for all event traffic.
func NewQueueClient(connStr, name string) (*azqueue.QueueClient, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 30,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	return azqueue.NewQueueClientFromConnectionString(connStr, name, &opts)
}

// Publisher enqueues task events in the background. It implements tasks.EventSink.
type Publisher struct {
	queue     Queue
	pool      *Pool
	log       *log.Logger
	published *prometheus.CounterVec
}

func NewPublisher(queue Queue, pool *Pool, logger *log.Logger, reg prometheus.Registerer) *Publisher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Publisher{
		queue: queue,
		pool:  pool,
		log:   logger,
		published: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "todo_agent_events_published_total",
			Help: "Task events sent to the event queue, by result.",
		}, []string{"result"}),
	}
}

// Publish hands the event to the pool, or sends it inline when the pool is saturated.
func (p *Publisher) Publish(_ context.Context, ev domain.TaskEvent) {
	job := Job{Name: string(ev.Type), Run: func(ctx context.Context) error {
		return p.send(ctx, ev)
	}}
	if p.pool.Submit(job) {
		return
	}
	p.log.Warn("event buffer saturated; publishing inline")
	if err := p.pool.Do(job); err != nil {
		p.log.Errorf("publish inline failed: %v", err)
	}
}

func (p *Publisher) send(ctx context.Context, ev domain.TaskEvent) error {
	data, err := sonic.MarshalString(ev)
	if err != nil {
		p.published.WithLabelValues("error").Inc()
		return err
	}
	if _, err := p.queue.EnqueueMessage(ctx, data, nil); err != nil {
		p.published.WithLabelValues("error").Inc()
		return err
	}
	p.published.WithLabelValues("ok").Inc()
	return nil
}
