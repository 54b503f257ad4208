package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"todo-agent/domain"
)

func enqueueEvent(t *testing.T, q *fakeQueue, ev domain.TaskEvent) {
	t.Helper()
	data, err := sonic.MarshalString(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	q.push(data)
}

func TestProjectorAppendsAndDeletes(t *testing.T) {
	q := &fakeQueue{}
	table := newFakeTable()
	p := NewProjector(q, NewActivityLog(table), nil, prometheus.NewRegistry())
	enqueueEvent(t, q, sampleEvent("e1", "alice", domain.TaskCompleted, time.Now()))

	handled, err := p.ProcessOne(context.Background())
	if err != nil || !handled {
		t.Fatalf("expected handled message, got %v %v", handled, err)
	}
	if len(q.texts()) != 0 || len(q.deleted) != 1 {
		t.Fatal("expected message to be deleted")
	}
	entries, err := NewActivityLog(table).Recent(context.Background(), "alice", 5)
	if err != nil || len(entries) != 1 || entries[0].Type != domain.TaskCompleted {
		t.Fatalf("unexpected activity %+v %v", entries, err)
	}
}

func TestProjectorDropsMalformed(t *testing.T) {
	q := &fakeQueue{}
	table := newFakeTable()
	p := NewProjector(q, NewActivityLog(table), nil, prometheus.NewRegistry())
	q.push("{not json")
	q.push(`{"id":"x"}`)

	for i := 0; i < 2; i++ {
		if _, err := p.ProcessOne(context.Background()); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	if len(q.texts()) != 0 || len(table.rows) != 0 {
		t.Fatal("expected malformed messages to be dropped without writes")
	}
	if v := testutil.ToFloat64(p.processed.WithLabelValues("dropped")); v != 2 {
		t.Fatalf("expected 2 dropped, got %v", v)
	}
}

func TestProjectorKeepsMessageOnAppendFailure(t *testing.T) {
	q := &fakeQueue{}
	table := newFakeTable()
	table.failWrite = errors.New("table down")
	p := NewProjector(q, NewActivityLog(table), nil, prometheus.NewRegistry())
	enqueueEvent(t, q, sampleEvent("e1", "alice", domain.TaskCreated, time.Now()))

	if _, err := p.ProcessOne(context.Background()); err == nil {
		t.Fatal("expected append error")
	}
	if len(q.texts()) != 1 {
		t.Fatal("expected message to stay queued")
	}
}

func TestProjectorEmptyQueue(t *testing.T) {
	p := NewProjector(&fakeQueue{}, NewActivityLog(newFakeTable()), nil, prometheus.NewRegistry())
	handled, err := p.ProcessOne(context.Background())
	if handled || err != nil {
		t.Fatalf("expected nothing to do, got %v %v", handled, err)
	}
}

func TestProjectorRunStopsOnCancel(t *testing.T) {
	q := &fakeQueue{}
	table := newFakeTable()
	p := NewProjector(q, NewActivityLog(table), nil, prometheus.NewRegistry())
	p.interval = time.Millisecond
	enqueueEvent(t, q, sampleEvent("e1", "alice", domain.TaskCreated, time.Now()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for len(q.texts()) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("projector did not stop")
	}
	table.mu.Lock()
	rows := len(table.rows)
	table.mu.Unlock()
	if rows != 1 {
		t.Fatalf("expected 1 activity row, got %d", rows)
	}
}
