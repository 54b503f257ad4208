package events

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
)

type fakeQueue struct {
	mu       sync.Mutex
	seq      int
	messages []*azqueue.DequeuedMessage
	deleted  []string
	failSend error
	failRecv error
}

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend != nil {
		return azqueue.EnqueueMessagesResponse{}, f.failSend
	}
	f.push(content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func (f *fakeQueue) push(content string) {
	f.seq++
	id := "m" + strconv.Itoa(f.seq)
	receipt := "r" + strconv.Itoa(f.seq)
	text := content
	f.messages = append(f.messages, &azqueue.DequeuedMessage{MessageID: &id, PopReceipt: &receipt, MessageText: &text})
}

func (f *fakeQueue) DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var resp azqueue.DequeueMessagesResponse
	if f.failRecv != nil {
		return resp, f.failRecv
	}
	if len(f.messages) > 0 {
		resp.Messages = []*azqueue.DequeuedMessage{f.messages[0]}
	}
	return resp, nil
}

func (f *fakeQueue) DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.messages {
		if *m.MessageID == messageID {
			f.messages = append(f.messages[:i], f.messages[i+1:]...)
			f.deleted = append(f.deleted, messageID)
			return azqueue.DeleteMessageResponse{}, nil
		}
	}
	return azqueue.DeleteMessageResponse{}, errors.New("message not found")
}

func (f *fakeQueue) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.messages))
	for _, m := range f.messages {
		out = append(out, *m.MessageText)
	}
	return out
}

type fakeTable struct {
	mu        sync.Mutex
	rows      map[string][]byte
	failWrite error
	filters   []string
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: map[string][]byte{}}
}

func (f *fakeTable) UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite != nil {
		return aztables.UpsertEntityResponse{}, f.failWrite
	}
	var key aztables.Entity
	if err := sonic.Unmarshal(entity, &key); err != nil {
		return aztables.UpsertEntityResponse{}, err
	}
	f.rows[key.PartitionKey+"|"+key.RowKey] = append([]byte(nil), entity...)
	return aztables.UpsertEntityResponse{}, nil
}

// NewListEntitiesPager evaluates the filters ActivityLog builds: clauses joined by
// " and ", each an eq or lt comparison against PartitionKey, RowKey or a string property.
func (f *fakeTable) NewListEntitiesPager(opts *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	f.mu.Lock()
	filter := ""
	if opts != nil && opts.Filter != nil {
		filter = *opts.Filter
	}
	f.filters = append(f.filters, filter)
	keys := make([]string, 0, len(f.rows))
	for k, raw := range f.rows {
		if matchFilter(filter, raw) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if opts != nil && opts.Top != nil && int(*opts.Top) < len(keys) {
		keys = keys[:*opts.Top]
	}
	page := aztables.ListEntitiesResponse{}
	for _, k := range keys {
		page.Entities = append(page.Entities, f.rows[k])
	}
	f.mu.Unlock()

	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool { return false },
		Fetcher: func(ctx context.Context, _ *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			return page, nil
		},
	})
}

func matchFilter(filter string, raw []byte) bool {
	var props map[string]any
	if err := sonic.Unmarshal(raw, &props); err != nil {
		return false
	}
	for _, clause := range strings.Split(filter, " and ") {
		parts := strings.SplitN(clause, " ", 3)
		if len(parts) != 3 {
			return false
		}
		want := strings.ReplaceAll(strings.Trim(parts[2], "'"), "''", "'")
		got, _ := props[parts[0]].(string)
		switch parts[1] {
		case "eq":
			if got != want {
				return false
			}
		case "lt":
			if got >= want {
				return false
			}
		default:
			return false
		}
	}
	return true
}
