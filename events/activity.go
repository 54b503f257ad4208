package events

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"todo-agent/domain"
)

// Table is the part of *aztables.Client used by ActivityLog.
type Table interface {
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

// NewTableClient connects to a table with the retry policy used for activity traffic.
func NewTableClient(connStr, name string) (*aztables.Client, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 10,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	return svc.NewClient(name), nil
}

// ActivityEntry is one line of a user's task history.
type ActivityEntry struct {
	ID     string               `json:"id"`
	Type   domain.TaskEventType `json:"type"`
	TaskID string               `json:"task_id"`
	Title  string               `json:"title"`
	Time   time.Time            `json:"time"`
}

type activityEntity struct {
	aztables.Entity
	EventID    string `json:"EventID"`
	EventType  string `json:"EventType"`
	TaskID     string `json:"TaskID"`
	Title      string `json:"Title"`
	OccurredAt string `json:"OccurredAt"`
}

// ActivityLog stores entries partitioned by owner, newest first.
type ActivityLog struct {
	table Table
}

func NewActivityLog(table Table) *ActivityLog {
	return &ActivityLog{table: table}
}

// rowKey sorts newer events before older ones; the event id keeps keys unique.
func rowKey(t time.Time, id string) string {
	return fmt.Sprintf("%019d_%s", math.MaxInt64-t.UnixNano(), id)
}

// Append records ev. Appending the same event twice overwrites the same row.
func (a *ActivityLog) Append(ctx context.Context, ev domain.TaskEvent) error {
	ent := activityEntity{
		Entity: aztables.Entity{
			PartitionKey: ev.UserID,
			RowKey:       rowKey(ev.Time, ev.ID),
		},
		EventID:    ev.ID,
		EventType:  string(ev.Type),
		TaskID:     ev.TaskID,
		Title:      ev.Task.Title,
		OccurredAt: ev.Time.UTC().Format(time.RFC3339Nano),
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return err
	}
	if _, err := a.table.UpsertEntity(ctx, payload, nil); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// Recent returns at most limit entries for owner, newest first.
func (a *ActivityLog) Recent(ctx context.Context, owner string, limit int) ([]ActivityEntry, error) {
	if err := domain.RequireOwner(owner); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []ActivityEntry{}, nil
	}
	return a.query(ctx, partitionFilter(owner), limit)
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func partitionFilter(owner string) string {
	return "PartitionKey eq " + quote(owner)
}

// query pages through entities matching filter in row key order. A non-positive
// limit reads every match.
func (a *ActivityLog) query(ctx context.Context, filter string, limit int) ([]ActivityEntry, error) {
	opts := &aztables.ListEntitiesOptions{Filter: &filter}
	if limit > 0 {
		top := int32(limit)
		opts.Top = &top
	}
	pager := a.table.NewListEntitiesPager(opts)

	out := make([]ActivityEntry, 0)
	for pager.More() && (limit <= 0 || len(out) < limit) {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list activity: %w", err)
		}
		for _, raw := range resp.Entities {
			var ent activityEntity
			if err := sonic.Unmarshal(raw, &ent); err != nil {
				return nil, fmt.Errorf("decode activity: %w", err)
			}
			at, _ := time.Parse(time.RFC3339Nano, ent.OccurredAt)
			out = append(out, ActivityEntry{
				ID:     ent.EventID,
				Type:   domain.TaskEventType(ent.EventType),
				TaskID: ent.TaskID,
				Title:  ent.Title,
				Time:   at,
			})
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
