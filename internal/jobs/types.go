package jobs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	TaskRefresh     = "cache:refresh"
	TaskPruneEvents = "cache:prune_events"

	QueueRefresh = "refresh"
)

// RefreshPayload names one cache slot to bring up to date. An empty Date
// means today in the cache's time zone.
type RefreshPayload struct {
	Source   string `json:"source"`
	Endpoint string `json:"endpoint"`
	Date     string `json:"date,omitempty"`
	Force    bool   `json:"force,omitempty"`
}

type PruneEventsPayload struct {
	OlderThanHours int `json:"older_than_hours"`
}

func NewRefreshTask(p RefreshPayload, opts ...asynq.Option) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRefresh, b, append([]asynq.Option{asynq.Queue(QueueRefresh)}, opts...)...), nil
}

func NewPruneEventsTask(p PruneEventsPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPruneEvents, b), nil
}

// ParseTarget reads "source/endpoint" or "source/endpoint/date".
func ParseTarget(s string) (RefreshPayload, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return RefreshPayload{}, fmt.Errorf("refresh target %q: want source/endpoint[/date]", s)
	}
	p := RefreshPayload{Source: parts[0], Endpoint: parts[1]}
	if len(parts) == 3 {
		p.Date = parts[2]
	}
	return p, nil
}
