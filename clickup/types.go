package clickup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// types.go - Data structures for ClickUp integration

// Task is a single ClickUp task as returned by GET /task/{id}, together with
// the time-in-status history the fetcher attaches to it.
type Task struct {
	ID          string     `json:"id"`
	CustomID    *string    `json:"custom_id"`
	Name        string     `json:"name"`
	Points      *float64   `json:"points"`
	DateCreated MillisTime `json:"date_created"`
	SubTasks    []SubTask  `json:"subtasks"`

	// TimeInStatus is not part of the task payload; it is filled from the
	// time_in_status endpoint.
	TimeInStatus *TimeInStatus `json:"-"`
}

// SubTask is a child reference listed on its parent. Task stays nil until the
// child's own subtree has been fetched.
type SubTask struct {
	ID          string     `json:"id"`
	CustomID    *string    `json:"custom_id"`
	Name        string     `json:"name"`
	Points      *float64   `json:"points"`
	DateCreated MillisTime `json:"date_created"`

	Task *Task `json:"-"`
}

// TimeInStatus is the body of GET /task/{id}/time_in_status.
type TimeInStatus struct {
	CurrentStatus CurrentStatus  `json:"current_status"`
	StatusHistory []StatusPeriod `json:"status_history"`
}

// CurrentStatus is the status the task is in right now.
type CurrentStatus struct {
	Status    string    `json:"status"`
	TotalTime TotalTime `json:"total_time"`
}

// StatusPeriod is one entry of a task's status history. OrderIndex is nil for
// statuses outside the list's pipeline.
type StatusPeriod struct {
	Status     string    `json:"status"`
	Type       string    `json:"type"`
	OrderIndex *int      `json:"orderindex"`
	TotalTime  TotalTime `json:"total_time"`
}

// TotalTime is how long a task has spent in a status and when it entered it.
type TotalTime struct {
	ByMinute int64      `json:"by_minute"`
	Since    MillisTime `json:"since"`
}

// TaskRequest identifies a task. When WorkspaceID is set, TaskID is treated
// as a custom task id scoped to that workspace.
type TaskRequest struct {
	TaskID      string
	WorkspaceID string
}

// Identifier returns the custom id when present, else the task id.
func (t *Task) Identifier() string {
	return identifier(t.ID, t.CustomID)
}

// Identifier returns the custom id when present, else the task id.
func (s *SubTask) Identifier() string {
	return identifier(s.ID, s.CustomID)
}

func identifier(id string, customID *string) string {
	if customID != nil && *customID != "" {
		return *customID
	}
	return id
}

// MillisTime decodes ClickUp's Unix-millisecond timestamps, which arrive as
// JSON strings ("1700000000000") or occasionally as numbers.
type MillisTime struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *MillisTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		m.Time = time.Time{}
		return nil
	}

	var raw string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	} else {
		raw = string(data)
	}
	if raw == "" {
		m.Time = time.Time{}
		return nil
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid millisecond timestamp %q: %w", raw, err)
	}
	m.Time = time.UnixMilli(ms).UTC()
	return nil
}

// MarshalJSON implements json.Marshaler using the same string encoding.
func (m MillisTime) MarshalJSON() ([]byte, error) {
	if m.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(strconv.FormatInt(m.UnixMilli(), 10))
}
