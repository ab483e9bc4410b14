package metrics

import (
	"fmt"
	"strings"
	"time"

	"clickup-metrics/clickup"
)

// Policy selects how a task's totals combine its own value with the values
// of the tasks below it. It is applied at every level of the tree.
type Policy string

const (
	// PolicyLeaf counts only descendants; a task's own value is left out.
	PolicyLeaf Policy = "leaf"
	// PolicyNode counts only the task itself.
	PolicyNode Policy = "node"
	// PolicyNodeAndLeaf counts the task and all of its descendants.
	PolicyNodeAndLeaf Policy = "node_and_leaf"
)

// ParsePolicy accepts the policy names plus a few spellings used in forms.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "leaf", "leaf_only", "leaf-only":
		return PolicyLeaf, nil
	case "node", "node_only", "node-only":
		return PolicyNode, nil
	case "", "node_and_leaf", "node-and-leaf", "nodeandleaf":
		return PolicyNodeAndLeaf, nil
	}
	return "", fmt.Errorf("unknown aggregation policy %q", s)
}

// WeekendMode selects how weekend days are taken out of dev days.
type WeekendMode string

const (
	// WeekendRatio scales days by the share of work days in a week and
	// rounds up. It does not look at dates.
	WeekendRatio WeekendMode = "ratio"
	// WeekendCalendar walks the calendar from the first day a task entered
	// a development status and drops Saturdays and Sundays.
	WeekendCalendar WeekendMode = "calendar"
)

// ParseWeekendMode parses a weekend mode name; empty means WeekendRatio.
func ParseWeekendMode(s string) (WeekendMode, error) {
	switch WeekendMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", WeekendRatio:
		return WeekendRatio, nil
	case WeekendCalendar:
		return WeekendCalendar, nil
	}
	return "", fmt.Errorf("unknown weekend mode %q", s)
}

const (
	// DefaultDevOrderIndex is the first status position that counts as
	// development.
	DefaultDevOrderIndex = 5
	// DefaultWorkDaysPerWeek gives the 5/7 weekend ratio.
	DefaultWorkDaysPerWeek = 5

	minutesPerDay = 24 * 60
	daysPerWeek   = 7
)

// Options configures a metrics calculation.
type Options struct {
	Policy          Policy
	DevOrderIndex   int
	WorkDaysPerWeek int
	ExcludeWeekends bool
	WeekendMode     WeekendMode
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Policy:          PolicyNodeAndLeaf,
		DevOrderIndex:   DefaultDevOrderIndex,
		WorkDaysPerWeek: DefaultWorkDaysPerWeek,
		WeekendMode:     WeekendRatio,
	}
}

// Node holds the metrics of one task and its subtasks.
type Node struct {
	Identifier   string  `json:"identifier" yaml:"identifier"`
	Name         string  `json:"name" yaml:"name"`
	Points       float64 `json:"points" yaml:"points"`
	TotalPoints  float64 `json:"total_points" yaml:"total_points"`
	DevDays      int     `json:"dev_days" yaml:"dev_days"`
	TotalDevDays int     `json:"total_dev_days" yaml:"total_dev_days"`
	Children     []*Node `json:"children,omitempty" yaml:"children,omitempty"`

	// devStart is when the task first entered a development status.
	devStart time.Time
}

// Summary gives whole-tree figures for a metrics tree.
type Summary struct {
	Tasks        int     `json:"tasks" yaml:"tasks"`
	Leaves       int     `json:"leaves" yaml:"leaves"`
	Depth        int     `json:"depth" yaml:"depth"`
	Points       float64 `json:"points" yaml:"points"`
	DevDays      int     `json:"dev_days" yaml:"dev_days"`
	DaysPerPoint float64 `json:"days_per_point" yaml:"days_per_point"`
}

// Build converts a fetched task tree into a metrics tree, computes totals
// under opts.Policy and, if requested, takes weekends out of dev days. The
// result shares nothing with task.
func Build(task *clickup.Task, opts Options) *Node {
	root := convert(task, opts.DevOrderIndex)
	aggregate(root, opts.Policy)
	if opts.ExcludeWeekends {
		ExcludeWeekends(root, opts)
	}
	return root
}

// DevDays returns the whole days spent in statuses at or past devOrderIndex,
// and the earliest time the task entered one of them. Statuses without an
// order index are ignored.
func DevDays(tis *clickup.TimeInStatus, devOrderIndex int) (int, time.Time) {
	if tis == nil {
		return 0, time.Time{}
	}

	days := 0
	var start time.Time
	for _, period := range tis.StatusHistory {
		if period.OrderIndex == nil || *period.OrderIndex < devOrderIndex {
			continue
		}
		days += int(period.TotalTime.ByMinute / minutesPerDay)
		since := period.TotalTime.Since.Time
		if !since.IsZero() && (start.IsZero() || since.Before(start)) {
			start = since
		}
	}
	return days, start
}

func convert(task *clickup.Task, devOrderIndex int) *Node {
	children := make([]*Node, 0, len(task.SubTasks))
	for _, sub := range task.SubTasks {
		if sub.Task != nil {
			children = append(children, convert(sub.Task, devOrderIndex))
			continue
		}
		// Unresolved references still carry a points preview.
		children = append(children, &Node{
			Identifier: sub.Identifier(),
			Name:       sub.Name,
			Points:     valueOrZero(sub.Points),
		})
	}

	days, start := DevDays(task.TimeInStatus, devOrderIndex)
	return &Node{
		Identifier: task.Identifier(),
		Name:       task.Name,
		Points:     valueOrZero(task.Points),
		DevDays:    days,
		Children:   children,
		devStart:   start,
	}
}

// aggregate fills the totals of n and its subtree and returns the sum of the
// own values in the subtree, n included.
func aggregate(n *Node, policy Policy) (float64, int) {
	var points float64
	var days int
	for _, child := range n.Children {
		p, d := aggregate(child, policy)
		points += p
		days += d
	}

	switch policy {
	case PolicyLeaf:
		n.TotalPoints, n.TotalDevDays = points, days
	case PolicyNode:
		n.TotalPoints, n.TotalDevDays = n.Points, n.DevDays
	default:
		n.TotalPoints, n.TotalDevDays = n.Points+points, n.DevDays+days
	}

	return n.Points + points, n.DevDays + days
}

// ExcludeWeekends adjusts dev days across the whole tree in place. It is not
// idempotent: applying it twice discounts twice.
func ExcludeWeekends(root *Node, opts Options) {
	if opts.WeekendMode == WeekendCalendar {
		walk(root, func(n *Node) {
			if !n.devStart.IsZero() {
				n.DevDays = weekdaysFrom(n.devStart, n.DevDays)
			}
		})
		aggregate(root, opts.Policy)
		return
	}

	workDays := opts.WorkDaysPerWeek
	if workDays <= 0 || workDays > daysPerWeek {
		workDays = DefaultWorkDaysPerWeek
	}
	walk(root, func(n *Node) {
		n.DevDays = scaleUp(n.DevDays, workDays)
		n.TotalDevDays = scaleUp(n.TotalDevDays, workDays)
	})
}

// Summarize computes whole-tree figures from the tasks' own values.
func Summarize(root *Node) Summary {
	var s Summary
	var visit func(n *Node, depth int)
	visit = func(n *Node, depth int) {
		s.Tasks++
		s.Points += n.Points
		s.DevDays += n.DevDays
		if depth > s.Depth {
			s.Depth = depth
		}
		if len(n.Children) == 0 {
			s.Leaves++
		}
		for _, child := range n.Children {
			visit(child, depth+1)
		}
	}
	if root != nil {
		visit(root, 0)
	}
	if s.Points > 0 {
		s.DaysPerPoint = float64(s.DevDays) / s.Points
	}
	return s
}

// scaleUp returns ceil(days * workDays / 7) using integer arithmetic, so
// whole weeks map exactly (7 -> 5).
func scaleUp(days, workDays int) int {
	if days <= 0 {
		return days
	}
	return (days*workDays + daysPerWeek - 1) / daysPerWeek
}

// weekdaysFrom counts the Monday-Friday days among the first n calendar days
// starting at start.
func weekdaysFrom(start time.Time, n int) int {
	weekdays := 0
	for d := 0; d < n; d++ {
		switch start.AddDate(0, 0, d).Weekday() {
		case time.Saturday, time.Sunday:
		default:
			weekdays++
		}
	}
	return weekdays
}

func walk(n *Node, fn func(*Node)) {
	fn(n)
	for _, child := range n.Children {
		walk(child, fn)
	}
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
