package analytics

import (
	"sync"
	"time"

	"hotlympics/core"
)

// Activity counts reconciled mutations per UTC day and the distinct users
// they touched.
type Activity struct {
	mu      sync.Mutex
	days    map[string]map[core.EventType]int
	touched map[string]map[core.UserID]struct{}
}

// DaySummary is the activity of one UTC day.
type DaySummary struct {
	Day          string                 `json:"day"`
	Mutations    map[core.EventType]int `json:"mutations"`
	UsersTouched int                    `json:"usersTouched"`
}

func NewActivity() *Activity {
	return &Activity{
		days:    map[string]map[core.EventType]int{},
		touched: map[string]map[core.UserID]struct{}{},
	}
}

func (a *Activity) OnEvent(e core.Event) {
	if e.Status != core.StatusReconciled {
		return
	}
	day := e.Time.UTC().Format(core.DateLayout)
	a.mu.Lock()
	defer a.mu.Unlock()
	m := a.days[day]
	if m == nil {
		m = map[core.EventType]int{}
		a.days[day] = m
	}
	m[e.Type]++
	if e.UserID == "" {
		return
	}
	u := a.touched[day]
	if u == nil {
		u = map[core.UserID]struct{}{}
		a.touched[day] = u
	}
	u[e.UserID] = struct{}{}
}

// Day returns the summary for a YYYY-MM-DD day.
func (a *Activity) Day(day string) DaySummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := DaySummary{Day: day, Mutations: map[core.EventType]int{}, UsersTouched: len(a.touched[day])}
	for k, v := range a.days[day] {
		out.Mutations[k] = v
	}
	return out
}

// Today is Day for the current UTC date.
func (a *Activity) Today() DaySummary { return a.Day(time.Now().UTC().Format(core.DateLayout)) }
