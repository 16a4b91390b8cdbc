// Package alarm implements the Alarm Engine (C9): scheduled condition
// evaluation over saved searches, with per-alarm throttling, grouping,
// and fan-out across notification transports.
package alarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/grepwise/grepwise/infrastructure/metrics"
	"github.com/grepwise/grepwise/internal/model"
	"github.com/grepwise/grepwise/internal/obserr"
	"github.com/grepwise/grepwise/internal/obslog"
	"github.com/grepwise/grepwise/internal/repository"
)

// Searcher is the narrow Index Engine collaborator the engine needs,
// satisfied by *index.Engine without this package importing it.
type Searcher interface {
	Search(ctx context.Context, queryStr string, isRegex bool, startTime, endTime *int64) ([]model.LogRecord, error)
}

// Transport delivers notifications for one channel kind (email,
// PagerDuty, OpsGenie, webhook, Slack, …).
type Transport interface {
	SendAlert(ctx context.Context, a model.Alarm, destination, message string) bool
	SendGroupedAlert(ctx context.Context, groupingKey, destination, message string, count int) bool
}

// Stats is the payload returned by Engine.Stats.
type Stats struct {
	TotalAlarms    int
	EnabledAlarms  int
	DisabledAlarms int
}

type sendWindow struct {
	mu   sync.Mutex
	logs []time.Time
}

// recordAndCheck reports whether the window already held >= max sends
// within the trailing window duration — i.e. whether the trigger should
// be suppressed — and records now as a send only when it is not.
func (w *sendWindow) recordAndCheck(now time.Time, window time.Duration, max int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := now.Add(-window)
	kept := w.logs[:0]
	for _, t := range w.logs {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.logs = kept
	suppressed := len(w.logs) >= max
	if !suppressed {
		w.logs = append(w.logs, now)
	}
	return suppressed
}

type pendingGroup struct {
	mu      sync.Mutex
	members map[string]int // alarm name -> count
	timer   *time.Timer
}

// Engine owns the set of enabled alarms and their scheduled evaluation.
type Engine struct {
	repo       *repository.Repository[model.Alarm]
	searcher   Searcher
	transports map[string]Transport
	log        *obslog.Component

	mu       sync.Mutex
	windows  map[string]*sendWindow  // alarm id -> throttle ring
	groups   map[string]*pendingGroup // groupingKey -> pending group
	cronSched *cron.Cron
}

// New constructs an Engine. transports maps NotificationChannel.Type
// (lowercase, e.g. "email", "slack") to its Transport.
func New(repo *repository.Repository[model.Alarm], searcher Searcher, transports map[string]Transport, log *obslog.Component) *Engine {
	return &Engine{
		repo:       repo,
		searcher:   searcher,
		transports: transports,
		log:        log,
		windows:    make(map[string]*sendWindow),
		groups:     make(map[string]*pendingGroup),
	}
}

// Create validates cfg, rejects duplicate names, normalizes defaults,
// assigns an id if absent, and persists it.
func (e *Engine) Create(a model.Alarm) (model.Alarm, error) {
	if err := a.Validate(); err != nil {
		return model.Alarm{}, obserr.ValidationErr("alarm", err.Error())
	}
	if repository.ExistsByName(e.repo, a.Name) {
		return model.Alarm{}, obserr.ConflictErr("alarm", "name", a.Name)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Normalize()
	if err := e.repo.Save(a); err != nil {
		return model.Alarm{}, err
	}
	return a, nil
}

// Update replaces an existing alarm's fields, re-validating and
// re-normalizing. The name-uniqueness check ignores the alarm's own
// current name.
func (e *Engine) Update(a model.Alarm) (model.Alarm, error) {
	existing, err := e.repo.FindByID(a.ID)
	if err != nil {
		return model.Alarm{}, err
	}
	if err := a.Validate(); err != nil {
		return model.Alarm{}, obserr.ValidationErr("alarm", err.Error())
	}
	if a.Name != existing.Name && repository.ExistsByName(e.repo, a.Name) {
		return model.Alarm{}, obserr.ConflictErr("alarm", "name", a.Name)
	}
	a.Normalize()
	if err := e.repo.Save(a); err != nil {
		return model.Alarm{}, err
	}
	return a, nil
}

// Delete removes an alarm and its throttle state.
func (e *Engine) Delete(id string) error {
	if err := e.repo.DeleteByID(id); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.windows, id)
	e.mu.Unlock()
	return nil
}

// Get returns the alarm with the given id.
func (e *Engine) Get(id string) (model.Alarm, error) {
	return e.repo.FindByID(id)
}

// List returns every stored alarm.
func (e *Engine) List() []model.Alarm {
	return e.repo.FindAll()
}

// Stats returns alarm counts by enabled state.
func (e *Engine) Stats() Stats {
	all := e.repo.FindAll()
	s := Stats{TotalAlarms: len(all)}
	for _, a := range all {
		if a.Enabled {
			s.EnabledAlarms++
		} else {
			s.DisabledAlarms++
		}
	}
	return s
}

// StartScheduling registers a recurring evaluation of every enabled
// alarm at the given cron schedule spec (e.g. "@every 15s"), mirroring
// the partition housekeeper's cron wiring.
func (e *Engine) StartScheduling(ctx context.Context, spec string) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := cron.New()
	_, err := c.AddFunc(spec, func() { e.evaluateAll(ctx) })
	if err != nil {
		return nil, fmt.Errorf("alarm: invalid schedule %q: %w", spec, err)
	}
	c.Start()
	e.cronSched = c
	return func() { c.Stop() }, nil
}

func (e *Engine) evaluateAll(ctx context.Context) {
	for _, a := range e.repo.FindAll() {
		if !a.Enabled {
			continue
		}
		e.Evaluate(ctx, a)
	}
}

// Evaluate runs one alarm's search/condition/notify cycle.
func (e *Engine) Evaluate(ctx context.Context, a model.Alarm) error {
	now := time.Now()
	start := now.Add(-time.Duration(a.TimeWindowMinutes) * time.Minute).UnixMilli()
	end := now.UnixMilli()

	results, err := e.searcher.Search(ctx, a.Query, false, &start, &end)
	if err != nil {
		if e.log != nil {
			e.log.Error(ctx, "alarm evaluation search failed", err, map[string]interface{}{"alarm_id": a.ID})
		}
		return err
	}

	count := len(results)
	if !conditionHolds(a.Condition, count, a.Threshold) {
		return nil
	}

	if metrics.Global() != nil {
		metrics.Global().RecordAlarmFired("grepwise", a.ID)
	}
	e.triggerNotifications(ctx, a, count)
	return nil
}

func conditionHolds(condition string, count, threshold int) bool {
	switch condition {
	case ">":
		return count > threshold
	case ">=":
		return count >= threshold
	case "<":
		return count < threshold
	case "<=":
		return count <= threshold
	case "==":
		return count == threshold
	case "!=":
		return count != threshold
	default:
		return false
	}
}

func (e *Engine) windowFor(alarmID string) *sendWindow {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.windows[alarmID]
	if !ok {
		w = &sendWindow{}
		e.windows[alarmID] = w
	}
	return w
}

func (e *Engine) triggerNotifications(ctx context.Context, a model.Alarm, count int) {
	throttleWindow := time.Duration(a.ThrottleWindowMinutes) * time.Minute
	if e.windowFor(a.ID).recordAndCheck(time.Now(), throttleWindow, a.MaxNotificationsPerWindow) {
		return // suppressed, silently recorded via the ring itself
	}

	message := fmt.Sprintf("alarm %q: %d results (%s %d)", a.Name, count, a.Condition, a.Threshold)

	if a.GroupingKey != "" {
		e.deferGrouped(ctx, a, message, count)
		return
	}
	e.dispatch(ctx, a, message)
}

func (e *Engine) dispatch(ctx context.Context, a model.Alarm, message string) {
	for _, ch := range a.NotificationChannels {
		transport, ok := e.transports[ch.Type]
		if !ok {
			continue
		}
		ok1 := transport.SendAlert(ctx, a, ch.Destination, message)
		status := "failure"
		if ok1 {
			status = "success"
		}
		if metrics.Global() != nil {
			metrics.Global().RecordNotificationSent("grepwise", ch.Type, status)
		}
	}
}

// deferGrouped accumulates a.Name/count into the pending group for
// a.GroupingKey, flushing a single grouped notification after
// GroupingWindowMinutes of the first member joining.
func (e *Engine) deferGrouped(ctx context.Context, a model.Alarm, message string, count int) {
	e.mu.Lock()
	g, ok := e.groups[a.GroupingKey]
	if !ok {
		g = &pendingGroup{members: make(map[string]int)}
		e.groups[a.GroupingKey] = g
		window := time.Duration(a.GroupingWindowMinutes) * time.Minute
		g.timer = time.AfterFunc(window, func() { e.flushGroup(ctx, a, g) })
	}
	e.mu.Unlock()

	g.mu.Lock()
	g.members[a.Name] = count
	g.mu.Unlock()
}

func (e *Engine) flushGroup(ctx context.Context, a model.Alarm, g *pendingGroup) {
	e.mu.Lock()
	delete(e.groups, a.GroupingKey)
	e.mu.Unlock()

	g.mu.Lock()
	total := 0
	message := "grouped alarms:"
	for name, count := range g.members {
		message += fmt.Sprintf(" %s=%d", name, count)
		total += count
	}
	g.mu.Unlock()

	for _, ch := range a.NotificationChannels {
		transport, ok := e.transports[ch.Type]
		if !ok {
			continue
		}
		ok1 := transport.SendGroupedAlert(ctx, a.GroupingKey, ch.Destination, message, total)
		status := "failure"
		if ok1 {
			status = "success"
		}
		if metrics.Global() != nil {
			metrics.Global().RecordNotificationSent("grepwise", ch.Type, status)
		}
	}
}
