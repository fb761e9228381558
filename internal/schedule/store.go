package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Fetcher loads the caregiver's current visits from the backend.
type Fetcher interface {
	FetchVisits(ctx context.Context) ([]Visit, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context) ([]Visit, error)

// FetchVisits calls f.
func (f FetcherFunc) FetchVisits(ctx context.Context) ([]Visit, error) {
	return f(ctx)
}

// Poll identifies one refresh cycle. Polls are ordered by when they started.
type Poll struct {
	Seq       uint64
	StartedAt time.Time
}

// AnomalyKind classifies a data anomaly in the visit set.
type AnomalyKind string

const (
	// AnomalyMultipleActive means more than one visit is in progress.
	AnomalyMultipleActive AnomalyKind = "multiple_active"
	// AnomalyActiveWithoutTasks means an in-progress visit has no tasks.
	AnomalyActiveWithoutTasks AnomalyKind = "active_without_tasks"
)

// Anomaly is an inconsistency in server data surfaced as a warning.
type Anomaly struct {
	Kind     AnomalyKind
	VisitIDs []string
	Message  string
}

// Stats are today's dashboard counters.
type Stats struct {
	Missed    int
	Upcoming  int
	Completed int
}

// Day is a consistent categorized view of the caregiver's local day.
type Day struct {
	Date        time.Time
	Active      *View
	Upcoming    []View
	Missed      []View
	Completed   []View
	Stats       Stats
	Anomalies   []Anomaly
	RefreshedAt time.Time
}

// StoreConfig holds configuration for the schedule store.
type StoreConfig struct {
	// Clock is the time source (default: SystemClock).
	Clock Clock

	// Phase holds the timing windows (default: DefaultPhaseConfig).
	Phase *PhaseConfig

	// Location is the caregiver's time zone for day boundaries
	// (default: time.Local).
	Location *time.Location

	// Logger for store operations.
	Logger zerolog.Logger
}

// Store holds the most recent reconciled visit set for one caregiver.
type Store struct {
	clock    Clock
	phase    PhaseConfig
	location *time.Location
	logger   zerolog.Logger

	mu          sync.RWMutex
	visits      map[string]Visit
	anomalies   []Anomaly
	nextSeq     uint64
	appliedSeq  uint64
	refreshedAt time.Time

	// overrides pins a visit confirmed by a transition against polls that
	// started before the transition finished.
	overrides map[string]uint64

	subMu       sync.Mutex
	subscribers map[int]func()
	nextSubID   int
}

// NewStore creates an empty store.
func NewStore(cfg StoreConfig) *Store {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}

	phase := DefaultPhaseConfig()
	if cfg.Phase != nil {
		phase = *cfg.Phase
	}

	location := cfg.Location
	if location == nil {
		location = time.Local
	}

	return &Store{
		clock:       clock,
		phase:       phase,
		location:    location,
		logger:      cfg.Logger,
		visits:      make(map[string]Visit),
		overrides:   make(map[string]uint64),
		subscribers: make(map[int]func()),
	}
}

// Phase returns the store's timing windows.
func (s *Store) Phase() PhaseConfig {
	return s.phase
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}

// BeginPoll stamps the start of a refresh cycle.
func (s *Store) BeginPoll() Poll {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	return Poll{Seq: s.nextSeq, StartedAt: s.clock.Now()}
}

// Apply replaces the whole visit set with the result of poll p.
// A result is discarded when a poll that started later has already been
// applied. Reports whether the result was accepted.
func (s *Store) Apply(p Poll, visits []Visit) bool {
	s.mu.Lock()
	if p.Seq <= s.appliedSeq {
		s.mu.Unlock()
		s.logger.Debug().
			Uint64("poll_seq", p.Seq).
			Uint64("applied_seq", s.appliedSeq).
			Msg("discarding stale poll result")
		return false
	}

	next := make(map[string]Visit, len(visits))
	for _, v := range visits {
		if _, dup := next[v.ID]; dup {
			s.logger.Warn().Str("visit_id", v.ID).Msg("duplicate visit in poll result")
			continue
		}
		next[v.ID] = v.Clone()
	}

	for id, seq := range s.overrides {
		if p.Seq > seq {
			delete(s.overrides, id)
			continue
		}
		if local, ok := s.visits[id]; ok {
			next[id] = local
		}
	}

	s.visits = next
	s.appliedSeq = p.Seq
	s.refreshedAt = s.clock.Now()
	s.anomalies = detectAnomalies(next)
	anomalies := s.anomalies
	s.mu.Unlock()

	for _, a := range anomalies {
		s.logger.Warn().
			Str("kind", string(a.Kind)).
			Strs("visit_ids", a.VisitIDs).
			Msg(a.Message)
	}

	s.notify()
	return true
}

// Refresh runs one full poll against f.
func (s *Store) Refresh(ctx context.Context, f Fetcher) (bool, error) {
	p := s.BeginPoll()
	visits, err := f.FetchVisits(ctx)
	if err != nil {
		return false, err
	}
	return s.Apply(p, visits), nil
}

// Put stores a visit confirmed by a successful transition. Polls that were
// already in flight when Put ran keep this version of the visit.
func (s *Store) Put(v Visit) {
	s.mu.Lock()
	s.visits[v.ID] = v.Clone()
	s.overrides[v.ID] = s.nextSeq
	s.anomalies = detectAnomalies(s.visits)
	s.mu.Unlock()

	s.notify()
}

// Get returns the visit with the given id.
func (s *Store) Get(id string) (Visit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.visits[id]
	if !ok {
		return Visit{}, false
	}
	return v.Clone(), true
}

// View returns the visit with the given id evaluated now.
func (s *Store) View(id string) (View, bool) {
	v, ok := s.Get(id)
	if !ok {
		return View{}, false
	}
	return s.phase.View(v, s.clock.Now()), true
}

// Len returns the number of visits held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.visits)
}

// RefreshedAt returns when the last poll result was applied.
func (s *Store) RefreshedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshedAt
}

// Anomalies returns the data anomalies of the current set.
func (s *Store) Anomalies() []Anomaly {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Anomaly, len(s.anomalies))
	copy(out, s.anomalies)
	return out
}

// Active returns the visit in progress, if any. When the server reports
// more than one, the most recently started wins, then the lowest id.
func (s *Store) Active() (View, bool) {
	return s.Today().activeOrZero()
}

// UpcomingToday returns today's scheduled and grace-period visits by start.
func (s *Store) UpcomingToday() []View {
	return s.Today().Upcoming
}

// MissedToday returns today's missed and cancelled visits by start.
func (s *Store) MissedToday() []View {
	return s.Today().Missed
}

// CompletedToday returns today's completed visits by start.
func (s *Store) CompletedToday() []View {
	return s.Today().Completed
}

// Stats returns today's dashboard counters.
func (s *Store) Stats() Stats {
	return s.Today().Stats
}

// Today categorizes the visit set for the caregiver's local day. Every
// category is computed from the same set at the same instant.
func (s *Store) Today() Day {
	now := s.clock.Now()

	s.mu.RLock()
	views := make([]View, 0, len(s.visits))
	for _, v := range s.visits {
		views = append(views, s.phase.View(v, now))
	}
	anomalies := make([]Anomaly, len(s.anomalies))
	copy(anomalies, s.anomalies)
	refreshedAt := s.refreshedAt
	s.mu.RUnlock()

	start, end := dayBounds(now, s.location)
	day := Day{
		Date:        start,
		Anomalies:   anomalies,
		RefreshedAt: refreshedAt,
	}

	var active []View
	for _, v := range views {
		if v.DisplayStatus == DisplayInProgress {
			active = append(active, v)
			continue
		}
		if v.ScheduledAt.Before(start) || !v.ScheduledAt.Before(end) {
			continue
		}
		switch v.DisplayStatus {
		case DisplayScheduled, DisplayGracePeriod:
			day.Upcoming = append(day.Upcoming, v)
		case DisplayMissed, DisplayCancelled:
			day.Missed = append(day.Missed, v)
		case DisplayCompleted:
			day.Completed = append(day.Completed, v)
		}
	}

	if len(active) > 0 {
		sortActive(active)
		a := active[0]
		day.Active = &a
	}
	sortByStart(day.Upcoming)
	sortByStart(day.Missed)
	sortByStart(day.Completed)

	day.Stats = Stats{
		Missed:    len(day.Missed),
		Upcoming:  len(day.Upcoming),
		Completed: len(day.Completed),
	}
	return day
}

// Subscribe registers fn to run after every accepted change.
// The returned function unregisters it.
func (s *Store) Subscribe(fn func()) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (d Day) activeOrZero() (View, bool) {
	if d.Active == nil {
		return View{}, false
	}
	return *d.Active, true
}

// dayBounds returns local midnight-to-midnight around now.
func dayBounds(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

func sortByStart(views []View) {
	sort.SliceStable(views, func(i, j int) bool {
		if !views[i].ScheduledAt.Equal(views[j].ScheduledAt) {
			return views[i].ScheduledAt.Before(views[j].ScheduledAt)
		}
		return views[i].ID < views[j].ID
	})
}

func sortActive(views []View) {
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i].StartedAt, views[j].StartedAt
		switch {
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		}
		return views[i].ID < views[j].ID
	})
}

func detectAnomalies(visits map[string]Visit) []Anomaly {
	var active []string
	var anomalies []Anomaly
	for id, v := range visits {
		if v.ServerStatus != ServerInProgress {
			continue
		}
		active = append(active, id)
		if len(v.Tasks) == 0 {
			anomalies = append(anomalies, Anomaly{
				Kind:     AnomalyActiveWithoutTasks,
				VisitIDs: []string{id},
				Message:  "visit in progress has no tasks",
			})
		}
	}
	if len(active) > 1 {
		sort.Strings(active)
		anomalies = append(anomalies, Anomaly{
			Kind:     AnomalyMultipleActive,
			VisitIDs: active,
			Message:  "more than one visit in progress",
		})
	}
	sort.SliceStable(anomalies, func(i, j int) bool {
		if anomalies[i].Kind != anomalies[j].Kind {
			return anomalies[i].Kind < anomalies[j].Kind
		}
		return anomalies[i].VisitIDs[0] < anomalies[j].VisitIDs[0]
	})
	return anomalies
}
