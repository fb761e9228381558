package schedule

import (
	"fmt"
	"sync"
)

// Ledger tracks task completion for one clock-out session.
// It is not safe for concurrent use; Sessions serializes access.
type Ledger struct {
	visitID string
	tasks   []Task
	index   map[string]int
}

// NewLedger seeds a ledger from a visit's tasks.
func NewLedger(visitID string, tasks []Task) *Ledger {
	l := &Ledger{
		visitID: visitID,
		tasks:   make([]Task, len(tasks)),
		index:   make(map[string]int, len(tasks)),
	}
	copy(l.tasks, tasks)
	for i, t := range l.tasks {
		if t.State == "" {
			l.tasks[i].State = CompletionUnset
		}
		if l.tasks[i].State != CompletionNotDone {
			l.tasks[i].Reason = ""
		}
		l.index[t.ID] = i
	}
	return l
}

// VisitID returns the visit the ledger belongs to.
func (l *Ledger) VisitID() string {
	return l.visitID
}

// SetCompletion marks a task done or not done. Marking it done clears any
// reason; marking it not done keeps the reason already given.
func (l *Ledger) SetCompletion(taskID string, done bool) error {
	i, ok := l.index[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if done {
		l.tasks[i].State = CompletionDone
		l.tasks[i].Reason = ""
		return nil
	}
	l.tasks[i].State = CompletionNotDone
	return nil
}

// SetReason records why a task was not done. It is a no-op unless the task
// is currently not done.
func (l *Ledger) SetReason(taskID, text string) error {
	i, ok := l.index[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if l.tasks[i].State != CompletionNotDone {
		return nil
	}
	l.tasks[i].Reason = text
	return nil
}

// IsFullyAddressed reports whether every task is done, or not done with a
// non-empty reason.
func (l *Ledger) IsFullyAddressed() bool {
	return TasksAddressed(l.tasks)
}

// Tasks returns a copy of the tasks in display order.
func (l *Ledger) Tasks() []Task {
	out := make([]Task, len(l.tasks))
	copy(out, l.tasks)
	return out
}

// Sessions holds the open clock-out ledgers, one per visit.
type Sessions struct {
	mu      sync.Mutex
	ledgers map[string]*Ledger
}

// NewSessions creates an empty session set.
func NewSessions() *Sessions {
	return &Sessions{ledgers: make(map[string]*Ledger)}
}

// Tasks returns the session tasks for v, opening a session if needed.
func (s *Sessions) Tasks(v Visit) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open(v).Tasks()
}

// Update applies fn to v's ledger and returns the resulting tasks.
func (s *Sessions) Update(v Visit, fn func(*Ledger) error) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.open(v)
	if err := fn(l); err != nil {
		return nil, err
	}
	return l.Tasks(), nil
}

// Close discards the session for visitID.
func (s *Sessions) Close(visitID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ledgers, visitID)
}

// Open reports whether a session exists for visitID.
func (s *Sessions) Open(visitID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ledgers[visitID]
	return ok
}

// open returns v's ledger, seeding it on first use. When a poll has since
// added or removed tasks, the ledger is re-seeded from v and keeps the
// entries already made for tasks that still exist.
func (s *Sessions) open(v Visit) *Ledger {
	l, ok := s.ledgers[v.ID]
	if ok && l.sameTasks(v.Tasks) {
		return l
	}
	next := NewLedger(v.ID, v.Tasks)
	if ok {
		next.carryOver(l)
	}
	s.ledgers[v.ID] = next
	return next
}

func (l *Ledger) sameTasks(tasks []Task) bool {
	if len(tasks) != len(l.tasks) {
		return false
	}
	for i, t := range tasks {
		if l.tasks[i].ID != t.ID {
			return false
		}
	}
	return true
}

func (l *Ledger) carryOver(prev *Ledger) {
	for i, t := range l.tasks {
		j, ok := prev.index[t.ID]
		if !ok {
			continue
		}
		l.tasks[i].State = prev.tasks[j].State
		l.tasks[i].Reason = prev.tasks[j].Reason
	}
}
