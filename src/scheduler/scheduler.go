package scheduler

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Task is one periodic unit of work. RepeatDelay is measured from the
// completion of a run, not from its start, so a slow callback never overlaps
// itself.
type Task struct {
	Name        string
	StartDelay  time.Duration
	RepeatDelay time.Duration
	Callback    func() error
}

// Scheduler is a cooperative task runner over an injectable clock. Callback
// failures are logged and never prevent future invocations.
type Scheduler struct {
	clock  Clock
	logger *logrus.Entry

	mu      sync.Mutex
	tasks   []Task
	started bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler on the given clock.
func NewScheduler(clock Clock, logger *logrus.Entry) *Scheduler {
	return &Scheduler{
		clock:  clock,
		logger: logger.WithField("component", "scheduler"),
		stopCh: make(chan struct{}),
	}
}

// AddTask registers a task. Tasks registered after Start are launched
// immediately.
func (s *Scheduler) AddTask(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = append(s.tasks, task)
	if s.started {
		s.launch(task)
	}
}

// Start launches all registered tasks.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true

	for _, task := range s.tasks {
		s.launch(task)
	}
}

func (s *Scheduler) launch(task Task) {
	s.wg.Add(1)
	go s.run(task)
}

func (s *Scheduler) run(task Task) {
	defer s.wg.Done()

	logger := s.logger.WithField("task", task.Name)

	select {
	case <-s.clock.After(task.StartDelay):
	case <-s.stopCh:
		return
	}

	for {
		if err := task.Callback(); err != nil {
			logger.WithError(err).Warn("Task run failed")
		}

		select {
		case <-s.clock.After(task.RepeatDelay):
		case <-s.stopCh:
			return
		}
	}
}

// Stop halts all tasks and waits for in-flight callbacks to finish. Tasks
// are not preempted; the stop flag is consulted between runs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}

	s.wg.Wait()
}
