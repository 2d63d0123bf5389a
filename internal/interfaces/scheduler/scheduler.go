package scheduler

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"
)

// EveryHour in ScheduleTime.Hour matches any hour.
const EveryHour = -1

// ScheduleTime is a time of day at which a schedule fires. Hour may be
// EveryHour for schedules written as "*:MM".
type ScheduleTime struct {
	Hour   int
	Minute int
}

// String returns the time in HH:MM or *:MM format.
func (st ScheduleTime) String() string {
	if st.Hour == EveryHour {
		return fmt.Sprintf("*:%02d", st.Minute)
	}
	return fmt.Sprintf("%02d:%02d", st.Hour, st.Minute)
}

func (st ScheduleTime) matches(t time.Time) bool {
	return (st.Hour == EveryHour || st.Hour == t.Hour()) && st.Minute == t.Minute()
}

// ParseScheduleTime parses a time string in HH:MM or *:MM format.
func ParseScheduleTime(s string) (ScheduleTime, error) {
	hourPart, minutePart, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return ScheduleTime{}, fmt.Errorf("invalid time format %q (expected HH:MM or *:MM)", s)
	}

	hour := EveryHour
	if hourPart != "*" {
		h, err := strconv.Atoi(hourPart)
		if err != nil {
			return ScheduleTime{}, fmt.Errorf("invalid hour %q: %w", hourPart, err)
		}
		if h < 0 || h > 23 {
			return ScheduleTime{}, fmt.Errorf("invalid hour: %d (must be 0-23)", h)
		}
		hour = h
	}

	minute, err := strconv.Atoi(minutePart)
	if err != nil {
		return ScheduleTime{}, fmt.Errorf("invalid minute %q: %w", minutePart, err)
	}
	if minute < 0 || minute > 59 {
		return ScheduleTime{}, fmt.Errorf("invalid minute: %d (must be 0-59)", minute)
	}

	return ScheduleTime{Hour: hour, Minute: minute}, nil
}

// Scheduler fires a job provider at its schedule times and hands the jobs
// to a shared worker pool.
type Scheduler struct {
	name          string
	workerPool    *WorkerPool
	scheduleTimes []ScheduleTime
	runOnStartup  bool
	jobProvider   func(context.Context) ([]Job, error)

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastRun string
	mu      sync.Mutex
}

type SchedulerConfig struct {
	Name          string
	ScheduleTimes []string
	RunOnStartup  bool
	JobProvider   func(context.Context) ([]Job, error)
}

// NewScheduler creates a scheduler that submits to pool. The pool is owned
// by the caller and may be shared by several schedulers.
func NewScheduler(pool *WorkerPool, config SchedulerConfig) (*Scheduler, error) {
	scheduleTimes := make([]ScheduleTime, 0, len(config.ScheduleTimes))
	for _, timeStr := range config.ScheduleTimes {
		st, err := ParseScheduleTime(timeStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s schedule time %q: %w", config.Name, timeStr, err)
		}
		scheduleTimes = append(scheduleTimes, st)
	}

	if len(scheduleTimes) == 0 {
		return nil, fmt.Errorf("%s: at least one schedule time is required", config.Name)
	}

	ctx, cancel := context.WithCancel(context.Background())

	log.Printf("Scheduler %s initialized with %d schedule times: %v", config.Name, len(scheduleTimes), config.ScheduleTimes)

	return &Scheduler{
		name:          config.Name,
		workerPool:    pool,
		scheduleTimes: scheduleTimes,
		runOnStartup:  config.RunOnStartup,
		jobProvider:   config.JobProvider,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start launches the schedule loop. The worker pool must be started
// separately.
func (s *Scheduler) Start() {
	if s.runOnStartup {
		log.Printf("Scheduler %s: running initial job batch on startup", s.name)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runJobs()
		}()
	}

	s.wg.Add(1)
	go s.scheduleLoop()

	log.Printf("Scheduler %s started", s.name)
}

func (s *Scheduler) scheduleLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Printf("Scheduler %s loop: context cancelled, shutting down", s.name)
			return

		case now := <-ticker.C:
			if s.shouldRun(now) {
				log.Printf("Scheduler %s: triggered at %s", s.name, now.Format("15:04"))
				s.runJobs()
			}
		}
	}
}

// shouldRun reports whether now matches a schedule time. A minute fires at
// most once even if the ticker drifts inside it.
func (s *Scheduler) shouldRun(now time.Time) bool {
	key := now.Format("2006-01-02T15:04")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastRun == key {
		return false
	}

	for _, st := range s.scheduleTimes {
		if st.matches(now) {
			s.lastRun = key
			return true
		}
	}

	return false
}

func (s *Scheduler) runJobs() {
	if s.jobProvider == nil {
		log.Printf("Scheduler %s: no job provider configured", s.name)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	jobs, err := s.jobProvider(ctx)
	if err != nil {
		log.Printf("Scheduler %s: failed to fetch jobs: %v", s.name, err)
		return
	}

	if len(jobs) == 0 {
		log.Printf("Scheduler %s: no jobs to process", s.name)
		return
	}

	log.Printf("Scheduler %s: submitting %d jobs to worker pool", s.name, len(jobs))
	s.workerPool.SubmitBatch(jobs)
}

// Shutdown stops the schedule loop and waits for an in-flight job fetch.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("Scheduler %s: stopped gracefully", s.name)
	case <-time.After(timeout):
		log.Printf("Scheduler %s: timeout waiting for loop to stop", s.name)
	}
}

// TriggerNow runs the job provider immediately.
func (s *Scheduler) TriggerNow() {
	log.Printf("Scheduler %s: manual trigger", s.name)
	go s.runJobs()
}

// NextRun returns the first schedule time strictly after now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	var next time.Time
	for _, st := range s.scheduleTimes {
		var candidate time.Time
		if st.Hour == EveryHour {
			candidate = time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), st.Minute, 0, 0, now.Location())
			if !candidate.After(now) {
				candidate = candidate.Add(time.Hour)
			}
		} else {
			candidate = time.Date(now.Year(), now.Month(), now.Day(), st.Hour, st.Minute, 0, 0, now.Location())
			if !candidate.After(now) {
				candidate = candidate.AddDate(0, 0, 1)
			}
		}
		if next.IsZero() || candidate.Before(next) {
			next = candidate
		}
	}
	return next
}

func (s *Scheduler) ScheduleTimes() []ScheduleTime {
	return s.scheduleTimes
}
