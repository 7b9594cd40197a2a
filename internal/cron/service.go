// Package cron runs the periodic dashboard refresh jobs.
package cron

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	rcron "github.com/robfig/cron/v3"
)

// Func is the body of a scheduled job.
type Func func(ctx context.Context) error

// JobState records the outcome of the most recent run.
type JobState struct {
	Runs       int64     `json:"runs"`
	LastRunAt  time.Time `json:"lastRunAt,omitempty"`
	LastStatus string    `json:"lastStatus,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
}

type Job struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Spec    string   `json:"spec"`
	Enabled bool     `json:"enabled"`
	State   JobState `json:"state"`

	fn Func
}

// Every returns the "@every" spec for d.
func Every(d time.Duration) string {
	return "@every " + d.String()
}

type Service struct {
	mu       sync.Mutex
	jobs     []*Job
	cron     *rcron.Cron
	entryMap map[string]rcron.EntryID // job ID -> cron entry ID
	runCtx   context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	wg       sync.WaitGroup

	// OnRun observes every completed run.
	OnRun func(job string, err error)
}

func NewService() *Service {
	return &Service{
		cron:     rcron.New(rcron.WithSeconds(), rcron.WithChain(rcron.SkipIfStillRunning(rcron.DiscardLogger))),
		entryMap: make(map[string]rcron.EntryID),
	}
}

// AddJob registers fn under spec. Jobs added after Start are scheduled
// immediately.
func (s *Service) AddJob(name, spec string, fn Func) (*Job, error) {
	if fn == nil {
		return nil, fmt.Errorf("job %s: nil func", name)
	}
	if _, err := rcron.NewParser(rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor).Parse(spec); err != nil {
		return nil, fmt.Errorf("job %s: invalid spec %q: %w", name, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job := &Job{ID: uuid.NewString(), Name: name, Spec: spec, Enabled: true, fn: fn}
	s.jobs = append(s.jobs, job)
	if s.runCtx != nil {
		if err := s.registerJob(job); err != nil {
			s.jobs = s.jobs[:len(s.jobs)-1]
			return nil, err
		}
	}
	snapshot := *job
	return &snapshot, nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.runCtx != nil {
		s.mu.Unlock()
		return fmt.Errorf("cron already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})
	s.runCtx = runCtx
	s.cancel = cancel
	s.stopCh = stopCh

	for _, job := range s.jobs {
		if !job.Enabled {
			continue
		}
		if err := s.registerJob(job); err != nil {
			log.Printf("[cron] failed to register job %s (%s): %v", job.Name, job.Spec, err)
		}
	}
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	log.Printf("[cron] started with %d jobs", n)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-ctx.Done():
			s.shutdown()
		case <-stopCh:
		}
	}()
	return nil
}

// registerJob must be called with s.mu held.
func (s *Service) registerJob(job *Job) error {
	id, err := s.cron.AddFunc(job.Spec, func() { s.executeJob(job.ID) })
	if err != nil {
		return err
	}
	s.entryMap[job.ID] = id
	return nil
}

// RunNow executes the named job once, outside the schedule.
func (s *Service) RunNow(id string) error {
	s.mu.Lock()
	found := s.find(id) != nil
	s.mu.Unlock()
	if !found {
		return fmt.Errorf("job %s not found", id)
	}
	s.executeJob(id)
	return nil
}

func (s *Service) executeJob(id string) {
	s.mu.Lock()
	job := s.find(id)
	ctx := s.runCtx
	s.mu.Unlock()
	if job == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	err := s.safeRun(ctx, job)

	s.mu.Lock()
	job.State.Runs++
	job.State.LastRunAt = time.Now()
	if err != nil {
		job.State.LastStatus = "error"
		job.State.LastError = err.Error()
		log.Printf("[cron] job %s error: %v", job.Name, err)
	} else {
		job.State.LastStatus = "ok"
		job.State.LastError = ""
	}
	onRun := s.OnRun
	s.mu.Unlock()

	if onRun != nil {
		onRun(job.Name, err)
	}
}

func (s *Service) safeRun(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[cron] job %s panic: %v\n%s", job.Name, r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.fn(ctx)
}

// Stop halts scheduling and waits for running jobs. Safe to call repeatedly.
func (s *Service) Stop() {
	s.shutdown()
	s.wg.Wait()
}

func (s *Service) shutdown() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	s.cancel = nil
	s.stopCh = nil
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	cancel()

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		log.Printf("[cron] stop timeout waiting for running jobs")
	}
	log.Printf("[cron] stopped")
}

func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, job := range s.jobs {
		if job.ID == id {
			if entryID, ok := s.entryMap[id]; ok {
				s.cron.Remove(entryID)
				delete(s.entryMap, id)
			}
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Service) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]Job, len(s.jobs))
	for i, job := range s.jobs {
		result[i] = *job
	}
	return result
}

func (s *Service) EnableJob(id string, enabled bool) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := s.find(id)
	if job == nil {
		return nil, fmt.Errorf("job %s not found", id)
	}
	job.Enabled = enabled
	entryID, registered := s.entryMap[id]
	switch {
	case enabled && !registered && s.runCtx != nil && s.stopCh != nil:
		if err := s.registerJob(job); err != nil {
			return nil, err
		}
	case !enabled && registered:
		s.cron.Remove(entryID)
		delete(s.entryMap, id)
	}
	snapshot := *job
	return &snapshot, nil
}

func (s *Service) find(id string) *Job {
	for _, job := range s.jobs {
		if job.ID == id {
			return job
		}
	}
	return nil
}
