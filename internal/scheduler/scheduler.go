// Package scheduler drives the three job kinds (one-shot, interval, cron)
// and computes the due set on each tick.
package scheduler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
)

// Kind discriminates the three job schedule types.
type Kind string

const (
	KindAt    Kind = "at"
	KindEvery Kind = "every"
	KindCron  Kind = "cron"
)

// Job is one scheduled unit of work: an agent, a prompt, and a schedule.
type Job struct {
	ID        string     `json:"id"`
	AgentID   string     `json:"agent_id"`
	Name      string     `json:"name"`
	Prompt    string     `json:"prompt"`
	Kind      Kind       `json:"kind"`
	Schedule  string     `json:"schedule"`
	CreatedAt time.Time  `json:"created_at"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	RunCount  int        `json:"run_count"`
	MaxRuns   *int       `json:"max_runs,omitempty"`
	Enabled   bool       `json:"enabled"`
}

// Expired reports whether a one-shot job has already fired.
func (j Job) Expired() bool {
	return j.Kind == KindAt && j.RunCount > 0
}

// Result records the outcome of one job execution.
type Result struct {
	JobID     string    `json:"job_id"`
	RanAt     time.Time `json:"ran_at"`
	Output    string    `json:"output,omitempty"`
	Err       string    `json:"error,omitempty"`
}

// Scheduler holds the in-memory job list, persisted append-only and
// reloaded with expired at-jobs filtered out.
type Scheduler struct {
	mu         sync.Mutex
	path       string
	jobs       map[string]*Job
	lastResult map[string]Result
	gron       gronx.Gronx
}

var everyGrammar = regexp.MustCompile(`^(\d+)([smhd])$`)

// Open loads (or creates) the job list under workspaceDir/.scheduler.
func Open(workspaceDir string) (*Scheduler, error) {
	dir := filepath.Join(workspaceDir, ".scheduler")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("scheduler: create dir: %w", err)
	}
	s := &Scheduler{
		path:       filepath.Join(dir, "jobs.jsonl"),
		jobs:       make(map[string]*Job),
		lastResult: make(map[string]Result),
		gron:       gronx.New(),
	}

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("scheduler: open jobs: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var j Job
		if err := json.Unmarshal(scanner.Bytes(), &j); err != nil {
			continue
		}
		if j.Expired() {
			continue
		}
		job := j
		s.jobs[job.ID] = &job
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scheduler: scan jobs: %w", err)
	}
	return s, nil
}

func parseInterval(spec string) (time.Duration, error) {
	m := everyGrammar.FindStringSubmatch(spec)
	if m == nil {
		return 0, fmt.Errorf("scheduler: invalid interval %q, want <number><s|m|h|d>", spec)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("scheduler: invalid interval %q: %w", spec, err)
	}
	unit := map[string]time.Duration{"s": time.Second, "m": time.Minute, "h": time.Hour, "d": 24 * time.Hour}[m[2]]
	return time.Duration(n) * unit, nil
}

func (s *Scheduler) addJob(j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return s.appendJob(*j)
}

// CreateAt schedules a one-shot job at the given absolute time.
func (s *Scheduler) CreateAt(agentID, name, prompt string, at time.Time) (*Job, error) {
	next := at.UTC()
	j := &Job{
		ID: newJobID(), AgentID: agentID, Name: name, Prompt: prompt,
		Kind: KindAt, Schedule: at.UTC().Format(time.RFC3339),
		CreatedAt: time.Now().UTC(), NextRun: &next, Enabled: true,
	}
	if err := s.addJob(j); err != nil {
		return nil, err
	}
	return j, nil
}

// CreateEvery schedules a repeating interval job.
func (s *Scheduler) CreateEvery(agentID, name, prompt, interval string, maxRuns *int) (*Job, error) {
	d, err := parseInterval(interval)
	if err != nil {
		return nil, err
	}
	next := time.Now().UTC().Add(d)
	j := &Job{
		ID: newJobID(), AgentID: agentID, Name: name, Prompt: prompt,
		Kind: KindEvery, Schedule: interval,
		CreatedAt: time.Now().UTC(), NextRun: &next, MaxRuns: maxRuns, Enabled: true,
	}
	if err := s.addJob(j); err != nil {
		return nil, err
	}
	return j, nil
}

// CreateCron schedules a standard 5-field cron job.
func (s *Scheduler) CreateCron(agentID, name, prompt, expr string, maxRuns *int) (*Job, error) {
	if !s.gron.IsValid(expr) {
		return nil, fmt.Errorf("scheduler: invalid cron expression %q", expr)
	}
	next, err := gronx.NextTickAfter(expr, time.Now().UTC(), false)
	if err != nil {
		return nil, fmt.Errorf("scheduler: compute next run: %w", err)
	}
	j := &Job{
		ID: newJobID(), AgentID: agentID, Name: name, Prompt: prompt,
		Kind: KindCron, Schedule: expr,
		CreatedAt: time.Now().UTC(), NextRun: &next, MaxRuns: maxRuns, Enabled: true,
	}
	if err := s.addJob(j); err != nil {
		return nil, err
	}
	return j, nil
}

func newJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Delete removes a job from the schedule.
func (s *Scheduler) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("scheduler: job %q not found", id)
	}
	delete(s.jobs, id)
	return s.rewrite()
}

// SetEnabled toggles a job's enabled flag.
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("scheduler: job %q not found", id)
	}
	j.Enabled = enabled
	return s.rewrite()
}

// GetAll returns every retained job, sorted by ID for stable output.
func (s *Scheduler) GetAll() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetLastResult returns the most recent execution result for a job, if any.
func (s *Scheduler) GetLastResult(id string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.lastResult[id]
	return r, ok
}

// eligible reports whether a job can still run: enabled, not expired, and
// under its max-runs cap.
func eligible(j *Job) bool {
	if !j.Enabled || j.Expired() {
		return false
	}
	if j.MaxRuns != nil && j.RunCount >= *j.MaxRuns {
		return false
	}
	return true
}

// GetDue returns the jobs whose NextRun is at or before now, ordered by
// NextRun ascending.
func (s *Scheduler) GetDue(now time.Time) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Job
	for _, j := range s.jobs {
		if !eligible(j) || j.NextRun == nil {
			continue
		}
		if !j.NextRun.After(now) {
			due = append(due, *j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].NextRun.Before(*due[k].NextRun) })
	return due
}

// calculateNextRun computes a job's next run time strictly after from. A
// nil return means the job should no longer be scheduled.
func (s *Scheduler) calculateNextRun(j *Job, from time.Time) (*time.Time, error) {
	if !eligible(j) {
		return nil, nil
	}
	switch j.Kind {
	case KindAt:
		return nil, nil
	case KindEvery:
		d, err := parseInterval(j.Schedule)
		if err != nil {
			return nil, err
		}
		next := from.Add(d)
		return &next, nil
	case KindCron:
		next, err := gronx.NextTickAfter(j.Schedule, from, false)
		if err != nil {
			return nil, fmt.Errorf("scheduler: compute next run: %w", err)
		}
		return &next, nil
	default:
		return nil, fmt.Errorf("scheduler: unknown job kind %q", j.Kind)
	}
}

// MarkExecuted records a job's outcome, advances RunCount/LastRun, and
// recomputes NextRun (nil once the job is exhausted).
func (s *Scheduler) MarkExecuted(id string, output string, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("scheduler: job %q not found", id)
	}

	now := time.Now().UTC()
	j.LastRun = &now
	j.RunCount++

	result := Result{JobID: id, RanAt: now, Output: output}
	if runErr != nil {
		result.Err = runErr.Error()
	}
	s.lastResult[id] = result

	next, err := s.calculateNextRun(j, now)
	if err != nil {
		return err
	}
	j.NextRun = next

	return s.rewrite()
}

func (s *Scheduler) appendJob(j Job) error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("scheduler: open jobs file: %w", err)
	}
	defer f.Close()
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("scheduler: marshal job: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("scheduler: write job: %w", err)
	}
	return f.Sync()
}

// rewrite performs a full rewrite of the job file, pruning expired at-jobs
// in the process. Called with mu already held.
func (s *Scheduler) rewrite() error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "jobs-*.jsonl.tmp")
	if err != nil {
		return fmt.Errorf("scheduler: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	for _, j := range s.jobs {
		if j.Expired() {
			delete(s.jobs, j.ID)
			continue
		}
		data, err := json.Marshal(j)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("scheduler: marshal job: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("scheduler: write job: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("scheduler: flush temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("scheduler: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("scheduler: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("scheduler: rename jobs file: %w", err)
	}
	return nil
}
