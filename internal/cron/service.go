// Package cron schedules recurring prompts. Fired jobs are injected as
// inbound bus messages, so the agent handles them like any other turn.
package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/sharphq/sharpbot/internal/bus"
	"github.com/sharphq/sharpbot/pkg/models"
)

// parser accepts standard 5-field expressions, optional seconds, and
// descriptors like @daily.
var parser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Job is one scheduled prompt.
type Job struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Prompt   string    `json:"prompt"`
	Channel  string    `json:"channel"`
	ChatID   string    `json:"chat_id"`
	Created  time.Time `json:"created"`
	LastRun  time.Time `json:"last_run"`
}

// Service runs the scheduler and persists jobs across restarts.
type Service struct {
	mu      sync.Mutex
	path    string
	bus     *bus.Bus
	runner  *cron.Cron
	jobs    map[string]*Job
	entries map[string]cron.EntryID
	logger  *slog.Logger
}

// NewService loads persisted jobs from path and schedules them. The
// scheduler does not fire until Start.
func NewService(path string, b *bus.Bus, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		path:    path,
		bus:     b,
		runner:  cron.New(cron.WithParser(parser)),
		jobs:    make(map[string]*Job),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	for _, job := range s.jobs {
		if err := s.schedule(job); err != nil {
			logger.Warn("skipping unschedulable job", "id", job.ID, "error", err)
		}
	}
	return s, nil
}

// Start begins firing jobs. Stop on context cancellation.
func (s *Service) Start(ctx context.Context) {
	s.runner.Start()
	go func() {
		<-ctx.Done()
		s.runner.Stop()
	}()
}

// Add validates the expression, schedules the job, and persists it.
func (s *Service) Add(name, schedule, prompt, channel, chatID string) (*Job, error) {
	if prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	if _, err := parser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	if channel == "" {
		channel = models.ChannelSystem
	}
	if chatID == "" {
		chatID = models.DefaultChatID
	}

	job := &Job{
		ID:       uuid.NewString(),
		Name:     name,
		Schedule: schedule,
		Prompt:   prompt,
		Channel:  channel,
		ChatID:   chatID,
		Created:  time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.schedule(job); err != nil {
		return nil, err
	}
	s.jobs[job.ID] = job
	if err := s.save(); err != nil {
		return nil, err
	}
	return job, nil
}

// schedule registers the job with the runner. Caller holds mu for jobs
// added after construction.
func (s *Service) schedule(job *Job) error {
	id := job.ID
	entryID, err := s.runner.AddFunc(job.Schedule, func() { s.fire(id) })
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", job.ID, err)
	}
	s.entries[job.ID] = entryID
	return nil
}

// fire injects the job's prompt as an inbound message.
func (s *Service) fire(id string) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	job.LastRun = time.Now()
	name := job.Name
	msg := &models.InboundMessage{
		ID:         uuid.NewString(),
		Channel:    job.Channel,
		SenderID:   "cron",
		ChatID:     job.ChatID,
		Content:    job.Prompt,
		Metadata:   map[string]string{"cron_job": job.ID, "cron_name": job.Name},
		ReceivedAt: time.Now(),
	}
	if err := s.save(); err != nil {
		s.logger.Warn("persist cron state", "error", err)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.bus.PublishInbound(ctx, msg); err != nil {
		s.logger.Error("cron job dropped, bus full", "id", id, "error", err)
		return
	}
	s.logger.Info("cron job fired", "id", id, "name", name)
}

// Remove unschedules and forgets a job.
func (s *Service) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("job not found: %s", id)
	}
	if entryID, ok := s.entries[id]; ok {
		s.runner.Remove(entryID)
		delete(s.entries, id)
	}
	delete(s.jobs, id)
	return s.save()
}

// Jobs lists jobs ordered by creation time.
func (s *Service) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

// RunNow fires a job immediately, outside its schedule.
func (s *Service) RunNow(id string) error {
	s.mu.Lock()
	_, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job not found: %s", id)
	}
	s.fire(id)
	return nil
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cron jobs: %w", err)
	}
	var state struct {
		Jobs []*Job `json:"jobs"`
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parse cron jobs: %w", err)
	}
	for _, job := range state.Jobs {
		s.jobs[job.ID] = job
	}
	return nil
}

// save persists jobs. Caller holds mu.
func (s *Service) save() error {
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Created.Before(jobs[j].Created) })

	data, err := json.MarshalIndent(map[string]any{"jobs": jobs}, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, data, 0o644)
}
