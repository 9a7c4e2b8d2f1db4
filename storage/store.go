// Package storage persists merged app records and collection jobs in
// NATS KV, and raw collection snapshots on the local filesystem.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/storewatch/appstore"
	"github.com/c360studio/storewatch/merge"
)

// Bucket names.
const (
	BucketApps = "STOREWATCH_APPS"
	BucketJobs = "STOREWATCH_JOBS"
)

const jobIDPrefix = "job"

// NewJobID generates a unique job identifier.
func NewJobID() string {
	return fmt.Sprintf("%s:%s", jobIDPrefix, uuid.New().String())
}

// jobKey validates a job ID and returns its KV key.
func jobKey(id string) (string, error) {
	parts := strings.SplitN(id, ":", 2)
	if len(parts) != 2 || parts[0] != jobIDPrefix || parts[1] == "" {
		return "", fmt.Errorf("invalid job ID format: %s", id)
	}
	return parts[1], nil
}

// JobStatus represents the status of a collection job.
type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusRunning  JobStatus = "running"
	JobStatusComplete JobStatus = "complete"
	JobStatusFailed   JobStatus = "failed"
)

// Job tracks one collection run requested through the catalog API.
type Job struct {
	ID           string            `json:"id"`
	Source       appstore.Source   `json:"source"`
	Params       map[string]string `json:"params,omitempty"`
	Status       JobStatus         `json:"status"`
	Records      int               `json:"records"`
	Error        string            `json:"error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	StatusChange []StatusChange    `json:"status_changes,omitempty"`
}

// StatusChange records a job status transition.
type StatusChange struct {
	From      JobStatus `json:"from"`
	To        JobStatus `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// Store provides app and job storage backed by NATS KV.
type Store struct {
	apps jetstream.KeyValue
	jobs jetstream.KeyValue
}

// NewStore creates a Store with the given JetStream context.
// It creates the KV buckets if they don't exist.
func NewStore(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	apps, err := getOrCreateBucket(ctx, js, BucketApps)
	if err != nil {
		return nil, fmt.Errorf("create apps bucket: %w", err)
	}

	jobs, err := getOrCreateBucket(ctx, js, BucketJobs)
	if err != nil {
		return nil, fmt.Errorf("create jobs bucket: %w", err)
	}

	return &Store{apps: apps, jobs: jobs}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Storewatch %s storage", strings.ToLower(name)),
		History:     5, // Keep last 5 revisions
	})
}

// PutApp stores a merged app record keyed by app ID.
func (s *Store) PutApp(ctx context.Context, rec *merge.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("app record has no ID")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal app record: %w", err)
	}

	if _, err := s.apps.Put(ctx, rec.ID, data); err != nil {
		return fmt.Errorf("store app record: %w", err)
	}

	return nil
}

// GetApp retrieves a merged app record by app ID.
func (s *Store) GetApp(ctx context.Context, id string) (*merge.Record, error) {
	entry, err := s.apps.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get app record: %w", err)
	}

	var rec merge.Record
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal app record: %w", err)
	}

	return &rec, nil
}

// ListApps returns all merged app records.
func (s *Store) ListApps(ctx context.Context) ([]*merge.Record, error) {
	keys, err := s.apps.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list app keys: %w", err)
	}

	records := make([]*merge.Record, 0, len(keys))
	for _, key := range keys {
		entry, err := s.apps.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var rec merge.Record
		if err := json.Unmarshal(entry.Value(), &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}

	return records, nil
}

// CountApps returns the number of stored app records.
func (s *Store) CountApps(ctx context.Context) (int, error) {
	keys, err := s.apps.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return 0, nil
		}
		return 0, fmt.Errorf("list app keys: %w", err)
	}
	return len(keys), nil
}

// CreateJob creates a new pending job and returns its ID.
func (s *Store) CreateJob(ctx context.Context, j *Job) (string, error) {
	j.ID = NewJobID()
	j.Status = JobStatusPending
	j.CreatedAt = time.Now()
	j.UpdatedAt = j.CreatedAt

	key, _ := jobKey(j.ID)
	data, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	if _, err := s.jobs.Create(ctx, key, data); err != nil {
		return "", fmt.Errorf("store job: %w", err)
	}

	return j.ID, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	key, err := jobKey(id)
	if err != nil {
		return nil, err
	}

	entry, err := s.jobs.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}

	var j Job
	if err := json.Unmarshal(entry.Value(), &j); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}

	return &j, nil
}

// UpdateJobStatus updates a job's status and records the change.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, newStatus JobStatus) error {
	return s.updateJob(ctx, id, func(j *Job) {
		j.setStatus(newStatus)
	})
}

// CompleteJob marks a job complete with its record count.
func (s *Store) CompleteJob(ctx context.Context, id string, records int) error {
	return s.updateJob(ctx, id, func(j *Job) {
		j.Records = records
		j.setStatus(JobStatusComplete)
	})
}

// FailJob marks a job failed with an error message.
func (s *Store) FailJob(ctx context.Context, id string, errMsg string) error {
	return s.updateJob(ctx, id, func(j *Job) {
		j.Error = errMsg
		j.setStatus(JobStatusFailed)
	})
}

func (s *Store) updateJob(ctx context.Context, id string, apply func(*Job)) error {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}

	apply(job)

	key, _ := jobKey(job.ID)
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	if _, err := s.jobs.Put(ctx, key, data); err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	return nil
}

// setStatus applies a status transition and its timestamps.
func (j *Job) setStatus(newStatus JobStatus) {
	now := time.Now()
	j.StatusChange = append(j.StatusChange, StatusChange{
		From:      j.Status,
		To:        newStatus,
		Timestamp: now,
	})
	j.Status = newStatus
	j.UpdatedAt = now

	if newStatus == JobStatusRunning && j.StartedAt == nil {
		j.StartedAt = &now
	}
	if newStatus == JobStatusComplete || newStatus == JobStatusFailed {
		j.CompletedAt = &now
	}
}

// ListJobs returns all jobs.
func (s *Store) ListJobs(ctx context.Context) ([]*Job, error) {
	keys, err := s.jobs.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list job keys: %w", err)
	}

	jobs := make([]*Job, 0, len(keys))
	for _, key := range keys {
		entry, err := s.jobs.Get(ctx, key)
		if err != nil {
			continue
		}
		var j Job
		if err := json.Unmarshal(entry.Value(), &j); err != nil {
			continue
		}
		jobs = append(jobs, &j)
	}

	return jobs, nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key not found")
}
