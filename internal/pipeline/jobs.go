package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/dgallion1/docenrich/internal/schema"
)

// JobStatus represents the state of a pipeline job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusChunking  JobStatus = "chunking"
	StatusEnriching JobStatus = "enriching"
	StatusExporting JobStatus = "exporting"
	StatusCompleted JobStatus = "completed"
	StatusPartial   JobStatus = "partial"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job will not change status again.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job tracks one asynchronous pipeline run.
type Job struct {
	mu sync.Mutex

	ID      string   `json:"job_id"`
	Sources []string `json:"sources"`
	InPlace bool     `json:"in_place"`

	Status JobStatus `json:"status"`
	Phase  string    `json:"phase"`

	Progress Progress `json:"progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Internal: not serialized.
	docs        []*schema.Document
	stages      []EnrichStage
	chunks      []*schema.Chunk
	errors      []string
	failedStage int
	cancel      context.CancelFunc
}

// Progress tracks processing progress.
type Progress struct {
	Documents       int      `json:"documents"`
	TotalChunks     int      `json:"total_chunks"`
	StageIndex      int      `json:"stage_index"`
	StageCount      int      `json:"stage_count"`
	StageName       string   `json:"stage_name"`
	ChunksProcessed int      `json:"chunks_processed"`
	ChunkErrors     int      `json:"chunk_errors"`
	Errors          []string `json:"errors"`
}

// NewJob creates a queued job for docs. sources names where the documents
// came from, for display only.
func NewJob(docs []*schema.Document, sources []string, inPlace bool) *Job {
	now := time.Now()
	return &Job{
		ID:          schema.NewID(),
		Sources:     sources,
		InPlace:     inPlace,
		Status:      StatusQueued,
		Phase:       "queued",
		Progress:    Progress{Documents: len(docs)},
		CreatedAt:   now,
		UpdatedAt:   now,
		docs:        docs,
		failedStage: -1,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Delete removes a job from the store.
func (s *JobStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// Len returns the number of stored jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes finished jobs that have not been touched within the TTL.
// Jobs still queued or running are kept.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		expired := job.Status.Terminal() && now.Sub(job.UpdatedAt) > s.ttl
		job.mu.Unlock()
		if expired {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically. A terminal status is final.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return
	}
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// AddChunkErrors records recoverable per-chunk failures.
func (j *Job) AddChunkErrors(errs []*ChunkError) {
	if len(errs) == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, e := range errs {
		j.errors = append(j.errors, e.Error())
	}
	j.Progress.Errors = j.errors
	j.Progress.ChunkErrors += len(errs)
	j.UpdatedAt = time.Now()
}

// SetStageProgress records where the run is. Stage 0 is chunking.
func (j *Job) SetStageProgress(stageIndex int, stageName string, completed, total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return
	}
	j.Progress.StageIndex = stageIndex
	j.Progress.StageName = stageName
	j.Progress.ChunksProcessed = completed
	j.Progress.TotalChunks = total
	if stageIndex == 0 {
		j.Status, j.Phase = StatusChunking, stageName
	} else {
		j.Status, j.Phase = StatusEnriching, stageName
	}
	j.UpdatedAt = time.Now()
}

// SetFailedStage records which stage aborted the run.
func (j *Job) SetFailedStage(idx int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failedStage = idx
}

// Documents returns the job's input documents.
func (j *Job) Documents() []*schema.Document {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.docs
}

// Stages returns the enrichment stages resolved at submission.
func (j *Job) Stages() []EnrichStage {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stages
}

func (j *Job) setStages(stages []EnrichStage) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stages = stages
	j.Progress.StageCount = len(stages) + 1
}

// SetChunks stores the enriched output of a finished run.
func (j *Job) SetChunks(chunks []*schema.Chunk) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.chunks = chunks
	j.Progress.TotalChunks = len(chunks)
	j.UpdatedAt = time.Now()
}

// Chunks returns the enriched chunks, or nil until the run has completed.
func (j *Job) Chunks() []*schema.Chunk {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.chunks
}

// setCancel installs the function that aborts the running pipeline.
func (j *Job) setCancel(cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = cancel
}

// Cancel aborts the job. A queued job is marked cancelled immediately; a
// running job becomes cancelled once the pipeline observes it.
func (j *Job) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return
	}
	if j.cancel != nil {
		j.cancel()
		return
	}
	j.Status = StatusCancelled
	j.Phase = "cancelled"
	j.UpdatedAt = time.Now()
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string    `json:"job_id"`
	Sources     []string  `json:"sources"`
	InPlace     bool      `json:"in_place"`
	Status      JobStatus `json:"status"`
	Phase       string    `json:"phase"`
	FailedStage *int      `json:"failed_stage,omitempty"`
	Progress    Progress  `json:"progress"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := append([]string{}, j.Progress.Errors...)
	sources := j.Sources
	if sources == nil {
		sources = []string{}
	}
	snap := JobSnapshot{
		ID:        j.ID,
		Sources:   sources,
		InPlace:   j.InPlace,
		Status:    j.Status,
		Phase:     j.Phase,
		Progress:  j.Progress,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	snap.Progress.Errors = errs
	if j.failedStage >= 0 {
		idx := j.failedStage
		snap.FailedStage = &idx
	}
	return snap
}
