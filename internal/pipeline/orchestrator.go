package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/docenrich/internal/config"
)

var (
	// ErrQueueFull is returned by Submit when the job queue has no room.
	ErrQueueFull = errors.New("job queue is full")
	// ErrStopped is returned by Submit once Stop has been called.
	ErrStopped = errors.New("orchestrator stopped")
)

// Orchestrator runs pipeline jobs on a fixed pool of workers.
type Orchestrator struct {
	jobs       *JobStore
	queue      chan *Job
	chunkStage ChunkStage
	stages     []EnrichStage
	exporter   Exporter
	log        *slog.Logger
	cfg        config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewOrchestrator creates the pipeline runner. stages are the enrichment
// stages available to jobs, in their default order. exporter may be nil.
func NewOrchestrator(cfg config.Config, chunkStage ChunkStage, stages []EnrichStage, exporter Exporter, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:       NewJobStore(cfg.JobTTL),
		queue:      make(chan *Job, cfg.MaxQueueSize),
		chunkStage: chunkStage,
		stages:     stages,
		exporter:   exporter,
		log:        log,
		cfg:        cfg,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w := NewWorker(o.chunkStage, o.exporter, o.log, o.cfg.ConcurrencyLimit, o.cfg.FailFast)
			for {
				select {
				case <-workerCtx.Done():
					return
				case job := <-o.queue:
					w.Process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

// Stop cancels running jobs and waits for the workers to exit. Jobs still
// queued are never started. The queue stays open so a late Submit fails
// with ErrStopped instead of sending on a closed channel.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// StageNames lists the available enrichment stages in default order.
func (o *Orchestrator) StageNames() []string {
	names := make([]string, len(o.stages))
	for i, s := range o.stages {
		names[i] = s.Name()
	}
	return names
}

// ResolveStages maps stage names to stages, keeping the requested order.
// An empty list selects every stage.
func (o *Orchestrator) ResolveStages(names []string) ([]EnrichStage, error) {
	if len(names) == 0 {
		return o.stages, nil
	}
	out := make([]EnrichStage, 0, len(names))
	for _, name := range names {
		var found EnrichStage
		for _, s := range o.stages {
			if s.Name() == name {
				found = s
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("unknown stage %q (available: %v)", name, o.StageNames())
		}
		out = append(out, found)
	}
	return out, nil
}

// Submit queues a job that runs the named stages.
func (o *Orchestrator) Submit(job *Job, stageNames []string) error {
	stages, err := o.ResolveStages(stageNames)
	if err != nil {
		return err
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.stopped {
		return ErrStopped
	}
	job.setStages(stages)
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		o.log.Info("job queued", "job_id", job.ID, "documents", len(job.Documents()), "stages", len(stages))
		return nil
	default:
		job.AddError("queue full")
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("%w (%d)", ErrQueueFull, o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// CancelJob aborts a job. It reports false when the job is unknown.
func (o *Orchestrator) CancelJob(id string) bool {
	job := o.jobs.Get(id)
	if job == nil {
		return false
	}
	job.Cancel()
	return true
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// JobCount returns the number of jobs the store still holds.
func (o *Orchestrator) JobCount() int {
	return o.jobs.Len()
}
