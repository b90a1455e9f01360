package analysis

import (
	"sync"

	"github.com/google/uuid"

	"github.com/sells-group/filing-analyzer/internal/model"
)

// Registry tracks analysis jobs in memory, keyed by id. Jobs are lost on
// restart. All access goes through the mutex; callers only ever see copies,
// never the tracked struct itself.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*model.Job)}
}

// Create registers a new pending job and returns its snapshot.
func (r *Registry) Create() model.Job {
	job := &model.Job{
		ID:       uuid.New().String(),
		Status:   model.JobPending,
		Progress: 0,
		Message:  "queued",
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	return *job
}

// Get returns a snapshot of the job, if known.
func (r *Registry) Get(id string) (model.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return model.Job{}, false
	}
	return *job, true
}

// List returns snapshots of every tracked job.
func (r *Registry) List() []model.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, *job)
	}
	return out
}

// update applies fn under the lock. Terminal jobs are never mutated.
func (r *Registry) update(id string, fn func(*model.Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || job.Status.Terminal() {
		return
	}
	fn(job)
}

// Progress moves a job into processing at the given progress value.
func (r *Registry) Progress(id string, progress int, message string) {
	r.update(id, func(j *model.Job) {
		j.Status = model.JobProcessing
		j.Progress = progress
		j.Message = message
	})
}

// Fail marks a job failed, keeping its current progress. The error message
// is the only record the caller ever sees; the triggering request has long
// since returned.
func (r *Registry) Fail(id string, message string) {
	r.update(id, func(j *model.Job) {
		j.Status = model.JobFailed
		j.Message = message
	})
}

// Complete marks a job done with its parsed result attached.
func (r *Registry) Complete(id string, result *model.RiskAnalysis) {
	r.update(id, func(j *model.Job) {
		j.Status = model.JobCompleted
		j.Progress = 100
		j.Message = "analysis complete"
		j.Result = result
	})
}
