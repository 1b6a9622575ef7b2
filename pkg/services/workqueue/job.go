package workqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Job is a unit of work run by a Queue.
type Job interface {
	ID() string
	Name() string

	// Key names the resource the job works on. A queue holds at most one
	// pending or running job per non-empty key.
	Key() string

	// Run does the work. ctx is cancelled when the queue stops.
	Run(ctx context.Context) error
}

// BaseJob carries the identity of a job. Embed it and add Run.
type BaseJob struct {
	id   string
	name string
	key  string
}

func NewBaseJob(name, key string) BaseJob {
	return BaseJob{id: uuid.NewString(), name: name, key: key}
}

func (j BaseJob) ID() string   { return j.id }
func (j BaseJob) Name() string { return j.name }
func (j BaseJob) Key() string  { return j.key }

// entry is a job admitted to the queue. attempts is only touched by the
// goroutine running the job.
type entry struct {
	job        Job
	enqueuedAt time.Time
	attempts   int
}

// Progress counts jobs. Pending and Running are current; the others are
// totals since the queue was created.
type Progress struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Active is the number of jobs pending or running.
func (p Progress) Active() int {
	return p.Pending + p.Running
}
