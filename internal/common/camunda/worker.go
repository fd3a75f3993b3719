package camunda

import (
	"time"

	"feed-workers/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// JobHandler is implemented by every feed worker handler. Handlers
// complete or fail the job themselves.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job)
}

type Registration struct {
	TaskType      string
	Handler       JobHandler
	MaxJobsActive int
	Concurrency   int
	Timeout       time.Duration
}

type Worker struct {
	worker worker.JobWorker
	logger logger.Logger
}

// Open starts polling for reg.TaskType jobs.
func Open(client zbc.Client, workerName string, reg Registration, log logger.Logger) *Worker {
	builder := client.NewJobWorker().
		JobType(reg.TaskType).
		Handler(reg.Handler.Handle).
		Name(workerName)

	step := builder.MaxJobsActive(maxInt(reg.MaxJobsActive, 1)).
		Concurrency(maxInt(reg.Concurrency, 1))
	if reg.Timeout > 0 {
		step = step.Timeout(reg.Timeout)
	}

	w := &Worker{
		worker: step.Open(),
		logger: log.WithFields(map[string]interface{}{"taskType": reg.TaskType}),
	}
	w.logger.Info("worker started", map[string]interface{}{
		"maxJobsActive": reg.MaxJobsActive,
		"concurrency":   reg.Concurrency,
	})
	return w
}

// Close stops polling and waits for in-flight jobs.
func (w *Worker) Close() {
	w.logger.Info("stopping worker", nil)
	w.worker.Close()
	w.worker.AwaitClose()
}

func maxInt(v, floor int) int {
	if v < floor {
		return floor
	}
	return v
}
