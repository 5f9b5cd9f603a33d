package lifecycle

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// SDKWorker is the subset of the Temporal worker surface the manager
// drives. go.temporal.io/sdk/worker.Worker satisfies it; tests inject a
// fake.
type SDKWorker interface {
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)

	// Run blocks until the interrupt channel closes, then stops polling and
	// lets in-flight tasks complete.
	Run(interruptCh <-chan interface{}) error

	// Stop force-releases the worker's resources.
	Stop()
}

// WorkerFactory builds a fresh worker for a task queue. Every reload
// allocates a new worker; workers are never reused.
type WorkerFactory func(taskQueue string) SDKWorker

// NewTemporalFactory returns a factory producing real Temporal workers on
// the given client connection.
func NewTemporalFactory(c client.Client) WorkerFactory {
	return func(taskQueue string) SDKWorker {
		return worker.New(c, taskQueue, worker.Options{})
	}
}
