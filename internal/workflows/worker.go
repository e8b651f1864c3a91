package workflows

import (
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// NewWorker builds a Temporal worker that hosts the reward maturation
// workflow and its learn activity. The caller owns Run/Stop.
func NewWorker(c client.Client, taskQueue string, engine Learner) (worker.Worker, error) {
	if c == nil {
		return nil, fmt.Errorf("temporal client cannot be nil")
	}
	if taskQueue == "" {
		return nil, fmt.Errorf("task queue cannot be empty")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}

	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(RewardMaturationWorkflow)
	w.RegisterActivity(NewActivities(engine))
	return w, nil
}
