package camunda

import (
	"context"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

// CompleteJob completes jobKey with variables, retrying transient gateway
// failures.
func CompleteJob(ctx context.Context, client worker.JobClient, jobKey int64, variables interface{}) error {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(jobKey).
		VariablesFromObject(variables)
	if err != nil {
		return err
	}
	return executeWithRetry(ctx, DefaultRetryConfig, "complete-job", func(ctx context.Context) error {
		_, err := cmd.Send(ctx)
		return err
	})
}
