package worker

import (
	"context"
	"fmt"

	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/provider"
	"github.com/sec0304qqcc/Multi-Agent-Dev/pkg/models"
)

// RouterExecutor builds an Executor that runs task attempts through the
// cost-aware provider router. The task's estimated cost drives tier
// selection; the actual cost is recorded by the router on success.
func RouterExecutor(router *provider.Router) Executor {
	return func(ctx context.Context, task *models.Task) (string, error) {
		resp, err := router.Execute(ctx, provider.Request{
			System: fmt.Sprintf("You are a %s agent in a multi-agent development system. Complete the assigned task and respond with the deliverable only.", task.Type),
			Prompt: task.Description,
		}, task.EstimatedCost)
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	}
}
