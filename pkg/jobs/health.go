package jobs

import (
	"context"
	"strings"

	"github.com/nimburion/jobqueue/pkg/health"
)

const defaultManagerHealthCheckName = "jobs-store"

// NewManagerHealthChecker reports the queue store health. Volatile mode is
// reported as degraded since queued jobs would not survive a restart.
func NewManagerHealthChecker(name string, manager *Manager) health.Checker {
	checkName := strings.TrimSpace(name)
	if checkName == "" {
		checkName = defaultManagerHealthCheckName
	}
	return health.NewCustomChecker(checkName, func(ctx context.Context) (health.Status, string, error) {
		if err := manager.HealthCheck(ctx); err != nil {
			return health.StatusUnhealthy, "", err
		}
		if manager.Volatile() {
			return health.StatusDegraded, "volatile mode: jobs are kept in process memory", nil
		}
		return health.StatusHealthy, "OK", nil
	})
}
