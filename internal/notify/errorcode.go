package notify

import (
	"context"
	"time"

	"github.com/hiveln-bridge/bridge/internal/database"
	"github.com/hiveln-bridge/bridge/pkg/logger"
	"go.uber.org/zap"
)

// DefaultReAlertInterval is §7's default suppression window for a
// recurring error code.
const DefaultReAlertInterval = time.Hour

// CodeDeduper satisfies pkg/logger.CodeDeduper over
// internal/database.ErrorCodeRepository, scoped to one running instance by
// machineID so identical codes on different hosts never suppress each
// other.
type CodeDeduper struct {
	repo            *database.ErrorCodeRepository
	machineID       string
	reAlertInterval time.Duration
	timeout         time.Duration
}

func NewCodeDeduper(repo *database.ErrorCodeRepository, machineID string, reAlertInterval time.Duration) *CodeDeduper {
	return &CodeDeduper{repo: repo, machineID: machineID, reAlertInterval: reAlertInterval, timeout: 5 * time.Second}
}

// ShouldAlert implements pkg/logger.CodeDeduper. A lookup failure defaults
// to alerting — losing a notification to a dedup-store outage is worse
// than an occasional duplicate.
func (d *CodeDeduper) ShouldAlert(code, message string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	alert, err := d.repo.ShouldAlert(ctx, code, d.machineID, message, d.reAlertInterval)
	if err != nil {
		logger.Warn("notify: error code dedup lookup failed, alerting anyway", zap.String("code", code), zap.Error(err))
		return true
	}
	return alert
}
