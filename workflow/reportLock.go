package workflow

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/planfox/reports_backend/config"
	"bitbucket.org/planfox/reports_backend/models"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// LockConflict describes the current holder of a report lock for UI display.
type LockConflict struct {
	HeldBy     string    `json:"held_by"`
	HeldByName string    `json:"held_by_name"`
	HeldAt     time.Time `json:"held_at"`
}

const defaultLockTTLMinutes = 30

func reportLockTTL() time.Duration {
	v := strings.TrimSpace(os.Getenv("REPORT_LOCK_TTL_MINUTES"))
	if v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Minute
		}
	}
	return defaultLockTTLMinutes * time.Minute
}

// CheckReportLock decides whether actorId may drive generation for the
// report. The lock fields on the report row are the source of truth; a held
// lock expires after REPORT_LOCK_TTL_MINUTES so abandoned sessions cannot
// block a report forever. Acquisition is attempted once, at approval time; it
// is not re-checked during the run.
func CheckReportLock(report *models.Report, actorId string, now time.Time) *LockConflict {
	if report.LockedBy == "" || report.LockedBy == actorId {
		return nil
	}
	if report.LockedAt != nil && now.Sub(*report.LockedAt) > reportLockTTL() {
		// Stale holder: treat as unheld.
		return nil
	}
	heldAt := now
	if report.LockedAt != nil {
		heldAt = *report.LockedAt
	}
	return &LockConflict{
		HeldBy:     report.LockedBy,
		HeldByName: report.LockedByName,
		HeldAt:     heldAt,
	}
}

// ObtainApprovalAdmissionLock takes a short redis lock around the approval
// critical section so two concurrent Approve calls for the same report cannot
// both pass the DB lock check.
//
// Redis lock is a best-effort optimization. Correctness must not depend on
// Redis: the DB lock fields remain authoritative.
func ObtainApprovalAdmissionLock(ctx context.Context, logger *logrus.Logger, reportId int) *redislock.Lock {
	redisLock := config.GetRedisLock()
	if redisLock == nil {
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"field":     "ObtainApprovalAdmissionLock",
				"report_id": reportId,
			}).Warn("redis lock not ready; proceeding without redis lock")
		}
		return nil
	}
	lock, err := redisLock.Obtain(ctx, fmt.Sprintf("report-approve:%d", reportId), 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"field":     "ObtainApprovalAdmissionLock",
				"report_id": reportId,
			}).Warn("could not obtain redis lock; proceeding without redis lock")
		}
		return nil
	} else if err != nil {
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"field":     "ObtainApprovalAdmissionLock",
				"report_id": reportId,
			}).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
		}
		return nil
	}
	return lock
}

func ReleaseApprovalAdmissionLock(ctx context.Context, logger *logrus.Logger, reportId int, lock *redislock.Lock) {
	if lock == nil {
		return
	}
	if err := lock.Release(ctx); err != nil {
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"field":     "ReleaseApprovalAdmissionLock",
				"report_id": reportId,
			}).Warn("failed to release redis lock: " + err.Error())
		}
	}
}
