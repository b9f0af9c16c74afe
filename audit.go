package calendarassistant

import (
	"context"
	"sync"
	"time"
)

var (
	auditRepoMu sync.RWMutex
	auditRepo   AuditRepository
)

// SetAuditRepository installs the repository that will store audit records.
func SetAuditRepository(repo AuditRepository) {
	auditRepoMu.Lock()
	defer auditRepoMu.Unlock()
	auditRepo = repo
}

// RecordAction persists an audit record for a successful mutation and
// mirrors it to the structured logger. It must only be called after the
// corresponding storage write has committed, so the audit trail never
// records a mutation that did not happen.
func RecordAction(ctx context.Context, userID int64, action ActionKind, resourceType, resourceID string, metadata map[string]string) {
	auditRepoMu.RLock()
	repo := auditRepo
	auditRepoMu.RUnlock()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, reqID := WithRequestID(ctx)

	if repo == nil {
		Logger().Debug("audit_disabled", "action", action, "resource_id", resourceID)
		return
	}

	entry := &AuditLog{
		UserID:       userID,
		Action:       string(action),
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}
	if err := repo.AppendAudit(entry); err != nil {
		Logger().Warn("audit_append_failed", "err", err, "action", action, "resource_id", resourceID)
		return
	}
	Logger().Info("audit",
		"user_id", userID,
		"action", action,
		"resource_type", resourceType,
		"resource_id", resourceID,
		"request_id", reqID,
		"metadata", metadata)
}
