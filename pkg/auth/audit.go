package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mobilyecommerce/storefront/pkg/contextkeys"
	"github.com/mobilyecommerce/storefront/pkg/httputil"
	"github.com/mobilyecommerce/storefront/pkg/observability"
)

// AuditLog is a security audit entry
type AuditLog struct {
	UserID       *int64    `json:"user_id,omitempty"`
	Username     string    `json:"username,omitempty"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuditLogger writes security audit entries to a dedicated log stream
type AuditLogger struct {
	logger *observability.Logger
	clock  clockwork.Clock
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *observability.Logger, clock clockwork.Clock) *AuditLogger {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &AuditLogger{
		logger: logger.WithField("stream", "audit"),
		clock:  clock,
	}
}

// LogAction records an audit event
func (al *AuditLogger) LogAction(ctx context.Context, log *AuditLog) error {
	if log.Action == "" {
		return fmt.Errorf("action is required")
	}
	if log.ResourceType == "" {
		return fmt.Errorf("resource_type is required")
	}
	if log.Status == "" {
		return fmt.Errorf("status is required")
	}

	log.CreatedAt = al.clock.Now().UTC()

	fields := map[string]interface{}{
		"action":        log.Action,
		"resource_type": log.ResourceType,
		"status":        log.Status,
	}
	if log.UserID != nil {
		fields["audit_user_id"] = *log.UserID
	}
	if log.Username != "" {
		fields["username"] = log.Username
	}
	if log.ResourceID != "" {
		fields["resource_id"] = log.ResourceID
	}
	if log.IPAddress != "" {
		fields["ip_address"] = log.IPAddress
	}
	if log.UserAgent != "" {
		fields["user_agent"] = log.UserAgent
	}
	if log.ErrorMessage != "" {
		fields["error_message"] = log.ErrorMessage
	}

	if requestID := contextkeys.GetRequestID(ctx); requestID != "" {
		fields["request_id"] = requestID
	}

	entry := al.logger.WithFields(fields)
	if log.Status == StatusSuccess {
		entry.Info("audit")
	} else {
		entry.Warn("audit")
	}
	return nil
}

// LogFromRequest creates an audit log from an HTTP request
func (al *AuditLogger) LogFromRequest(r *http.Request, action, resourceType, resourceID, status string, err error) error {
	log := &AuditLog{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    httputil.ClientIP(r),
		UserAgent:    r.UserAgent(),
		Status:       status,
	}

	if err != nil {
		log.ErrorMessage = err.Error()
	}

	if authCtx := AuthContextFrom(r.Context()); authCtx != nil && authCtx.User != nil {
		id := authCtx.User.ID
		log.UserID = &id
		log.Username = authCtx.User.Username
	}

	return al.LogAction(r.Context(), log)
}

// Audit action constants
const (
	ActionSignup            = "auth.signup"
	ActionLogin             = "auth.login"
	ActionRefresh           = "auth.refresh"
	ActionLogout            = "auth.logout"
	ActionPasswordReset     = "auth.reset_password"
	ActionTokenCleanup      = "token.cleanup"
	ActionRateLimitExceeded = "ratelimit.exceeded"
)

// Status constants
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusDenied  = "denied"
)
