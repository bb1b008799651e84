package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mobilyecommerce/storefront/pkg/auth"
	"github.com/mobilyecommerce/storefront/pkg/httputil"
	"github.com/mobilyecommerce/storefront/pkg/middleware"
	"github.com/mobilyecommerce/storefront/pkg/observability"
)

// TokenCleaner runs the mark and delete phases of one token kind on demand
type TokenCleaner interface {
	MarkExpiredTokens(ctx context.Context) (int64, error)
	DeleteExpiredTokens(ctx context.Context) (int64, error)
	CleanupNow(ctx context.Context) (auth.CleanupResult, error)
}

// CleanupHandlers lets administrators trigger token cleanup outside the
// schedule.
type CleanupHandlers struct {
	cleaners map[string]TokenCleaner
	audit    *auth.AuditLogger
	logger   *observability.Logger
}

// NewCleanupHandlers creates handlers for the access and refresh cleaners
func NewCleanupHandlers(access, refresh TokenCleaner, audit *auth.AuditLogger, logger *observability.Logger) *CleanupHandlers {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if audit == nil {
		audit = auth.NewAuditLogger(logger, nil)
	}
	return &CleanupHandlers{
		cleaners: map[string]TokenCleaner{
			"access-tokens":  access,
			"refresh-tokens": refresh,
		},
		audit:  audit,
		logger: logger.WithField("component", "cleanup_api"),
	}
}

// RegisterRoutes registers the admin cleanup routes behind the ADMIN role
func (h *CleanupHandlers) RegisterRoutes(router *mux.Router) {
	admin := router.PathPrefix("/api/v1/admin/token-cleanup").Subrouter()
	admin.Use(middleware.RequireRole(auth.RoleAdmin))

	kinds := "{kind:access-tokens|refresh-tokens}"
	admin.HandleFunc("/"+kinds+"/mark-expired", h.markExpired).Methods("POST")
	admin.HandleFunc("/"+kinds+"/delete-expired", h.deleteExpired).Methods("POST")
	admin.HandleFunc("/"+kinds+"/cleanup-now", h.cleanupNow).Methods("POST")
}

func (h *CleanupHandlers) cleaner(r *http.Request) (string, TokenCleaner) {
	kind := mux.Vars(r)["kind"]
	return kind, h.cleaners[kind]
}

// markExpired handles POST /api/v1/admin/token-cleanup/{kind}/mark-expired
func (h *CleanupHandlers) markExpired(w http.ResponseWriter, r *http.Request) {
	kind, cleaner := h.cleaner(r)
	marked, err := cleaner.MarkExpiredTokens(r.Context())
	h.record(r, kind, "mark_expired", err)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"message":     "expired tokens marked",
		"markedCount": marked,
	})
}

// deleteExpired handles POST /api/v1/admin/token-cleanup/{kind}/delete-expired
func (h *CleanupHandlers) deleteExpired(w http.ResponseWriter, r *http.Request) {
	kind, cleaner := h.cleaner(r)
	deleted, err := cleaner.DeleteExpiredTokens(r.Context())
	h.record(r, kind, "delete_expired", err)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"message":      "expired tokens deleted",
		"deletedCount": deleted,
	})
}

// cleanupNow handles POST /api/v1/admin/token-cleanup/{kind}/cleanup-now
func (h *CleanupHandlers) cleanupNow(w http.ResponseWriter, r *http.Request) {
	kind, cleaner := h.cleaner(r)
	result, err := cleaner.CleanupNow(r.Context())
	h.record(r, kind, "cleanup_now", err)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"message":      "cleanup completed",
		"markedCount":  result.Marked,
		"deletedCount": result.Deleted,
	})
}

func (h *CleanupHandlers) record(r *http.Request, kind, phase string, err error) {
	status := auth.StatusSuccess
	if err != nil {
		status = auth.StatusFailure
	}
	_ = h.audit.LogFromRequest(r, auth.ActionTokenCleanup, kind, phase, status, err)
}
