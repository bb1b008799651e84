package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mobilyecommerce/storefront/pkg/auth"
	"github.com/mobilyecommerce/storefront/pkg/httputil"
	"github.com/mobilyecommerce/storefront/pkg/middleware"
	"github.com/mobilyecommerce/storefront/pkg/observability"
)

// AuthService is the subset of auth.Service the handlers use
type AuthService interface {
	Signup(ctx context.Context, req auth.SignupRequest, client auth.ClientInfo) (*auth.TokenPair, error)
	Login(ctx context.Context, identifier, password string, client auth.ClientInfo) (*auth.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string, client auth.ClientInfo) (*auth.TokenPair, error)
	Logout(ctx context.Context, user *auth.User) error
	ResetPassword(ctx context.Context, identifier, newPassword string) error
	AccessTokenTTL() time.Duration
	RefreshTokenTTL() time.Duration
}

// AuthHandlers handles authentication-related HTTP requests
type AuthHandlers struct {
	service AuthService
	logger  *observability.Logger
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(service AuthService, logger *observability.Logger) *AuthHandlers {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AuthHandlers{
		service: service,
		logger:  logger.WithField("component", "auth_api"),
	}
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/auth/login", h.login).Methods("POST")
	router.HandleFunc("/api/v1/auth/signup", h.signup).Methods("POST")
	router.HandleFunc("/api/v1/auth/refresh", h.refresh).Methods("POST")
	router.HandleFunc("/api/v1/auth/reset-password", h.resetPassword).Methods("POST")
	router.HandleFunc("/api/v1/auth/token-info", h.tokenInfo).Methods("GET")
	router.HandleFunc("/api/v1/auth/test-ip", h.testIP).Methods("GET")

	// Authenticated routes
	router.Handle("/api/v1/auth/logout", middleware.RequireAuth(http.HandlerFunc(h.logout))).Methods("POST")
	router.Handle("/api/v1/auth/me", middleware.RequireAuth(http.HandlerFunc(h.me))).Methods("GET")
}

func clientInfo(r *http.Request) auth.ClientInfo {
	return auth.ClientInfo{
		IPAddress: httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// loginRequest accepts the identifier under its own name or as email or
// username.
type loginRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

func (req loginRequest) identifier() string {
	switch {
	case req.Identifier != "":
		return req.Identifier
	case req.Email != "":
		return req.Email
	default:
		return req.Username
	}
}

// login handles POST /api/v1/auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	pair, err := h.service.Login(r.Context(), req.identifier(), req.Password, clientInfo(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, pair)
}

// signup handles POST /api/v1/auth/signup
func (h *AuthHandlers) signup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	pair, err := h.service.Signup(r.Context(), req, clientInfo(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, pair)
}

// refresh handles POST /api/v1/auth/refresh
func (h *AuthHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.RefreshToken, "refreshToken") {
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken, clientInfo(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, pair)
}

// logout handles POST /api/v1/auth/logout
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())
	if err := h.service.Logout(r.Context(), user); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{
		"message":  "logged out",
		"username": user.Username,
	})
}

// resetPassword handles POST /api/v1/auth/reset-password
func (h *AuthHandlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier  string `json:"identifier"`
		NewPassword string `json:"newPassword"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Identifier, req.NewPassword); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"message": "password updated"})
}

// me handles GET /api/v1/auth/me
func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())
	httputil.WriteSuccess(w, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email,
		"roles":    user.Roles,
		"clientIp": httputil.ClientIP(r),
	})
}

// testIP handles GET /api/v1/auth/test-ip, showing which address the service
// attributes to the caller and the headers it was derived from.
func (h *AuthHandlers) testIP(w http.ResponseWriter, r *http.Request) {
	info := map[string]string{
		"extractedIp":   httputil.ClientIP(r),
		"xForwardedFor": r.Header.Get("X-Forwarded-For"),
		"xRealIp":       r.Header.Get("X-Real-IP"),
		"remoteAddr":    r.RemoteAddr,
	}
	h.logger.WithFields(map[string]interface{}{
		"extracted_ip":    info["extractedIp"],
		"x_forwarded_for": info["xForwardedFor"],
		"x_real_ip":       info["xRealIp"],
		"remote_addr":     info["remoteAddr"],
	}).Debug("client ip check")
	httputil.WriteSuccess(w, info)
}

// tokenInfo handles GET /api/v1/auth/token-info
func (h *AuthHandlers) tokenInfo(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"accessTokenTtlSeconds":  int64(h.service.AccessTokenTTL().Seconds()),
		"refreshTokenTtlSeconds": int64(h.service.RefreshTokenTTL().Seconds()),
	})
}
