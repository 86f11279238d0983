package maintenance

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"authgate/internal/auth"
	"authgate/internal/observability"
	"authgate/internal/revocation"
)

// CleanupHandler is the external scheduler's entry point: it sweeps
// expired revocation records and stale refresh tokens. Nothing in the
// service triggers this on its own.
type CleanupHandler struct {
	revocations      *revocation.Store
	repo             *auth.Repository
	logger           *observability.Logger
	cronSecret       string
	refreshRetention time.Duration
	batchSize        int
}

func NewCleanupHandler(
	revocations *revocation.Store,
	repo *auth.Repository,
	logger *observability.Logger,
	cronSecret string,
	refreshRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	return &CleanupHandler{
		revocations:      revocations,
		repo:             repo,
		logger:           logger,
		cronSecret:       strings.TrimSpace(cronSecret),
		refreshRetention: refreshRetention,
		batchSize:        batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	deletedRevocations, err := h.revocations.CleanupExpired(r.Context())
	if err != nil {
		h.logger.Error("revocation_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	cutoff := time.Now().UTC().Add(-h.refreshRetention)
	deletedRefreshTokens, err := h.repo.DeleteStaleRefreshTokens(r.Context(), cutoff, h.batchSize)
	if err != nil {
		h.logger.Error("refresh_token_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("auth_cleanup_completed", map[string]any{
		"deleted_revocations":    deletedRevocations,
		"deleted_refresh_tokens": deletedRefreshTokens,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": map[string]int64{
			"deleted_revocations":    deletedRevocations,
			"deleted_refresh_tokens": deletedRefreshTokens,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
