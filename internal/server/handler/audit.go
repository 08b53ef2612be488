package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/domain"
)

// AuditService exposes the audit trail to the handler.
type AuditService interface {
	ListAudit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler serves the audit-log endpoint.
type AuditHandler struct {
	svc    AuditService
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(svc AuditService, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		svc:    svc,
		logger: logHandler(logger, "audit"),
	}
}

type auditEntryView struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

type listAuditResponse struct {
	Entries []auditEntryView `json:"entries"`
}

// ListAudit returns recent audit entries, newest first.
// GET /api/audit?limit=50&offset=0
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.ListAudit(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	views := make([]auditEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, auditEntryView{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, listAuditResponse{Entries: views})
}
