package gateway

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/stockd/internal/observability"
	"github.com/haasonsaas/stockd/pkg/models"
)

type createAlertRequest struct {
	Ticker      string                `json:"ticker"`
	Condition   models.AlertCondition `json:"condition"`
	TargetPrice float64               `json:"target_price"`
	Channels    []models.AlertChannel `json:"channels,omitempty"`
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	if ticker == "" {
		writeError(w, r, s.logger, badRequest("ticker is required"))
		return
	}
	if req.Condition != models.AlertAbove && req.Condition != models.AlertBelow {
		writeError(w, r, s.logger, badRequest(`condition must be "above" or "below"`))
		return
	}
	if req.TargetPrice <= 0 {
		writeError(w, r, s.logger, badRequest("target_price must be positive"))
		return
	}
	channels := req.Channels
	if len(channels) == 0 {
		channels = []models.AlertChannel{models.ChannelInApp}
	}
	for _, ch := range channels {
		switch ch {
		case models.ChannelInApp, models.ChannelEmail, models.ChannelPush:
		default:
			writeError(w, r, s.logger, badRequest("unknown delivery channel "+string(ch)))
			return
		}
	}

	alert := &models.Alert{
		ID:          uuid.NewString(),
		UserID:      observability.UserID(r.Context()),
		Ticker:      ticker,
		Condition:   req.Condition,
		TargetPrice: req.TargetPrice,
		Channels:    channels,
		Active:      true,
		CreatedAt:   time.Now(),
	}
	if err := s.stores.Alerts.Create(r.Context(), alert); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.stores.Alerts.ListActive(r.Context(), observability.UserID(r.Context()))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	alert, err := s.stores.Alerts.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if alert.UserID != observability.UserID(r.Context()) {
		writeError(w, r, s.logger, apiError(CodeNotFound, "The requested resource was not found.", false))
		return
	}
	if err := s.stores.Alerts.Delete(r.Context(), id); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	notifications, err := s.stores.Notifications.List(r.Context(), observability.UserID(r.Context()), limit, offset)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := s.stores.Notifications.MarkRead(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
