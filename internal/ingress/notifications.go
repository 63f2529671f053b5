package ingress

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dispatchctl/notifyd/internal/domain"
	"github.com/dispatchctl/notifyd/internal/middleware"
	"github.com/dispatchctl/notifyd/internal/service"
)

// NotificationHandler is the HTTP surface of the Intake Service (C5).
type NotificationHandler struct {
	service  *service.NotificationService
	validate *validator.Validate
}

func NewNotificationHandler(svc *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{service: svc, validate: validator.New()}
}

func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Post("/batch", h.CreateBatch)
	r.Get("/", h.List)
	r.Get("/{id}", h.GetByID)
	r.Post("/{id}/cancel", h.Cancel)
}

type createNotificationRequest struct {
	Recipient      string                  `json:"recipient" validate:"required"`
	Type           domain.NotificationType `json:"type" validate:"required,oneof=email sms"`
	Subject        string                  `json:"subject,omitempty"`
	Body           string                  `json:"body" validate:"required"`
	Priority       domain.Priority         `json:"priority,omitempty" validate:"omitempty,oneof=critical high normal low"`
	ScheduledAt    *time.Time              `json:"scheduled_at,omitempty"`
	IdempotencyKey *string                 `json:"idempotency_key,omitempty"`
	Metadata       string                  `json:"metadata,omitempty"`
}

func (h *NotificationHandler) toCreateRequest(r *http.Request, req createNotificationRequest) service.CreateRequest {
	subscriptionID, _ := middleware.SubscriptionID(r.Context())
	return service.CreateRequest{
		SubscriptionID: subscriptionID,
		Recipient:      req.Recipient,
		Type:           req.Type,
		Subject:        req.Subject,
		Body:           req.Body,
		Priority:       req.Priority,
		ScheduledAt:    req.ScheduledAt,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
		CorrelationID:  middleware.GetCorrelationID(r.Context()),
	}
}

func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createNotificationRequest
	if err := DecodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "validation failed", err.Error())
		return
	}

	n, err := h.service.Create(r.Context(), h.toCreateRequest(r, req))
	if err != nil {
		HandleError(w, err)
		return
	}
	JSON(w, http.StatusCreated, n)
}

type batchCreateRequest struct {
	Notifications []createNotificationRequest `json:"notifications" validate:"required,min=1,max=1000,dive"`
}

func (h *NotificationHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchCreateRequest
	if err := DecodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "validation failed", err.Error())
		return
	}

	entries := make([]service.CreateRequest, len(req.Notifications))
	for i, n := range req.Notifications {
		entries[i] = h.toCreateRequest(r, n)
	}

	results, err := h.service.CreateBatch(r.Context(), service.BatchCreateRequest{Entries: entries})
	if err != nil {
		HandleError(w, err)
		return
	}

	// Every entry gets its own outcome; a failed entry never masks the
	// successes around it (see service.BatchResult).
	out := make([]map[string]any, len(results))
	for i, res := range results {
		entry := map[string]any{}
		if res.Err != nil {
			entry["error"] = res.Err.Error()
		} else {
			entry["notification"] = res.Notification
		}
		out[i] = entry
	}

	JSON(w, http.StatusOK, map[string]any{
		"count":   len(out),
		"results": out,
	})
}

func (h *NotificationHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		JSONError(w, http.StatusBadRequest, "INVALID_ID", "invalid notification ID", nil)
		return
	}

	n, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}
	if subID, ok := middleware.SubscriptionID(r.Context()); ok && n.SubscriptionID != subID {
		HandleError(w, domain.ErrNotFound)
		return
	}
	JSON(w, http.StatusOK, n)
}

func (h *NotificationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		JSONError(w, http.StatusBadRequest, "INVALID_ID", "invalid notification ID", nil)
		return
	}

	if err := h.service.Cancel(r.Context(), id); err != nil {
		HandleError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "notification cancelled"})
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := domain.NotificationFilter{Page: 1, PageSize: 20}

	subscriptionID, ok := middleware.SubscriptionID(r.Context())
	if ok {
		filter.SubscriptionID = &subscriptionID
	}

	if status := r.URL.Query().Get("status"); status != "" {
		s := domain.Status(status)
		filter.Status = &s
	}
	if typ := r.URL.Query().Get("type"); typ != "" {
		t := domain.NotificationType(typ)
		if !t.IsValid() {
			JSONError(w, http.StatusBadRequest, "INVALID_TYPE", "invalid notification type", nil)
			return
		}
		filter.Type = &t
	}
	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil || page < 1 {
			JSONError(w, http.StatusBadRequest, "INVALID_PAGE", "invalid page number", nil)
			return
		}
		filter.Page = page
	}
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		pageSize, err := strconv.Atoi(pageSizeStr)
		if err != nil || pageSize < 1 || pageSize > 100 {
			JSONError(w, http.StatusBadRequest, "INVALID_PAGE_SIZE", "page size must be between 1 and 100", nil)
			return
		}
		filter.PageSize = pageSize
	}

	result, err := h.service.List(r.Context(), filter)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSON(w, http.StatusOK, result)
}
