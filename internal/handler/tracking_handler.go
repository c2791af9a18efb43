package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/sequence-engine/internal/domain"
	"github.com/kursadbilgin/sequence-engine/internal/observability"
	"github.com/kursadbilgin/sequence-engine/internal/service"
)

type TrackingIngester interface {
	Ingest(ctx context.Context, event domain.TrackingEvent) (service.TrackingResult, error)
}

type TrackingHandler struct {
	ingester TrackingIngester
	now      func() time.Time
}

func NewTrackingHandler(ingester TrackingIngester) (*TrackingHandler, error) {
	if ingester == nil {
		return nil, fmt.Errorf("tracking ingester is required")
	}
	return &TrackingHandler{ingester: ingester, now: time.Now}, nil
}

func RegisterTrackingRoutes(router fiber.Router, ingester TrackingIngester) error {
	h, err := NewTrackingHandler(ingester)
	if err != nil {
		return err
	}

	router.Post("/v1/tracking/events", h.IngestEvent)
	return nil
}

type trackingEventRequest struct {
	MessageID  string `json:"messageId"`
	Type       string `json:"type"`
	OccurredAt string `json:"occurredAt"`
}

// IngestEvent accepts provider webhook events. Provider aliases such as
// "opened" or "spamreport" are normalized; occurredAt defaults to receipt time.
func (h *TrackingHandler) IngestEvent(c *fiber.Ctx) error {
	var req trackingEventRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	eventType, err := domain.ParseTrackingEventType(req.Type)
	if err != nil {
		return toHTTPError(err)
	}

	occurredAt := h.now().UTC()
	parsed, err := parseRFC3339(req.OccurredAt, "occurredAt")
	if err != nil {
		return toHTTPError(err)
	}
	if parsed != nil {
		occurredAt = parsed.UTC()
	}

	ctx := observability.WithCorrelationID(c.Context(), requestCorrelationID(c))
	result, err := h.ingester.Ingest(ctx, domain.TrackingEvent{
		MessageID:  req.MessageID,
		Type:       eventType,
		OccurredAt: occurredAt,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(result)
}
