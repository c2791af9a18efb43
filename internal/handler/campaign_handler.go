package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/sequence-engine/internal/domain"
	"github.com/kursadbilgin/sequence-engine/internal/observability"
	"github.com/kursadbilgin/sequence-engine/internal/service"
)

const (
	defaultDueLimit = 100
	maxDueLimit     = 1000
)

type PassRunner interface {
	RunPass(ctx context.Context, campaignID string) (service.PassSummary, error)
}

type DueLister interface {
	DueContacts(ctx context.Context, campaignID string, now time.Time) (service.DueSet, error)
}

type QuotaResetter interface {
	ResetAll(ctx context.Context, campaignID string) (int64, error)
}

type HealthEvaluator interface {
	Evaluate(ctx context.Context, campaignID string) ([]service.HealthReport, error)
}

// CampaignHandler exposes engine operations for a single campaign. It never
// edits contacts or ledger records directly.
type CampaignHandler struct {
	runner PassRunner
	due    DueLister
	quota  QuotaResetter
	health HealthEvaluator
	now    func() time.Time
}

func NewCampaignHandler(runner PassRunner, due DueLister, quota QuotaResetter, health HealthEvaluator) (*CampaignHandler, error) {
	if runner == nil {
		return nil, fmt.Errorf("pass runner is required")
	}
	if due == nil {
		return nil, fmt.Errorf("due lister is required")
	}
	if quota == nil {
		return nil, fmt.Errorf("quota resetter is required")
	}
	if health == nil {
		return nil, fmt.Errorf("health evaluator is required")
	}
	return &CampaignHandler{
		runner: runner,
		due:    due,
		quota:  quota,
		health: health,
		now:    time.Now,
	}, nil
}

func RegisterCampaignRoutes(router fiber.Router, h *CampaignHandler) error {
	if h == nil {
		return fmt.Errorf("campaign handler is required")
	}

	v1 := router.Group("/v1/campaigns/:id")
	v1.Post("/run", h.RunPass)
	v1.Get("/due", h.ListDue)
	v1.Post("/quota/reset", h.ResetQuota)
	v1.Get("/senders/health", h.SenderHealth)

	return nil
}

type dueContactResponse struct {
	ContactID   string    `json:"contactId"`
	Email       string    `json:"email"`
	StepNumber  int       `json:"stepNumber"`
	MaxStep     int       `json:"maxStep"`
	DueAt       time.Time `json:"dueAt"`
	EnrolledAt  time.Time `json:"enrolledAt"`
	CurrentStep int       `json:"currentStep"`
}

type skippedContactResponse struct {
	ContactID string `json:"contactId"`
	Error     string `json:"error"`
}

type dueListResponse struct {
	CampaignID string                   `json:"campaignId"`
	At         time.Time                `json:"at"`
	Total      int                      `json:"total"`
	Data       []dueContactResponse     `json:"data"`
	Skipped    []skippedContactResponse `json:"skipped"`
}

type senderHealthResponse struct {
	CampaignID string                 `json:"campaignId"`
	Senders    []service.HealthReport `json:"senders"`
}

func (h *CampaignHandler) RunPass(c *fiber.Ctx) error {
	campaignID, err := campaignParam(c)
	if err != nil {
		return toHTTPError(err)
	}

	ctx := observability.WithCorrelationID(c.Context(), requestCorrelationID(c))
	summary, err := h.runner.RunPass(ctx, campaignID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(summary)
}

func (h *CampaignHandler) ListDue(c *fiber.Ctx) error {
	campaignID, err := campaignParam(c)
	if err != nil {
		return toHTTPError(err)
	}

	at := h.now().UTC()
	parsed, err := parseRFC3339(c.Query("at"), "at")
	if err != nil {
		return toHTTPError(err)
	}
	if parsed != nil {
		at = parsed.UTC()
	}

	limit := c.QueryInt("limit", defaultDueLimit)
	if limit < 1 || limit > maxDueLimit {
		return toHTTPError(fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, maxDueLimit))
	}

	set, err := h.due.DueContacts(c.Context(), campaignID, at)
	if err != nil {
		return toHTTPError(err)
	}

	resp := dueListResponse{
		CampaignID: campaignID,
		At:         at,
		Total:      len(set.Due),
		Data:       make([]dueContactResponse, 0, min(limit, len(set.Due))),
		Skipped:    make([]skippedContactResponse, 0, len(set.Skipped)),
	}
	for i, due := range set.Due {
		if i >= limit {
			break
		}
		resp.Data = append(resp.Data, dueContactResponse{
			ContactID:   due.Contact.ID,
			Email:       observability.RedactEmail(due.Contact.Email),
			StepNumber:  due.Step.StepNumber,
			MaxStep:     due.MaxStep,
			DueAt:       due.DueAt,
			EnrolledAt:  due.Contact.EnrolledAt,
			CurrentStep: due.Contact.CurrentStep,
		})
	}
	for _, skipped := range set.Skipped {
		resp.Skipped = append(resp.Skipped, skippedContactResponse{
			ContactID: skipped.ContactID,
			Error:     skipped.Err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *CampaignHandler) ResetQuota(c *fiber.Ctx) error {
	campaignID, err := campaignParam(c)
	if err != nil {
		return toHTTPError(err)
	}

	n, err := h.quota.ResetAll(c.Context(), campaignID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"campaignId":   campaignID,
		"sendersReset": n,
	})
}

func (h *CampaignHandler) SenderHealth(c *fiber.Ctx) error {
	campaignID, err := campaignParam(c)
	if err != nil {
		return toHTTPError(err)
	}

	reports, err := h.health.Evaluate(c.Context(), campaignID)
	if err != nil {
		return toHTTPError(err)
	}
	if reports == nil {
		reports = []service.HealthReport{}
	}

	return c.Status(fiber.StatusOK).JSON(senderHealthResponse{
		CampaignID: campaignID,
		Senders:    reports,
	})
}

func campaignParam(c *fiber.Ctx) (string, error) {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return "", fmt.Errorf("%w: campaign id is required", domain.ErrValidation)
	}
	return id, nil
}
