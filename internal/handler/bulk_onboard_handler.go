package handler

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/onboard-engine/internal/domain"
	"github.com/kursadbilgin/onboard-engine/internal/observability"
	"github.com/kursadbilgin/onboard-engine/internal/service"
)

const maxOrganizationsPerRequest = 1000

type OnboardingService interface {
	BulkOnboard(ctx context.Context, inputs []service.OrganizationInput) (*service.BulkOnboardResult, error)
	GetBatchProgress(ctx context.Context, batchID string) (*service.BatchProgress, error)
	GetOrganization(ctx context.Context, id string) (*domain.Organization, error)
}

type BulkOnboardHandler struct {
	service OnboardingService
}

func NewBulkOnboardHandler(service OnboardingService) (*BulkOnboardHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("onboarding service is required")
	}
	return &BulkOnboardHandler{service: service}, nil
}

func RegisterBulkOnboardRoutes(router fiber.Router, service OnboardingService) error {
	h, err := NewBulkOnboardHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/bulk-onboard", h.BulkOnboard)
	v1.Get("/batches/:batchId", h.GetBatchProgress)
	v1.Get("/organizations/:id", h.GetOrganization)

	return nil
}

type bulkOnboardItem struct {
	Name         string  `json:"name"`
	Domain       string  `json:"domain"`
	ContactEmail *string `json:"contact_email"`
}

type bulkOnboardResponse struct {
	Message            string `json:"message"`
	BatchID            string `json:"batch_id"`
	TotalOrganizations int    `json:"total_organizations"`
	Status             string `json:"status"`
}

type validationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

type batchProgressResponse struct {
	BatchID                string                 `json:"batchId"`
	Status                 string                 `json:"status"`
	TotalOrganizations     int                    `json:"totalOrganizations"`
	ProcessedOrganizations int                    `json:"processedOrganizations"`
	Counts                 []batchStatusCountItem `json:"counts"`
}

type batchStatusCountItem struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

type organizationResponse struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Domain       string     `json:"domain"`
	ContactEmail *string    `json:"contactEmail,omitempty"`
	Status       string     `json:"status"`
	BatchID      *string    `json:"batchId,omitempty"`
	AttemptCount int        `json:"attemptCount"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
	FailedReason *string    `json:"failedReason,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (h *BulkOnboardHandler) BulkOnboard(c *fiber.Ctx) error {
	var items []bulkOnboardItem
	if err := c.BodyParser(&items); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if len(items) == 0 {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(validationErrorResponse{
			Error: "No organizations provided",
		})
	}
	if len(items) > maxOrganizationsPerRequest {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": fmt.Sprintf("Maximum %d organizations allowed per request", maxOrganizationsPerRequest),
		})
	}

	if details := validateItems(items); len(details) > 0 {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(validationErrorResponse{
			Error:   "Validation failed",
			Details: details,
		})
	}

	inputs := make([]service.OrganizationInput, 0, len(items))
	for _, item := range items {
		inputs = append(inputs, service.OrganizationInput{
			Name:         item.Name,
			Domain:       item.Domain,
			ContactEmail: item.ContactEmail,
		})
	}

	var ctx context.Context = c.Context()
	if correlationID := requestCorrelationID(c); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}

	result, err := h.service.BulkOnboard(ctx, inputs)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(bulkOnboardResponse{
		Message:            "Bulk onboarding initiated successfully",
		BatchID:            result.BatchID,
		TotalOrganizations: result.TotalOrganizations,
		Status:             result.Status.String(),
	})
}

func (h *BulkOnboardHandler) GetBatchProgress(c *fiber.Ctx) error {
	batchID := strings.TrimSpace(c.Params("batchId"))
	progress, err := h.service.GetBatchProgress(c.Context(), batchID)
	if err != nil {
		return toHTTPError(err)
	}

	counts := make([]batchStatusCountItem, 0, len(progress.Counts))
	for _, count := range progress.Counts {
		counts = append(counts, batchStatusCountItem{
			Status: count.Status.String(),
			Count:  count.Count,
		})
	}

	return c.Status(fiber.StatusOK).JSON(batchProgressResponse{
		BatchID:                progress.BatchID,
		Status:                 progress.Status.String(),
		TotalOrganizations:     progress.TotalOrganizations,
		ProcessedOrganizations: progress.ProcessedOrganizations,
		Counts:                 counts,
	})
}

func (h *BulkOnboardHandler) GetOrganization(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	org, err := h.service.GetOrganization(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(organizationResponse{
		ID:           org.ID,
		Name:         org.Name,
		Domain:       org.Domain,
		ContactEmail: org.ContactEmail,
		Status:       org.Status.String(),
		BatchID:      org.BatchID,
		AttemptCount: org.AttemptCount,
		ProcessedAt:  org.ProcessedAt,
		FailedReason: org.FailedReason,
		CreatedAt:    org.CreatedAt,
		UpdatedAt:    org.UpdatedAt,
	})
}

func validateItems(items []bulkOnboardItem) map[string]string {
	details := make(map[string]string)

	for i, item := range items {
		prefix := strconv.Itoa(i)

		name := strings.TrimSpace(item.Name)
		if name == "" {
			details[prefix+".name"] = "Organization name is required"
		} else if len(name) > domain.MaxNameLength {
			details[prefix+".name"] = fmt.Sprintf("Name may not be greater than %d characters", domain.MaxNameLength)
		}

		domainName := strings.TrimSpace(item.Domain)
		if domainName == "" {
			details[prefix+".domain"] = "Organization domain is required"
		} else if len(domainName) > domain.MaxDomainLength {
			details[prefix+".domain"] = fmt.Sprintf("Domain may not be greater than %d characters", domain.MaxDomainLength)
		}

		if item.ContactEmail != nil {
			email := strings.TrimSpace(*item.ContactEmail)
			if email != "" {
				if len(email) > domain.MaxContactEmailLength {
					details[prefix+".contact_email"] = fmt.Sprintf("Contact email may not be greater than %d characters", domain.MaxContactEmailLength)
				} else if _, err := mail.ParseAddress(email); err != nil {
					details[prefix+".contact_email"] = "Contact email must be a valid email address"
				}
			}
		}
	}

	return details
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
