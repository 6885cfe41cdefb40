package onboarder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/onboard-engine/internal/domain"
)

const defaultWebhookTimeout = 10 * time.Second

type webhookRequest struct {
	Name         string `json:"name"`
	Domain       string `json:"domain"`
	ContactEmail string `json:"contactEmail,omitempty"`
}

// WebhookOnboarder provisions organizations by POSTing them to an external
// onboarding endpoint.
type WebhookOnboarder struct {
	client   *resty.Client
	endpoint string
}

func NewWebhookOnboarder(endpoint string) (*WebhookOnboarder, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return NewWebhookOnboarderWithClient(endpoint, client)
}

func NewWebhookOnboarderWithClient(endpoint string, client *resty.Client) (*WebhookOnboarder, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookOnboarder{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (o *WebhookOnboarder) Onboard(ctx context.Context, organization domain.Organization) error {
	if o == nil || o.client == nil {
		return fmt.Errorf("onboarder is not initialized")
	}

	reqBody := webhookRequest{
		Name:   organization.Name,
		Domain: organization.Domain,
	}
	if organization.ContactEmail != nil {
		reqBody.ContactEmail = *organization.ContactEmail
	}

	response, err := o.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(o.endpoint)
	if err != nil {
		return &OnboardError{
			Message:   "onboarding request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return &OnboardError{
			Message:   "onboarding endpoint returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	responseBody := strings.TrimSpace(response.String())
	return &OnboardError{
		StatusCode: statusCode,
		Message:    webhookErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func webhookErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("onboarding endpoint returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
