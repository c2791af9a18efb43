package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultHTTPTimeout = 10 * time.Second

type httpSendRequest struct {
	From     string            `json:"from"`
	FromName string            `json:"fromName,omitempty"`
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	HTML     string            `json:"html"`
	Headers  map[string]string `json:"headers,omitempty"`
}

type httpSendResponse struct {
	MessageID string `json:"messageId"`
	ID        string `json:"id"`
}

// HTTPMailer posts messages as JSON to a transactional mail API.
type HTTPMailer struct {
	client   *resty.Client
	endpoint string
	apiKey   string
}

func NewHTTPMailer(endpoint string, apiKey string) (*HTTPMailer, error) {
	client := resty.New()
	client.SetTimeout(defaultHTTPTimeout)
	client.SetRetryCount(0)

	return NewHTTPMailerWithClient(endpoint, apiKey, client)
}

func NewHTTPMailerWithClient(endpoint string, apiKey string, client *resty.Client) (*HTTPMailer, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("mail api endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid mail api endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultHTTPTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPMailer{
		client:   client,
		endpoint: trimmedEndpoint,
		apiKey:   strings.TrimSpace(apiKey),
	}, nil
}

func (m *HTTPMailer) Name() string { return "http" }

func (m *HTTPMailer) Send(ctx context.Context, msg Message) (*SendResult, error) {
	if m == nil || m.client == nil {
		return nil, errNotInitialized
	}

	req := m.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(httpSendRequest{
			From:     msg.From,
			FromName: msg.FromName,
			To:       msg.To,
			Subject:  msg.Subject,
			HTML:     msg.Body,
			Headers:  msg.Headers,
		}).
		SetResult(&httpSendResponse{})
	if m.apiKey != "" {
		req.SetAuthToken(m.apiKey)
	}

	response, err := req.Post(m.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "provider request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SendResult{
			StatusCode: statusCode,
			MessageID:  providerMessageID(response),
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    providerErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

// isTransientHTTPStatus treats throttling, timeouts, server faults and
// account-level refusals (bad key, unpaid or suspended account) as
// retryable. Other 4xx responses reject the recipient or the payload.
func isTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusPaymentRequired, http.StatusForbidden,
		http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return statusCode >= http.StatusInternalServerError && statusCode <= 599
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func providerMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	if result, ok := response.Result().(*httpSendResponse); ok && result != nil {
		if id := strings.TrimSpace(result.MessageID); id != "" {
			return id
		}
		if id := strings.TrimSpace(result.ID); id != "" {
			return id
		}
	}

	for _, key := range []string{"X-Message-Id", "X-Request-ID", "X-Request-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
