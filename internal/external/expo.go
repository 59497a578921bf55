package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"medremind/internal/types"
)

// expoAPIBase is the default Expo push API base URL. Overridable in tests
// via ExpoClientConfig.BaseURL.
const expoAPIBase = "https://exp.host/--/api/v2"

// expoMaxBatch is the Expo push API's limit on messages per request.
const expoMaxBatch = 100

// ExpoClientConfig holds the configuration for creating an ExpoClient.
type ExpoClientConfig struct {
	AccessToken string
	BaseURL     string // Override for testing; defaults to expoAPIBase
	Logger      *slog.Logger
}

// ExpoClient delivers push notifications via the Expo push service. All
// requests route through BaseClient for circuit breaking and retries, and
// the BaseURL override makes httptest-based testing straightforward.
//
// It implements the PushSender interface consumed by the evaluation cycle.
type ExpoClient struct {
	base        *BaseClient
	accessToken string
	baseURL     string
	logger      *slog.Logger
}

// NewExpoClient creates an ExpoClient with production retry settings.
func NewExpoClient(httpClient *http.Client, cfg ExpoClientConfig) *ExpoClient {
	base := NewBaseClient(
		httpClient,
		"expo",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"MedRemind/1.0",
	)
	return NewExpoClientWithBase(base, cfg)
}

// NewExpoClientWithBase creates an ExpoClient with a pre-configured
// BaseClient, useful for tests that want to control retry behavior.
func NewExpoClientWithBase(base *BaseClient, cfg ExpoClientConfig) *ExpoClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = expoAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpoClient{
		base:        base,
		accessToken: cfg.AccessToken,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		logger:      logger,
	}
}

// expoMessage is one entry in the Expo push/send request body.
type expoMessage struct {
	To       string         `json:"to"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Sound    string         `json:"sound,omitempty"`
	Priority string         `json:"priority,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// expoTicket is one entry in the Expo push/send response.
type expoTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"`
	} `json:"details,omitempty"`
}

type expoSendResponse struct {
	Data []expoTicket `json:"data"`
}

// Send delivers the payloads through the Expo push API and returns one
// result per payload, index-aligned with the input. Per-device rejections
// (including DeviceNotRegistered) come back as error results, not as a Go
// error; only transport failures return an error.
func (c *ExpoClient) Send(ctx context.Context, payloads []types.PushPayload) ([]types.PushResult, error) {
	results := make([]types.PushResult, 0, len(payloads))

	for start := 0; start < len(payloads); start += expoMaxBatch {
		end := start + expoMaxBatch
		if end > len(payloads) {
			end = len(payloads)
		}
		batch, err := c.sendBatch(ctx, payloads[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, batch...)
	}

	return results, nil
}

func (c *ExpoClient) sendBatch(ctx context.Context, payloads []types.PushPayload) ([]types.PushResult, error) {
	messages := make([]expoMessage, len(payloads))
	for i, p := range payloads {
		msg := expoMessage{
			To:    p.Token,
			Title: p.Title,
			Body:  p.Body,
			Sound: "default",
			Data: map[string]any{
				"reminderId":    p.ReminderID,
				"medicationId":  p.MedicationID,
				"scheduledTime": p.ScheduledTime,
				"reason":        string(p.Reason),
			},
		}
		if p.TimeSensitive {
			msg.Priority = "high"
		}
		messages[i] = msg
	}

	body, err := json.Marshal(messages)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to marshal push payload",
			err,
		)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/push/send", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to build push request",
			err,
		)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("expo push request rejected",
			"status", resp.StatusCode,
			"body", string(raw),
		)
		return nil, types.NewAppError(
			types.ErrCodeUpstreamPushProvider,
			fmt.Sprintf("push provider returned %d", resp.StatusCode),
			nil,
		)
	}

	var parsed expoSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamPushProvider,
			"failed to decode push provider response",
			err,
		)
	}
	if len(parsed.Data) != len(payloads) {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamPushProvider,
			fmt.Sprintf("push provider returned %d tickets for %d messages", len(parsed.Data), len(payloads)),
			nil,
		)
	}

	results := make([]types.PushResult, len(parsed.Data))
	for i, ticket := range parsed.Data {
		if ticket.Status == "ok" {
			results[i] = types.PushResult{Status: types.PushStatusOK, Token: payloads[i].Token}
			continue
		}
		detail := ticket.Details.Error
		if detail == "" {
			detail = ticket.Message
		}
		results[i] = types.PushResult{
			Status:      types.PushStatusError,
			ErrorDetail: detail,
			Token:       payloads[i].Token,
		}
	}
	return results, nil
}
