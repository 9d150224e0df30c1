package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"cookalert/internal/types"

	"github.com/klauspost/compress/gzip"
)

const (
	expoAPIBase  = "https://exp.host"
	expoSendPath = "/--/api/v2/push/send"

	// Request bodies above this size are gzip-compressed.
	expoGzipThreshold = 1024
)

// Ticket error codes returned by the Expo push service.
const (
	ExpoErrDeviceNotRegistered = "DeviceNotRegistered"
	ExpoErrMessageTooBig       = "MessageTooBig"
	ExpoErrMessageRateExceeded = "MessageRateExceeded"
	ExpoErrInvalidCredentials  = "InvalidCredentials"
)

// ErrDeviceNotRegistered reports that the gateway no longer recognises the
// token (the app was uninstalled or the token rotated).
var ErrDeviceNotRegistered = errors.New("device not registered")

var uuidTokenPattern = regexp.MustCompile(`(?i)^[a-z\d]{8}-[a-z\d]{4}-[a-z\d]{4}-[a-z\d]{4}-[a-z\d]{12}$`)

// IsExpoPushToken reports whether token has the shape of an Expo push token:
// ExponentPushToken[...] or ExpoPushToken[...], or a bare UUID.
func IsExpoPushToken(token string) bool {
	if (strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")) &&
		strings.HasSuffix(token, "]") {
		return true
	}
	return uuidTokenPattern.MatchString(token)
}

// PushMessage is a single Expo push message.
type PushMessage struct {
	To    string         `json:"to"`
	Title string         `json:"title,omitempty"`
	Body  string         `json:"body,omitempty"`
	Sound string         `json:"sound,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// PushTicket is the gateway's per-message acknowledgement.
type PushTicket struct {
	Status  string         `json:"status"`
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message,omitempty"`
	Details *TicketDetails `json:"details,omitempty"`
}

// TicketDetails carries the machine-readable error code of a failed ticket.
type TicketDetails struct {
	Error string `json:"error,omitempty"`
}

// OK reports whether the gateway accepted the message.
func (t *PushTicket) OK() bool { return t != nil && t.Status == "ok" }

// TicketError is a rejected ticket. It matches ErrDeviceNotRegistered under
// errors.Is when the gateway reported DeviceNotRegistered.
type TicketError struct {
	Code    string
	Message string
}

func (e *TicketError) Error() string {
	if e.Code == "" {
		return "push ticket rejected: " + e.Message
	}
	return fmt.Sprintf("push ticket rejected (%s): %s", e.Code, e.Message)
}

func (e *TicketError) Is(target error) bool {
	return target == ErrDeviceNotRegistered && e.Code == ExpoErrDeviceNotRegistered
}

// ExpoClientConfig holds the configuration for creating an ExpoClient.
type ExpoClientConfig struct {
	// AccessToken enables enhanced push security when set.
	AccessToken types.SecretString
	BaseURL     string // defaults to expoAPIBase
	Logger      types.Logger
}

// ExpoClient implements PushGateway against the Expo push HTTP API through
// BaseClient.
type ExpoClient struct {
	base        *BaseClient
	accessToken types.SecretString
	baseURL     string
	logger      types.Logger
}

// NewExpoClient creates an ExpoClient. The httpClient timeout bounds each
// individual HTTP attempt.
func NewExpoClient(httpClient *http.Client, cfg ExpoClientConfig) *ExpoClient {
	base := NewBaseClient(httpClient, "expo-push", DefaultRetryPolicy(), "cookalert/1.0")
	return NewExpoClientWithBase(base, cfg)
}

// NewExpoClientWithBase creates an ExpoClient around a pre-configured
// BaseClient.
func NewExpoClientWithBase(base *BaseClient, cfg ExpoClientConfig) *ExpoClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = expoAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &ExpoClient{
		base:        base,
		accessToken: cfg.AccessToken,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		logger:      logger.With("component", "expo_client"),
	}
}

type expoSendResponse struct {
	Data   []PushTicket     `json:"data"`
	Errors []expoErrorEntry `json:"errors"`
}

type expoErrorEntry struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Send delivers msg and returns its ticket.
//
// Error mapping:
//   - ticket status "error" -> ErrCodeUpstreamPushGateway wrapping *TicketError
//   - 429 / 5xx / transport -> handled by BaseClient
//   - other non-2xx -> ErrCodeUpstreamPushGateway
func (c *ExpoClient) Send(ctx context.Context, msg PushMessage) (*PushTicket, error) {
	body, err := json.Marshal([]PushMessage{msg})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal push message", err)
	}

	var reqBody io.Reader = bytes.NewReader(body)
	compressed := len(body) > expoGzipThreshold
	if compressed {
		gz, err := gzipBytes(body)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to compress push message", err)
		}
		reqBody = bytes.NewReader(gz)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+expoSendPath, reqBody)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create push request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if compressed {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if c.accessToken.IsSet() {
		req.Header.Set("Authorization", "Bearer "+c.accessToken.Unmask())
	}

	start := time.Now()
	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamPushGateway, "push response body unreadable", err)
	}

	var parsed expoSendResponse
	decodeErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && len(parsed.Errors) > 0 {
			msg = parsed.Errors[0].Code + ": " + parsed.Errors[0].Message
		}
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamPushGateway,
			fmt.Sprintf("push gateway returned %d: %s", resp.StatusCode, msg),
			nil,
			map[string]any{"status": resp.StatusCode},
		)
	}
	if decodeErr != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamPushGateway, "push response is not valid JSON", decodeErr)
	}
	if len(parsed.Data) != 1 {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamPushGateway,
			fmt.Sprintf("expected 1 push ticket, got %d", len(parsed.Data)),
			nil,
		)
	}

	ticket := parsed.Data[0]
	if !ticket.OK() {
		te := &TicketError{Message: ticket.Message}
		if ticket.Details != nil {
			te.Code = ticket.Details.Error
		}
		return &ticket, types.NewAppError(types.ErrCodeUpstreamPushGateway, te.Error(), te)
	}

	c.logger.Info("push ticket accepted", "ticket_id", ticket.ID, "latency_ms", time.Since(start).Milliseconds())
	return &ticket, nil
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var _ PushGateway = (*ExpoClient)(nil)
