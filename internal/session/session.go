// Package session talks to the video platform's REST API: it creates or joins
// calls and sends custom events over a call's signaling channel.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/models"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/notifier"
	"github.com/rs/zerolog"
)

const (
	apiPrefix      = "/api/v2/video/call"
	defaultTimeout = 10 * time.Second
)

var ErrNotJoined = errors.New("session: call not joined")

// TokenSource provides the server token used to authenticate requests.
type TokenSource interface {
	APIKey() string
	ServerToken() (string, error)
}

// User identifies the bot that owns the call.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

type Options struct {
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	logger  zerolog.Logger
}

func NewClient(tokens TokenSource, opts Options, logger zerolog.Logger) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}

	return &Client{
		baseURL: opts.BaseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: opts.Timeout},
		logger:  logger.With().Str("component", "session").Logger(),
	}
}

// Handle is a joined call.
type Handle struct {
	client   *Client
	CallType string
	CallID   string
	SenderID string
	payload  func(models.AlertEvent) map[string]any
}

// Join gets or creates the call, owned by createdBy. Events sent through the
// returned handle are attributed to senderID.
func (c *Client) Join(ctx context.Context, callType, callID string, createdBy User, senderID string) (*Handle, error) {
	body := map[string]any{
		"data": map[string]any{
			"created_by": createdBy,
		},
	}

	if err := c.post(ctx, fmt.Sprintf("%s/%s/%s", apiPrefix, url.PathEscape(callType), url.PathEscape(callID)), body); err != nil {
		return nil, fmt.Errorf("join call %s:%s: %w", callType, callID, err)
	}

	c.logger.Info().
		Str("call_type", callType).
		Str("call_id", callID).
		Msg("call joined")

	return &Handle{
		client:   c,
		CallType: callType,
		CallID:   callID,
		SenderID: senderID,
	}, nil
}

// SendEvent sends a custom event to every participant of the call.
func (c *Client) SendEvent(ctx context.Context, callType, callID, senderID string, payload map[string]any) error {
	body := map[string]any{
		"user_id": senderID,
		"custom":  payload,
	}

	path := fmt.Sprintf("%s/%s/%s/event", apiPrefix, url.PathEscape(callType), url.PathEscape(callID))
	if err := c.post(ctx, path, body); err != nil {
		return fmt.Errorf("send event to %s:%s: %w", callType, callID, err)
	}
	return nil
}

// WithPayload sets how alert events are rendered before being sent.
func (h *Handle) WithPayload(render func(models.AlertEvent) map[string]any) *Handle {
	h.payload = render
	return h
}

// Name implements notifier.Notifier.
func (h *Handle) Name() string {
	return "call"
}

// Notify sends the alert over the call channel.
func (h *Handle) Notify(ctx context.Context, event models.AlertEvent) error {
	if h == nil || h.client == nil {
		return ErrNotJoined
	}
	if h.payload == nil {
		return errors.New("session: no payload renderer")
	}
	return h.client.SendEvent(ctx, h.CallType, h.CallID, h.SenderID, h.payload(event))
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	token, err := c.tokens.ServerToken()
	if err != nil {
		return err
	}

	u := c.baseURL + path + "?api_key=" + url.QueryEscape(c.tokens.APIKey())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)
	req.Header.Set("Stream-Auth-Type", "jwt")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("api error: %d - %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Joiner joins calls as a fixed bot user and renders alerts with a fixed
// payload format.
type Joiner struct {
	Client    *Client
	CreatedBy User
	SenderID  string
	Payload   func(models.AlertEvent) map[string]any
}

// JoinCall joins the call and returns it as an alert notifier.
func (j Joiner) JoinCall(ctx context.Context, callType, callID string) (notifier.Notifier, error) {
	h, err := j.Client.Join(ctx, callType, callID, j.CreatedBy, j.SenderID)
	if err != nil {
		return nil, err
	}
	return h.WithPayload(j.Payload), nil
}
