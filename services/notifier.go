package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"guild-progression-system/utils"
)

// Notification is a push message for one user.
type Notification struct {
	UserID   string         `json:"user_id"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Notifier delivers notifications. Delivery is best effort for callers.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Moderator scores user-supplied text. Flagged content is rejected.
type Moderator interface {
	Flagged(ctx context.Context, content string) (bool, error)
}

type HTTPNotifier struct {
	URL    string
	Token  string
	Client *http.Client
}

func NewHTTPNotifier(url, token string) *HTTPNotifier {
	return &HTTPNotifier{
		URL:   url,
		Token: token,
		Client: utils.NewHTTPClient(10 * time.Second),
	}
}

func (n *HTTPNotifier) Notify(ctx context.Context, msg Notification) error {
	_, err := postJSON(ctx, n.Client, n.URL, n.Token, msg)
	return err
}

// LogNotifier only logs, for deployments without a push service.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, msg Notification) error {
	if n.Log != nil {
		n.Log.Info("notification",
			zap.String("user_id", msg.UserID),
			zap.String("title", msg.Title),
			zap.String("message", msg.Message),
		)
	}
	return nil
}

type HTTPModerator struct {
	URL    string
	Token  string
	Client *http.Client
}

func NewHTTPModerator(url, token string) *HTTPModerator {
	return &HTTPModerator{
		URL:   url,
		Token: token,
		Client: utils.NewHTTPClient(5 * time.Second),
	}
}

type moderationResponse struct {
	Flagged bool `json:"flagged"`
}

func (m *HTTPModerator) Flagged(ctx context.Context, content string) (bool, error) {
	body, err := postJSON(ctx, m.Client, m.URL, m.Token, map[string]string{"content": content})
	if err != nil {
		return false, err
	}
	var out moderationResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return false, fmt.Errorf("decode moderation response: %w", err)
	}
	return out.Flagged, nil
}

// AllowAll never flags anything.
type AllowAll struct{}

func (AllowAll) Flagged(context.Context, string) (bool, error) { return false, nil }

func postJSON(ctx context.Context, client *http.Client, url, token string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Service-Token", token)
	}

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, string(body))
	}
	return body, nil
}
