package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const barkGroupPrefix = "genflow"

// BarkNotifier pushes messages to a device through a Bark server.
// The URL is the device endpoint, e.g. https://api.day.app/<device key>.
type BarkNotifier struct {
	endpoint string
	client   *http.Client
}

// NewBarkNotifier creates a new Bark notifier.
func NewBarkNotifier(endpoint string) (*BarkNotifier, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("bark url is empty")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid bark url: %w", err)
	}
	return &BarkNotifier{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// Send posts msg as a form. Each project gets its own notification group.
func (b *BarkNotifier) Send(ctx context.Context, msg Message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, strings.NewReader(barkForm(msg).Encode()))
	if err != nil {
		return fmt.Errorf("create bark request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("send bark notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("bark api returned status: %d", resp.StatusCode)
	}
	return nil
}

func barkForm(msg Message) url.Values {
	form := url.Values{}
	form.Set("title", msg.Title)
	form.Set("body", msg.Body)

	group := barkGroupPrefix
	if msg.Project != "" {
		group += "/" + msg.Project
	}
	form.Set("group", group)

	if msg.Urgent {
		form.Set("level", "timeSensitive")
	} else {
		form.Set("level", "active")
	}
	return form
}
