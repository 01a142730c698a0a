// Package webhook stores Discord webhooks and posts upload reports to them.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound  = errors.New("webhook not found")
	ErrDuplicate = errors.New("webhook already saved")
)

// MaxContentLength is Discord's message content limit.
const MaxContentLength = 2000

const (
	defaultUsername  = "WvW Insights Parser"
	defaultAvatarURL = "https://parser.rethl.net/Assets/Avatar.png"
)

// Saved is a named webhook.
type Saved struct {
	Name     string    `json:"name" yaml:"name"`
	URL      string    `json:"url" yaml:"url"`
	Created  time.Time `json:"created" yaml:"created"`
	LastUsed time.Time `json:"last_used" yaml:"last_used"`
}

// Book is the list of saved webhooks.
type Book struct {
	mu    sync.RWMutex
	hooks []Saved
	now   func() time.Time
}

// NewBook creates a book from saved webhooks.
func NewBook(saved []Saved) *Book {
	hooks := make([]Saved, len(saved))
	copy(hooks, saved)
	return &Book{hooks: hooks, now: time.Now}
}

// Add saves a webhook. Name and URL must both be unused.
func (b *Book) Add(name, url string) error {
	name = strings.TrimSpace(name)
	url = strings.TrimSpace(url)
	if name == "" || url == "" {
		return fmt.Errorf("webhook name and url are required")
	}
	if !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") {
		return fmt.Errorf("webhook url must be http(s): %s", url)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, h := range b.hooks {
		if h.URL == url {
			return fmt.Errorf("%w: url saved as %q", ErrDuplicate, h.Name)
		}
		if h.Name == name {
			return fmt.Errorf("%w: name %q", ErrDuplicate, name)
		}
	}

	now := b.now()
	b.hooks = append(b.hooks, Saved{Name: name, URL: url, Created: now, LastUsed: now})
	return nil
}

// Remove deletes a webhook by name.
func (b *Book) Remove(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, h := range b.hooks {
		if h.Name == name {
			b.hooks = append(b.hooks[:i], b.hooks[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Get returns a webhook by name.
func (b *Book) Get(name string) (Saved, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, h := range b.hooks {
		if h.Name == name {
			return h, nil
		}
	}
	return Saved{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Touch marks the webhook with this url as just used.
func (b *Book) Touch(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.hooks {
		if b.hooks[i].URL == url {
			b.hooks[i].LastUsed = b.now()
			return
		}
	}
}

// All returns the webhooks in insertion order, for persisting.
func (b *Book) All() []Saved {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Saved, len(b.hooks))
	copy(out, b.hooks)
	return out
}

// Sorted returns the webhooks, most recently used first.
func (b *Book) Sorted() []Saved {
	out := b.All()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastUsed.After(out[j].LastUsed)
	})
	return out
}

// Notifier posts messages to Discord webhooks.
type Notifier struct {
	httpClient *http.Client
	Username   string
	AvatarURL  string
}

// NewNotifier creates a notifier. A nil client gets a 30s timeout client.
func NewNotifier(hc *http.Client) *Notifier {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Notifier{httpClient: hc, Username: defaultUsername, AvatarURL: defaultAvatarURL}
}

type payload struct {
	Content   string `json:"content"`
	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Send posts one message. Discord answers 204 on success.
func (n *Notifier) Send(ctx context.Context, url, content string) error {
	body, err := json.Marshal(payload{Content: content, Username: n.Username, AvatarURL: n.AvatarURL})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("discord returned status: %d", resp.StatusCode)
	}
	return nil
}

// SendAll posts lines, packing as many as fit into each message.
func (n *Notifier) SendAll(ctx context.Context, url, header string, lines []string) error {
	for _, msg := range Pack(header, lines, MaxContentLength) {
		if err := n.Send(ctx, url, msg); err != nil {
			return err
		}
	}
	return nil
}

// Pack joins lines into messages no longer than limit. The header starts the
// first message. A single over-long line is truncated.
func Pack(header string, lines []string, limit int) []string {
	var msgs []string
	var cur strings.Builder
	if header != "" {
		cur.WriteString(header)
	}

	for _, line := range lines {
		if len(line) > limit {
			line = line[:limit]
		}
		need := len(line)
		if cur.Len() > 0 {
			need++
		}
		if cur.Len()+need > limit {
			msgs = append(msgs, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		msgs = append(msgs, cur.String())
	}
	return msgs
}
