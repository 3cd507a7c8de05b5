// Package client keeps a local mirror of a shopping list and applies
// mutations optimistically: the cache changes first, the server is told
// second, and a failed call invalidates the mirror and refetches the
// authoritative state.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	VisibilityShared  = "shared"
	VisibilityPrivate = "private"
)

type State int

const (
	StateIdle State = iota
	StateMutating
	StateReconciled
	StateInvalidated
)

func (s State) String() string {
	switch s {
	case StateMutating:
		return "mutating"
	case StateReconciled:
		return "reconciled"
	case StateInvalidated:
		return "invalidated"
	default:
		return "idle"
	}
}

type Item struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Visibility string    `json:"visibility"`
	Completed  bool      `json:"completed"`
	Order      int       `json:"order"`
	GroupID    string    `json:"groupId"`
	CreatedBy  string    `json:"createdBy"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Patch is a partial item update; nil fields are left untouched.
type Patch struct {
	Text       *string `json:"text,omitempty"`
	Completed  *bool   `json:"completed,omitempty"`
	Visibility *string `json:"visibility,omitempty"`
	Order      *int    `json:"order,omitempty"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client

	mu    sync.Mutex
	items []Item
	state State
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Items returns a copy of the cached list in display order.
func (c *Client) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Refresh replaces the cache wholesale with the server's list.
func (c *Client) Refresh(ctx context.Context) error {
	var items []Item
	if err := c.do(ctx, http.MethodGet, "/api/items", nil, &items); err != nil {
		c.mu.Lock()
		c.state = StateInvalidated
		c.mu.Unlock()
		return err
	}
	c.mu.Lock()
	c.items = items
	c.sortLocked()
	c.state = StateReconciled
	c.mu.Unlock()
	return nil
}

// Add appends the item to the cache under a temporary id, then swaps in the
// server's copy once the create lands.
func (c *Client) Add(ctx context.Context, text, visibility string) (Item, error) {
	if visibility == "" {
		visibility = VisibilityShared
	}
	tempID := "tmp_" + uuid.New().String()

	c.mu.Lock()
	temp := Item{
		ID:         tempID,
		Text:       text,
		Visibility: visibility,
		Order:      c.nextOrderLocked(visibility),
		CreatedAt:  time.Now(),
	}
	c.items = append(c.items, temp)
	c.state = StateMutating
	c.mu.Unlock()

	var created Item
	err := c.do(ctx, http.MethodPost, "/api/items", map[string]string{
		"text":       text,
		"visibility": visibility,
	}, &created)
	if err != nil {
		return Item{}, c.invalidate(ctx, err)
	}

	c.mu.Lock()
	for i := range c.items {
		if c.items[i].ID == tempID {
			created.Order = c.items[i].Order
			c.items[i] = created
			break
		}
	}
	c.state = StateReconciled
	c.mu.Unlock()
	return created, nil
}

// Update applies the patch to the cached item immediately, then reconciles
// against the server's copy.
func (c *Client) Update(ctx context.Context, id string, patch Patch) (Item, error) {
	c.mu.Lock()
	for i := range c.items {
		if c.items[i].ID != id {
			continue
		}
		if patch.Text != nil {
			c.items[i].Text = *patch.Text
		}
		if patch.Completed != nil {
			c.items[i].Completed = *patch.Completed
		}
		if patch.Visibility != nil {
			c.items[i].Visibility = *patch.Visibility
		}
		if patch.Order != nil {
			c.items[i].Order = *patch.Order
		}
		break
	}
	c.sortLocked()
	c.state = StateMutating
	c.mu.Unlock()

	var updated Item
	if err := c.do(ctx, http.MethodPatch, "/api/items/"+id, patch, &updated); err != nil {
		return Item{}, c.invalidate(ctx, err)
	}

	c.mu.Lock()
	for i := range c.items {
		if c.items[i].ID == id {
			c.items[i] = updated
			break
		}
	}
	c.sortLocked()
	c.state = StateReconciled
	c.mu.Unlock()
	return updated, nil
}

// Delete removes the item from the cache immediately.
func (c *Client) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	kept := c.items[:0]
	for _, item := range c.items {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	c.items = kept
	c.state = StateMutating
	c.mu.Unlock()

	if err := c.do(ctx, http.MethodDelete, "/api/items/"+id, nil, nil); err != nil {
		return c.invalidate(ctx, err)
	}

	c.mu.Lock()
	c.state = StateReconciled
	c.mu.Unlock()
	return nil
}

// Reorder rewrites one visibility partition to the given id order. Items in
// the other partition keep their positions; only the touched partition is
// sent to the server.
func (c *Client) Reorder(ctx context.Context, visibility string, orderedIDs []string) error {
	position := make(map[string]int, len(orderedIDs))
	for i, id := range orderedIDs {
		position[id] = i
	}

	type orderUpdate struct {
		ID    string `json:"id"`
		Order int    `json:"order"`
	}
	var updates []orderUpdate

	c.mu.Lock()
	for i := range c.items {
		if c.items[i].Visibility != visibility {
			continue
		}
		pos, ok := position[c.items[i].ID]
		if !ok {
			continue
		}
		c.items[i].Order = pos
		updates = append(updates, orderUpdate{ID: c.items[i].ID, Order: pos})
	}
	c.sortLocked()
	c.state = StateMutating
	c.mu.Unlock()

	if len(updates) == 0 {
		c.mu.Lock()
		c.state = StateReconciled
		c.mu.Unlock()
		return nil
	}

	err := c.do(ctx, http.MethodPost, "/api/items/reorder", map[string]any{
		"updates": updates,
	}, nil)
	if err != nil {
		return c.invalidate(ctx, err)
	}

	c.mu.Lock()
	c.state = StateReconciled
	c.mu.Unlock()
	return nil
}

// invalidate marks the cache stale and refetches authoritative state. The
// original mutation error is returned either way.
func (c *Client) invalidate(ctx context.Context, cause error) error {
	c.mu.Lock()
	c.state = StateInvalidated
	c.mu.Unlock()
	_ = c.Refresh(ctx)
	return cause
}

func (c *Client) nextOrderLocked(visibility string) int {
	next := 0
	for _, item := range c.items {
		if item.Visibility == visibility && item.Order >= next {
			next = item.Order + 1
		}
	}
	return next
}

// sortLocked restores display order: ascending order, newest first on ties.
func (c *Client) sortLocked() {
	sort.SliceStable(c.items, func(i, j int) bool {
		if c.items[i].Order != c.items[j].Order {
			return c.items[i].Order < c.items[j].Order
		}
		return c.items[i].CreatedAt.After(c.items[j].CreatedAt)
	})
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var payload struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return &APIError{Status: resp.StatusCode, Code: payload.Code, Message: payload.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
