// Package client talks to the brain HTTP API the way the admin chat does:
// confirm and cancel are single-flight, stale chat replies are discarded and
// messages typed during a cancel wait for it to settle.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpggio/shopbrain/internal/domain/catalog"
	"github.com/rpggio/shopbrain/internal/domain/confirmation"
	"github.com/rpggio/shopbrain/internal/domain/orchestrator"
	"github.com/rpggio/shopbrain/internal/domain/session"
	"github.com/rpggio/shopbrain/internal/planner"
)

const (
	defaultTimeout    = 60 * time.Second
	defaultMaxHistory = 20
)

var (
	// ErrBusy means another confirm or cancel is in flight.
	ErrBusy = errors.New("another action is in progress")
	// ErrDuplicate means the same message or replay was just sent.
	ErrDuplicate = errors.New("duplicate message")
	// ErrQueued means the message waits for an in-flight cancel.
	ErrQueued = errors.New("message queued until cancel settles")
)

// APIError is the error envelope returned by the server.
type APIError struct {
	Status     int            `json:"-"`
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	TraceID    string         `json:"trace_id"`
	StoreState *session.State `json:"store_state,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// ChatResponse is the reply to a chat turn. Stale is set when a newer turn
// was sent before this one came back; its state was not applied.
type ChatResponse struct {
	OK         bool              `json:"ok"`
	Reply      string            `json:"reply"`
	StoreState session.State     `json:"store_state"`
	Meta       orchestrator.Meta `json:"meta"`
	Stale      bool              `json:"-"`
}

type ConfirmResponse struct {
	confirmation.Result
	TraceID    string        `json:"trace_id"`
	StoreState session.State `json:"store_state"`
}

type ReplyResponse struct {
	OK         bool          `json:"ok"`
	Reply      string        `json:"reply"`
	StoreState session.State `json:"store_state"`
	Meta       struct {
		TraceID            string `json:"trace_id"`
		ShouldClearPending bool   `json:"should_clear_pending"`
	} `json:"meta"`
}

// CancelResult is the cancel reply plus the reply to a message that was
// queued while the cancel was in flight.
type CancelResult struct {
	Cancel  *ReplyResponse
	Flushed *ChatResponse
}

// Option configures the client.
type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTab binds the client to a conversation tab.
func WithTab(tabID, tabInstance string) Option {
	return func(c *Client) {
		c.tabID = tabID
		c.tabInstance = tabInstance
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDedupeWindow overrides the identical-message window.
func WithDedupeWindow(d time.Duration) Option {
	return func(c *Client) { c.dedupe.Window = d }
}

// Client is one chat surface. All guards are per instance.
type Client struct {
	baseURL     string
	token       string
	tabID       string
	tabInstance string
	httpClient  *http.Client
	logger      *slog.Logger

	lock    ActionLock
	seq     Sequencer
	cancels CancelQueue
	replays ReplayLock
	dedupe  SendDedupe

	mu      sync.Mutex
	state   session.State
	history []planner.Turn
}

// New creates a client for the server at baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
		state:      *session.NewState(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the last applied conversation state.
func (c *Client) State() session.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Chat sends one user message.
func (c *Client) Chat(ctx context.Context, message string) (*ChatResponse, error) {
	return c.chat(ctx, message, true)
}

func (c *Client) chat(ctx context.Context, message string, dedupe bool) (*ChatResponse, error) {
	if c.cancels.Offer(message) {
		return nil, ErrQueued
	}
	if dedupe {
		done, ok := c.dedupe.Begin(message)
		if !ok {
			return nil, ErrDuplicate
		}
		defer done()
	}

	seq := c.seq.Next()
	c.mu.Lock()
	history := append([]planner.Turn(nil), c.history...)
	c.mu.Unlock()

	var resp ChatResponse
	err := c.post(ctx, "/brain/chat", map[string]any{
		"tab_id":       c.tabID,
		"tab_instance": c.tabInstance,
		"message":      message,
		"history":      history,
	}, &resp)
	if !c.seq.IsLatest(seq) {
		c.logger.Debug("discarding stale chat reply", "seq", seq)
		if err != nil {
			return nil, err
		}
		resp.Stale = true
		return &resp, nil
	}
	if err != nil {
		c.applyErrorState(err)
		return nil, err
	}

	c.mu.Lock()
	c.state = resp.StoreState
	c.history = append(c.history,
		planner.Turn{Role: "user", Content: message},
		planner.Turn{Role: "assistant", Content: resp.Reply},
	)
	if len(c.history) > defaultMaxHistory {
		c.history = c.history[len(c.history)-defaultMaxHistory:]
	}
	c.mu.Unlock()
	return &resp, nil
}

// Confirm executes the pending action currently shown.
func (c *Client) Confirm(ctx context.Context) (*ConfirmResponse, error) {
	pendingID := ""
	if pa := c.State().PendingAction; pa != nil {
		pendingID = pa.ID
	}
	release, ok := c.lock.TryAcquire("confirm:" + pendingID)
	if !ok {
		return nil, ErrBusy
	}
	defer release()

	var resp ConfirmResponse
	if err := c.post(ctx, "/brain/confirm", map[string]any{
		"tab_id":            c.tabID,
		"tab_instance":      c.tabInstance,
		"pending_action_id": pendingID,
	}, &resp); err != nil {
		c.applyErrorState(err)
		return nil, err
	}
	c.setState(resp.StoreState)
	return &resp, nil
}

// Cancel discards pending items. A message queued while the cancel was in
// flight is sent once it settles, even when the cancel failed.
func (c *Client) Cancel(ctx context.Context) (*CancelResult, error) {
	release, ok := c.lock.TryAcquire("cancel")
	if !ok {
		return nil, ErrBusy
	}
	c.cancels.Begin()

	reply, err := func() (*ReplyResponse, error) {
		defer release()
		var resp ReplyResponse
		if err := c.post(ctx, "/brain/pending/clear", map[string]any{
			"tab_id":       c.tabID,
			"tab_instance": c.tabInstance,
		}, &resp); err != nil {
			c.applyErrorState(err)
			return nil, err
		}
		c.setState(resp.StoreState)
		return &resp, nil
	}()

	res := &CancelResult{Cancel: reply}
	if queued, ok := c.cancels.Settle(); ok {
		flushed, ferr := c.Chat(ctx, queued)
		res.Flushed = flushed
		if err == nil {
			err = ferr
		}
	}
	return res, err
}

// ApplyVariations answers an open variation selector.
func (c *Client) ApplyVariations(ctx context.Context, ids []int64, applyAll bool) (*ReplyResponse, error) {
	var resp ReplyResponse
	if err := c.post(ctx, "/brain/variations/apply", map[string]any{
		"tab_id":       c.tabID,
		"tab_instance": c.tabInstance,
		"selected_ids": ids,
		"apply_all":    applyAll,
	}, &resp); err != nil {
		c.applyErrorState(err)
		return nil, err
	}
	c.setState(resp.StoreState)
	return &resp, nil
}

// ChoosePending resolves a pending choice. Keeping the current action sends
// nothing. Replacing it cancels the pending action and replays the deferred
// message, at most once per pending action and message.
func (c *Client) ChoosePending(ctx context.Context, choice orchestrator.PendingChoice, replace bool) (*ChatResponse, error) {
	if !replace || strings.TrimSpace(choice.DeferredMessage) == "" {
		return nil, nil
	}
	key := choice.DeferredMessage
	if pa := c.State().PendingAction; pa != nil {
		key = pa.ID + "\x00" + key
	}
	finish, ok := c.replays.Begin(key)
	if !ok {
		return nil, ErrDuplicate
	}

	if _, err := c.Cancel(ctx); err != nil {
		finish(false)
		return nil, fmt.Errorf("cancel before replay: %w", err)
	}
	finish(true)
	// The message was sent moments ago and got the choice back, so the
	// replay bypasses the send dedupe.
	return c.chat(ctx, choice.DeferredMessage, false)
}

// Refresh loads the current state of the tab from the server.
func (c *Client) Refresh(ctx context.Context) (session.State, error) {
	v := url.Values{}
	v.Set("tab_id", c.tabID)
	v.Set("tab_instance", c.tabInstance)
	var resp struct {
		StoreState session.State `json:"store_state"`
	}
	if err := c.do(ctx, http.MethodGet, "/brain/debug?"+v.Encode(), nil, &resp); err != nil {
		return session.State{}, err
	}
	c.setState(resp.StoreState)
	return resp.StoreState, nil
}

// Search lists products for a selector.
func (c *Client) Search(ctx context.Context, q string, page int) (*catalog.SearchResult, error) {
	v := url.Values{}
	v.Set("q", q)
	if page > 0 {
		v.Set("page", strconv.Itoa(page))
	}
	var resp catalog.SearchResult
	if err := c.do(ctx, http.MethodGet, "/brain/products/search?"+v.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) setState(st session.State) {
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
}

// applyErrorState resyncs with the state attached to an error response.
func (c *Client) applyErrorState(err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StoreState != nil {
		c.setState(*apiErr.StoreState)
	}
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Code == "" {
			apiErr.Code = "http_error"
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
