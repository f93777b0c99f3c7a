// Package gamesense is a client for the SteelSeries GameSense HTTP API, the
// local service through which applications draw on SteelSeries OLED screens.
//
// The SteelSeries Engine listens on a random localhost port and publishes the
// address in a coreProps.json file. [DiscoverAddress] resolves it, [New]
// builds a [Client], [Client.BindEvent] registers the text event once and
// [Client.SetDisplayText] replaces the screen content.
//
//	addr, err := gamesense.DiscoverAddress(gamesense.DefaultCorePropsPath())
//	if err != nil {
//	    return err
//	}
//	c := gamesense.New(addr, gamesense.WithGame("TEAMSPEAK"))
//	err = c.SetDisplayText(ctx, "Alice | Bob")
//
// Only net/http and encoding/json are used.
package gamesense

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Defaults for a [Client].
const (
	DefaultGame    = "TEAMSPEAK"
	DefaultEvent   = "SPEAKING"
	DefaultTimeout = 2 * time.Second
)

// frameKey is the frame field the bound screen handler renders as text.
const frameKey = "custom-text"

// ErrNoAddress is returned by [DiscoverAddress] when coreProps.json carries
// no address, which happens while the engine is still starting.
var ErrNoAddress = errors.New("gamesense: no engine address in core props")

// StatusError reports a non-2xx answer from the engine.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gamesense: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("gamesense: unexpected status %d: %s", e.Code, e.Body)
}

// DefaultCorePropsPath returns where the SteelSeries Engine writes
// coreProps.json on this platform, or "" where the engine does not run.
func DefaultCorePropsPath() string {
	switch runtime.GOOS {
	case "windows":
		root := os.Getenv("PROGRAMDATA")
		if root == "" {
			root = `C:\ProgramData`
		}
		return filepath.Join(root, "SteelSeries", "SteelSeries Engine 3", "coreProps.json")
	case "darwin":
		return "/Library/Application Support/SteelSeries Engine 3/coreProps.json"
	default:
		return ""
	}
}

// coreProps is the subset of coreProps.json the client needs.
type coreProps struct {
	Address string `json:"address"`
}

// DiscoverAddress reads the engine address ("127.0.0.1:PORT") from the
// coreProps.json at path.
func DiscoverAddress(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("gamesense: discover: core props path not set for %s", runtime.GOOS)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("gamesense: discover: %w", err)
	}
	var props coreProps
	if err := json.Unmarshal(data, &props); err != nil {
		return "", fmt.Errorf("gamesense: discover: parse %s: %w", path, err)
	}
	addr := strings.TrimSpace(props.Address)
	if addr == "" {
		return "", ErrNoAddress
	}
	return addr, nil
}

// Client talks to one SteelSeries Engine. It is safe for concurrent use.
type Client struct {
	baseURL    string
	game       string
	event      string
	httpClient *http.Client
}

type config struct {
	game       string
	event      string
	timeout    time.Duration
	httpClient *http.Client
}

// Option configures a [Client].
type Option func(*config)

// WithGame sets the GameSense game name. Default: [DefaultGame].
func WithGame(game string) Option {
	return func(c *config) { c.game = game }
}

// WithEvent sets the event name carrying the text. Default: [DefaultEvent].
func WithEvent(event string) Option {
	return func(c *config) { c.event = event }
}

// WithTimeout bounds every request. Default: [DefaultTimeout]. Ignored when
// [WithHTTPClient] is given.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithHTTPClient replaces the HTTP client, e.g. to inject a test transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// New creates a [Client]. address is either a bare "host:port" as found in
// coreProps.json or a full base URL.
func New(address string, opts ...Option) *Client {
	cfg := config{
		game:    DefaultGame,
		event:   DefaultEvent,
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(&cfg)
	}

	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}

	base := strings.TrimRight(address, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	return &Client{
		baseURL:    base,
		game:       cfg.game,
		event:      cfg.event,
		httpClient: hc,
	}
}

// BaseURL returns the engine URL the client posts to.
func (c *Client) BaseURL() string { return c.baseURL }

type eventFrame struct {
	CustomText string `json:"custom-text"`
}

type eventData struct {
	Value int        `json:"value"`
	Frame eventFrame `json:"frame"`
}

type gameEvent struct {
	Game  string    `json:"game"`
	Event string    `json:"event"`
	Data  eventData `json:"data"`
}

// SetDisplayText replaces the screen content with text. An empty text
// clears the screen.
func (c *Client) SetDisplayText(ctx context.Context, text string) error {
	err := c.post(ctx, "/game_event", gameEvent{
		Game:  c.game,
		Event: c.event,
		Data: eventData{
			Value: 1,
			Frame: eventFrame{CustomText: text},
		},
	})
	if err != nil {
		return fmt.Errorf("gamesense: set display text: %w", err)
	}
	return nil
}

type screenData struct {
	HasText         bool   `json:"has-text"`
	ContextFrameKey string `json:"context-frame-key"`
}

type screenHandler struct {
	DeviceType string       `json:"device-type"`
	Mode       string       `json:"mode"`
	Zone       string       `json:"zone"`
	Datas      []screenData `json:"datas"`
}

type bindEvent struct {
	Game          string          `json:"game"`
	Event         string          `json:"event"`
	MinValue      int             `json:"min_value"`
	MaxValue      int             `json:"max_value"`
	IconID        int             `json:"icon_id"`
	ValueOptional bool            `json:"value_optional"`
	Handlers      []screenHandler `json:"handlers"`
}

// BindEvent registers the text event with a screen handler that renders the
// frame's custom-text field. The engine keeps the binding across restarts, so
// this is needed once per machine.
func (c *Client) BindEvent(ctx context.Context) error {
	err := c.post(ctx, "/bind_game_event", bindEvent{
		Game:          c.game,
		Event:         c.event,
		MinValue:      0,
		MaxValue:      100,
		IconID:        13,
		ValueOptional: true,
		Handlers: []screenHandler{{
			DeviceType: "screened",
			Mode:       "screen",
			Zone:       "one",
			Datas: []screenData{{
				HasText:         true,
				ContextFrameKey: frameKey,
			}},
		}},
	})
	if err != nil {
		return fmt.Errorf("gamesense: bind event: %w", err)
	}
	return nil
}

// post sends payload as JSON and drains the response.
func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
