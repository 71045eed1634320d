// Package delivery talks to the status-broadcast gateway: one HTTP
// call posts one piece of content as the status of one gateway
// instance (a delivery target). The scheduler treats this as an
// opaque, individually-failing capability.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"statusloop/internal/dispatch"
	"statusloop/internal/schedule"

	logx "statusloop/pkg/logx"
)

const maxErrorBody = 2048

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration // per-request ceiling; default 15s
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("delivery.base_url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("delivery.base_url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg: cfg,
		// Dispatch bounds each attempt via ctx; the client timeout is a
		// ceiling for callers that pass a background ctx.
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}, nil
}

// statusPayload is the gateway wire format. An empty statusJidList
// means "broadcast to all contacts".
type statusPayload struct {
	StatusJidList []string `json:"statusJidList"`
	Type          string   `json:"type"`
	Content       string   `json:"content"`
	Media         string   `json:"media,omitempty"`
}

// Deliver posts c as the status of the named gateway instance.
// A non-2xx answer is returned as *dispatch.RemoteRejection so the
// fan-out engine can distinguish refusals from transport errors.
func (c *Client) Deliver(ctx context.Context, target string, content dispatch.Content) error {
	p := statusPayload{
		StatusJidList: []string{},
		Type:          string(content.Type),
		Content:       content.Text,
	}
	if content.Type != schedule.ContentText {
		p.Media = content.MediaURL
	}

	body, err := json.Marshal(p)
	if err != nil {
		return err
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/message/sendStatus/" + url.PathEscape(target)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &dispatch.RemoteRejection{HTTPStatus: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}

// Instance is one gateway account as reported by the gateway itself.
type Instance struct {
	Name             string `json:"name"`
	ConnectionStatus string `json:"connectionStatus"`
}

// FetchInstances lists the gateway's registered instances; used only by
// the debug endpoint.
func (c *Client) FetchInstances(ctx context.Context) ([]Instance, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/instance/fetchInstances"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &dispatch.RemoteRejection{HTTPStatus: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var out []Instance
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// KeyConfigured reports whether a real API key is present (the debug
// endpoint surfaces this without leaking the key).
func (c *Client) KeyConfigured() bool {
	k := strings.TrimSpace(c.cfg.APIKey)
	return k != "" && k != "CHANGE_ME"
}
