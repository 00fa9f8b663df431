package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-reminders/pkg/logging"
)

var bridgeTracer = otel.Tracer("clinic.internal.whatsapp.bridge")

// BridgeConfig configures the HTTP/WebSocket client for the WhatsApp bridge sidecar.
type BridgeConfig struct {
	BaseURL        string
	Token          string
	Timeout        time.Duration
	ReconnectDelay time.Duration
	Logger         *logging.Logger
	HTTPClient     *http.Client
}

// BridgeClient talks to the sidecar process that holds the WhatsApp sockets.
type BridgeClient struct {
	baseURL        string
	token          string
	httpClient     *http.Client
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	logger         *logging.Logger
}

var _ Transport = (*BridgeClient)(nil)

// NewBridgeClient validates cfg and builds a client.
func NewBridgeClient(cfg BridgeConfig) (*BridgeClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("whatsapp: bridge base url required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("whatsapp: invalid bridge url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &BridgeClient{
		baseURL:        base,
		token:          cfg.Token,
		httpClient:     client,
		dialer:         &websocket.Dialer{HandshakeTimeout: timeout},
		reconnectDelay: delay,
		logger:         logger,
	}, nil
}

type sendTextRequest struct {
	JID  string `json:"jid"`
	Text string `json:"text"`
}

// SendText posts a text message to jid via the tenant's session.
func (c *BridgeClient) SendText(ctx context.Context, tenantID, jid, text string) error {
	ctx, span := bridgeTracer.Start(ctx, "whatsapp.bridge.send", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("clinic.org_id", tenantID))

	body, err := json.Marshal(sendTextRequest{JID: jid, Text: text})
	if err != nil {
		return fmt.Errorf("whatsapp: marshal send: %w", err)
	}
	if err := c.do(ctx, http.MethodPost, c.sessionPath(tenantID)+"/messages", body, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return err
	}
	return nil
}

// StartSession asks the bridge to begin pairing; the response usually carries a QR code.
func (c *BridgeClient) StartSession(ctx context.Context, tenantID string) (StatusUpdate, error) {
	var upd StatusUpdate
	if err := c.do(ctx, http.MethodPost, c.sessionPath(tenantID), nil, &upd); err != nil {
		return StatusUpdate{}, err
	}
	upd.TenantID = tenantID
	return upd, nil
}

// EndSession logs the tenant's device out on the bridge.
func (c *BridgeClient) EndSession(ctx context.Context, tenantID string) error {
	return c.do(ctx, http.MethodDelete, c.sessionPath(tenantID), nil, nil)
}

func (c *BridgeClient) sessionPath(tenantID string) string {
	return "/sessions/" + url.PathEscape(tenantID)
}

func (c *BridgeClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("whatsapp: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: bridge request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("whatsapp: bridge %s %s: status %d body=%q", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("whatsapp: decode bridge response: %w", err)
		}
	}
	return nil
}

// Watch streams connection events from the bridge until ctx is done,
// redialing after ReconnectDelay whenever the stream drops.
func (c *BridgeClient) Watch(ctx context.Context, fn func(StatusUpdate)) {
	for {
		err := c.watchOnce(ctx, fn)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("whatsapp: event stream closed, reconnecting", "error", err, "delay", c.reconnectDelay.String())
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *BridgeClient) watchOnce(ctx context.Context, fn func(StatusUpdate)) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := c.dialer.DialContext(ctx, eventsURL(c.baseURL), header)
	if err != nil {
		return fmt.Errorf("whatsapp: dial events: %w", err)
	}
	defer conn.Close()

	// Unblock ReadJSON on shutdown.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	c.logger.Info("whatsapp: event stream connected")
	for {
		var upd StatusUpdate
		if err := conn.ReadJSON(&upd); err != nil {
			return err
		}
		if upd.TenantID == "" {
			continue
		}
		fn(upd)
	}
}

func eventsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/events"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/events"
	default:
		return base + "/events"
	}
}
