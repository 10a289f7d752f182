package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yavinfive/eddie/internal/httpkit"
)

// reconnect backoff bounds for the receive websocket.
const (
	backoffMin = time.Second
	backoffMax = 30 * time.Second
)

// Client talks to one signal-cli-rest-api instance for one account
// number. Call Start to begin streaming inbound messages.
type Client struct {
	baseURL    string
	number     string
	httpClient *http.Client
	logger     *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	messages chan *Envelope
	done     chan struct{}
}

// NewClient creates a client for the API at baseURL (e.g.
// "http://localhost:8080") using the given registered number.
func NewClient(baseURL, number string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		number:     number,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(30 * time.Second)),
		logger:     logger.With("component", "signal"),
		messages:   make(chan *Envelope, 64),
		done:       make(chan struct{}),
	}
}

// Messages returns the channel of inbound data-message envelopes. It
// is closed when the receive loop stops.
func (c *Client) Messages() <-chan *Envelope {
	return c.messages
}

// Start runs the receive loop until ctx is cancelled, reconnecting
// with backoff when the websocket drops.
func (c *Client) Start(ctx context.Context) {
	defer close(c.done)
	defer close(c.messages)

	wsURL, err := c.receiveURL()
	if err != nil {
		c.logger.Error("bad signal api url", "url", c.baseURL, "error", err)
		return
	}

	backoff := backoffMin
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			c.logger.Warn("signal receive connect failed",
				"url", wsURL, "backoff", backoff, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, backoffMax)
			continue
		}

		c.logger.Info("signal receive stream connected", "number", c.number)
		backoff = backoffMin
		c.setConn(conn)
		c.readLoop(ctx, conn)
		c.setConn(nil)
		conn.Close()
	}
}

// Close tears down the current websocket, if any, unblocking the
// receive loop.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// readLoop decodes frames from one websocket connection until it
// fails or ctx is cancelled. Non-text envelopes are dropped here so
// the bridge only sees actionable messages.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("signal receive stream dropped", "error", err)
			}
			return
		}

		var frame receiveFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Debug("signal malformed frame", "error", err)
			continue
		}
		if frame.Envelope.DataMessage == nil {
			continue
		}

		select {
		case c.messages <- &frame.Envelope:
		default:
			c.logger.Warn("signal message channel full, dropping message",
				"sender", frame.Envelope.Source)
		}
	}
}

// Send delivers a text message to a recipient (a number or a group
// id) and returns the server timestamp.
func (c *Client) Send(ctx context.Context, recipient, message string) (int64, error) {
	body, err := json.Marshal(sendRequest{
		Message:    message,
		Number:     c.number,
		Recipients: []string{recipient},
	})
	if err != nil {
		return 0, fmt.Errorf("marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v2/send", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("signal send: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("signal send: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		// some server versions return an empty body on success
		return 0, nil
	}
	return result.Timestamp, nil
}

// SendReceipt marks a message as read. Best-effort from the bridge.
func (c *Client) SendReceipt(ctx context.Context, recipient string, timestamp int64) error {
	body, err := json.Marshal(receiptRequest{
		ReceiptType: "read",
		Recipient:   recipient,
		Timestamp:   timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal receipt request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/receipts/"+url.PathEscape(c.number), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build receipt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("signal receipt: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("signal receipt: status %d", resp.StatusCode)
	}
	return nil
}

// SetTyping shows or hides the typing indicator for a recipient.
func (c *Client) SetTyping(ctx context.Context, recipient string, typing bool) error {
	method := http.MethodPut
	if !typing {
		method = http.MethodDelete
	}
	body, err := json.Marshal(map[string]string{"recipient": recipient})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method,
		c.baseURL+"/v1/typing-indicator/"+url.PathEscape(c.number), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build typing request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("signal typing: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("signal typing: status %d", resp.StatusCode)
	}
	return nil
}

// receiveURL converts the base HTTP URL into the websocket receive
// endpoint for the account number.
func (c *Client) receiveURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/receive/" + url.PathEscape(c.number)
	return u.String(), nil
}
