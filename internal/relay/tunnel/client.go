package tunnel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"kftray-core/pkg/logging"
)

// Client maintains one persistent websocket connection and dispatches
// HttpRequest messages to a local HTTP service, returning the response
// over the same socket.
type Client struct {
	// Dial opens the underlying websocket, typically through a
	// port-forward stream to the relay pod's ws port.
	Dial func(ctx context.Context) (*websocket.Conn, error)

	LocalAddress string
	LocalPort    uint16

	// Touch, if set, is called once per dispatched request, resetting
	// the forward's idle-disconnect timer the same as an accepted
	// connection does for C4/C5.
	Touch func()

	maxAttempts int
}

func NewClient(dial func(ctx context.Context) (*websocket.Conn, error), localAddress string, localPort uint16) *Client {
	return &Client{Dial: dial, LocalAddress: localAddress, LocalPort: localPort, maxAttempts: 100}
}

// Run connects and serves until ctx is cancelled or the reconnect
// budget (100 attempts, exponential backoff capped at 30s) is
// exhausted.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := c.Dial(ctx)
		if err != nil {
			attempt++
			if attempt > c.maxAttempts {
				return fmt.Errorf("expose tunnel: exceeded %d reconnect attempts: %w", c.maxAttempts, err)
			}
			wait := backoff(attempt)
			logging.Warn("tunnel", "dial failed (attempt %d), retrying in %s: %v", attempt, wait, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		attempt = 0
		if err := c.serve(ctx, conn); err != nil {
			logging.Warn("tunnel", "connection closed: %v", err)
		}
	}
}

// backoff implements min(2^n, 30) seconds. attempt is clamped before the
// shift: 1<<n already saturates the cap by n=5, and an unclamped shift
// against a 100-attempt budget would eventually shift out every bit and
// wrap back to zero, turning the cap into a busy-spin.
func backoff(attempt int) time.Duration {
	if attempt > 5 {
		attempt = 5
	}
	seconds := 1 << attempt
	if seconds > 30 {
		seconds = 30
	}
	return time.Duration(seconds) * time.Second
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Warn("tunnel", "malformed tunnel message: %v", err)
			continue
		}

		switch msg.Type {
		case TypeHTTPRequest:
			if c.Touch != nil {
				c.Touch()
			}
			go c.handleRequest(conn, msg)
		case TypePing:
			c.send(conn, Message{Type: TypePong, ID: msg.ID})
		}
	}
}

// handleRequest dispatches an inbound request: a pre-flight TCP probe, then
// the equivalent HTTP/1.1 call to the local service.
func (c *Client) handleRequest(conn *websocket.Conn, req Message) {
	addr := fmt.Sprintf("%s:%d", c.LocalAddress, c.LocalPort)
	probe, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		c.send(conn, Message{Type: TypeError, ID: req.ID, Message: "local service unreachable: " + err.Error()})
		return
	}
	probe.Close()

	url := fmt.Sprintf("http://%s%s", addr, req.Path)
	httpReq, err := http.NewRequest(req.Method, url, bytes.NewReader(req.Body))
	if err != nil {
		c.send(conn, Message{Type: TypeError, ID: req.ID, Message: err.Error()})
		return
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		c.send(conn, Message{Type: TypeError, ID: req.ID, Message: err.Error()})
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	c.send(conn, Message{Type: TypeHTTPResponse, ID: req.ID, Status: resp.StatusCode, Headers: headers, Body: body})
}

func (c *Client) send(conn *websocket.Conn, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		logging.Warn("tunnel", "write failed: %v", err)
	}
}
