package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

var errConnClosed = errors.New("devtools connection closed")

// cdpConn is a browser-level DevTools connection. Tab commands travel over it
// with a flat sessionId, so dropping a session never touches the tab itself.
type cdpConn struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan cdpResponse
	err     error
	done    chan struct{}
}

type cdpRequest struct {
	ID        int64  `json:"id"`
	SessionID string `json:"sessionId,omitempty"`
	Method    string `json:"method"`
	Params    any    `json:"params,omitempty"`
}

type cdpResponse struct {
	ID     int64           `json:"id"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *cdpError       `json:"error,omitempty"`
}

type cdpError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *cdpError) Error() string {
	return fmt.Sprintf("devtools error %d: %s", e.Code, e.Message)
}

// dialCDP connects to endpoint, which is either a browser websocket URL or the
// http address of a --remote-debugging-port.
func dialCDP(ctx context.Context, endpoint string, logger *slog.Logger) (*cdpConn, error) {
	wsURL, err := resolveWS(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	c := &cdpConn{
		conn:    conn,
		logger:  logger,
		pending: make(map[int64]chan cdpResponse),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// resolveWS asks an http debugging endpoint for its browser websocket URL.
func resolveWS(ctx context.Context, endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse devtools endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return endpoint, nil
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported devtools endpoint %q", endpoint)
	}

	versionURL := strings.TrimSuffix(endpoint, "/") + "/json/version"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, versionURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("query %s: %w", versionURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("query %s: status %d", versionURL, resp.StatusCode)
	}
	var v struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return "", fmt.Errorf("decode %s: %w", versionURL, err)
	}
	if v.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("%s returned no webSocketDebuggerUrl", versionURL)
	}
	return v.WebSocketDebuggerURL, nil
}

func (c *cdpConn) readLoop() {
	var err error
	defer func() { c.shutdown(err) }()
	for {
		var data []byte
		_, data, err = c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg cdpResponse
		if jerr := json.Unmarshal(data, &msg); jerr != nil {
			c.logger.Debug("dropping malformed devtools message", "err", jerr)
			continue
		}
		if msg.ID == 0 {
			continue // event
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

func (c *cdpConn) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	if err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		err = errConnClosed
	}
	c.err = err
	close(c.done)
}

// call sends method on session ("" for the browser) and decodes the result.
func (c *cdpConn) call(ctx context.Context, session, method string, params, result any) error {
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.nextID++
	id := c.nextID
	ch := make(chan cdpResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	data, err := json.Marshal(cdpRequest{ID: id, SessionID: session, Method: method, Params: params})
	if err != nil {
		forget()
		return fmt.Errorf("encode %s: %w", method, err)
	}
	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		forget()
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", method, resp.Error)
		}
		if result == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decode %s: %w", method, err)
		}
		return nil
	case <-c.done:
		forget()
		return fmt.Errorf("%s: %w", method, c.closedErr())
	case <-ctx.Done():
		forget()
		return ctx.Err()
	}
}

func (c *cdpConn) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close drops the websocket. The browser and its tabs keep running.
func (c *cdpConn) Close() error {
	err := c.conn.Close()
	c.shutdown(nil)
	return err
}
