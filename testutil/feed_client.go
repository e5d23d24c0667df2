package testutil

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// FeedClient is a websocket client for exercising the status feed.
type FeedClient struct {
	t    *testing.T
	conn *websocket.Conn
}

// DialFeed connects to the websocket endpoint served by srv. The
// connection is closed when the test ends.
func DialFeed(t *testing.T, srv *httptest.Server) *FeedClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &FeedClient{t: t, conn: conn}
}

// Next reads one JSON message into a map.
func (c *FeedClient) Next(timeout time.Duration) map[string]interface{} {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	var msg map[string]interface{}
	if err := c.conn.ReadJSON(&msg); err != nil {
		c.t.Fatalf("read feed message: %v", err)
	}
	return msg
}

// Send writes v as a JSON message.
func (c *FeedClient) Send(v interface{}) {
	c.t.Helper()
	if err := c.conn.WriteJSON(v); err != nil {
		c.t.Fatalf("write feed message: %v", err)
	}
}

// Close closes the connection.
func (c *FeedClient) Close() {
	_ = c.conn.Close()
}
