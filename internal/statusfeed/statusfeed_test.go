package statusfeed

import (
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tiroq/scenerec/testutil"
)

type status struct {
	State  string `json:"state"`
	Frames int    `json:"frames"`
}

func TestHub_PublishToClients(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	a := testutil.DialFeed(t, srv)
	b := testutil.DialFeed(t, srv)
	testutil.WaitForCondition(t, func() bool { return hub.Clients() == 2 }, time.Second, "clients registered")

	testutil.AssertNoError(t, hub.Publish(status{State: "recording", Frames: 3}), "publish")

	for _, c := range []*testutil.FeedClient{a, b} {
		msg := c.Next(time.Second)
		testutil.AssertEqual(t, "status", msg["type"], "message type")
		st := msg["status"].(map[string]interface{})
		testutil.AssertEqual(t, "recording", st["state"], "state")
		testutil.AssertEqual(t, float64(3), st["frames"], "frames")
	}
}

func TestHub_LateClientGetsLastStatus(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	testutil.AssertNoError(t, hub.Publish(status{State: "paused"}), "publish")

	c := testutil.DialFeed(t, srv)
	msg := c.Next(time.Second)
	st := msg["status"].(map[string]interface{})
	testutil.AssertEqual(t, "paused", st["state"], "state")
}

func TestHub_Commands(t *testing.T) {
	var mu sync.Mutex
	var got []string
	hub := NewHub(func(cmd string) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, cmd)
		if cmd == "dance" {
			return errors.New("unknown command")
		}
		return nil
	}, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	c := testutil.DialFeed(t, srv)
	c.Send(Request{Command: "record"})
	msg := c.Next(time.Second)
	testutil.AssertEqual(t, "command_result", msg["type"], "type")
	testutil.AssertEqual(t, "record", msg["command"], "command")
	testutil.AssertNil(t, msg["error"], "error")

	c.Send(Request{Command: "dance"})
	msg = c.Next(time.Second)
	testutil.AssertEqual(t, "unknown command", msg["error"], "error")

	mu.Lock()
	defer mu.Unlock()
	testutil.AssertEqual(t, 2, len(got), "handled commands")
}

func TestHub_CommandsRejectedWithoutHandler(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	c := testutil.DialFeed(t, srv)
	c.Send(Request{Command: "stop"})
	msg := c.Next(time.Second)
	testutil.AssertEqual(t, "commands are not accepted", msg["error"], "error")
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	c := testutil.DialFeed(t, srv)
	testutil.WaitForCondition(t, func() bool { return hub.Clients() == 1 }, time.Second, "client registered")
	c.Close()
	testutil.WaitForCondition(t, func() bool { return hub.Clients() == 0 }, time.Second, "client removed")
	testutil.AssertNoError(t, hub.Publish(status{State: "idle"}), "publish with no clients")
}

func TestHub_Listen(t *testing.T) {
	hub := NewHub(nil, nil)
	testutil.AssertNoError(t, hub.Listen("127.0.0.1:0"), "listen")
	defer hub.Close()
	testutil.AssertTrue(t, hub.Addr() != "", "listening address")
}
