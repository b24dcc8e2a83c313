package gatewayws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"agentdeck/internal/agentproc"
	"agentdeck/internal/events"
	"agentdeck/internal/panellog"
)

func dialTest(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f
}

func TestServerStreamsRunUpdates(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	srv := httptest.NewServer(NewServer(bus, panellog.New(panellog.Options{})).Handler())
	t.Cleanup(srv.Close)

	conn := dialTest(t, "ws"+strings.TrimPrefix(srv.URL, "http"))

	// The subscription attaches asynchronously after Accept.
	deadline := time.After(2 * time.Second)
	for bus.SubscriberCount(events.RunUpdateChannel) == 0 {
		select {
		case <-deadline:
			t.Fatal("subscription never attached")
		case <-time.After(5 * time.Millisecond):
		}
	}

	bus.Publish(events.RunUpdateChannel, agentproc.Run{ID: "run-1", Status: agentproc.StatusRunning})

	frame := readFrame(t, conn)
	if frame.Channel != events.RunUpdateChannel {
		t.Fatalf("channel = %q", frame.Channel)
	}
	payload, ok := frame.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T", frame.Data)
	}
	if payload["id"] != "run-1" {
		t.Fatalf("run id = %v", payload["id"])
	}
}

func TestServerScopedRunChannels(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	srv := httptest.NewServer(NewServer(bus, panellog.New(panellog.Options{})).Handler())
	t.Cleanup(srv.Close)

	conn := dialTest(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"?run=run-7")

	deadline := time.After(2 * time.Second)
	for bus.SubscriberCount(events.OutputChannel("run-7")) == 0 {
		select {
		case <-deadline:
			t.Fatal("output subscription never attached")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// An unrelated run's output must not arrive.
	bus.Publish(events.OutputChannel("run-8"), `{"type":"system"}`)
	bus.Publish(events.OutputChannel("run-7"), `{"type":"system","subtype":"init"}`)

	frame := readFrame(t, conn)
	if frame.Channel != events.OutputChannel("run-7") {
		t.Fatalf("channel = %q", frame.Channel)
	}
	if line, _ := frame.Data.(string); !strings.Contains(line, "init") {
		t.Fatalf("data = %v", frame.Data)
	}
}
