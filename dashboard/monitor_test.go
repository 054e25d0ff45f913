package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	"ddcop/broker"
	"ddcop/message"
)

func TestMonitorPushesLifecycleAndMetricsEvents(t *testing.T) {
	Convey("Given a Monitor wired to a Local broker", t, func() {
		brk := broker.NewLocal()
		defer brk.Close()

		mon := NewMonitor(brk, "dashtest")
		srv := httptest.NewServer(http.HandlerFunc(mon.ServeWS))
		defer srv.Close()

		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		So(err, ShouldBeNil)
		defer conn.Close()
		// Give the handler goroutine time to subscribe before publishing -- the
		// websocket handshake completing client-side doesn't guarantee the server's
		// post-upgrade subscribe call has run yet.
		time.Sleep(50 * time.Millisecond)

		Convey("When an AGENT_SHUTDOWN lifecycle message is published", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			err := brk.Publish(ctx, message.MonitoringTopic("dashtest"),
				message.New(message.TagAgentShutdown, "a0", 1.0, nil))
			So(err, ShouldBeNil)

			var ev Event
			So(conn.SetReadDeadline(time.Now().Add(2*time.Second)), ShouldBeNil)
			So(conn.ReadJSON(&ev), ShouldBeNil)
			So(ev.Type, ShouldEqual, message.TagAgentShutdown)
			So(ev.AgentID, ShouldEqual, "a0")
		})

		Convey("When a METRICS_SNAPSHOT message is published", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			err := brk.Publish(ctx, message.MetricsTopic("dashtest"),
				message.New(message.TagMetricsSnapshot, "a1", 2.0, map[string]any{
					"counts": map[string]int64{"VALUE_SELECTED_MSG": 3},
				}))
			So(err, ShouldBeNil)

			var ev Event
			So(conn.SetReadDeadline(time.Now().Add(2*time.Second)), ShouldBeNil)
			So(conn.ReadJSON(&ev), ShouldBeNil)
			So(ev.Type, ShouldEqual, message.TagMetricsSnapshot)
		})
	})
}

// TestEventJSONRoundTrip confirms Event's JSON shape survives marshal/unmarshal,
// the wire format clients actually see (the counts field is the one place this
// payload carries richer structure than a bare lifecycle notification).
func TestEventJSONRoundTrip(t *testing.T) {
	ev := Event{Type: message.TagMetricsSnapshot, AgentID: "a2", Timestamp: 3.0, Counts: map[string]int64{"ANNOUNCE": 2}}
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Event
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Counts["ANNOUNCE"] != 2 {
		t.Fatalf("expected counts to round-trip, got %v", out.Counts)
	}
}
