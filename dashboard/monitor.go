// Package dashboard is the thin, real websocket push the teacher's stack finds a
// legitimate home for: lifecycle events (AGENT_DISCONNECTION, AGENT_SHUTDOWN) and
// periodic metrics snapshots, pushed to any number of connected viewers. It is not a
// UI -- the visual dashboard itself is an explicit Non-goal (spec §1) -- only the
// event-push contract spec §7 requires to exist.
//
// Adapted from tabular/server/fastview/client.go's generic websocket client: the
// same serialized-read/write wrapper, ping/pong liveness check via
// channerics.NewTicker, and errgroup-coordinated read/ping/publish pump, generalized
// from view-update payloads to dashboard Events.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	channerics "github.com/niceyeti/channerics/channels"
	"golang.org/x/sync/errgroup"

	"ddcop/broker"
	"ddcop/message"
)

const (
	// writeWait bounds how long a single websocket write may take.
	writeWait = time.Second
	// pubResolution caps how often Event batches are pushed to a client; updates
	// arriving faster than this are coalesced by simply dropping the intervening one.
	pubResolution = 100 * time.Millisecond
	pingResolution = 200 * time.Millisecond
	pongWait       = pingResolution * 4

	readDeadline  = time.Second
	writeDeadline = time.Second

	closeGracePeriod = 10 * time.Second
)

var upgrader = websocket.Upgrader{}

// ErrPongDeadlineExceeded is returned by a client's Sync loop when the peer stops
// answering pings -- the monitor's signal to tear down that connection.
var ErrPongDeadlineExceeded = errors.New("monitor client disconnect, pong deadline exceeded")

// Event is one push to a connected monitor client: an agent lifecycle transition or
// a metrics snapshot (spec §7's dashboard-event contract, §4.8's per-message-type
// metrics).
type Event struct {
	Type      message.Tag      `json:"type"`
	AgentID   string           `json:"agent_id,omitempty"`
	Timestamp float64          `json:"timestamp"`
	Counts    map[string]int64 `json:"counts,omitempty"`
}

// Monitor fans lifecycle and metrics traffic published on one domain out to any
// number of websocket viewers via ServeWS.
type Monitor struct {
	brk    broker.Broker
	domain string
}

// NewMonitor builds a Monitor over brk's monitoring and metrics topics for domain.
func NewMonitor(brk broker.Broker, domain string) *Monitor {
	return &Monitor{brk: brk, domain: domain}
}

// events subscribes to this domain's monitoring and metrics topics and merges them
// into one Event channel, matching server.go's root_view "watch for state updates"
// role but sourced from the broker instead of an in-process channel.
func (m *Monitor) events(ctx context.Context) (<-chan Event, func()) {
	mon, unsubMon := m.brk.Subscribe(ctx, message.MonitoringTopic(m.domain))
	met, unsubMet := m.brk.Subscribe(ctx, message.MetricsTopic(m.domain))

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-mon:
				if !ok {
					mon = nil
				} else {
					out <- toEvent(msg)
				}
			case msg, ok := <-met:
				if !ok {
					met = nil
				} else {
					out <- toEvent(msg)
				}
			}
			if mon == nil && met == nil {
				return
			}
		}
	}()
	return out, func() { unsubMon(); unsubMet() }
}

func toEvent(msg message.Message) Event {
	ev := Event{Type: msg.Type, Timestamp: msg.Timestamp, AgentID: msg.SenderID()}
	if counts, ok := msg.Payload["counts"].(map[string]int64); ok {
		ev.Counts = counts
	}
	return ev
}

// ServeWS upgrades r to a websocket and streams this Monitor's Events to it until
// the client disconnects or ctx is done, mirroring server.go's serveWebsocket entry
// point.
func (m *Monitor) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	updates, unsubscribe := m.events(r.Context())
	defer unsubscribe()

	cli := &client{updates: updates, ws: newWebsock(ws), rootCtx: r.Context()}
	defer cli.ws.close()
	if err := cli.sync(); err != nil {
		fmt.Println("monitor client disconnected:", err)
	}
}

// client publishes Events to one connected viewer over a websocket, the
// generalized, non-generic counterpart of fastview's client[T] (this monitor only
// ever streams one payload type, so the type parameter the teacher carried is
// dropped).
type client struct {
	updates <-chan Event
	ws      *websock
	rootCtx context.Context
}

// sync runs the read/ping/publish pump concurrently via errgroup, exactly as
// fastview.client[T].Sync does: readMessages keeps the pong handler serviced,
// pingPong enforces the liveness deadline, publish pushes Events at pubResolution.
func (c *client) sync() error {
	group, groupCtx := errgroup.WithContext(c.rootCtx)

	group.Go(func() error { return c.readMessages(groupCtx) })
	group.Go(func() error { return c.pingPong(groupCtx) })
	group.Go(func() error { return c.publish(groupCtx) })

	return group.Wait()
}

func (c *client) pingPong(ctx context.Context) error {
	pong := make(chan struct{})
	defer close(pong)
	c.ws.conn().SetPongHandler(func(_ string) error {
		pong <- struct{}{}
		return nil
	})

	pinger := channerics.NewTicker(ctx.Done(), pingResolution)
	lastPong := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pinger:
			if time.Since(lastPong) > pongWait {
				return ErrPongDeadlineExceeded
			}
			if err := c.ping(ctx); err != nil {
				return err
			}
		case <-pong:
			lastPong = time.Now()
		}
	}
}

func (c *client) ping(ctx context.Context) error {
	return c.ws.write(ctx, func(ws *websocket.Conn) error {
		return ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
	})
}

// readMessages keeps the pong handler serviced; this monitor does not accept
// messages from viewers, so any payload received is simply discarded.
func (c *client) readMessages(ctx context.Context) error {
	for {
		err := c.ws.read(ctx, func(ws *websocket.Conn) error {
			_, _, readErr := ws.ReadMessage()
			return readErr
		})
		if err != nil {
			return err
		}
	}
}

func (c *client) publish(ctx context.Context) error {
	var lastSync time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-c.updates:
			if !ok {
				return nil
			}
			if time.Since(lastSync) < pubResolution {
				continue
			}
			lastSync = time.Now()
			err := c.ws.write(ctx, func(ws *websocket.Conn) error {
				if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
					return fmt.Errorf("set write deadline: %w", err)
				}
				return ws.WriteJSON(ev)
			})
			if err != nil {
				return err
			}
		}
	}
}

// ErrSockCongestion indicates too many concurrent waiters on one websocket's read or
// write side.
var ErrSockCongestion = errors.New("websocket op failed due to congestion")

// websock serializes reads and writes to one websocket.Conn, which requires no more
// than one concurrent reader and one concurrent writer.
type websock struct {
	readSem  chan struct{}
	writeSem chan struct{}
	ws       *websocket.Conn
}

func newWebsock(ws *websocket.Conn) *websock {
	return &websock{readSem: make(chan struct{}, 1), writeSem: make(chan struct{}, 1), ws: ws}
}

func (s *websock) conn() *websocket.Conn { return s.ws }

func (s *websock) close() {
	s.readSem <- struct{}{}
	s.writeSem <- struct{}{}
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	time.Sleep(closeGracePeriod)
	s.ws.Close()
}

func (s *websock) read(ctx context.Context, readFn func(*websocket.Conn) error) error {
	select {
	case <-ctx.Done():
		return nil
	case s.readSem <- struct{}{}:
		defer func() { <-s.readSem }()
		return readFn(s.ws)
	case <-time.After(readDeadline):
		return ErrSockCongestion
	}
}

func (s *websock) write(ctx context.Context, writeFn func(*websocket.Conn) error) error {
	select {
	case <-ctx.Done():
		return nil
	case s.writeSem <- struct{}{}:
		defer func() { <-s.writeSem }()
		return writeFn(s.ws)
	case <-time.After(writeDeadline):
		return ErrSockCongestion
	}
}
