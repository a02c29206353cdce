package status

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/reciperage/syncd/internal/core/event"
	"github.com/reciperage/syncd/internal/phase"
	"github.com/reciperage/syncd/internal/scene"
	"go.uber.org/zap"
)

const (
	feedBuffer       = 64
	feedWriteTimeout = 5 * time.Second
)

// FeedEvent is one presentation event as sent to feed clients.
type FeedEvent struct {
	Event     string     `json:"event"`
	Scene     string     `json:"scene,omitempty"`
	Progress  float64    `json:"progress,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Phase     string     `json:"phase,omitempty"`
	Previous  string     `json:"previous,omitempty"`
	Duration  float64    `json:"duration_seconds,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Seconds   int        `json:"seconds,omitempty"`
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Feed streams local scene and phase events to websocket clients, e.g. a
// loading screen. Slow clients lose events rather than stall publishers.
type Feed struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*feedClient]struct{}
	log      *zap.Logger
}

func NewFeed(log *zap.Logger) *Feed {
	return &Feed{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*feedClient]struct{}),
		log:     log,
	}
}

// Attach subscribes the feed to bus. Feed handlers run last so gameplay
// subscribers see events first.
func (f *Feed) Attach(bus *event.Bus) {
	const prio = 1000
	event.SubscribeLocal(bus, func(e scene.LoadStarted) {
		f.Publish(FeedEvent{Event: "LoadStarted", Scene: e.Scene})
	}, prio)
	event.SubscribeLocal(bus, func(e scene.LoadProgress) {
		f.Publish(FeedEvent{Event: "LoadProgress", Scene: e.Scene, Progress: e.Progress})
	}, prio)
	event.SubscribeLocal(bus, func(e scene.LoadCompleted) {
		f.Publish(FeedEvent{Event: "LoadComplete", Scene: e.Scene})
	}, prio)
	event.SubscribeLocal(bus, func(e scene.LoadTimedOut) {
		f.Publish(FeedEvent{Event: "LoadTimeout", Scene: e.Scene})
	}, prio)
	event.SubscribeLocal(bus, func(e scene.LoadFailed) {
		f.Publish(FeedEvent{Event: "LoadError", Scene: e.Scene, Reason: e.Reason})
	}, prio)
	event.SubscribeLocal(bus, func(e phase.Changed) {
		at := e.StartedAt
		f.Publish(FeedEvent{
			Event:     "PhaseChanged",
			Phase:     e.Current.String(),
			Previous:  e.Previous.String(),
			Duration:  e.Duration.Seconds(),
			StartedAt: &at,
		})
	}, prio)
	event.SubscribeLocal(bus, func(e phase.Countdown) {
		f.Publish(FeedEvent{Event: "Countdown", Seconds: e.Seconds})
	}, prio)
}

// Publish queues ev for every connected client.
func (f *Feed) Publish(ev FeedEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		f.log.Error("feed marshal failed", zap.Error(err))
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- data:
		default:
			f.log.Warn("feed client too slow, dropping event", zap.String("event", ev.Event))
		}
	}
}

// Clients returns the number of connected feed clients.
func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *Feed) serveHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Warn("feed upgrade failed", zap.Error(err))
		return
	}
	c := &feedClient{conn: conn, send: make(chan []byte, feedBuffer)}
	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()
	f.log.Debug("feed client connected", zap.String("remote", r.RemoteAddr))

	done := make(chan struct{})
	go f.writeLoop(c, done)
	// Reads only detect the close; clients have nothing to say.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				f.log.Debug("feed read error", zap.Error(err))
			}
			break
		}
	}
	f.remove(c)
	close(done)
}

func (f *Feed) writeLoop(c *feedClient, done <-chan struct{}) {
	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				f.remove(c)
				return
			}
		case <-done:
			return
		}
	}
}

func (f *Feed) remove(c *feedClient) {
	f.mu.Lock()
	_, ok := f.clients[c]
	delete(f.clients, c)
	f.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

// Close disconnects every client.
func (f *Feed) Close() {
	f.mu.Lock()
	clients := f.clients
	f.clients = make(map[*feedClient]struct{})
	f.mu.Unlock()
	for c := range clients {
		c.conn.Close()
	}
}
