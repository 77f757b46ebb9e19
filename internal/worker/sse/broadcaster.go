// Package sse streams process output to browser clients as Server-Sent Events.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// WriteTimeout bounds a single write to one client.
const WriteTimeout = 2 * time.Second

// Client is one connected event stream. A non-empty SessionID restricts the
// client to events published for that correlation id.
type Client struct {
	Writer    http.ResponseWriter
	Flusher   http.Flusher
	Done      chan struct{}
	ID        string
	SessionID string

	// serializes writes from overlapping broadcasts
	writeMu sync.Mutex
}

// Broadcaster fans events out to connected clients.
type Broadcaster struct {
	clients map[string]*Client
	mu      sync.RWMutex
	nextID  int
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*Client),
	}
}

// AddClient registers w as a client. sessionID may be empty to receive
// every event.
func (b *Broadcaster) AddClient(w http.ResponseWriter, sessionID string) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	b.mu.Lock()
	b.nextID++
	client := &Client{
		ID:        fmt.Sprintf("client-%d", b.nextID),
		SessionID: sessionID,
		Writer:    w,
		Flusher:   flusher,
		Done:      make(chan struct{}),
	}
	b.clients[client.ID] = client
	count := len(b.clients)
	b.mu.Unlock()

	log.Debug().
		Str("clientId", client.ID).
		Str("sessionId", sessionID).
		Int("totalClients", count).
		Msg("SSE client connected")

	return client, nil
}

// RemoveClient unregisters client and closes its Done channel. Safe to call
// more than once.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.removeClientByID(client.ID)
}

func (b *Broadcaster) removeClientByID(id string) {
	b.mu.Lock()
	client, exists := b.clients[id]
	if exists {
		delete(b.clients, id)
	}
	count := len(b.clients)
	b.mu.Unlock()

	if !exists {
		return
	}
	close(client.Done)

	log.Debug().
		Str("clientId", id).
		Int("totalClients", count).
		Msg("SSE client disconnected")
}

// Publish sends data to unfiltered clients and to clients subscribed to
// sessionID. Slow or broken clients are dropped after WriteTimeout.
func (b *Broadcaster) Publish(sessionID string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal SSE data")
		return
	}
	message := []byte(fmt.Sprintf("data: %s\n\n", payload))

	b.mu.RLock()
	targets := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		if c.SessionID == "" || c.SessionID == sessionID {
			targets = append(targets, c)
		}
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	dead := make(chan string, len(targets))
	var wg sync.WaitGroup
	for _, c := range targets {
		select {
		case <-c.Done:
			continue
		default:
		}
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			b.writeToClient(c, message, dead)
		}(c)
	}
	wg.Wait()
	close(dead)

	for id := range dead {
		b.removeClientByID(id)
	}
}

func (b *Broadcaster) writeToClient(client *Client, message []byte, dead chan<- string) {
	done := make(chan struct{})

	go func() {
		defer close(done)
		client.writeMu.Lock()
		defer client.writeMu.Unlock()
		if _, err := client.Writer.Write(message); err != nil {
			log.Debug().Str("clientId", client.ID).Err(err).Msg("SSE write failed, dropping client")
			dead <- client.ID
			return
		}
		client.Flusher.Flush()
	}()

	timer := time.NewTimer(WriteTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		log.Warn().
			Str("clientId", client.ID).
			Dur("timeout", WriteTimeout).
			Msg("SSE write timed out, dropping client")
		dead <- client.ID
	case <-client.Done:
	}
}

// CloseAll disconnects every client.
func (b *Broadcaster) CloseAll() {
	b.mu.RLock()
	ids := make([]string, 0, len(b.clients))
	for id := range b.clients {
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	for _, id := range ids {
		b.removeClientByID(id)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HandleSSE serves one event stream until the request context ends. The
// optional sessionId query parameter filters events.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sessionID := r.URL.Query().Get("sessionId")
	client, err := b.AddClient(w, sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.RemoveClient(client)

	hello, _ := json.Marshal(map[string]string{
		"type":      "connected",
		"clientId":  client.ID,
		"sessionId": sessionID,
	})
	client.writeMu.Lock()
	fmt.Fprintf(w, "data: %s\n\n", hello)
	client.Flusher.Flush()
	client.writeMu.Unlock()

	select {
	case <-r.Context().Done():
	case <-client.Done:
	}
}
