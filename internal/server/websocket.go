// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/roshan-srin/nidata/pkg/fetcher"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 256
)

// WSMessage is one frame line sent to WebSocket clients.
type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Subscription selects the jobs a client hears about. Empty fields match
// everything, so the zero value follows every job.
type Subscription struct {
	Job     string `json:"job,omitempty"`
	Dataset string `json:"dataset,omitempty"`
}

func (s Subscription) matches(jobID, dataset string) bool {
	if s.Job != "" && s.Job != jobID {
		return false
	}
	return s.Dataset == "" || strings.EqualFold(s.Dataset, dataset)
}

// subscriptionFrom reads ?job= and ?dataset= from the upgrade request.
func subscriptionFrom(r *http.Request) Subscription {
	q := r.URL.Query()
	return Subscription{Job: q.Get("job"), Dataset: strings.ToLower(q.Get("dataset"))}
}

// wsRequest is a message sent by a client, e.g.
// {"type":"subscribe","dataset":"nyu_rest"}.
type wsRequest struct {
	Type string `json:"type"`
	Subscription
}

// JobEvent is a fetch progress event tagged with the job that produced it.
type JobEvent struct {
	JobID string `json:"job_id"`
	fetcher.ProgressEvent
}

type wsOutbound struct {
	jobID   string
	dataset string
	data    []byte
}

// WSClient is one connected WebSocket peer.
type WSClient struct {
	conn *websocket.Conn
	send chan []byte

	mu  sync.Mutex
	sub Subscription
}

func newWSClient(conn *websocket.Conn, sub Subscription) *WSClient {
	return &WSClient{conn: conn, send: make(chan []byte, wsSendBuffer), sub: sub}
}

func (c *WSClient) subscription() Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub
}

func (c *WSClient) subscribe(sub Subscription) {
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
}

// WSHub fans job updates and fetch events out to the clients whose
// subscription matches them.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*WSClient]struct{}
	queue   chan wsOutbound
	log     logrus.FieldLogger
}

// NewWSHub creates a hub. Run must be started before messages flow.
func NewWSHub(logger logrus.FieldLogger) *WSHub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WSHub{
		clients: make(map[*WSClient]struct{}),
		queue:   make(chan wsOutbound, wsSendBuffer),
		log:     logger.WithField("component", "ws"),
	}
}

// Run delivers queued messages until the process exits.
func (h *WSHub) Run() {
	for msg := range h.queue {
		h.fanOut(msg)
	}
}

func (h *WSHub) fanOut(msg wsOutbound) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.subscription().matches(msg.jobID, msg.dataset) {
			continue
		}
		select {
		case c.send <- msg.data:
		default:
			h.drop(c)
			h.log.Warn("client too slow, disconnected")
		}
	}
}

// deliver sends data to c alone if it is still connected.
func (h *WSHub) deliver(c *WSClient, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (h *WSHub) add(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.WithFields(logrus.Fields{"clients": n, "job": c.sub.Job, "dataset": c.sub.Dataset}).Debug("client connected")
}

func (h *WSHub) remove(c *WSClient) {
	h.mu.Lock()
	h.drop(c)
	n := len(h.clients)
	h.mu.Unlock()
	h.log.WithField("clients", n).Debug("client disconnected")
}

// drop unregisters c and closes its queue. Callers hold h.mu.
func (h *WSHub) drop(c *WSClient) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *WSHub) publish(jobID, dataset, msgType string, data any) {
	b, err := json.Marshal(WSMessage{Type: msgType, Data: data})
	if err != nil {
		h.log.WithError(err).Warn("failed to marshal message")
		return
	}
	select {
	case h.queue <- wsOutbound{jobID: jobID, dataset: dataset, data: b}:
	default:
		h.log.WithField("type", msgType).Debug("queue full, dropping message")
	}
}

// BroadcastJob sends a job snapshot to the clients following it.
func (h *WSHub) BroadcastJob(job *Job) {
	h.publish(job.ID, job.Dataset, "job_update", job)
}

// BroadcastEvent sends a progress event of job jobID to the clients
// following it.
func (h *WSHub) BroadcastEvent(jobID string, ev fetcher.ProgressEvent) {
	h.publish(jobID, ev.Dataset, "event", JobEvent{JobID: jobID, ProgressEvent: ev})
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWebSocket upgrades the request and follows the jobs selected by
// ?job= and ?dataset=. Clients may change that selection later by sending
// a subscribe request.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := newWSClient(conn, subscriptionFrom(r))
	// queued before registration so it always comes first
	c.send <- s.stateMessage("init", c.sub)
	s.wsHub.add(c)

	go c.writePump()
	go s.readPump(c)
}

// stateMessage lists the jobs sub matches.
func (s *Server) stateMessage(msgType string, sub Subscription) []byte {
	jobs := []*Job{}
	for _, j := range s.jobs.ListJobs() {
		if sub.matches(j.ID, j.Dataset) {
			jobs = append(jobs, j)
		}
	}
	b, _ := json.Marshal(WSMessage{Type: msgType, Data: map[string]any{
		"jobs":         jobs,
		"subscription": sub,
		"version":      s.config.Version,
	}})
	return b
}

// writePump writes queued messages, joining whatever is already queued
// into one frame with newlines, and pings the peer.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			frame := [][]byte{msg}
			for n := len(c.send); n > 0; n-- {
				more, ok := <-c.send
				if !ok {
					break
				}
				frame = append(frame, more)
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, bytes.Join(frame, []byte("\n"))); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles subscribe requests until the peer goes away.
func (s *Server) readPump(c *WSClient) {
	defer func() {
		s.wsHub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.wsHub.log.WithError(err).Debug("read error")
			}
			return
		}
		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.wsHub.log.WithError(err).Debug("ignoring malformed client message")
			continue
		}
		switch req.Type {
		case "subscribe":
			sub := req.Subscription
			sub.Dataset = strings.ToLower(sub.Dataset)
			c.subscribe(sub)
			s.wsHub.deliver(c, s.stateMessage("subscribed", sub))
		default:
			s.wsHub.log.WithField("type", req.Type).Debug("ignoring client message")
		}
	}
}
