// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/roshan-srin/nidata/pkg/fetcher"
)

func quietHub() *WSHub {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewWSHub(l)
}

// flush fans out everything queued without a running hub loop.
func flush(h *WSHub) {
	for len(h.queue) > 0 {
		h.fanOut(<-h.queue)
	}
}

func TestSubscription_Matches(t *testing.T) {
	tests := []struct {
		sub     Subscription
		job     string
		dataset string
		want    bool
	}{
		{Subscription{}, "a", "nyu_rest", true},
		{Subscription{Job: "a"}, "a", "nyu_rest", true},
		{Subscription{Job: "a"}, "b", "nyu_rest", false},
		{Subscription{Dataset: "nyu_rest"}, "b", "NYU_Rest", true},
		{Subscription{Dataset: "nyu_rest"}, "b", "msdl_atlas", false},
		{Subscription{Job: "a", Dataset: "msdl_atlas"}, "a", "nyu_rest", false},
	}
	for _, tt := range tests {
		if got := tt.sub.matches(tt.job, tt.dataset); got != tt.want {
			t.Errorf("%+v.matches(%q, %q) = %v, want %v", tt.sub, tt.job, tt.dataset, got, tt.want)
		}
	}
}

func TestWSHub_NoClients(t *testing.T) {
	hub := quietHub()
	go hub.Run()

	hub.BroadcastJob(&Job{ID: "test123", Dataset: "nyu_rest", Status: JobStatusRunning})
	hub.BroadcastEvent("test123", fetcher.ProgressEvent{Event: "plan_item", Dataset: "nyu_rest"})

	if count := hub.ClientCount(); count != 0 {
		t.Errorf("Expected 0 clients, got %d", count)
	}
}

func TestWSHub_FiltersBySubscription(t *testing.T) {
	hub := quietHub()
	all := newWSClient(nil, Subscription{})
	nyu := newWSClient(nil, Subscription{Dataset: "nyu_rest"})
	one := newWSClient(nil, Subscription{Job: "job-1"})
	for _, c := range []*WSClient{all, nyu, one} {
		hub.add(c)
	}

	hub.BroadcastJob(&Job{ID: "job-1", Dataset: "msdl_atlas"})
	hub.BroadcastEvent("job-2", fetcher.ProgressEvent{Event: "plan_item", Dataset: "nyu_rest", Path: "a.nii.gz"})
	flush(hub)

	if len(all.send) != 2 || len(nyu.send) != 1 || len(one.send) != 1 {
		t.Fatalf("Unexpected deliveries: all=%d nyu=%d one=%d", len(all.send), len(nyu.send), len(one.send))
	}

	var msg struct {
		Type string   `json:"type"`
		Data JobEvent `json:"data"`
	}
	if err := json.Unmarshal(<-nyu.send, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "event" || msg.Data.JobID != "job-2" || msg.Data.Path != "a.nii.gz" {
		t.Errorf("Unexpected event %+v", msg)
	}

	one.subscribe(Subscription{Dataset: "nyu_rest"})
	hub.BroadcastJob(&Job{ID: "job-1", Dataset: "msdl_atlas"})
	flush(hub)
	if len(one.send) != 1 {
		t.Errorf("Changed subscription should stop job-1 updates, queue has %d", len(one.send))
	}
}

func TestWSHub_DropsSlowClients(t *testing.T) {
	hub := quietHub()
	slow := newWSClient(nil, Subscription{})
	hub.add(slow)
	for i := 0; i < cap(slow.send); i++ {
		slow.send <- []byte("{}")
	}

	hub.BroadcastJob(&Job{ID: "x"})
	flush(hub)

	if hub.ClientCount() != 0 {
		t.Error("Slow client should be disconnected")
	}
	for range slow.send {
	}
}

func dial(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws"+query, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessages(t *testing.T, conn *websocket.Conn) []WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	var msgs []WSMessage
	for _, line := range bytes.Split(data, []byte("\n")) {
		var msg WSMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			t.Fatalf("Bad message %q: %v", line, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// jobCount returns the length of the jobs list of an init or subscribed
// message.
func jobCount(t *testing.T, msg WSMessage) int {
	t.Helper()
	data, ok := msg.Data.(map[string]any)
	if !ok {
		t.Fatalf("Unexpected %s payload %T", msg.Type, msg.Data)
	}
	jobs, _ := data["jobs"].([]any)
	return len(jobs)
}

func TestWebSocket_InitAndUpdates(t *testing.T) {
	fake := msdlServer(t)
	srv := newTestServer(t, fake.Client())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dial(t, ts, "")
	msgs := readMessages(t, conn)
	if msgs[0].Type != "init" {
		t.Fatalf("Expected init first, got %s", msgs[0].Type)
	}

	srv.jobs.CreateJob(FetchRequest{Dataset: "msdl_atlas"})

	seen := map[string]bool{}
	for !seen["job_update"] || !seen["event"] {
		for _, m := range readMessages(t, conn) {
			seen[m.Type] = true
			if m.Type == "event" {
				if data, _ := m.Data.(map[string]any); data["job_id"] == "" || data["job_id"] == nil {
					t.Errorf("Event without job id: %v", m.Data)
				}
			}
		}
	}
}

func TestWebSocket_InitFiltersJobs(t *testing.T) {
	fake := msdlServer(t)
	srv := newTestServer(t, fake.Client())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	job, _, err := srv.jobs.CreateJob(FetchRequest{Dataset: "msdl_atlas"})
	if err != nil {
		t.Fatal(err)
	}
	srv.jobs.Wait()

	for query, want := range map[string]int{
		"":                    1,
		"?dataset=MSDL_Atlas": 1,
		"?dataset=nyu_rest":   0,
		"?job=" + job.ID:      1,
		"?job=someone-elses":  0,
	} {
		msgs := readMessages(t, dial(t, ts, query))
		if msgs[0].Type != "init" {
			t.Fatalf("%q: expected init, got %s", query, msgs[0].Type)
		}
		if got := jobCount(t, msgs[0]); got != want {
			t.Errorf("%q: expected %d jobs, got %d", query, want, got)
		}
	}
}

func TestWebSocket_Subscribe(t *testing.T) {
	fake := msdlServer(t)
	srv := newTestServer(t, fake.Client())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	srv.jobs.CreateJob(FetchRequest{Dataset: "msdl_atlas"})
	srv.jobs.Wait()

	conn := dial(t, ts, "?dataset=nyu_rest")
	if got := jobCount(t, readMessages(t, conn)[0]); got != 0 {
		t.Fatalf("Expected no nyu_rest jobs, got %d", got)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(map[string]string{"type": "subscribe", "dataset": "MSDL_ATLAS"}); err != nil {
		t.Fatal(err)
	}
	for {
		for _, m := range readMessages(t, conn) {
			if m.Type != "subscribed" {
				continue
			}
			if got := jobCount(t, m); got != 1 {
				t.Errorf("Expected the msdl_atlas job after subscribing, got %d", got)
			}
			return
		}
	}
}
