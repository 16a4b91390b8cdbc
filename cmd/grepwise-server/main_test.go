package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/grepwise/grepwise/internal/cluster"
	"github.com/grepwise/grepwise/internal/obslog"
)

func TestLastColon(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want int
	}{
		{"host and port", "smtp.example.com:587", 16},
		{"bare host", "smtp.example.com", -1},
		{"ipv6-ish multiple colons", "a:b:c", 3},
		{"empty", "", -1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := lastColon(tc.in); got != tc.want {
				t.Fatalf("lastColon(%q) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestClusterHeartbeatHandlerFeedsCluster(t *testing.T) {
	logger := obslog.For(nil, "test")
	var lastState cluster.State
	c := cluster.New(cluster.Config{
		NodeID:              "local",
		HeartbeatInterval:   time.Second,
		HeartbeatTimeout:    10 * time.Second,
		HorizontalScalingOn: true,
	}, logger, func(s cluster.State) { lastState = s })

	handler := clusterHeartbeatHandler(c)

	hb := cluster.Heartbeat{NodeID: "peer-1", URL: "http://peer-1:8080", Timestamp: time.Now(), IsLeader: false}
	body, err := json.Marshal(hb)
	if err != nil {
		t.Fatalf("marshal heartbeat: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/internal/cluster/heartbeat", bytes.NewReader(body))
	w := httptest.NewRecorder()
	handler(w, r)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}

	found := false
	for _, id := range lastState.AliveNodes {
		if id == "peer-1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected peer-1 to be recorded alive after heartbeat, got %v", lastState.AliveNodes)
	}
}

func TestClusterHeartbeatHandlerRejectsInvalidBody(t *testing.T) {
	logger := obslog.For(nil, "test")
	c := cluster.New(cluster.Config{NodeID: "local"}, logger, func(cluster.State) {})
	handler := clusterHeartbeatHandler(c)

	r := httptest.NewRequest(http.MethodPost, "/internal/cluster/heartbeat", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	handler(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
