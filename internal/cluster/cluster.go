// Package cluster implements the Coordinator (C10): heartbeat-based
// node membership, lexicographic leader election, and source sharding
// for horizontal scaling.
package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/grepwise/grepwise/internal/obslog"
)

// Heartbeat is the payload every node broadcasts to its peers.
type Heartbeat struct {
	NodeID    string    `json:"nodeId"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
	IsLeader  bool      `json:"isLeader"`
}

// State is a snapshot of the coordinator's current membership view.
type State struct {
	LocalNodeID string
	IsLeader    bool
	AliveNodes  []string // sorted node ids, including the local one
}

type peer struct {
	url           string
	lastHeartbeat time.Time
}

// Config configures a Cluster node.
type Config struct {
	NodeID                 string
	SelfURL                string
	Peers                  map[string]string // nodeId -> url, static bootstrap
	HeartbeatInterval      time.Duration
	HeartbeatTimeout       time.Duration
	HorizontalScalingOn    bool
}

// Cluster tracks peer heartbeats, recomputes leadership and sharding
// locally, and notifies a registered callback on any membership
// change.
type Cluster struct {
	cfg Config
	log *obslog.Component

	mu       sync.RWMutex
	peers    map[string]*peer
	isLeader bool

	onChange func(State)

	client *http.Client
	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Cluster. onChange (may be nil) is invoked with the
// current state on every membership recompute: at construction, on each
// inbound heartbeat, on a node leaving and after each expiry sweep,
// whether or not the alive set or leadership changed.
func New(cfg Config, log *obslog.Component, onChange func(State)) *Cluster {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 15 * time.Second
	}
	c := &Cluster{
		cfg:      cfg,
		log:      log,
		peers:    make(map[string]*peer),
		onChange: onChange,
		client:   &http.Client{Timeout: 5 * time.Second},
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for id, url := range cfg.Peers {
		c.peers[id] = &peer{url: url, lastHeartbeat: time.Now()}
	}
	c.peers[cfg.NodeID] = &peer{url: cfg.SelfURL, lastHeartbeat: time.Now()}
	c.recompute()
	return c
}

// Start begins the periodic heartbeat broadcast loop.
func (c *Cluster) Start(ctx context.Context) {
	go func() {
		defer close(c.doneCh)
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.broadcast(ctx)
				c.expirePeers()
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the heartbeat loop.
func (c *Cluster) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

// OnHeartbeat records an inbound heartbeat from a peer and recomputes
// membership/leadership.
func (c *Cluster) OnHeartbeat(hb Heartbeat) {
	c.mu.Lock()
	p, known := c.peers[hb.NodeID]
	if !known {
		p = &peer{}
		c.peers[hb.NodeID] = p
	}
	p.url = hb.URL
	p.lastHeartbeat = hb.Timestamp
	c.mu.Unlock()
	c.recompute()
}

// OnNodeLeaving removes a node immediately rather than waiting for its
// heartbeat to time out.
func (c *Cluster) OnNodeLeaving(nodeID string) {
	c.mu.Lock()
	delete(c.peers, nodeID)
	c.mu.Unlock()
	c.recompute()
}

// IsLeader reflects this node's local view of leadership.
func (c *Cluster) IsLeader() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isLeader
}

// ShouldProcessSource implements source.Coordinator. When horizontal
// scaling is disabled, every node processes every source.
func (c *Cluster) ShouldProcessSource(sourceID string) bool {
	if !c.cfg.HorizontalScalingOn {
		return true
	}
	alive := c.aliveNodeIDs()
	if len(alive) == 0 {
		return true
	}
	idx := sort.SearchStrings(alive, c.cfg.NodeID)
	if idx == len(alive) || alive[idx] != c.cfg.NodeID {
		return false // this node isn't in its own alive list (shouldn't happen)
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(sourceID))
	shard := int(h.Sum32()) % len(alive)
	if shard < 0 {
		shard += len(alive)
	}
	return shard == idx
}

func (c *Cluster) aliveNodeIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cutoff := time.Now().Add(-c.cfg.HeartbeatTimeout)
	ids := make([]string, 0, len(c.peers))
	for id, p := range c.peers {
		if id == c.cfg.NodeID || p.lastHeartbeat.After(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (c *Cluster) expirePeers() {
	alive := make(map[string]bool)
	for _, id := range c.aliveNodeIDs() {
		alive[id] = true
	}
	c.mu.Lock()
	for id := range c.peers {
		if id != c.cfg.NodeID && !alive[id] {
			delete(c.peers, id)
		}
	}
	c.mu.Unlock()
	c.recompute()
}

// recompute recomputes leadership (lexicographically smallest alive
// node id) and invokes onChange with the resulting state.
func (c *Cluster) recompute() {
	alive := c.aliveNodeIDs()
	leader := len(alive) > 0 && alive[0] == c.cfg.NodeID

	c.mu.Lock()
	changed := c.isLeader != leader
	c.isLeader = leader
	c.mu.Unlock()

	if c.onChange != nil {
		c.onChange(State{LocalNodeID: c.cfg.NodeID, IsLeader: leader, AliveNodes: alive})
	}
	_ = changed
}

func (c *Cluster) broadcast(ctx context.Context) {
	hb := Heartbeat{NodeID: c.cfg.NodeID, URL: c.cfg.SelfURL, Timestamp: time.Now(), IsLeader: c.IsLeader()}
	body, err := json.Marshal(hb)
	if err != nil {
		return
	}

	c.mu.RLock()
	targets := make([]string, 0, len(c.peers))
	for id, p := range c.peers {
		if id != c.cfg.NodeID {
			targets = append(targets, p.url)
		}
	}
	c.mu.RUnlock()

	for _, url := range targets {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.client.Do(req)
		if err != nil {
			if c.log != nil {
				c.log.Warn(ctx, "heartbeat broadcast failed", map[string]interface{}{"peer_url": url, "error": err.Error()})
			}
			continue
		}
		resp.Body.Close()
	}
}
