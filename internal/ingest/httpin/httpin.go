// Package httpin implements the HTTP ingestion driver (C8): a router
// exposing one POST endpoint (plus a /batch variant when allowed) per
// registered HTTP source.
package httpin

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/grepwise/grepwise/infrastructure/cache"
	"github.com/grepwise/grepwise/infrastructure/ratelimit"
	"github.com/grepwise/grepwise/internal/ingest"
	"github.com/grepwise/grepwise/internal/model"
	"github.com/grepwise/grepwise/internal/obslog"
)

// inboundRecord is the wire shape accepted on a source's POST endpoint.
// Message is required; the rest fill in sensible defaults.
type inboundRecord struct {
	Message  string            `json:"message"`
	Level    string            `json:"level"`
	Source   string            `json:"source"`
	Metadata map[string]string `json:"metadata"`
}

// Driver is one HTTP source's registration: the path it answers on, its
// auth token, and whether a /batch variant is exposed. Many Drivers
// share one Router.
type Driver struct {
	cfg  model.SourceConfig
	sink ingest.Sink
}

// Stop is a no-op: an HTTP source's lifecycle is tied to the shared
// Router, not to any per-source goroutine.
func (d *Driver) Stop() {}

// Router multiplexes every registered HTTP source onto a single
// *mux.Router, since they all share one listening port.
type Router struct {
	mu      sync.RWMutex
	mux     *mux.Router
	drivers map[string]*Driver
	tokens  *cache.TokenCache
	limiter *ratelimit.RateLimiter
	log     *obslog.Component
}

// NewRouter builds an empty Router. Call Start for each HTTP source to
// register its endpoint.
func NewRouter(log *obslog.Component) *Router {
	r := &Router{
		mux:     mux.NewRouter(),
		drivers: make(map[string]*Driver),
		tokens:  cache.NewTokenCache(cache.DefaultConfig()),
		limiter: ratelimit.New(ratelimit.DefaultConfig()),
		log:     log,
	}
	return r
}

// ServeHTTP satisfies http.Handler, so Router can be mounted directly
// into the server's top-level mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Start registers cfg's endpoint(s) on the shared router and returns a
// Driver handle, satisfying source.StartFunc once wrapped at the
// composition root (Router.Start has no error return of its own, since
// route registration cannot fail after Validate has already run).
func (r *Router) Start(cfg model.SourceConfig, sink ingest.Sink) *Driver {
	d := &Driver{cfg: cfg, sink: sink}

	r.mu.Lock()
	r.drivers[cfg.ID] = d
	r.mu.Unlock()

	r.mux.HandleFunc(cfg.Path, r.handle(cfg.ID, false)).Methods(http.MethodPost)
	if cfg.BatchAllowed {
		r.mux.HandleFunc(strings.TrimRight(cfg.Path, "/")+"/batch", r.handle(cfg.ID, true)).Methods(http.MethodPost)
	}
	return d
}

// Unregister removes a source's driver from the routing table. Gorilla
// mux has no route-removal API, so the handler itself checks
// Unregister's effect (answering 404) on every subsequent call.
func (r *Router) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.drivers, id)
}

func (r *Router) handle(sourceID string, batch bool) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.RLock()
		d, ok := r.drivers[sourceID]
		r.mu.RUnlock()
		if !ok {
			http.Error(w, "source not found", http.StatusNotFound)
			return
		}
		if !d.cfg.Enabled {
			http.Error(w, "source disabled", http.StatusForbidden)
			return
		}
		if !r.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		if !r.authorize(d.cfg, req) {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		var inbound []inboundRecord
		dec := json.NewDecoder(req.Body)
		if batch {
			if err := dec.Decode(&inbound); err != nil {
				http.Error(w, "invalid batch payload", http.StatusBadRequest)
				return
			}
		} else {
			var single inboundRecord
			if err := dec.Decode(&single); err != nil {
				http.Error(w, "invalid payload", http.StatusBadRequest)
				return
			}
			if single.Message == "" {
				http.Error(w, "message is required", http.StatusBadRequest)
				return
			}
			inbound = []inboundRecord{single}
		}

		accepted := 0
		for _, in := range inbound {
			if in.Message == "" {
				continue
			}
			if d.sink.Add(req.Context(), toRecord(in, d.cfg)) {
				accepted++
			}
		}

		if !batch && accepted == 0 {
			http.Error(w, "buffer failure", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if batch {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "count": accepted})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
	}
}

// authorize compares req's X-Auth-Token header against cfg.AuthToken in
// constant time, caching the hash of tokens already validated for
// cfg.ID to avoid re-hashing identical tokens on every request.
func (r *Router) authorize(cfg model.SourceConfig, req *http.Request) bool {
	if cfg.AuthToken == "" {
		return true
	}
	token := req.Header.Get("X-Auth-Token")
	if token == "" {
		return false
	}
	sum := sha256.Sum256([]byte(cfg.ID + ":" + token))
	hash := hex.EncodeToString(sum[:])

	if v, ok := r.tokens.GetToken(hash); ok {
		return v.(bool)
	}
	valid := subtle.ConstantTimeCompare([]byte(token), []byte(cfg.AuthToken)) == 1
	r.tokens.SetToken(hash, valid, 5*time.Minute)
	return valid
}

func toRecord(in inboundRecord, cfg model.SourceConfig) model.LogRecord {
	now := time.Now().UnixMilli()
	source := in.Source
	if source == "" {
		source = "http:" + cfg.ID
	}
	meta := in.Metadata
	if meta == nil {
		meta = make(map[string]string)
	}
	meta["source_type"] = "http"
	meta["source_id"] = cfg.ID

	return model.LogRecord{
		ID:         uuid.NewString(),
		Timestamp:  now,
		RecordTime: now,
		Level:      model.NormalizeLevel(in.Level),
		Message:    in.Message,
		Source:     source,
		Metadata:   meta,
		RawContent: in.Message,
	}
}
