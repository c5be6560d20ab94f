package ingress

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/covey-run/covey/pkg/log"
	"github.com/covey-run/covey/pkg/types"
	"github.com/rs/zerolog"
)

// Proxy fronts the routing mesh on one node: it keeps an HTTP reverse
// proxy listening on every published port in the table and forwards
// each request to a backend picked by the router. Host mode ports only
// open where a local task exists.
type Proxy struct {
	router      *Router
	localNodeID string
	logger      zerolog.Logger

	mu      sync.Mutex
	servers map[int]*http.Server
}

// NewProxy creates a Proxy for the given node
func NewProxy(router *Router, localNodeID string) *Proxy {
	return &Proxy{
		router:      router,
		localNodeID: localNodeID,
		logger:      log.WithComponent("ingress"),
		servers:     make(map[int]*http.Server),
	}
}

// Sync opens listeners for newly published ports and closes listeners
// for ports that left the table. Called after every table rebuild.
func (p *Proxy) Sync() {
	table := p.router.Table()

	p.mu.Lock()
	defer p.mu.Unlock()

	for port := range p.servers {
		if _, ok := table[port]; !ok {
			p.stopLocked(port)
		}
	}
	for port, entry := range table {
		if _, ok := p.servers[port]; ok {
			continue
		}
		if entry.Mode == types.PublishModeHost && !p.hasLocalEndpoint(entry) {
			continue
		}
		p.startLocked(port)
	}
}

func (p *Proxy) hasLocalEndpoint(entry *Entry) bool {
	for _, endpoint := range entry.Endpoints {
		if endpoint.NodeID == p.localNodeID {
			return true
		}
	}
	return false
}

func (p *Proxy) startLocked(port int) {
	server := &http.Server{
		Addr:         addrFor(port),
		Handler:      p.handlerFor(port),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	p.servers[port] = server

	p.logger.Info().Int("port", port).Msg("ingress listener opened")
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			p.logger.Error().Err(err).Int("port", port).Msg("ingress listener failed")
		}
	}()
}

func (p *Proxy) stopLocked(port int) {
	server, ok := p.servers[port]
	if !ok {
		return
	}
	delete(p.servers, port)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		p.logger.Warn().Err(err).Int("port", port).Msg("ingress listener shutdown failed")
	}
	p.logger.Info().Int("port", port).Msg("ingress listener closed")
}

// handlerFor builds the reverse proxy handler for one published port.
// The backend is picked per request so rotation follows the table.
func (p *Proxy) handlerFor(port int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		endpoint, err := p.router.Pick(port, p.localNodeID)
		if err != nil {
			http.Error(w, "no backend available", http.StatusServiceUnavailable)
			return
		}

		target := &url.URL{Scheme: "http", Host: endpoint.Addr}
		proxy := httputil.NewSingleHostReverseProxy(target)
		proxy.ErrorHandler = func(w http.ResponseWriter, _ *http.Request, err error) {
			p.logger.Warn().Err(err).Str("backend", endpoint.Addr).Msg("backend request failed")
			http.Error(w, "backend unavailable", http.StatusBadGateway)
		}
		proxy.ServeHTTP(w, req)
	})
}

// Shutdown closes every listener gracefully.
func (p *Proxy) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for port := range p.servers {
		p.stopLocked(port)
	}
}

func addrFor(port int) string {
	return fmt.Sprintf(":%d", port)
}
