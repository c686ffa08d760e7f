package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// StartProbes runs the background health probe loop until ctx is cancelled.
// Each endpoint is pinged on the configured interval; the same consecutive
// failure threshold that governs request failures governs probe failures.
func (g *Gateway) StartProbes(ctx context.Context) {
	go func() {
		g.probeAll(ctx)
		ticker := time.NewTicker(g.probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.probeAll(ctx)
			}
		}
	}()
}

func (g *Gateway) probeAll(ctx context.Context) {
	g.mu.Lock()
	endpoints := append([]*Endpoint(nil), g.endpoints...)
	g.mu.Unlock()

	for _, ep := range endpoints {
		if err := g.probe(ctx, ep); err != nil {
			g.markProbeFailure(ep)
			g.logger.Debug("health probe failed", "endpoint", ep.Name, "error", err)
		} else {
			g.markProbeSuccess(ep)
		}
	}
}

// probe issues a GET against the models listing, the cheapest request an
// OpenAI-compatible server answers.
func (g *Gateway) probe(ctx context.Context, ep *Endpoint) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet,
		strings.TrimRight(ep.URL, "/")+"/models", nil)
	if err != nil {
		return err
	}
	if ep.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+ep.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &endpointError{endpoint: ep.Name, status: resp.StatusCode, retriable: true,
			err: errServerUnavailable}
	}
	return nil
}

func (g *Gateway) markProbeSuccess(ep *Endpoint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ep.consecutiveFailures = 0
	ep.health = HealthHealthy
	ep.lastCheck = time.Now()
}

func (g *Gateway) markProbeFailure(ep *Endpoint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ep.consecutiveFailures++
	ep.lastCheck = time.Now()
	if ep.consecutiveFailures >= g.failureThreshold {
		ep.health = HealthUnhealthy
	}
}
