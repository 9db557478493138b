// Package upstream tracks the external providers behind the gateway and
// reports whether each one is usable.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ProviderStatus is the readiness of one provider.
type ProviderStatus string

const (
	StatusDisabled    ProviderStatus = "disabled"
	StatusConfigured  ProviderStatus = "configured"
	StatusHealthy     ProviderStatus = "healthy"
	StatusUnreachable ProviderStatus = "unreachable"
)

// ProviderInfo holds the current state of a provider.
type ProviderInfo struct {
	Name     string         `json:"name"`
	Status   ProviderStatus `json:"status"`
	Category string         `json:"category"`
}

// Checker probes registered providers over HTTP.
type Checker struct {
	registry   *Registry
	httpClient *http.Client
}

// NewChecker creates a checker. A nil client gets a 3 s timeout client.
func NewChecker(registry *Registry, client *http.Client) *Checker {
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	return &Checker{registry: registry, httpClient: client}
}

// Status returns the current state of a single provider.
func (c *Checker) Status(ctx context.Context, name string) (*ProviderInfo, error) {
	meta, ok := c.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("provider %q not in registry", name)
	}
	info := &ProviderInfo{Name: name, Category: meta.Category, Status: StatusDisabled}
	if !meta.Enabled {
		return info, nil
	}

	info.Status = StatusConfigured
	if meta.HealthURL == "" {
		return info, nil
	}

	info.Status = StatusUnreachable
	if c.probeHealth(ctx, meta.HealthURL, meta.Token) {
		info.Status = StatusHealthy
	}
	return info, nil
}

// StatusAll probes every registered provider concurrently and returns them
// in name order.
func (c *Checker) StatusAll(ctx context.Context) ([]ProviderInfo, error) {
	names := c.registry.Names()
	results := make([]ProviderInfo, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, _ := c.Status(ctx, name)
			results[i] = *info
		}()
	}
	wg.Wait()
	return results, nil
}

func (c *Checker) probeHealth(ctx context.Context, url, token string) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return false
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
