// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package health implements the readiness surface behind spec §12: a
// registry of named checks (discovery, keystore, transport reachability)
// with cached, timeout-bounded, concurrently-run results.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hypo-app/hypo-core/internal/logger"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a health check.
type CheckResult struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Check represents a single health check function.
type Check func(ctx context.Context) error

// Checker manages multiple health checks.
type Checker struct {
	checks   map[string]Check
	timeout  time.Duration
	mu       sync.RWMutex
	logger   logger.Logger
	cacheTTL time.Duration
	cache    map[string]*cachedResult
}

type cachedResult struct {
	result    *CheckResult
	expiresAt time.Time
}

// NewChecker constructs a Checker with a per-check timeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Checker{
		checks:   make(map[string]Check),
		timeout:  timeout,
		logger:   logger.GetDefaultLogger(),
		cacheTTL: 10 * time.Second,
		cache:    make(map[string]*cachedResult),
	}
}

// SetLogger sets the logger for the checker.
func (h *Checker) SetLogger(l logger.Logger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logger = l
}

// SetCacheTTL sets the cache TTL for health check results.
func (h *Checker) SetCacheTTL(ttl time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cacheTTL = ttl
}

// RegisterCheck registers a new health check under name.
func (h *Checker) RegisterCheck(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks[name] = check
	h.logger.Info("health check registered", logger.String("name", name))
}

// UnregisterCheck removes a health check.
func (h *Checker) UnregisterCheck(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.checks, name)
	delete(h.cache, name)
}

// Check performs a single named health check, using the cache when fresh.
func (h *Checker) Check(ctx context.Context, name string) (*CheckResult, error) {
	h.mu.RLock()
	check, exists := h.checks[name]
	h.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("health: check not found: %s", name)
	}

	if cached := h.getCachedResult(name); cached != nil {
		return cached, nil
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := check(checkCtx)
	duration := time.Since(start)

	result := &CheckResult{Name: name, Timestamp: time.Now(), Duration: duration}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
		h.logger.Warn("health check failed", logger.String("name", name), logger.Error(err), logger.Duration("duration", duration))
	} else {
		result.Status = StatusHealthy
		h.logger.Debug("health check passed", logger.String("name", name), logger.Duration("duration", duration))
	}

	h.cacheResult(name, result)
	return result, nil
}

// CheckAll runs every registered check concurrently.
func (h *Checker) CheckAll(ctx context.Context) map[string]*CheckResult {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	h.mu.RUnlock()

	results := make(map[string]*CheckResult)
	var wg sync.WaitGroup
	var resultsMu sync.Mutex

	for _, name := range names {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := h.Check(ctx, name)
			if err != nil {
				result = &CheckResult{Name: name, Status: StatusUnhealthy, Message: err.Error(), Timestamp: time.Now()}
			}
			resultsMu.Lock()
			results[name] = result
			resultsMu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// OverallStatus reduces every check's result to one Status.
func (h *Checker) OverallStatus(ctx context.Context) Status {
	results := h.CheckAll(ctx)
	if len(results) == 0 {
		return StatusHealthy
	}

	unhealthy, degraded := false, false
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			unhealthy = true
		case StatusDegraded:
			degraded = true
		}
	}

	switch {
	case unhealthy:
		return StatusUnhealthy
	case degraded:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

func (h *Checker) getCachedResult(name string) *CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cached, exists := h.cache[name]
	if !exists || time.Now().After(cached.expiresAt) {
		return nil
	}
	return cached.result
}

func (h *Checker) cacheResult(name string, result *CheckResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cache[name] = &cachedResult{result: result, expiresAt: time.Now().Add(h.cacheTTL)}
}

// ClearCache clears all cached results.
func (h *Checker) ClearCache() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cache = make(map[string]*cachedResult)
}

// SystemHealth is the full JSON body served on the readiness surface.
type SystemHealth struct {
	Status    Status                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Checks    map[string]*CheckResult `json:"checks"`
}

// GetSystemHealth runs every check and summarizes the result.
func (h *Checker) GetSystemHealth(ctx context.Context) *SystemHealth {
	checks := h.CheckAll(ctx)
	return &SystemHealth{Status: h.OverallStatus(ctx), Timestamp: time.Now(), Checks: checks}
}

// KeyStoreCheck wraps a synchronous KeyStore availability probe with
// context-aware cancellation.
func KeyStoreCheck(probe func() error) Check {
	return func(ctx context.Context) error {
		if probe == nil {
			return fmt.Errorf("health: keystore probe not configured")
		}
		done := make(chan error, 1)
		go func() { done <- probe() }()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			return err
		}
	}
}

// DiscoveryCheck reports unhealthy if the discovery service has fallen out
// of its advertised/registering states (e.g. stuck idle or stopped).
func DiscoveryCheck(stateFn func() string, healthyStates ...string) Check {
	allowed := make(map[string]struct{}, len(healthyStates))
	for _, s := range healthyStates {
		allowed[s] = struct{}{}
	}
	return func(ctx context.Context) error {
		if stateFn == nil {
			return fmt.Errorf("health: discovery state func not configured")
		}
		st := stateFn()
		if _, ok := allowed[st]; !ok {
			return fmt.Errorf("health: discovery in unexpected state %q", st)
		}
		return nil
	}
}

// TransportCheck wraps a TransportManager.Probe-style function.
func TransportCheck(probe func(ctx context.Context) error) Check {
	return func(ctx context.Context) error {
		if probe == nil {
			return fmt.Errorf("health: transport probe not configured")
		}
		return probe(ctx)
	}
}
