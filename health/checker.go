// Copyright (C) 2026 adb-toolkit project
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

// Package health runs registered liveness checks and serves the
// aggregate result at /healthz.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/adbtoolkit/agent/internal/logger"
	"github.com/adbtoolkit/agent/server"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a health check
type CheckResult struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Check is a single health check function.
type Check func(ctx context.Context) error

// Checker manages multiple health checks.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	timeout time.Duration
	log     logger.Logger
}

// NewChecker creates a checker; each check is bounded by timeout.
func NewChecker(timeout time.Duration, log logger.Logger) *Checker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Checker{
		checks:  make(map[string]Check),
		timeout: timeout,
		log:     log.WithFields(logger.String("component", "health")),
	}
}

// Register adds a named health check.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// CheckAll runs every registered check concurrently.
func (c *Checker) CheckAll(ctx context.Context) map[string]*CheckResult {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	c.mu.RUnlock()

	results := make(map[string]*CheckResult, len(names))
	var wg sync.WaitGroup
	var resultsMu sync.Mutex

	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			resultsMu.Lock()
			results[name] = c.run(ctx, name)
			resultsMu.Unlock()
		}(name)
	}
	wg.Wait()
	return results
}

func (c *Checker) run(ctx context.Context, name string) *CheckResult {
	c.mu.RLock()
	check := c.checks[name]
	c.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := check(checkCtx)
	result := &CheckResult{
		Name:     name,
		Status:   StatusHealthy,
		Duration: time.Since(start),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
		c.log.Warn("health check failed",
			logger.String("name", name), logger.Error(err))
	}
	return result
}

// Overall reduces all check results to one status.
func (c *Checker) Overall(ctx context.Context) Status {
	for _, r := range c.CheckAll(ctx) {
		if r.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
	}
	return StatusHealthy
}

// Handler serves the aggregate result: 200 when healthy, 503 otherwise.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		results := c.CheckAll(r.Context())
		status := StatusHealthy
		code := http.StatusOK
		for _, res := range results {
			if res.Status == StatusUnhealthy {
				status = StatusUnhealthy
				code = http.StatusServiceUnavailable
				break
			}
		}
		server.WriteJSON(w, code, map[string]any{
			"status": status,
			"checks": results,
		})
	})
}
