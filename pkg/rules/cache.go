// Copyright 2024 The topicgate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rules

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/topicgate/pkg/logging"
	"github.com/turtacn/topicgate/pkg/metrics"
)

// Provider fetches the current rule set from its source of truth. Fetch is
// expected to honor ctx for cancellation and to bound its own latency.
type Provider interface {
	Fetch(ctx context.Context) (*RuleSet, error)
}

// DefaultCacheTTL is how long a successfully fetched rule set is served
// before the provider is consulted again.
const DefaultCacheTTL = 5 * time.Minute

// Cache is a time-bounded cache of the remote rule set. A fresh entry is
// served without contacting the provider. On expiry, concurrent callers
// collapse into a single in-flight fetch whose result all of them receive.
// A failed fetch yields an empty (deny-everything) rule set that is NOT
// installed in the cache, so the next call retries immediately instead of
// locking everyone out for a full TTL.
type Cache struct {
	provider Provider
	ttl      time.Duration
	group    singleflight.Group

	mu        sync.RWMutex
	rules     *RuleSet
	expiresAt time.Time

	// now is stubbed by tests.
	now func() time.Time
}

// NewCache creates a Cache over provider. A non-positive ttl falls back to
// DefaultCacheTTL.
func NewCache(provider Provider, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		provider: provider,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Current returns the rule set to use for authorization decisions right
// now. It never returns nil and never fails: upstream trouble degrades to
// an empty rule set.
func (c *Cache) Current(ctx context.Context) *RuleSet {
	if rs, ok := c.fresh(); ok {
		return rs
	}

	result, _, _ := c.group.Do("rules", func() (interface{}, error) {
		// A waiter queued behind the fetch that just installed the entry
		// must not trigger a second one.
		if rs, ok := c.fresh(); ok {
			return rs, nil
		}

		rs, err := c.provider.Fetch(ctx)
		if err != nil {
			logging.Errorf("Error whilst retrieving rules from rules webhook: %v", err)
			metrics.RuleFetchFailuresTotal.Inc()
			return Empty(), nil
		}

		c.mu.Lock()
		c.rules = rs
		c.expiresAt = c.now().Add(c.ttl)
		c.mu.Unlock()
		logging.Debugf("Rule set refreshed: %d patterns, valid for %s", rs.Len(), c.ttl)
		return rs, nil
	})
	return result.(*RuleSet)
}

func (c *Cache) fresh() (*RuleSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.rules != nil && c.now().Before(c.expiresAt) {
		return c.rules, true
	}
	return nil, false
}
