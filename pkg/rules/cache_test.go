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
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProvider counts fetches and can be told to fail or to block until
// released.
type countingProvider struct {
	fetches atomic.Int64
	fail    atomic.Bool
	block   chan struct{}
	rules   *RuleSet
}

func (p *countingProvider) Fetch(ctx context.Context) (*RuleSet, error) {
	p.fetches.Add(1)
	if p.block != nil {
		<-p.block
	}
	if p.fail.Load() {
		return nil, fmt.Errorf("provider unavailable")
	}
	return p.rules, nil
}

func allowAll() *RuleSet {
	return NewRuleSet([]string{"*"}, map[string]Rule{
		"*": {Publish: BoolValue(true), Subscribe: BoolValue(true)},
	})
}

func TestCacheServesFreshEntryWithoutFetching(t *testing.T) {
	provider := &countingProvider{rules: allowAll()}
	cache := NewCache(provider, time.Minute)

	first := cache.Current(context.Background())
	second := cache.Current(context.Background())

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), provider.fetches.Load())
}

func TestCacheRefreshesAfterTTL(t *testing.T) {
	provider := &countingProvider{rules: allowAll()}
	cache := NewCache(provider, time.Minute)

	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.Current(context.Background())
	require.Equal(t, int64(1), provider.fetches.Load())

	// Still fresh just before expiry.
	now = now.Add(59 * time.Second)
	cache.Current(context.Background())
	assert.Equal(t, int64(1), provider.fetches.Load())

	now = now.Add(2 * time.Second)
	cache.Current(context.Background())
	assert.Equal(t, int64(2), provider.fetches.Load())
}

func TestCacheFailureReturnsEmptyAndRetries(t *testing.T) {
	provider := &countingProvider{rules: allowAll()}
	provider.fail.Store(true)
	cache := NewCache(provider, time.Minute)

	user := map[string]interface{}{"id": "u1"}

	rs := cache.Current(context.Background())
	assert.Equal(t, 0, rs.Len())
	assert.False(t, rs.CanPublish("anything", user))

	// The failure must not be cached: the next call retries immediately.
	provider.fail.Store(false)
	rs = cache.Current(context.Background())
	assert.True(t, rs.CanPublish("anything", user))
	assert.Equal(t, int64(2), provider.fetches.Load())
}

func TestCacheCollapsesConcurrentMisses(t *testing.T) {
	provider := &countingProvider{rules: allowAll(), block: make(chan struct{})}
	cache := NewCache(provider, time.Minute)

	const callers = 16
	results := make([]*RuleSet, callers)
	var started, done sync.WaitGroup
	started.Add(callers)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			results[i] = cache.Current(context.Background())
		}(i)
	}

	// Let every caller reach the cache before releasing the fetch.
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(provider.block)
	done.Wait()

	assert.Equal(t, int64(1), provider.fetches.Load(), "N concurrent misses must trigger exactly one fetch")
	for _, rs := range results {
		assert.Same(t, results[0], rs)
	}
}

func TestHTTPProviderFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		fmt.Fprint(w, `{"item/$id": {"publish": "user.id === $id"}}`)
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, time.Second)
	rs, err := provider.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rs.Len())
	assert.True(t, rs.CanPublish("item/u1", map[string]interface{}{"id": "u1"}))
}

func TestHTTPProviderErrors(t *testing.T) {
	testCases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non-200 status", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"array payload", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `[]`)
		}},
		{"non-object payload", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `"not rules"`)
		}},
		{"invalid json", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{`)
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(tc.handler)
			defer server.Close()

			provider := NewHTTPProvider(server.URL, time.Second)
			_, err := provider.Fetch(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestHTTPProviderTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	provider := NewHTTPProvider(server.URL, 50*time.Millisecond)
	_, err := provider.Fetch(context.Background())
	assert.Error(t, err)
}

func TestStaticProvider(t *testing.T) {
	rs, err := (&StaticProvider{Rules: allowAll()}).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rs.Len())

	empty, err := (&StaticProvider{}).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
}
