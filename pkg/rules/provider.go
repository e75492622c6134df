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
	"time"
)

// HTTPProvider fetches the rule set from a rules webhook: a GET request
// whose 200 JSON-object response maps topic patterns to rule entries. Any
// other status, a non-object body, or a transport fault is an error; the
// cache turns that into a deny-everything rule set.
type HTTPProvider struct {
	url    string
	client *http.Client
}

// NewHTTPProvider creates a provider for the given webhook URL. Requests
// are bounded by timeout; a non-positive timeout defaults to 5 seconds.
func NewHTTPProvider(url string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProvider{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch implements Provider.
func (p *HTTPProvider) Fetch(ctx context.Context) (*RuleSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building rules request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling rules webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rules webhook returned status %d", resp.StatusCode)
	}

	rs, err := DecodeRuleSet(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decoding rules payload: %w", err)
	}
	return rs, nil
}

// StaticProvider serves a fixed rule set. It backs standalone deployments
// that load rules from configuration, and tests.
type StaticProvider struct {
	Rules *RuleSet
}

// Fetch implements Provider.
func (p *StaticProvider) Fetch(ctx context.Context) (*RuleSet, error) {
	if p.Rules == nil {
		return Empty(), nil
	}
	return p.Rules, nil
}
