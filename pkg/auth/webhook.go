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

package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/turtacn/topicgate/pkg/logging"
)

// WebhookAuthenticator forwards the client's credential payload to an
// external authentication endpoint. A 200 response body is adopted
// verbatim as the User attribute bag. A 5xx response or a transport fault
// is an operational error; any other status is a plain rejection.
type WebhookAuthenticator struct {
	url    string
	client *http.Client
}

// NewWebhookAuthenticator creates an authenticator posting to url, with
// each request bounded by timeout. A non-positive timeout defaults to 5
// seconds.
func NewWebhookAuthenticator(url string, timeout time.Duration) *WebhookAuthenticator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookAuthenticator{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Name implements Authenticator.
func (a *WebhookAuthenticator) Name() string {
	return "webhook"
}

// Authenticate implements Authenticator.
func (a *WebhookAuthenticator) Authenticate(ctx context.Context, credentials json.RawMessage) (User, Result) {
	body := credentials
	if len(body) == 0 {
		body = json.RawMessage("null")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		logging.Errorf("Error whilst building auth webhook request: %v", err)
		return nil, ResultError
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		logging.Errorf("Error whilst retrieving user info from auth webhook: %v", err)
		return nil, ResultError
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		logging.Errorf("Auth webhook returned status %d", resp.StatusCode)
		return nil, ResultError
	case resp.StatusCode != http.StatusOK:
		return nil, ResultFailure
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		logging.Errorf("Error whilst decoding auth webhook response: %v", err)
		return nil, ResultError
	}
	if user == nil {
		// A literal null body carries no attributes; treat it as a
		// rejection rather than minting an empty user.
		return nil, ResultFailure
	}
	return user, ResultSuccess
}
