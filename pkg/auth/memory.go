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
	"context"
	"encoding/json"
	"sync"

	"github.com/turtacn/topicgate/pkg/logging"
)

// MemoryAuthenticator verifies credentials against an in-memory user table.
// It backs standalone deployments and tests, where no auth webhook exists.
// Credentials are expected as {"username": ..., "password": ...}.
type MemoryAuthenticator struct {
	mu    sync.RWMutex
	users map[string]memoryUser
}

type memoryUser struct {
	password   string
	attributes User
}

type memoryCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// NewMemoryAuthenticator creates an empty in-memory authenticator.
func NewMemoryAuthenticator() *MemoryAuthenticator {
	return &MemoryAuthenticator{users: make(map[string]memoryUser)}
}

// AddUser registers a user with its password and the attribute bag that
// authenticated sessions will carry. Existing entries are replaced.
func (a *MemoryAuthenticator) AddUser(username, password string, attributes User) {
	if attributes == nil {
		attributes = User{}
	}
	if _, ok := attributes["id"]; !ok {
		attrs := make(User, len(attributes)+1)
		for k, v := range attributes {
			attrs[k] = v
		}
		attrs["id"] = username
		attributes = attrs
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.users[username] = memoryUser{password: password, attributes: attributes}
}

// RemoveUser deletes a user; a no-op if the user does not exist.
func (a *MemoryAuthenticator) RemoveUser(username string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.users, username)
}

// Name implements Authenticator.
func (a *MemoryAuthenticator) Name() string {
	return "memory"
}

// Authenticate implements Authenticator.
func (a *MemoryAuthenticator) Authenticate(_ context.Context, credentials json.RawMessage) (User, Result) {
	var creds memoryCredentials
	if err := json.Unmarshal(credentials, &creds); err != nil {
		logging.Debugf("Memory authenticator received malformed credentials: %v", err)
		return nil, ResultFailure
	}

	a.mu.RLock()
	entry, ok := a.users[creds.Username]
	a.mu.RUnlock()

	if !ok || entry.password != creds.Password {
		return nil, ResultFailure
	}
	return entry.attributes, ResultSuccess
}
