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

// Package auth provides authentication for gateway clients. A client
// presents an opaque credential payload on its auth event; an Authenticator
// resolves it to a User attribute bag that rule expressions can reference.
// An unauthenticated connection is always denied by the rule engine, so
// the gateway treats every non-success result the same way: silently.
package auth

import (
	"context"
	"encoding/json"
)

// User is the attribute bag of an authenticated client, adopted verbatim
// from the authentication provider's response. Rule expressions access it
// as the `user` name (e.g. user.id, user.role).
type User map[string]interface{}

// Result classifies the outcome of an authentication attempt.
type Result int

const (
	// ResultSuccess indicates the credentials were accepted.
	ResultSuccess Result = iota
	// ResultFailure indicates the credentials were rejected.
	ResultFailure
	// ResultError indicates the provider itself failed; the attempt is
	// denied, but the condition is an operational problem rather than bad
	// credentials.
	ResultError
)

// String returns the string representation of a Result.
func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultFailure:
		return "failure"
	case ResultError:
		return "error"
	default:
		return "unknown"
	}
}

// Authenticator resolves an opaque credential payload to a User.
type Authenticator interface {
	// Authenticate verifies the supplied credentials. The returned User is
	// non-nil exactly when the Result is ResultSuccess.
	Authenticate(ctx context.Context, credentials json.RawMessage) (User, Result)
	// Name returns the name of the authenticator, for logging.
	Name() string
}
