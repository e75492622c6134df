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
	"testing"

	"github.com/stretchr/testify/assert"
)

func exprBinding() map[string]interface{} {
	return map[string]interface{}{
		"user": map[string]interface{}{
			"id":    "u1",
			"role":  "admin",
			"level": float64(3),
			"meta":  map[string]interface{}{"team": "core"},
		},
		"$username": "u1",
	}
}

func TestEvalExpr(t *testing.T) {
	testCases := []struct {
		name     string
		expr     string
		expected bool
	}{
		{"boolean literal true", "true", true},
		{"boolean literal false", "false", false},
		{"strict string equality", "user.role === 'admin'", true},
		{"strict string inequality", "user.role !== 'admin'", false},
		{"loose equality", `user.role == "admin"`, true},
		{"loose inequality", "user.role != 'guest'", true},
		{"variable binding", "user.id === $username", true},
		{"number comparison", "user.level === 3", true},
		{"number ordering", "user.level >= 2", true},
		{"number ordering false", "user.level < 3", false},
		{"string ordering", "user.id > 'a'", true},
		{"nested property", "user.meta.team === 'core'", true},
		{"missing property is null", "user.nickname === null", true},
		{"missing property unequal to string", "user.nickname === 'x'", false},
		{"cross-type equality is unequal", "user.level === '3'", false},
		{"logical and", "user.role === 'admin' && user.id === 'u1'", true},
		{"logical and short left", "user.role === 'guest' && user.id === 'u1'", false},
		{"logical or", "user.role === 'guest' || user.id === 'u1'", true},
		{"negation", "!(user.role === 'guest')", true},
		{"parentheses", "(user.role === 'guest' || user.role === 'admin') && true", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := evalExpr(tc.expr, exprBinding())
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestEvalExprFaults(t *testing.T) {
	testCases := []struct {
		name string
		expr string
	}{
		{"unknown name", "nobody === 'x'"},
		{"unbound variable", "$missing === 'x'"},
		{"dangling operator", "user.id ==="},
		{"unterminated string", "user.id === 'u1"},
		{"non-boolean result", "'admin'"},
		{"non-boolean operand of and", "user.id && true"},
		{"non-boolean operand of not", "!user.id"},
		{"property of scalar", "user.id.length === 2"},
		{"ordering across types", "user.level < 'abc'"},
		{"trailing garbage", "true true"},
		{"unknown operator", "user.level ==== 3"},
		{"function call syntax", "user.id.startsWith('u')"},
		{"empty expression", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := evalExpr(tc.expr, exprBinding())
			assert.Error(t, err)
		})
	}
}

func TestRuleValueAllowCatchesFaults(t *testing.T) {
	assert.False(t, ExprValue("garbage ===").Allow(exprBinding()))
	assert.True(t, ExprValue("user.role === 'admin'").Allow(exprBinding()))
	assert.True(t, BoolValue(true).Allow(nil))
	assert.False(t, BoolValue(false).Allow(nil))
}
