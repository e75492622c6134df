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

// Package rules implements the topic authorization engine: a rule set maps
// topic patterns to publish/subscribe policies, a pattern resolver selects
// the most specific rule for a concrete topic, and a sandboxed expression
// evaluator turns conditional rules into allow/deny decisions. Every path
// through this package is default-deny: no matching rule, no user, a
// missing action field, or an expression fault all resolve to false.
package rules

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/turtacn/topicgate/pkg/logging"
	"github.com/turtacn/topicgate/pkg/metrics"
)

// RuleValue is a tagged variant holding either a boolean literal or the
// source of a conditional expression. The zero value is not meaningful;
// rules carry *RuleValue, with nil meaning "no rule defined for that
// action".
type RuleValue struct {
	expr   string
	allow  bool
	isExpr bool
}

// BoolValue returns a RuleValue that always resolves to b.
func BoolValue(b bool) *RuleValue {
	return &RuleValue{allow: b}
}

// ExprValue returns a RuleValue that is evaluated as an expression over the
// user attributes and captured path variables.
func ExprValue(src string) *RuleValue {
	return &RuleValue{expr: src, isExpr: true}
}

// Allow resolves the value against the given binding. Boolean values ignore
// the binding. Expression faults are logged and counted, never propagated:
// a rule that cannot be evaluated denies.
func (v *RuleValue) Allow(binding map[string]interface{}) bool {
	if !v.isExpr {
		return v.allow
	}
	ok, err := evalExpr(v.expr, binding)
	if err != nil {
		logging.Errorf("Error while evaluating the expression: %s: %v", v.expr, err)
		metrics.RuleEvalErrorsTotal.Inc()
		return false
	}
	return ok
}

// Rule is the authorization policy attached to a single topic pattern.
// A nil action field denies that action regardless of the other field.
type Rule struct {
	Publish   *RuleValue
	Subscribe *RuleValue
}

// RuleSet is an immutable mapping from topic pattern to Rule. Pattern
// enumeration order is the document order of the rules payload, which makes
// variable and wildcard matching deterministic. A RuleSet is never mutated
// after construction; refreshes install a new instance wholesale.
type RuleSet struct {
	patterns []string
	rules    map[string]Rule
}

// Empty returns a RuleSet that denies everything.
func Empty() *RuleSet {
	return &RuleSet{rules: map[string]Rule{}}
}

// NewRuleSet builds a RuleSet from explicit pattern/rule pairs, preserving
// the order given. Used by tests and static configurations; remote payloads
// go through DecodeRuleSet.
func NewRuleSet(patterns []string, byPattern map[string]Rule) *RuleSet {
	rs := Empty()
	for _, p := range patterns {
		rule, ok := byPattern[p]
		if !ok {
			continue
		}
		rs.add(p, rule)
	}
	return rs
}

func (rs *RuleSet) add(pattern string, rule Rule) {
	if _, exists := rs.rules[pattern]; !exists {
		rs.patterns = append(rs.patterns, pattern)
	}
	rs.rules[pattern] = rule
}

// Len returns the number of patterns in the set.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// CanPublish reports whether user may publish to topic.
func (rs *RuleSet) CanPublish(topic string, user map[string]interface{}) bool {
	return rs.allowed(topic, user, func(r Rule) *RuleValue { return r.Publish })
}

// CanSubscribe reports whether user may subscribe to topic.
func (rs *RuleSet) CanSubscribe(topic string, user map[string]interface{}) bool {
	return rs.allowed(topic, user, func(r Rule) *RuleValue { return r.Subscribe })
}

func (rs *RuleSet) allowed(topic string, user map[string]interface{}, field func(Rule) *RuleValue) bool {
	if user == nil {
		return false
	}

	match, found := rs.resolve(topic)
	if !found {
		return false
	}

	value := field(match.Rule)
	if value == nil {
		return false
	}

	binding := make(map[string]interface{}, len(match.Variables)+1)
	binding["user"] = user
	for name, captured := range match.Variables {
		binding[name] = captured
	}
	return value.Allow(binding)
}

// ruleDoc is the wire shape of a single rule entry. The action fields are
// decoded as raw JSON so that the boolean-or-string variant can be resolved
// at the ingestion boundary; fields of any other type are ignored.
type ruleDoc struct {
	Publish   json.RawMessage `json:"publish"`
	Subscribe json.RawMessage `json:"subscribe"`
}

func decodeRuleValue(raw json.RawMessage, pattern, action string) *RuleValue {
	if len(raw) == 0 {
		return nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return BoolValue(b)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ExprValue(s)
	}
	logging.Warnf("Ignoring %s rule for pattern %q: value is neither boolean nor string", action, pattern)
	return nil
}

// DecodeRuleSet reads a JSON object whose keys are topic patterns and whose
// values are rule entries. Any payload that is not a JSON object (including
// an array) is an error. Entry order is preserved; duplicate patterns keep
// their first position, with the later entry's rule winning.
func DecodeRuleSet(r io.Reader) (*RuleSet, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("invalid rules payload: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("rules payload is not a JSON object")
	}

	rs := Empty()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid rules payload: %w", err)
		}
		pattern, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("invalid rules payload: non-string pattern key")
		}

		var doc ruleDoc
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("invalid rule entry for pattern %q: %w", pattern, err)
		}
		rs.add(pattern, Rule{
			Publish:   decodeRuleValue(doc.Publish, pattern, "publish"),
			Subscribe: decodeRuleValue(doc.Subscribe, pattern, "subscribe"),
		})
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("invalid rules payload: %w", err)
	}
	return rs, nil
}
