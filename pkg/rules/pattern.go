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

import "strings"

// Match is the result of resolving a topic against a rule set: the selected
// rule plus the path variables captured from the topic. Variable names keep
// their $ prefix so they line up with the expression namespace.
type Match struct {
	Rule      Rule
	Variables map[string]string
}

// resolve finds the single best-matching pattern for a topic. Precedence,
// first hit wins:
//
//  1. exact match, no variables bound;
//  2. segment match with variable capture: segment counts must be equal,
//     and each pattern segment is either a literal equal to the topic
//     segment or a $name token capturing it;
//  3. wildcard match: a pattern whose last segment is exactly "*" matches
//     any topic whose leading segments equal the pattern's prefix, with no
//     capture.
//
// Within tiers 2 and 3 patterns are tried in rule-set order. A segment is a
// variable token only if it starts with $; a $ appearing mid-segment makes
// it a literal.
func (rs *RuleSet) resolve(topic string) (Match, bool) {
	if rule, ok := rs.rules[topic]; ok {
		return Match{Rule: rule, Variables: map[string]string{}}, true
	}

	topicSegments := strings.Split(topic, "/")

	for _, pattern := range rs.patterns {
		patternSegments := strings.Split(pattern, "/")
		if len(patternSegments) != len(topicSegments) {
			continue
		}

		variables := map[string]string{}
		matched := true
		for i, seg := range patternSegments {
			if strings.HasPrefix(seg, "$") {
				variables[seg] = topicSegments[i]
			} else if seg != topicSegments[i] {
				matched = false
				break
			}
		}
		if matched {
			return Match{Rule: rs.rules[pattern], Variables: variables}, true
		}
	}

	for _, pattern := range rs.patterns {
		patternSegments := strings.Split(pattern, "/")
		last := len(patternSegments) - 1
		if patternSegments[last] != "*" {
			continue
		}
		if wildcardPrefixMatches(patternSegments[:last], topicSegments) {
			return Match{Rule: rs.rules[pattern], Variables: map[string]string{}}, true
		}
	}

	return Match{}, false
}

func wildcardPrefixMatches(prefix, topicSegments []string) bool {
	if len(topicSegments) < len(prefix) {
		return false
	}
	for i, seg := range prefix {
		if topicSegments[i] != seg {
			return false
		}
	}
	return true
}
