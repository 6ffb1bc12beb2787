/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package scene

import "strings"

// Normalize maps a raw value onto options. First match wins:
//
//  1. empty value: def
//  2. exact member: value
//  3. the first option, in declared order, contained in value
//  4. otherwise def
//
// Declared order is the tie-break when several options are contained in value,
// so option lists must not be reordered casually.
func Normalize(value string, options []string, def string) string {
	if value == "" {
		return def
	}
	for _, o := range options {
		if o == value {
			return value
		}
	}
	for _, o := range options {
		if o != "" && strings.Contains(value, o) {
			return o
		}
	}
	return def
}

// FilterMulti keeps the comma-separated tokens of value that are exact members of
// options, in their original order, and joins them with ",". When nothing survives
// it returns def. Only the ASCII comma separates tokens, so a full-width "，"
// leaves its neighbours joined in one token that matches nothing.
func FilterMulti(value string, options []string, def string) string {
	tokens := strings.Split(value, ",")
	kept := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		for _, o := range options {
			if t == o {
				kept = append(kept, t)
				break
			}
		}
	}
	if len(kept) == 0 {
		return def
	}
	return strings.Join(kept, ",")
}
