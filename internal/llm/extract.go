/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	reJSONFence = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	reAnyFence  = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
)

// ExtractJSON pulls a JSON value out of a model reply. It tries, in order: the first
// ```json fence, the first bare fence, the whole reply, and the outermost [...] span.
func ExtractJSON(reply string) (any, error) {
	for _, re := range []*regexp.Regexp{reJSONFence, reAnyFence} {
		if m := re.FindStringSubmatch(reply); m != nil {
			var v any
			if err := json.Unmarshal([]byte(m[1]), &v); err == nil {
				return v, nil
			}
		}
	}
	var v any
	if err := json.Unmarshal([]byte(reply), &v); err == nil {
		return v, nil
	}
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(reply[start:end+1]), &v); err == nil {
			return v, nil
		}
	}
	return nil, ErrNoJSON
}
