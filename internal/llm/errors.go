/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package llm

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotConfigured is returned when no provider or model is set.
	ErrNotConfigured = errors.New("llm: provider not configured")
	// ErrMissingKey is returned for hosted brands configured without an API key.
	ErrMissingKey = errors.New("llm: API key required")
	// ErrTruncated means the model stopped at its token limit (finish_reason "length").
	ErrTruncated = errors.New("llm: response truncated at the token limit")
	// ErrNoJSON means no JSON value could be extracted from the model reply.
	ErrNoJSON = errors.New("llm: no JSON found in response")
	// ErrEmptyResponse means the provider returned no choices.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// APIError is a non-2xx reply from the provider.
type APIError struct {
	Status int
	Brand  string
	Err    error
}

func (e *APIError) Error() string {
	switch {
	case e.RateLimited():
		return fmt.Sprintf("llm: %s rate limited (429), retry later: %v", e.Brand, e.Err)
	case e.Status == http.StatusUnauthorized:
		return fmt.Sprintf("llm: %s rejected the API key (401): %v", e.Brand, e.Err)
	case e.Status == http.StatusForbidden:
		return fmt.Sprintf("llm: %s denied access to the model (403): %v", e.Brand, e.Err)
	}
	return fmt.Sprintf("llm: %s call failed (%d): %v", e.Brand, e.Status, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// RateLimited reports a 429.
func (e *APIError) RateLimited() bool { return e.Status == http.StatusTooManyRequests }

// AuthFailed reports a 401 or 403.
func (e *APIError) AuthFailed() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// IsRateLimited reports whether err carries a 429 APIError.
func IsRateLimited(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.RateLimited()
}

// IsAuth reports whether err carries a 401/403 APIError.
func IsAuth(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.AuthFailed()
}
