//
// Copyright 2019-present Salesforce, Inc.
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
//

package github

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v64/github"
)

// AuthError is a signing or token-exchange failure. It is fatal for the
// pipeline that needed the credential; nothing retries it internally.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("github auth: %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NotFoundError means the resource is not (or not yet) visible. Right after a
// repo, branch or PR is created this is expected transiently; callers may
// poll, the engine does not.
type NotFoundError struct {
	Resource string
	Err      error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %v", e.Resource, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// RateLimitError surfaces a rate-limited call with a retry-after hint. The
// engine applies no backoff of its own.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("github rate limit hit, retry after %s: %v", e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// ValidationError means the API rejected or returned a payload of an
// unexpected shape.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid github payload: %s: %v", e.Reason, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// classifyAPIError maps go-github client errors onto the engine's taxonomy.
// Errors that fit no category pass through unchanged.
func classifyAPIError(resource string, resp *github.Response, err error) error {
	if err == nil {
		return nil
	}
	var rateLimitErr *github.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return &RateLimitError{RetryAfter: time.Until(rateLimitErr.Rate.Reset.Time), Err: err}
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &RateLimitError{RetryAfter: abuseErr.GetRetryAfter(), Err: err}
	}
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusNotFound:
			return &NotFoundError{Resource: resource, Err: err}
		case http.StatusUnprocessableEntity:
			return &ValidationError{Reason: resource, Err: err}
		}
	}
	return err
}
