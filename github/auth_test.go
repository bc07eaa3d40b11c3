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
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-github/v64/github"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestInstallationTokenIsCachedUntilExpiry(t *testing.T) {
	apps := &AppsMock{MockTokenValue: "token-1", MockTokenExpiry: time.Now().Add(time.Hour)}
	auth := newAppAuthenticator(42, apps, zaptest.NewLogger(t))

	token, err := auth.InstallationToken(context.Background(), 99)
	assert.NoError(t, err)
	assert.Equal(t, "token-1", token)

	token, err = auth.InstallationToken(context.Background(), 99)
	assert.NoError(t, err)
	assert.Equal(t, "token-1", token)
	assert.Equal(t, 1, apps.TokenCallCount)
}

func TestInstallationTokenCachedPerInstallation(t *testing.T) {
	apps := &AppsMock{MockTokenValue: "token", MockTokenExpiry: time.Now().Add(time.Hour)}
	auth := newAppAuthenticator(42, apps, zaptest.NewLogger(t))

	_, err := auth.InstallationToken(context.Background(), 1)
	assert.NoError(t, err)
	_, err = auth.InstallationToken(context.Background(), 2)
	assert.NoError(t, err)
	assert.Equal(t, 2, apps.TokenCallCount)
}

func TestInstallationTokenRefreshesWithinExpiryMargin(t *testing.T) {
	// the token expires sooner than the safety margin, so every use refreshes
	apps := &AppsMock{MockTokenValue: "short-lived", MockTokenExpiry: time.Now().Add(30 * time.Second)}
	auth := newAppAuthenticator(42, apps, zaptest.NewLogger(t))

	_, err := auth.InstallationToken(context.Background(), 99)
	assert.NoError(t, err)
	_, err = auth.InstallationToken(context.Background(), 99)
	assert.NoError(t, err)
	assert.Equal(t, 2, apps.TokenCallCount)
}

func TestInstallationTokenRefreshesAfterClockAdvance(t *testing.T) {
	apps := &AppsMock{MockTokenValue: "token", MockTokenExpiry: time.Now().Add(10 * time.Minute)}
	auth := newAppAuthenticator(42, apps, zaptest.NewLogger(t))

	_, err := auth.InstallationToken(context.Background(), 99)
	assert.NoError(t, err)

	auth.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	_, err = auth.InstallationToken(context.Background(), 99)
	assert.NoError(t, err)
	assert.Equal(t, 2, apps.TokenCallCount)
}

// slowApps delays token issuance long enough for concurrent callers to pile
// up on the same flight.
type slowApps struct {
	AppsMock
}

func (s *slowApps) CreateInstallationToken(ctx context.Context, id int64, opts *github.InstallationTokenOptions) (*github.InstallationToken, *github.Response, error) {
	time.Sleep(50 * time.Millisecond)
	return s.AppsMock.CreateInstallationToken(ctx, id, opts)
}

func TestInstallationTokenConcurrentRefreshesCoalesce(t *testing.T) {
	apps := &slowApps{AppsMock{MockTokenValue: "token", MockTokenExpiry: time.Now().Add(time.Hour)}}
	auth := newAppAuthenticator(42, apps, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := auth.InstallationToken(context.Background(), 99)
			assert.NoError(t, err)
			assert.Equal(t, "token", token)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, apps.TokenCallCount)
}

func TestInstallationTokenExchangeFailureIsAuthError(t *testing.T) {
	forcedError := fmt.Errorf("forced CreateInstallationToken error")
	apps := &AppsMock{MockCreateTokenError: forcedError}
	auth := newAppAuthenticator(42, apps, zaptest.NewLogger(t))

	_, err := auth.InstallationToken(context.Background(), 99)
	var authErr *AuthError
	assert.True(t, errors.As(err, &authErr))
	assert.ErrorIs(t, err, forcedError)
}

func TestNewAppAuthenticatorMissingKeyFile(t *testing.T) {
	_, err := NewAppAuthenticator(42, "no-such-file.pem", zaptest.NewLogger(t))
	var authErr *AuthError
	assert.True(t, errors.As(err, &authErr))
}

func TestBotLogin(t *testing.T) {
	apps := &AppsMock{MockAppSlug: "salesforce-cla"}
	auth := newAppAuthenticator(42, apps, zaptest.NewLogger(t))

	login, err := auth.BotLogin(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "salesforce-cla[bot]", login)
}

func TestBotLoginIsCached(t *testing.T) {
	apps := &AppsMock{MockAppSlug: "salesforce-cla"}
	auth := newAppAuthenticator(42, apps, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		login, err := auth.BotLogin(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, "salesforce-cla[bot]", login)
	}
	assert.Equal(t, 1, apps.GetCallCount)
}

func TestBotLoginFailureIsNotCached(t *testing.T) {
	apps := &AppsMock{MockGetError: fmt.Errorf("forced Get app error")}
	auth := newAppAuthenticator(42, apps, zaptest.NewLogger(t))

	_, err := auth.BotLogin(context.Background())
	assert.Error(t, err)

	apps.MockGetError = nil
	apps.MockAppSlug = "salesforce-cla"
	login, err := auth.BotLogin(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "salesforce-cla[bot]", login)
}

func TestBotLoginGetAppError(t *testing.T) {
	forcedError := fmt.Errorf("forced Get app error")
	apps := &AppsMock{MockGetError: forcedError}
	auth := newAppAuthenticator(42, apps, zaptest.NewLogger(t))

	_, err := auth.BotLogin(context.Background())
	var authErr *AuthError
	assert.True(t, errors.As(err, &authErr))
}
