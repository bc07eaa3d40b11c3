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
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const EnvGhAppId = "GH_APP_ID"

func getPemLocation() string {
	fromEnv := os.Getenv("CLA_PEM_FILE")
	if len(fromEnv) == 0 {
		return "salesforce-cla.pem"
	}
	return fromEnv
}

// FilenameClaPem is the location of the GitHub App private key.
var FilenameClaPem = getPemLocation()

func GetAppId() (appId int64, err error) {
	appId, err = strconv.ParseInt(os.Getenv(EnvGhAppId), 10, 64)
	return
}

// tokenExpiryMargin is how close to expiry a cached installation token may
// get before the next use refreshes it.
const tokenExpiryMargin = time.Minute

type installationToken struct {
	value     string
	expiresAt time.Time
}

// AppAuthenticator turns the GitHub App identity into short-lived,
// installation-scoped API credentials. Tokens are cached per installation and
// reused until they approach expiry; concurrent refreshes for the same
// installation coalesce into one token-issuance request.
type AppAuthenticator struct {
	appID  int64
	apps   AppsService
	logger *zap.Logger
	now    func() time.Time

	group   singleflight.Group
	cacheMu sync.RWMutex
	cache   map[int64]installationToken

	botMu    sync.Mutex
	botLogin string
}

// NewAppAuthenticator loads the App private key and prepares a
// JWT-authenticated apps client for token issuance. A bad or missing key is
// an AuthError; nothing later in the pipeline can recover from it.
func NewAppAuthenticator(appID int64, privateKeyFile string, logger *zap.Logger) (*AppAuthenticator, error) {
	transport, err := ghinstallation.NewAppsTransportKeyFromFile(http.DefaultTransport, appID, privateKeyFile)
	if err != nil {
		logger.Error("failed to load App signing key",
			zap.Int64("appId", appID),
			zap.String("privateKeyFile", privateKeyFile),
			zap.Error(err),
		)
		return nil, &AuthError{Op: "load signing key", Err: err}
	}
	apps := GHImpl.NewClient(&http.Client{Transport: transport}).Apps
	return newAppAuthenticator(appID, apps, logger), nil
}

func newAppAuthenticator(appID int64, apps AppsService, logger *zap.Logger) *AppAuthenticator {
	return &AppAuthenticator{
		appID:  appID,
		apps:   apps,
		logger: logger,
		now:    time.Now,
		cache:  map[int64]installationToken{},
	}
}

// InstallationToken returns a bearer token scoped to the given installation,
// issuing a new one only when no fresh cached token exists.
func (a *AppAuthenticator) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	if token, ok := a.cachedToken(installationID); ok {
		return token, nil
	}

	value, err, _ := a.group.Do(strconv.FormatInt(installationID, 10), func() (interface{}, error) {
		// a refresh may have landed while this call waited on the flight
		if token, ok := a.cachedToken(installationID); ok {
			return token, nil
		}
		return a.refreshToken(ctx, installationID)
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// InstallationClient returns a GHClient whose calls carry an installation
// token for the given installation.
func (a *AppAuthenticator) InstallationClient(ctx context.Context, installationID int64) (GHClient, error) {
	token, err := a.InstallationToken(ctx, installationID)
	if err != nil {
		return GHClient{}, err
	}
	return newTokenClient(ctx, token), nil
}

// AppsClient exposes the JWT-authenticated apps service, for calls that act
// as the App itself (installation listing, app metadata).
func (a *AppAuthenticator) AppsClient() AppsService {
	return a.apps
}

func (a *AppAuthenticator) cachedToken(installationID int64) (string, bool) {
	a.cacheMu.RLock()
	defer a.cacheMu.RUnlock()
	token, ok := a.cache[installationID]
	if !ok || !a.now().Add(tokenExpiryMargin).Before(token.expiresAt) {
		return "", false
	}
	return token.value, true
}

func (a *AppAuthenticator) refreshToken(ctx context.Context, installationID int64) (string, error) {
	issued, resp, err := a.apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		a.logger.Error("installation token exchange failed",
			zap.Int64("appId", a.appID),
			zap.Int64("installationId", installationID),
			zap.Error(err),
		)
		return "", &AuthError{Op: "create installation token", Err: classifyAPIError("installation", resp, err)}
	}

	a.cacheMu.Lock()
	a.cache[installationID] = installationToken{
		value:     issued.GetToken(),
		expiresAt: issued.GetExpiresAt().Time,
	}
	a.cacheMu.Unlock()

	a.logger.Debug("issued installation token",
		zap.Int64("installationId", installationID),
		zap.Time("expiresAt", issued.GetExpiresAt().Time),
	)
	return issued.GetToken(), nil
}

// BotLogin reports the login GitHub uses for comments authored by this App.
// The App slug never changes while the process runs, so the first answer is
// cached for good.
func (a *AppAuthenticator) BotLogin(ctx context.Context) (string, error) {
	a.botMu.Lock()
	defer a.botMu.Unlock()
	if a.botLogin != "" {
		return a.botLogin, nil
	}
	app, resp, err := a.apps.Get(ctx, "")
	if err != nil {
		return "", &AuthError{Op: "get app", Err: classifyAPIError("app", resp, err)}
	}
	a.botLogin = app.GetSlug() + "[bot]"
	return a.botLogin, nil
}
