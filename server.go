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

package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	webhook "gopkg.in/go-playground/webhooks.v5/github"

	"github.com/salesforce/salesforce-cla/db"
	ourGithub "github.com/salesforce/salesforce-cla/github"
	"github.com/salesforce/salesforce-cla/oauth"
	"github.com/salesforce/salesforce-cla/types"
)

const pathClaText string = "/cla-text"
const pathOAuthLogin string = "/oauth-login"
const pathOAuthCallback string = "/oauth-callback"
const pathSignCla string = "/sign-cla"
const pathWebhook string = "/webhook-integration"
const pathRevalidate string = "/revalidate"
const buildLocation string = "build"

const envClsUrl string = "CLA_URL"
const msgMissingClaUrl string = "missing " + envClsUrl + " environment variable"
const envClaVersion string = "CLA_VERSION"
const envAppUrl string = "CLA_APP_URL"
const envOrgDomain string = "ORG_DOMAIN"
const envGhWebhookSecret string = "GH_WEBHOOK_SECRET"
const envReactAppGithubClientId string = "REACT_APP_GITHUB_CLIENT_ID"
const envGithubClientSecret string = "GITHUB_CLIENT_SECRET"

// replaced with a production logger in main
var logger = zap.NewNop()

var postgresDB db.IClaDB
var validator *ourGithub.PullRequestValidator
var discovery *ourGithub.PullRequestDiscovery
var claVersion string

func main() {
	e := echo.New()

	prodLogger, err := zap.NewProduction()
	if err != nil {
		e.Logger.Fatal(err)
	}
	logger = prodLogger
	defer func() {
		_ = logger.Sync()
	}()

	if err := godotenv.Load(".env"); err != nil {
		logger.Info("no .env file loaded", zap.Error(err))
	}

	pg, err := openPostgres()
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	postgresDB = db.New(pg, logger)
	if err := postgresDB.MigrateDB("file://db/migrations"); err != nil {
		logger.Fatal("database migration failed", zap.Error(err))
	}

	appId, err := ourGithub.GetAppId()
	if err != nil {
		logger.Fatal("invalid "+ourGithub.EnvGhAppId, zap.Error(err))
	}
	auth, err := ourGithub.NewAppAuthenticator(appId, ourGithub.FilenameClaPem, logger)
	if err != nil {
		logger.Fatal("failed to set up App authentication", zap.Error(err))
	}

	claVersion = os.Getenv(envClaVersion)
	validator = ourGithub.NewPullRequestValidator(
		auth,
		func(ctx context.Context, contributors []types.Contributor) ([]types.Contributor, error) {
			return postgresDB.LookupSignedContributors(contributors, claVersion)
		},
		ourGithub.ValidatorConfig{
			CLAVersion: claVersion,
			AppURL:     os.Getenv(envAppUrl),
			OrgDomain:  os.Getenv(envOrgDomain),
		},
		logger,
	)
	discovery = ourGithub.NewPullRequestDiscovery(auth, 0, logger)

	e.Use(middleware.CORS())

	e.GET(pathClaText, retrieveCLAText)
	e.GET(pathOAuthLogin, redirectToGitHubLogin)
	e.GET(pathOAuthCallback, processGitHubOAuth)
	e.PUT(pathSignCla, processSignCla)
	e.POST(pathWebhook, processWebhook)
	e.POST(pathRevalidate, processRevalidate)

	e.Static("/", buildLocation)

	addr := ":4200"
	e.Logger.Fatal(e.Start(addr))
}

func openPostgres() (*sql.DB, error) {
	psqlInfo := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		os.Getenv("POSTGRES_HOST"),
		os.Getenv("POSTGRES_PORT"),
		os.Getenv("POSTGRES_USERNAME"),
		os.Getenv("POSTGRES_PASSWORD"),
		os.Getenv("POSTGRES_DB_NAME"),
	)
	pg, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, err
	}
	return pg, pg.Ping()
}

const oauthStateCookieName string = "oauth-state"

func newOAuth() oauth.OAuthInterface {
	return oauth.CreateOAuth(os.Getenv(envReactAppGithubClientId), os.Getenv(envGithubClientSecret))
}

// redirectToGitHubLogin starts the signing flow: issue a state nonce, park it
// in a cookie, and send the browser to GitHub's authorize page carrying the
// same nonce.
func redirectToGitHubLogin(c echo.Context) error {
	state := oauth.RandomState()
	c.SetCookie(&http.Cookie{
		Name:     oauthStateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
	})
	return c.Redirect(http.StatusFound, newOAuth().AuthCodeURL(state))
}

func processGitHubOAuth(c echo.Context) (err error) {
	code := c.QueryParam("code")
	state := c.QueryParam("state")
	if state == "" {
		return
	}

	// the state must match the nonce parked by redirectToGitHubLogin
	cookie, cookieErr := c.Cookie(oauthStateCookieName)
	if cookieErr != nil || cookie.Value == "" || cookie.Value != state {
		logger.Warn("oauth state mismatch, rejecting callback")
		return c.NoContent(http.StatusUnauthorized)
	}

	user, err := newOAuth().GetOAuthUser(logger, code)
	if err != nil {
		return
	}

	return c.JSON(http.StatusOK, user)
}

// processSignCla records a signature and then re-runs validation on every
// pull request that was parked waiting for this user to sign.
func processSignCla(c echo.Context) (err error) {
	user := new(types.UserSignature)
	if err = c.Bind(user); err != nil {
		logger.Error("could not decode signature request", zap.Error(err))
		return
	}
	user.TimeSigned = time.Now()

	if err = postgresDB.InsertSignature(user); err != nil {
		logger.Error("could not store signature", zap.Error(err))
		return
	}

	prs, err := postgresDB.GetPRsForUser(user.User.Login, user.CLAVersion)
	if err != nil {
		logger.Error("could not look up parked pull requests",
			zap.String("login", user.User.Login),
			zap.Error(err),
		)
		return
	}

	for _, result := range validator.ValidateAll(c.Request().Context(), prs) {
		if result.Err != nil {
			logger.Error("re-validation after signing failed",
				zap.Any("pullRequest", result.PullRequest),
				zap.Error(result.Err),
			)
			continue
		}
		if result.Outcome == ourGithub.OutcomeSuccess {
			if err := postgresDB.RemovePR(result.PullRequest); err != nil {
				logger.Error("could not unpark pull request",
					zap.Any("pullRequest", result.PullRequest),
					zap.Error(err),
				)
			}
		}
	}

	return c.JSON(http.StatusCreated, user)
}

func processWebhook(c echo.Context) (err error) {
	var opts []webhook.Option
	if secret := os.Getenv(envGhWebhookSecret); secret != "" {
		opts = append(opts, webhook.Options.Secret(secret))
	}
	hook, err := webhook.New(opts...)
	if err != nil {
		return
	}

	payload, err := hook.Parse(c.Request(), webhook.PullRequestEvent)
	if err != nil {
		if err == webhook.ErrEventNotFound {
			return c.String(http.StatusOK, "skipping unhandled event type")
		}
		logger.Error("webhook parse failed", zap.Error(err))
		return
	}

	switch payload := payload.(type) {
	case webhook.PullRequestPayload:
		switch payload.Action {
		case "opened", "reopened", "synchronize":
			return validateFromWebhook(c, payload)
		default:
			return c.String(http.StatusOK, fmt.Sprintf("no action taken for: %s", payload.Action))
		}
	default:
		return c.String(http.StatusOK, "skipping unhandled payload type")
	}
}

func validateFromWebhook(c echo.Context, payload webhook.PullRequestPayload) error {
	pr := types.PullRequest{
		Repo: types.OwnerRepo{
			Owner: types.Owner(payload.Repository.Owner.Login),
			Name:  payload.Repository.Name,
		},
		Number:         int(payload.Number),
		HeadSHA:        payload.PullRequest.Head.Sha,
		State:          payload.PullRequest.State,
		CreatorLogin:   payload.PullRequest.User.Login,
		InstallationID: payload.Installation.ID,
	}

	result, err := validator.Validate(c.Request().Context(), pr)
	if err != nil {
		logger.Error("pull request validation failed",
			zap.Any("pullRequest", pr),
			zap.Error(err),
		)
		return err
	}

	if result.Outcome == ourGithub.OutcomeFailure {
		err = postgresDB.StorePRAuthorsMissingSignature(pr, result.Unsigned, claVersion, time.Now())
		if err != nil {
			logger.Error("could not park pull request for unsigned authors",
				zap.Any("pullRequest", pr),
				zap.Error(err),
			)
			return err
		}
	}

	return c.JSON(http.StatusAccepted, result)
}

// processRevalidate sweeps every installation for open pull requests that
// never reached a passing CLA status and validates each one. Used after
// deploys and signature imports, when webhook deliveries may have been
// missed.
func processRevalidate(c echo.Context) (err error) {
	prs, err := discovery.PendingValidation(c.Request().Context())
	if err != nil {
		logger.Error("pull request discovery failed", zap.Error(err))
		return
	}

	results := validator.ValidateAll(c.Request().Context(), prs)
	var succeeded, failed, errored int
	for _, result := range results {
		switch {
		case result.Err != nil:
			errored++
		case result.Outcome == ourGithub.OutcomeSuccess:
			succeeded++
		default:
			failed++
		}
	}

	return c.JSON(http.StatusOK, map[string]int{
		"checked":   len(results),
		"succeeded": succeeded,
		"failed":    failed,
		"errors":    errored,
	})
}

var claTextCache struct {
	sync.Mutex
	url  string
	text string
}

func retrieveCLAText(c echo.Context) (err error) {
	claURL := os.Getenv(envClsUrl)
	if claURL == "" {
		return fmt.Errorf(msgMissingClaUrl)
	}

	claTextCache.Lock()
	defer claTextCache.Unlock()
	if claTextCache.url == claURL {
		return c.String(http.StatusOK, claTextCache.text)
	}

	resp, err := http.Get(claURL)
	if err != nil {
		logger.Error("fetching cla text failed", zap.Error(err))
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("unexpected cla text response code: %d", resp.StatusCode)
		logger.Error(err.Error())
		return
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error("reading cla text failed", zap.Error(err))
		return
	}

	claTextCache.url = claURL
	claTextCache.text = string(content)

	return c.String(http.StatusOK, claTextCache.text)
}
