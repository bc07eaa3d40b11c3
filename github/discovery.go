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

	"github.com/google/go-github/v64/github"
	"go.uber.org/zap"

	"github.com/salesforce/salesforce-cla/types"
)

// PullRequestDiscovery enumerates open pull requests, across everything the
// App is installed on, whose CLA status is not green yet. It only reads:
// discovery triggers re-validation, the validator applies the side effects,
// so calling it repeatedly is safe.
type PullRequestDiscovery struct {
	auth     *AppAuthenticator
	logger   *zap.Logger
	maxPages int
}

// NewPullRequestDiscovery builds a discovery sweep bounded to maxPages per
// listing call; zero means the default bound.
func NewPullRequestDiscovery(auth *AppAuthenticator, maxPages int, logger *zap.Logger) *PullRequestDiscovery {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &PullRequestDiscovery{
		auth:     auth,
		logger:   logger,
		maxPages: maxPages,
	}
}

// PendingValidation returns every open pull request visible to the App whose
// most recent CLA commit status is not success. Closed pull requests and
// already-green pull requests are excluded.
func (d *PullRequestDiscovery) PendingValidation(ctx context.Context) ([]types.PullRequest, error) {
	installations, err := d.listInstallations(ctx)
	if err != nil {
		return nil, err
	}

	var pending []types.PullRequest
	for _, installation := range installations {
		client, err := d.auth.InstallationClient(ctx, installation.GetID())
		if err != nil {
			return nil, err
		}
		repos, err := d.listRepos(ctx, client.Apps)
		if err != nil {
			return nil, err
		}
		for _, repo := range repos {
			prs, err := d.pendingInRepo(ctx, client, installation.GetID(), repo)
			if err != nil {
				return nil, err
			}
			pending = append(pending, prs...)
		}
	}

	d.logger.Info("discovered pull requests pending validation",
		zap.Int("installations", len(installations)),
		zap.Int("pending", len(pending)),
	)
	return pending, nil
}

func (d *PullRequestDiscovery) listInstallations(ctx context.Context) ([]*github.Installation, error) {
	var installations []*github.Installation
	err := forEachPage(d.maxPages, func(page int) (*github.Response, error) {
		opts := &github.ListOptions{Page: page, PerPage: perPage}
		pageInstallations, resp, err := d.auth.AppsClient().ListInstallations(ctx, opts)
		if err != nil {
			return resp, classifyAPIError("installations", resp, err)
		}
		installations = append(installations, pageInstallations...)
		return resp, nil
	})
	return installations, err
}

func (d *PullRequestDiscovery) listRepos(ctx context.Context, apps AppsService) ([]*github.Repository, error) {
	var repos []*github.Repository
	err := forEachPage(d.maxPages, func(page int) (*github.Response, error) {
		opts := &github.ListOptions{Page: page, PerPage: perPage}
		pageRepos, resp, err := apps.ListRepos(ctx, opts)
		if err != nil {
			return resp, classifyAPIError("installation repos", resp, err)
		}
		repos = append(repos, pageRepos.Repositories...)
		return resp, nil
	})
	return repos, err
}

func (d *PullRequestDiscovery) pendingInRepo(ctx context.Context, client GHClient, installationID int64, repo *github.Repository) ([]types.PullRequest, error) {
	owner := repo.GetOwner().GetLogin()
	name := repo.GetName()

	var open []*github.PullRequest
	err := forEachPage(d.maxPages, func(page int) (*github.Response, error) {
		opts := &github.PullRequestListOptions{
			State:       "open",
			ListOptions: github.ListOptions{Page: page, PerPage: perPage},
		}
		prs, resp, err := client.PullRequests.List(ctx, owner, name, opts)
		if err != nil {
			return resp, classifyAPIError("pull requests", resp, err)
		}
		open = append(open, prs...)
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	var pending []types.PullRequest
	for _, pr := range open {
		green, err := d.hasSuccessStatus(ctx, client.Repositories, owner, name, pr.GetHead().GetSHA())
		if err != nil {
			return nil, err
		}
		if green {
			continue
		}
		pending = append(pending, types.PullRequest{
			Repo:           types.OwnerRepo{Owner: types.Owner(owner), Name: name},
			Number:         pr.GetNumber(),
			HeadSHA:        pr.GetHead().GetSHA(),
			State:          pr.GetState(),
			CreatorLogin:   pr.GetUser().GetLogin(),
			InstallationID: installationID,
		})
	}
	return pending, nil
}

// hasSuccessStatus reports whether the most recent CLA status on the ref is
// success. The combined status carries the latest status per context, so one
// lookup answers it.
func (d *PullRequestDiscovery) hasSuccessStatus(ctx context.Context, repos RepositoriesService, owner, name, ref string) (bool, error) {
	combined, resp, err := repos.GetCombinedStatus(ctx, owner, name, ref, &github.ListOptions{PerPage: perPage})
	if err != nil {
		return false, classifyAPIError("combined status", resp, err)
	}
	for _, status := range combined.Statuses {
		if status.GetContext() == StatusContext {
			return status.GetState() == string(OutcomeSuccess), nil
		}
	}
	return false, nil
}
