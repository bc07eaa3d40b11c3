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
	"fmt"
	"testing"

	"github.com/google/go-github/v64/github"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/salesforce/salesforce-cla/types"
)

func setupDiscovery(t *testing.T, mock *GHInterfaceMock) (*PullRequestDiscovery, func()) {
	mock.AppsMock.MockTokenValue = "installation-token"
	resetImpl := SetupMockGHImpl(mock)
	auth := newAppAuthenticator(42, &mock.AppsMock, zaptest.NewLogger(t))
	return NewPullRequestDiscovery(auth, 0, zaptest.NewLogger(t)), resetImpl
}

func openPullRequest(number int, sha string) *github.PullRequest {
	return &github.PullRequest{
		Number: github.Int(number),
		State:  github.String("open"),
		User:   &github.User{Login: github.String("someone")},
		Head:   &github.PullRequestBranch{SHA: github.String(sha)},
	}
}

func claStatus(state string) *github.RepoStatus {
	return &github.RepoStatus{
		State:   github.String(state),
		Context: github.String(StatusContext),
	}
}

func discoveryMock(combined *github.CombinedStatus) *GHInterfaceMock {
	return &GHInterfaceMock{
		AppsMock: AppsMock{
			MockInstallations: []*github.Installation{{ID: github.Int64(99)}},
			MockRepos: []*github.Repository{{
				Name:  github.String("widget"),
				Owner: &github.User{Login: github.String("salesforce")},
			}},
		},
		PullRequestsMock: PullRequestsMock{
			MockPullRequests: []*github.PullRequest{openPullRequest(7, "abc123")},
		},
		RepositoriesMock: RepositoriesMock{CombinedStatus: combined},
	}
}

func TestPendingValidationIncludesPRWithoutClaStatus(t *testing.T) {
	mock := discoveryMock(&github.CombinedStatus{})
	discovery, resetImpl := setupDiscovery(t, mock)
	defer resetImpl()

	pending, err := discovery.PendingValidation(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []types.PullRequest{{
		Repo:           types.OwnerRepo{Owner: "salesforce", Name: "widget"},
		Number:         7,
		HeadSHA:        "abc123",
		State:          "open",
		CreatorLogin:   "someone",
		InstallationID: 99,
	}}, pending)
}

func TestPendingValidationIncludesPRWithFailureStatus(t *testing.T) {
	mock := discoveryMock(&github.CombinedStatus{
		Statuses: []*github.RepoStatus{claStatus("failure")},
	})
	discovery, resetImpl := setupDiscovery(t, mock)
	defer resetImpl()

	pending, err := discovery.PendingValidation(context.Background())
	assert.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestPendingValidationExcludesGreenPR(t *testing.T) {
	mock := discoveryMock(&github.CombinedStatus{
		Statuses: []*github.RepoStatus{claStatus("success")},
	})
	discovery, resetImpl := setupDiscovery(t, mock)
	defer resetImpl()

	pending, err := discovery.PendingValidation(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPendingValidationIgnoresOtherStatusContexts(t *testing.T) {
	mock := discoveryMock(&github.CombinedStatus{
		Statuses: []*github.RepoStatus{{
			State:   github.String("success"),
			Context: github.String("ci/unrelated"),
		}},
	})
	discovery, resetImpl := setupDiscovery(t, mock)
	defer resetImpl()

	pending, err := discovery.PendingValidation(context.Background())
	assert.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestPendingValidationNoInstallations(t *testing.T) {
	mock := &GHInterfaceMock{}
	discovery, resetImpl := setupDiscovery(t, mock)
	defer resetImpl()

	pending, err := discovery.PendingValidation(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, pending)
}

func TestNewPullRequestDiscoveryPageBound(t *testing.T) {
	bounded := NewPullRequestDiscovery(nil, 3, zaptest.NewLogger(t))
	assert.Equal(t, 3, bounded.maxPages)

	unbounded := NewPullRequestDiscovery(nil, 0, zaptest.NewLogger(t))
	assert.Equal(t, defaultMaxPages, unbounded.maxPages)
}

func TestPendingValidationListInstallationsError(t *testing.T) {
	forcedError := fmt.Errorf("forced ListInstallations error")
	mock := &GHInterfaceMock{AppsMock: AppsMock{MockListInstallationsErr: forcedError}}
	discovery, resetImpl := setupDiscovery(t, mock)
	defer resetImpl()

	_, err := discovery.PendingValidation(context.Background())
	assert.ErrorIs(t, err, forcedError)
}
