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
	"sync"
	"time"

	"github.com/google/go-github/v64/github"
)

// Hand-rolled service fakes, shared by this package's tests and the server
// tests. The issue and status fakes keep state across calls so repeated
// validation passes behave like they do against the real API.

func mockResponse(statusCode int) *github.Response {
	return &github.Response{Response: &http.Response{StatusCode: statusCode}}
}

// RepositoriesMock mocks RepositoriesService.
type RepositoriesMock struct {
	mu                     sync.Mutex
	CreatedStatuses        []*github.RepoStatus
	CombinedStatus         *github.CombinedStatus
	CreateStatusError      error
	GetCombinedStatusError error
}

var _ RepositoriesService = (*RepositoriesMock)(nil)

func (r *RepositoriesMock) Get(_ context.Context, owner, repo string) (*github.Repository, *github.Response, error) {
	return &github.Repository{
		Name:     github.String(repo),
		FullName: github.String(owner + "/" + repo),
		Owner:    &github.User{Login: github.String(owner)},
	}, mockResponse(http.StatusOK), nil
}

func (r *RepositoriesMock) CreateStatus(_ context.Context, _, _, _ string, status *github.RepoStatus) (*github.RepoStatus, *github.Response, error) {
	if r.CreateStatusError != nil {
		return nil, mockResponse(http.StatusInternalServerError), r.CreateStatusError
	}
	r.mu.Lock()
	r.CreatedStatuses = append(r.CreatedStatuses, status)
	r.mu.Unlock()
	return status, mockResponse(http.StatusCreated), nil
}

func (r *RepositoriesMock) GetCombinedStatus(_ context.Context, _, _, _ string, _ *github.ListOptions) (*github.CombinedStatus, *github.Response, error) {
	if r.GetCombinedStatusError != nil {
		return nil, mockResponse(http.StatusInternalServerError), r.GetCombinedStatusError
	}
	combined := r.CombinedStatus
	if combined == nil {
		combined = &github.CombinedStatus{}
	}
	return combined, mockResponse(http.StatusOK), nil
}

// UsersMock mocks UsersService.
type UsersMock struct {
	MockUser     *github.User
	MockGetError error
}

var _ UsersService = (*UsersMock)(nil)

func (u *UsersMock) Get(context.Context, string) (*github.User, *github.Response, error) {
	return u.MockUser, mockResponse(http.StatusOK), u.MockGetError
}

// PullRequestsMock mocks PullRequestsService.
type PullRequestsMock struct {
	MockPullRequests     []*github.PullRequest
	MockListError        error
	MockCommits          []*github.RepositoryCommit
	MockListCommitsError error
}

var _ PullRequestsService = (*PullRequestsMock)(nil)

func (p *PullRequestsMock) List(_ context.Context, _, _ string, _ *github.PullRequestListOptions) ([]*github.PullRequest, *github.Response, error) {
	if p.MockListError != nil {
		return nil, mockResponse(http.StatusInternalServerError), p.MockListError
	}
	return p.MockPullRequests, mockResponse(http.StatusOK), nil
}

func (p *PullRequestsMock) ListCommits(_ context.Context, _, _ string, _ int, _ *github.ListOptions) ([]*github.RepositoryCommit, *github.Response, error) {
	if p.MockListCommitsError != nil {
		return nil, mockResponse(http.StatusInternalServerError), p.MockListCommitsError
	}
	return p.MockCommits, mockResponse(http.StatusOK), nil
}

// IssuesMock mocks IssuesService with real label and comment bookkeeping.
type IssuesMock struct {
	mu          sync.Mutex
	RepoLabels  map[string]*github.Label
	IssueLabels []string
	Comments    []*github.IssueComment
	// CommentAuthor is the login attached to every listed and created comment.
	CommentAuthor string

	GetLabelError      error
	CreateLabelError   error
	ListLabelsError    error
	AddLabelsError     error
	RemoveLabelError   error
	ListCommentsError  error
	CreateCommentError error
}

var _ IssuesService = (*IssuesMock)(nil)

func (i *IssuesMock) GetLabel(_ context.Context, _, _, name string) (*github.Label, *github.Response, error) {
	if i.GetLabelError != nil {
		return nil, mockResponse(http.StatusInternalServerError), i.GetLabelError
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if label, ok := i.RepoLabels[name]; ok {
		return label, mockResponse(http.StatusOK), nil
	}
	return nil, mockResponse(http.StatusNotFound), &github.ErrorResponse{Response: &http.Response{StatusCode: http.StatusNotFound}}
}

func (i *IssuesMock) CreateLabel(_ context.Context, _, _ string, label *github.Label) (*github.Label, *github.Response, error) {
	if i.CreateLabelError != nil {
		return nil, mockResponse(http.StatusInternalServerError), i.CreateLabelError
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.RepoLabels == nil {
		i.RepoLabels = map[string]*github.Label{}
	}
	i.RepoLabels[label.GetName()] = label
	return label, mockResponse(http.StatusCreated), nil
}

func (i *IssuesMock) ListLabelsByIssue(_ context.Context, _, _ string, _ int, _ *github.ListOptions) ([]*github.Label, *github.Response, error) {
	if i.ListLabelsError != nil {
		return nil, mockResponse(http.StatusInternalServerError), i.ListLabelsError
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	labels := make([]*github.Label, 0, len(i.IssueLabels))
	for _, name := range i.IssueLabels {
		labels = append(labels, &github.Label{Name: github.String(name)})
	}
	return labels, mockResponse(http.StatusOK), nil
}

func (i *IssuesMock) AddLabelsToIssue(_ context.Context, _, _ string, _ int, labels []string) ([]*github.Label, *github.Response, error) {
	if i.AddLabelsError != nil {
		return nil, mockResponse(http.StatusInternalServerError), i.AddLabelsError
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, name := range labels {
		if !containsString(i.IssueLabels, name) {
			i.IssueLabels = append(i.IssueLabels, name)
		}
	}
	return nil, mockResponse(http.StatusOK), nil
}

func (i *IssuesMock) RemoveLabelForIssue(_ context.Context, _, _ string, _ int, label string) (*github.Response, error) {
	if i.RemoveLabelError != nil {
		return mockResponse(http.StatusInternalServerError), i.RemoveLabelError
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	for index, name := range i.IssueLabels {
		if name == label {
			i.IssueLabels = append(i.IssueLabels[:index], i.IssueLabels[index+1:]...)
			return mockResponse(http.StatusOK), nil
		}
	}
	return mockResponse(http.StatusNotFound), &github.ErrorResponse{Response: &http.Response{StatusCode: http.StatusNotFound}}
}

func (i *IssuesMock) CreateComment(_ context.Context, _, _ string, _ int, comment *github.IssueComment) (*github.IssueComment, *github.Response, error) {
	if i.CreateCommentError != nil {
		return nil, mockResponse(http.StatusInternalServerError), i.CreateCommentError
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	created := &github.IssueComment{
		Body: comment.Body,
		User: &github.User{Login: github.String(i.CommentAuthor)},
	}
	i.Comments = append(i.Comments, created)
	return created, mockResponse(http.StatusCreated), nil
}

func (i *IssuesMock) ListComments(_ context.Context, _, _ string, _ int, _ *github.IssueListCommentsOptions) ([]*github.IssueComment, *github.Response, error) {
	if i.ListCommentsError != nil {
		return nil, mockResponse(http.StatusInternalServerError), i.ListCommentsError
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	comments := make([]*github.IssueComment, len(i.Comments))
	copy(comments, i.Comments)
	return comments, mockResponse(http.StatusOK), nil
}

func containsString(haystack []string, needle string) bool {
	for _, value := range haystack {
		if value == needle {
			return true
		}
	}
	return false
}

// OrganizationsMock mocks OrganizationsService.
type OrganizationsMock struct {
	MockMembers          []string
	MockListMembersError error
}

var _ OrganizationsService = (*OrganizationsMock)(nil)

func (o *OrganizationsMock) ListMembers(_ context.Context, _ string, _ *github.ListMembersOptions) ([]*github.User, *github.Response, error) {
	if o.MockListMembersError != nil {
		return nil, mockResponse(http.StatusInternalServerError), o.MockListMembersError
	}
	members := make([]*github.User, 0, len(o.MockMembers))
	for _, login := range o.MockMembers {
		members = append(members, &github.User{Login: github.String(login)})
	}
	return members, mockResponse(http.StatusOK), nil
}

// AppsMock mocks AppsService.
type AppsMock struct {
	mu                        sync.Mutex
	MockAppSlug               string
	MockInstallations         []*github.Installation
	MockRepos                 []*github.Repository
	MockTokenValue            string
	MockTokenExpiry           time.Time
	TokenCallCount            int
	GetCallCount              int
	MockGetError              error
	MockListInstallationsErr  error
	MockCreateTokenError      error
	MockListReposError        error
	MockGetInstallationResult *github.Installation
}

var _ AppsService = (*AppsMock)(nil)

func (a *AppsMock) Get(context.Context, string) (*github.App, *github.Response, error) {
	a.mu.Lock()
	a.GetCallCount++
	a.mu.Unlock()
	if a.MockGetError != nil {
		return nil, mockResponse(http.StatusInternalServerError), a.MockGetError
	}
	return &github.App{Slug: github.String(a.MockAppSlug)}, mockResponse(http.StatusOK), nil
}

func (a *AppsMock) GetInstallation(context.Context, int64) (*github.Installation, *github.Response, error) {
	return a.MockGetInstallationResult, mockResponse(http.StatusOK), nil
}

func (a *AppsMock) ListInstallations(context.Context, *github.ListOptions) ([]*github.Installation, *github.Response, error) {
	if a.MockListInstallationsErr != nil {
		return nil, mockResponse(http.StatusInternalServerError), a.MockListInstallationsErr
	}
	return a.MockInstallations, mockResponse(http.StatusOK), nil
}

func (a *AppsMock) CreateInstallationToken(context.Context, int64, *github.InstallationTokenOptions) (*github.InstallationToken, *github.Response, error) {
	a.mu.Lock()
	a.TokenCallCount++
	a.mu.Unlock()
	if a.MockCreateTokenError != nil {
		return nil, mockResponse(http.StatusUnauthorized), a.MockCreateTokenError
	}
	expiry := a.MockTokenExpiry
	if expiry.IsZero() {
		expiry = time.Now().Add(time.Hour)
	}
	return &github.InstallationToken{
		Token:     github.String(a.MockTokenValue),
		ExpiresAt: &github.Timestamp{Time: expiry},
	}, mockResponse(http.StatusCreated), nil
}

func (a *AppsMock) ListRepos(context.Context, *github.ListOptions) (*github.ListRepositories, *github.Response, error) {
	if a.MockListReposError != nil {
		return nil, mockResponse(http.StatusInternalServerError), a.MockListReposError
	}
	return &github.ListRepositories{Repositories: a.MockRepos}, mockResponse(http.StatusOK), nil
}

// GHInterfaceMock implements GHInterface. Every client it hands out shares
// the same underlying mocks, so state accumulates across validation passes.
type GHInterfaceMock struct {
	RepositoriesMock  RepositoriesMock
	UsersMock         UsersMock
	PullRequestsMock  PullRequestsMock
	IssuesMock        IssuesMock
	OrganizationsMock OrganizationsMock
	AppsMock          AppsMock
}

var _ GHInterface = (*GHInterfaceMock)(nil)

func (g *GHInterfaceMock) NewClient(_ *http.Client) GHClient {
	return GHClient{
		Repositories:  &g.RepositoriesMock,
		Users:         &g.UsersMock,
		PullRequests:  &g.PullRequestsMock,
		Issues:        &g.IssuesMock,
		Organizations: &g.OrganizationsMock,
		Apps:          &g.AppsMock,
	}
}

// SetupMockGHImpl swaps the process-wide client factory for the mock and
// returns the function that restores it.
func SetupMockGHImpl(mock *GHInterfaceMock) (resetImpl func()) {
	origGHImpl := GHImpl
	GHImpl = mock
	return func() {
		GHImpl = origGHImpl
	}
}
