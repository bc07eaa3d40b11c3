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
	"net/http"
	"strings"
	"sync"

	"github.com/google/go-github/v64/github"
	"go.uber.org/zap"

	"github.com/salesforce/salesforce-cla/types"
)

// Outcome is the decided commit status state for a pull request. Pending is
// only ever an in-flight state, never a resting one.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// StatusContext is the fixed context string all commit statuses are filed
// under.
const StatusContext = "salesforce-cla"

const (
	LabelNameMissing = "cla:missing"
	LabelNameSigned  = "cla:signed"
)

type labelSpec struct {
	name        string
	color       string
	description string
}

var (
	labelMissing = labelSpec{LabelNameMissing, "ff3333", "The CLA needs to be signed"}
	labelSigned  = labelSpec{LabelNameSigned, "66cc00", "The CLA is signed"}
)

// SignatureLookup resolves which of the given contributors have signed the
// currently configured CLA version. It is injected so the validator can be
// exercised without a live signature store.
type SignatureLookup func(ctx context.Context, contributors []types.Contributor) ([]types.Contributor, error)

// ValidatorConfig carries the deployment-specific knobs of the validator.
type ValidatorConfig struct {
	// CLAVersion is the agreement version signatures are checked against.
	CLAVersion string
	// AppURL is where contributors go to sign; it is also the commit status
	// target URL.
	AppURL string
	// OrgDomain is the company email domain. A committer from this domain
	// with no GitHub account gets pointed at internal instructions instead
	// of the public CLA form.
	OrgDomain string
	// MaxPages bounds every listing call. Zero means the default bound.
	MaxPages int
}

// ValidationResult is the audit record of one validation pass.
type ValidationResult struct {
	PullRequest types.PullRequest
	Outcome     Outcome
	Status      *github.RepoStatus
	Response    *github.Response
	// Unsigned holds the external contributors still missing a signature
	// when the outcome is a failure.
	Unsigned []types.Contributor
	Err      error
}

// PullRequestValidator reconciles one pull request at a time: it resolves
// commit authors, computes the external-unsigned set, decides an outcome and
// applies status, label and comment idempotently. Pipelines for different
// pull requests are independent and may run concurrently; the only shared
// state is the authenticator's token cache.
type PullRequestValidator struct {
	auth     *AppAuthenticator
	lookup   SignatureLookup
	config   ValidatorConfig
	logger   *zap.Logger
	maxPages int
}

func NewPullRequestValidator(auth *AppAuthenticator, lookup SignatureLookup, config ValidatorConfig, logger *zap.Logger) *PullRequestValidator {
	maxPages := config.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &PullRequestValidator{
		auth:     auth,
		lookup:   lookup,
		config:   config,
		logger:   logger,
		maxPages: maxPages,
	}
}

// Validate runs the full reconciliation pipeline for one pull request. Any
// API error is surfaced to the caller as-is: prior status, labels and
// comments are left untouched and nothing is retried here.
func (v *PullRequestValidator) Validate(ctx context.Context, pr types.PullRequest) (*ValidationResult, error) {
	logger := v.logger.With(
		zap.String("repo", pr.Repo.String()),
		zap.Int("pr", pr.Number),
		zap.String("sha", pr.HeadSHA),
	)
	logger.Debug("start validating pull request")

	client, err := v.auth.InstallationClient(ctx, pr.InstallationID)
	if err != nil {
		return nil, err
	}
	botLogin, err := v.auth.BotLogin(ctx)
	if err != nil {
		return nil, err
	}

	// no definitive answer until the membership and signature queries below
	// come back
	if _, _, err = v.createStatus(ctx, client.Repositories, pr, OutcomePending, "The CLA check is running"); err != nil {
		return nil, err
	}

	commits, err := v.listCommits(ctx, client.PullRequests, pr)
	if err != nil {
		return nil, err
	}
	contributors := ResolveContributors(commits)

	external, err := v.externalContributors(ctx, client.Organizations, pr.Repo.Owner, contributors)
	if err != nil {
		return nil, err
	}

	signed, err := v.lookup(ctx, external.Values())
	if err != nil {
		return nil, err
	}
	unsigned := external.Minus(types.NewContributorSet(signed...))

	logger.Info("decided pull request outcome",
		zap.Int("contributors", len(contributors)),
		zap.Int("external", len(external)),
		zap.Int("unsigned", len(unsigned)),
	)

	if len(unsigned) == 0 {
		return v.applySuccess(ctx, client, pr)
	}
	return v.applyFailure(ctx, client, pr, botLogin, unsigned)
}

// externalContributors filters the resolved set down to contributors who are
// neither bot accounts nor members of the owning organization.
func (v *PullRequestValidator) externalContributors(ctx context.Context, orgs OrganizationsService, owner types.Owner, contributors types.ContributorSet) (types.ContributorSet, error) {
	oracle := NewMembershipOracle(orgs, v.maxPages, v.logger)
	external := types.ContributorSet{}
	for _, contributor := range contributors.Values() {
		if user, ok := contributor.(types.User); ok {
			if user.Bot {
				continue
			}
			member, err := oracle.IsMember(ctx, owner, contributor)
			if err != nil {
				return nil, err
			}
			if member {
				continue
			}
		}
		// TODO: not include the internal user
		external.Add(contributor)
	}
	return external, nil
}

func (v *PullRequestValidator) applySuccess(ctx context.Context, client GHClient, pr types.PullRequest) (*ValidationResult, error) {
	status, resp, err := v.createStatus(ctx, client.Repositories, pr, OutcomeSuccess, "All contributors have signed the CLA or are internal")
	if err != nil {
		return nil, err
	}
	if err = v.syncLabels(ctx, client.Issues, pr, labelSigned, labelMissing); err != nil {
		return nil, err
	}
	return &ValidationResult{PullRequest: pr, Outcome: OutcomeSuccess, Status: status, Response: resp}, nil
}

func (v *PullRequestValidator) applyFailure(ctx context.Context, client GHClient, pr types.PullRequest, botLogin string, unsigned types.ContributorSet) (*ValidationResult, error) {
	description := fmt.Sprintf("%d contributor(s) must sign the CLA", len(unsigned))
	status, resp, err := v.createStatus(ctx, client.Repositories, pr, OutcomeFailure, description)
	if err != nil {
		return nil, err
	}
	if err = v.syncLabels(ctx, client.Issues, pr, labelMissing, labelSigned); err != nil {
		return nil, err
	}
	if err = v.ensureMissingSignersComment(ctx, client.Issues, pr, botLogin, unsigned); err != nil {
		return nil, err
	}
	return &ValidationResult{PullRequest: pr, Outcome: OutcomeFailure, Status: status, Response: resp, Unsigned: unsigned.Values()}, nil
}

// ValidateAll fans out one validation pipeline per pull request. A failing
// pull request never aborts its siblings; its error is carried in the result.
func (v *PullRequestValidator) ValidateAll(ctx context.Context, prs []types.PullRequest) []*ValidationResult {
	results := make([]*ValidationResult, len(prs))
	var wg sync.WaitGroup
	for i, pr := range prs {
		wg.Add(1)
		go func(i int, pr types.PullRequest) {
			defer wg.Done()
			result, err := v.Validate(ctx, pr)
			if err != nil {
				v.logger.Error("pull request validation failed",
					zap.String("repo", pr.Repo.String()),
					zap.Int("pr", pr.Number),
					zap.Error(err),
				)
				result = &ValidationResult{PullRequest: pr, Err: err}
			}
			results[i] = result
		}(i, pr)
	}
	wg.Wait()
	return results
}

func (v *PullRequestValidator) listCommits(ctx context.Context, pulls PullRequestsService, pr types.PullRequest) ([]*github.RepositoryCommit, error) {
	var commits []*github.RepositoryCommit
	err := forEachPage(v.maxPages, func(page int) (*github.Response, error) {
		opts := &github.ListOptions{Page: page, PerPage: perPage}
		pageCommits, resp, err := pulls.ListCommits(ctx, string(pr.Repo.Owner), pr.Repo.Name, pr.Number, opts)
		if err != nil {
			return resp, classifyAPIError("pull request commits", resp, err)
		}
		commits = append(commits, pageCommits...)
		return resp, nil
	})
	return commits, err
}

// createStatus files a new commit status at the head sha. Statuses are
// append-only on the GitHub side, so re-issuing the same state on every pass
// is safe and expected.
func (v *PullRequestValidator) createStatus(ctx context.Context, repos RepositoriesService, pr types.PullRequest, outcome Outcome, description string) (*github.RepoStatus, *github.Response, error) {
	state := string(outcome)
	status, resp, err := repos.CreateStatus(ctx, string(pr.Repo.Owner), pr.Repo.Name, pr.HeadSHA, &github.RepoStatus{
		State:       &state,
		Context:     github.String(StatusContext),
		Description: &description,
		TargetURL:   &v.config.AppURL,
	})
	if err != nil {
		return nil, resp, classifyAPIError("commit status", resp, err)
	}
	return status, resp, nil
}

// syncLabels leaves exactly one of the two CLA labels on the pull request:
// apply is present afterwards, remove is not.
func (v *PullRequestValidator) syncLabels(ctx context.Context, issues IssuesService, pr types.PullRequest, apply, remove labelSpec) error {
	if err := v.ensureRepoLabel(ctx, issues, pr.Repo, apply); err != nil {
		return err
	}
	if err := v.addLabelIfAbsent(ctx, issues, pr, apply.name); err != nil {
		return err
	}
	return v.removeLabelIfApplied(ctx, issues, pr, remove.name)
}

func (v *PullRequestValidator) ensureRepoLabel(ctx context.Context, issues IssuesService, repo types.OwnerRepo, spec labelSpec) error {
	_, resp, err := issues.GetLabel(ctx, string(repo.Owner), repo.Name, spec.name)
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		v.logger.Debug("label does not exist in repo, creating it", zap.String("label", spec.name))
		_, _, err = issues.CreateLabel(ctx, string(repo.Owner), repo.Name, &github.Label{
			Name:        &spec.name,
			Color:       &spec.color,
			Description: &spec.description,
		})
		return classifyAPIError("label", nil, err)
	}
	return classifyAPIError("label", resp, err)
}

func (v *PullRequestValidator) addLabelIfAbsent(ctx context.Context, issues IssuesService, pr types.PullRequest, name string) error {
	var applied []*github.Label
	err := forEachPage(v.maxPages, func(page int) (*github.Response, error) {
		opts := &github.ListOptions{Page: page, PerPage: perPage}
		labels, resp, err := issues.ListLabelsByIssue(ctx, string(pr.Repo.Owner), pr.Repo.Name, pr.Number, opts)
		if err != nil {
			return resp, classifyAPIError("issue labels", resp, err)
		}
		applied = append(applied, labels...)
		return resp, nil
	})
	if err != nil {
		return err
	}
	for _, label := range applied {
		if label.GetName() == name {
			return nil
		}
	}
	_, _, err = issues.AddLabelsToIssue(ctx, string(pr.Repo.Owner), pr.Repo.Name, pr.Number, []string{name})
	return classifyAPIError("issue labels", nil, err)
}

func (v *PullRequestValidator) removeLabelIfApplied(ctx context.Context, issues IssuesService, pr types.PullRequest, name string) error {
	resp, err := issues.RemoveLabelForIssue(ctx, string(pr.Repo.Owner), pr.Repo.Name, pr.Number, name)
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		// the label was not applied, nothing to remove
		return nil
	}
	return classifyAPIError("issue label", resp, err)
}

// ensureMissingSignersComment posts the explanatory comment naming the
// unsigned contributors, unless an identical comment from the bot already
// exists. The body is a pure function of the unsigned set, so an unchanged
// set on re-validation produces no duplicate while a changed set gets a
// fresh comment.
func (v *PullRequestValidator) ensureMissingSignersComment(ctx context.Context, issues IssuesService, pr types.PullRequest, botLogin string, unsigned types.ContributorSet) error {
	body := v.missingSignersComment(unsigned)

	var existing []*github.IssueComment
	err := forEachPage(v.maxPages, func(page int) (*github.Response, error) {
		opts := &github.IssueListCommentsOptions{
			ListOptions: github.ListOptions{Page: page, PerPage: perPage},
		}
		comments, resp, err := issues.ListComments(ctx, string(pr.Repo.Owner), pr.Repo.Name, pr.Number, opts)
		if err != nil {
			return resp, classifyAPIError("issue comments", resp, err)
		}
		existing = append(existing, comments...)
		return resp, nil
	})
	if err != nil {
		return err
	}

	for _, comment := range existing {
		if comment.GetUser().GetLogin() == botLogin && comment.GetBody() == body {
			v.logger.Debug("comment for this unsigned set already exists",
				zap.Int("pr", pr.Number),
			)
			return nil
		}
	}

	_, _, err = issues.CreateComment(ctx, string(pr.Repo.Owner), pr.Repo.Name, pr.Number, &github.IssueComment{Body: &body})
	return classifyAPIError("issue comment", nil, err)
}

func (v *PullRequestValidator) missingSignersComment(unsigned types.ContributorSet) string {
	var external, internal []string
	for _, contributor := range unsigned.Values() {
		if v.isInternalDomain(contributor) {
			internal = append(internal, contributor.DisplayText())
		} else {
			external = append(external, contributor.DisplayText())
		}
	}

	var body strings.Builder
	if len(external) > 0 {
		fmt.Fprintf(&body,
			"Thanks for the contribution. Before we can merge this, we need %s to [sign the Contributor License Agreement](%s).",
			strings.Join(external, ", "), v.config.AppURL)
	}
	if len(internal) > 0 {
		if body.Len() > 0 {
			body.WriteString("\n\n")
		}
		fmt.Fprintf(&body,
			"It looks like %s committed with a %s email address but no linked GitHub account. Please follow the [instructions for internal contributors](%s/internal) instead of signing the CLA.",
			strings.Join(internal, ", "), v.config.OrgDomain, v.config.AppURL)
	}
	return body.String()
}

// isInternalDomain reports whether the contributor committed from the company
// email domain without a GitHub account.
func (v *PullRequestValidator) isInternalDomain(contributor types.Contributor) bool {
	if v.config.OrgDomain == "" {
		return false
	}
	committer, ok := contributor.(types.UnknownCommitter)
	return ok && committer.EmailDomain() == strings.ToLower(v.config.OrgDomain)
}
