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
	"github.com/google/go-github/v64/github"

	"github.com/salesforce/salesforce-cla/types"
)

// ResolveContributor maps one commit to a typed Contributor. The platform
// author association is authoritative when present; it is important to use
// the commit's author rather than its committer because the committer can be
// the GitHub webflow user, whereas the author is the canonical author of the
// commit. A commit with no associated account resolves to an
// UnknownCommitter built from the raw commit metadata.
func ResolveContributor(commit *github.RepositoryCommit) types.Contributor {
	if author := commit.GetAuthor(); author.GetLogin() != "" {
		return types.User{
			Login:     author.GetLogin(),
			GivenName: author.GetName(),
			Email:     author.GetEmail(),
			Bot:       author.GetType() == "Bot",
		}
	}
	raw := commit.GetCommit().GetAuthor()
	return types.UnknownCommitter{
		Name:  raw.GetName(),
		Email: raw.GetEmail(),
	}
}

// ResolveContributors resolves a batch of commits into the set of distinct
// contributors, deduplicated by identity key.
func ResolveContributors(commits []*github.RepositoryCommit) types.ContributorSet {
	contributors := types.ContributorSet{}
	for _, commit := range commits {
		contributors.Add(ResolveContributor(commit))
	}
	return contributors
}
