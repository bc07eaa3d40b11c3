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
	"strings"
	"sync"

	"github.com/google/go-github/v64/github"
	"go.uber.org/zap"

	"github.com/salesforce/salesforce-cla/types"
)

// MembershipOracle decides whether a contributor belongs to an organization.
type MembershipOracle interface {
	IsMember(ctx context.Context, org types.Owner, contributor types.Contributor) (bool, error)
}

// OrgMembershipOracle answers membership questions from the org member list.
// The listing must be made with an installation token so private members are
// visible alongside public ones. Member lists are cached per org for the
// lifetime of the oracle, which is one validation cycle.
type OrgMembershipOracle struct {
	orgs     OrganizationsService
	logger   *zap.Logger
	maxPages int

	mu    sync.Mutex
	cache map[string]map[string]bool
}

var _ MembershipOracle = (*OrgMembershipOracle)(nil)

// NewMembershipOracle builds an oracle bounded to maxPages member-list pages
// per org; zero means the default bound.
func NewMembershipOracle(orgs OrganizationsService, maxPages int, logger *zap.Logger) *OrgMembershipOracle {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &OrgMembershipOracle{
		orgs:     orgs,
		logger:   logger,
		maxPages: maxPages,
		cache:    map[string]map[string]bool{},
	}
}

// IsMember reports whether the contributor is a member, public or private, of
// org. An UnknownCommitter has no account and is never a member.
func (o *OrgMembershipOracle) IsMember(ctx context.Context, org types.Owner, contributor types.Contributor) (bool, error) {
	user, ok := contributor.(types.User)
	if !ok {
		return false, nil
	}
	members, err := o.members(ctx, org)
	if err != nil {
		return false, err
	}
	return members[user.IdentityKey()], nil
}

func (o *OrgMembershipOracle) members(ctx context.Context, org types.Owner) (map[string]bool, error) {
	key := strings.ToLower(string(org))

	o.mu.Lock()
	defer o.mu.Unlock()
	if members, ok := o.cache[key]; ok {
		return members, nil
	}

	members := map[string]bool{}
	err := forEachPage(o.maxPages, func(page int) (*github.Response, error) {
		opts := &github.ListMembersOptions{
			ListOptions: github.ListOptions{Page: page, PerPage: perPage},
		}
		users, resp, err := o.orgs.ListMembers(ctx, string(org), opts)
		if err != nil {
			return resp, classifyAPIError("org members", resp, err)
		}
		for _, user := range users {
			members[strings.ToLower(user.GetLogin())] = true
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Debug("listed org members",
		zap.String("org", string(org)),
		zap.Int("count", len(members)),
	)
	o.cache[key] = members
	return members, nil
}
