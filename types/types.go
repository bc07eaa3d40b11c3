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

package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Owner is a GitHub account name, user or organization. Owner names are
// case-insensitively unique on GitHub, so comparisons must fold case.
type Owner string

func (o Owner) Equals(other Owner) bool {
	return strings.EqualFold(string(o), string(other))
}

// OwnerRepo identifies a repository.
type OwnerRepo struct {
	Owner Owner  `json:"owner"`
	Name  string `json:"name"`
}

func (r OwnerRepo) String() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Name)
}

// PullRequest carries the subset of pull request state the validation engine
// needs, independent of which API payload it came from.
type PullRequest struct {
	Repo           OwnerRepo `json:"repo"`
	Number         int       `json:"number"`
	HeadSHA        string    `json:"headSha"`
	State          string    `json:"state"`
	CreatorLogin   string    `json:"creator"`
	InstallationID int64     `json:"installationId"`
}

// Contributor is a commit author: either a GitHub user, or an unknown
// committer known only by the name and email recorded on the commit.
type Contributor interface {
	// IdentityKey is the value used for equality and set membership. For a
	// User it is the lower-cased login; for an UnknownCommitter it is the
	// (name, email) pair.
	IdentityKey() string
	// DisplayText is the rendering safe to show in a public PR comment.
	DisplayText() string
}

// User is a contributor with a GitHub account.
type User struct {
	Login     string `json:"login"`
	GivenName string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	Bot       bool   `json:"bot,omitempty"`
}

func (u User) IdentityKey() string {
	return strings.ToLower(u.Login)
}

func (u User) DisplayText() string {
	return "@" + u.Login
}

// UnknownCommitter is a commit author with no associated GitHub account.
// Either field may be empty, commits carry whatever the author configured.
type UnknownCommitter struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

func (u UnknownCommitter) IdentityKey() string {
	return u.Name + "\x00" + u.Email
}

func (u UnknownCommitter) DisplayText() string {
	switch {
	case u.Email != "":
		return ObfuscateEmail(u.Email)
	case u.Name != "":
		return u.Name
	}
	return "an unknown committer"
}

// EmailDomain returns the part after the last "@", lower-cased, or "".
func (u UnknownCommitter) EmailDomain() string {
	at := strings.LastIndex(u.Email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(u.Email[at+1:])
}

// ObfuscateEmail hides all but the first character of the local part and of
// every domain segment except the last: asdf@foo.bar.com -> a***@f***.b***.com
func ObfuscateEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 1 {
		return "***"
	}
	var masked strings.Builder
	masked.WriteString(email[:1])
	masked.WriteString("***@")
	segments := strings.Split(email[at+1:], ".")
	for i, segment := range segments {
		if i > 0 {
			masked.WriteString(".")
		}
		if i == len(segments)-1 {
			masked.WriteString(segment)
		} else if segment != "" {
			masked.WriteString(segment[:1])
			masked.WriteString("***")
		} else {
			masked.WriteString("***")
		}
	}
	return masked.String()
}

// ContributorSet is a set of contributors keyed by identity.
type ContributorSet map[string]Contributor

func NewContributorSet(contributors ...Contributor) ContributorSet {
	set := ContributorSet{}
	for _, c := range contributors {
		set.Add(c)
	}
	return set
}

func (s ContributorSet) Add(c Contributor) {
	s[c.IdentityKey()] = c
}

func (s ContributorSet) Contains(c Contributor) bool {
	_, ok := s[c.IdentityKey()]
	return ok
}

// Minus returns the members of s not present in other.
func (s ContributorSet) Minus(other ContributorSet) ContributorSet {
	difference := ContributorSet{}
	for key, c := range s {
		if _, ok := other[key]; !ok {
			difference[key] = c
		}
	}
	return difference
}

// Values returns the members ordered by identity key, so output built from a
// set (comment text in particular) is deterministic.
func (s ContributorSet) Values() []Contributor {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	contributors := make([]Contributor, 0, len(keys))
	for _, key := range keys {
		contributors = append(contributors, s[key])
	}
	return contributors
}

// UserSignature records that a user signed a specific CLA version.
type UserSignature struct {
	User       User      `json:"user"`
	CLAVersion string    `json:"claVersion"`
	TimeSigned time.Time `json:"timeSigned"`
}
