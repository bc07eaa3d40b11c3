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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObfuscateEmailSingleDomainSegment(t *testing.T) {
	assert.Equal(t, "a***@f***.com", ObfuscateEmail("asdf@foobar.com"))
}

func TestObfuscateEmailMultipleDomainSegments(t *testing.T) {
	assert.Equal(t, "a***@f***.b***.com", ObfuscateEmail("asdf@foo.bar.com"))
}

func TestObfuscateEmailNoDomainDots(t *testing.T) {
	assert.Equal(t, "a***@localhost", ObfuscateEmail("asdf@localhost"))
}

func TestObfuscateEmailMalformed(t *testing.T) {
	assert.Equal(t, "***", ObfuscateEmail("not-an-email"))
	assert.Equal(t, "***", ObfuscateEmail("@no-local-part.com"))
	assert.Equal(t, "***", ObfuscateEmail(""))
}

func TestUnknownCommitterDisplayPrefersObfuscatedEmail(t *testing.T) {
	c := UnknownCommitter{Name: "Some Body", Email: "asdf@foobar.com"}
	assert.Equal(t, "a***@f***.com", c.DisplayText())
}

func TestUnknownCommitterDisplayFallsBackToName(t *testing.T) {
	assert.Equal(t, "Some Body", UnknownCommitter{Name: "Some Body"}.DisplayText())
	assert.Equal(t, "an unknown committer", UnknownCommitter{}.DisplayText())
}

func TestUnknownCommitterEmailDomain(t *testing.T) {
	assert.Equal(t, "example.com", UnknownCommitter{Email: "who@Example.COM"}.EmailDomain())
	assert.Equal(t, "", UnknownCommitter{Name: "no email"}.EmailDomain())
}

func TestUserIdentityKeyIsCaseInsensitive(t *testing.T) {
	assert.Equal(t, User{Login: "OctoCat"}.IdentityKey(), User{Login: "octocat"}.IdentityKey())
}

func TestUnknownCommitterIdentityKeyIsNameEmailPair(t *testing.T) {
	a := UnknownCommitter{Name: "a", Email: "b"}
	b := UnknownCommitter{Name: "a", Email: "c"}
	assert.NotEqual(t, a.IdentityKey(), b.IdentityKey())
}

func TestContributorSetDedupsByIdentity(t *testing.T) {
	set := NewContributorSet(
		User{Login: "octocat"},
		User{Login: "OctoCat", Email: "octo@cats.com"},
		UnknownCommitter{Name: "n", Email: "e"},
		UnknownCommitter{Name: "n", Email: "e"},
	)
	assert.Len(t, set, 2)
	assert.True(t, set.Contains(User{Login: "OCTOCAT"}))
}

func TestContributorSetMinus(t *testing.T) {
	all := NewContributorSet(User{Login: "one"}, User{Login: "two"})
	signed := NewContributorSet(User{Login: "ONE"})

	unsigned := all.Minus(signed)
	assert.Len(t, unsigned, 1)
	assert.True(t, unsigned.Contains(User{Login: "two"}))
}

func TestContributorSetValuesAreOrdered(t *testing.T) {
	set := NewContributorSet(User{Login: "zeta"}, User{Login: "alpha"}, User{Login: "mid"})

	values := set.Values()
	assert.Equal(t, []Contributor{User{Login: "alpha"}, User{Login: "mid"}, User{Login: "zeta"}}, values)
}

func TestOwnerEquals(t *testing.T) {
	assert.True(t, Owner("Salesforce").Equals("salesforce"))
	assert.False(t, Owner("salesforce").Equals("sales-force"))
}

func TestOwnerRepoString(t *testing.T) {
	assert.Equal(t, "salesforce/cla", OwnerRepo{Owner: "salesforce", Name: "cla"}.String())
}
