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

package oauth

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	gh "github.com/google/go-github/v64/github"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
	"golang.org/x/oauth2"

	ourGithub "github.com/salesforce/salesforce-cla/github"
)

func TestCreateOAuth(t *testing.T) {
	oauth := CreateOAuth("myGHClientId", "myGHClientSecret")

	assert.Equal(t, "myGHClientId", oauth.getConf().ClientID)
	assert.Equal(t, "myGHClientSecret", oauth.getConf().ClientSecret)
	assert.Equal(t, []string{"user:email"}, oauth.getConf().Scopes)
}

// setupStubTokenEndpoint points the OAuth config at a local token server so
// the code exchange succeeds without GitHub.
func setupStubTokenEndpoint(t *testing.T) (oauth OAuthInterface, closeFunc func()) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"mockToken","token_type":"bearer"}`))
	}))
	oauth = CreateOAuth("id", "secret")
	oauth.getConf().Endpoint = oauth2.Endpoint{
		AuthURL:  ts.URL + "/authorize",
		TokenURL: ts.URL + "/access_token",
	}
	return oauth, ts.Close
}

func TestAuthCodeURLCarriesState(t *testing.T) {
	oauth := CreateOAuth("myGHClientId", "secret")

	url := oauth.AuthCodeURL("my-nonce")
	assert.Contains(t, url, "github.com/login/oauth/authorize")
	assert.Contains(t, url, "state=my-nonce")
	assert.Contains(t, url, "client_id=myGHClientId")
}

func TestGetOAuthUserExchangeError(t *testing.T) {
	oauth := CreateOAuth("id", "secret")
	oauth.getConf().Endpoint = oauth2.Endpoint{TokenURL: "http://127.0.0.1:0/unreachable"}

	_, err := oauth.GetOAuthUser(zaptest.NewLogger(t), "bogus-code")
	assert.Error(t, err)
}

func TestGetOAuthUserReturnsAuthenticatedUser(t *testing.T) {
	origGithubImpl := githubImpl
	defer func() {
		githubImpl = origGithubImpl
	}()
	githubImpl = &ourGithub.GHInterfaceMock{
		UsersMock: ourGithub.UsersMock{
			MockUser: &gh.User{Login: gh.String("myUser")},
		},
	}

	oauth, closeFunc := setupStubTokenEndpoint(t)
	defer closeFunc()

	user, err := oauth.GetOAuthUser(zaptest.NewLogger(t), "code")
	assert.NoError(t, err)
	assert.Equal(t, "myUser", user.GetLogin())
}

func TestGetOAuthUserGetUserError(t *testing.T) {
	origGithubImpl := githubImpl
	defer func() {
		githubImpl = origGithubImpl
	}()
	forcedError := fmt.Errorf("forced Users.Get error")
	githubImpl = &ourGithub.GHInterfaceMock{
		UsersMock: ourGithub.UsersMock{MockGetError: forcedError},
	}

	oauth, closeFunc := setupStubTokenEndpoint(t)
	defer closeFunc()

	_, err := oauth.GetOAuthUser(zaptest.NewLogger(t), "code")
	assert.EqualError(t, err, forcedError.Error())
}

func TestRandomStateIsUnique(t *testing.T) {
	assert.NotEqual(t, RandomState(), RandomState())
	assert.NotEmpty(t, RandomState())
}
