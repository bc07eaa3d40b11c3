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
	"context"
	"net/http"

	gh "github.com/google/go-github/v64/github"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"

	ourGithub "github.com/salesforce/salesforce-cla/github"
)

var githubImpl ourGithub.GHInterface = &ourGithub.GHCreator{}

// OAuthInterface is the GitHub OAuth dance used by the signing flow: the
// authorization code from the browser is exchanged for a token, and that
// token tells us who is signing.
type OAuthInterface interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
	Client(ctx context.Context, t *oauth2.Token) *http.Client
	GetOAuthUser(logger *zap.Logger, code string) (user *gh.User, err error)
	// for testing only
	getConf() *oauth2.Config
}

type OAuthImpl struct {
	oauthConf *oauth2.Config
}

// AuthCodeURL is where the browser goes to authorize; state must come from
// RandomState and be verified when the callback returns it.
func (oa *OAuthImpl) AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string {
	return oa.oauthConf.AuthCodeURL(state, opts...)
}

//goland:noinspection GoUnusedParameter
func (oa *OAuthImpl) Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	return oa.oauthConf.Exchange(ctx, code)
}

func (oa *OAuthImpl) Client(ctx context.Context, t *oauth2.Token) *http.Client {
	return oa.oauthConf.Client(ctx, t)
}

func (oa *OAuthImpl) getConf() *oauth2.Config {
	return oa.oauthConf
}

// GetOAuthUser resolves the GitHub user behind an OAuth authorization code.
func (oa *OAuthImpl) GetOAuthUser(logger *zap.Logger, code string) (user *gh.User, err error) {
	token, err := oa.Exchange(context.Background(), code)
	if err != nil {
		logger.Error("oauth code exchange failed", zap.Error(err))
		return
	}

	oauthClient := oa.Client(context.Background(), token)

	client := githubImpl.NewClient(oauthClient)

	user, _, err = client.Users.Get(context.Background(), "")
	if err != nil {
		logger.Error("fetching oauth user failed", zap.Error(err))
		return
	}

	return
}

func CreateOAuth(clientID, clientSecret string) OAuthInterface {
	oauthConf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{"user:email"},
		Endpoint:     githuboauth.Endpoint,
	}
	oAuthImpl := OAuthImpl{
		oauthConf: oauthConf,
	}
	return &oAuthImpl
}

// RandomState returns a nonce for the OAuth state parameter.
func RandomState() string {
	return uuid.NewString()
}
