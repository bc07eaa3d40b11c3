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

package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/salesforce/salesforce-cla/types"
)

const sqlInsertSignature = `INSERT INTO signatures
		(LoginName, Email, GivenName, SignedAt, ClaVersion)
		VALUES ($1, $2, $3, $4, $5)`

const msgTemplateErrInsertSignatureDuplicate = "insert error. did user previously sign the cla? user: %+v, error: %+v"

// IClaDB is the persistence boundary of the app: who signed which CLA
// version, and which pull requests are parked waiting for a signature.
type IClaDB interface {
	InsertSignature(u *types.UserSignature) error
	HasAuthorSignedTheCla(login, claVersion string) (bool, *types.UserSignature, error)
	LookupSignedContributors(contributors []types.Contributor, claVersion string) ([]types.Contributor, error)
	StorePRAuthorsMissingSignature(pr types.PullRequest, unsigned []types.Contributor, claVersion string, checkedAt time.Time) error
	GetPRsForUser(login, claVersion string) ([]types.PullRequest, error)
	RemovePR(pr types.PullRequest) error
	MigrateDB(migrateSourceURL string) error
}

type ClaDB struct {
	db     *sql.DB
	logger *zap.Logger
}

// Roll that beautiful bean footage
var _ IClaDB = (*ClaDB)(nil)

func New(db *sql.DB, logger *zap.Logger) *ClaDB {
	return &ClaDB{db: db, logger: logger}
}

func (p *ClaDB) InsertSignature(user *types.UserSignature) error {
	result, err := p.db.Exec(sqlInsertSignature, user.User.Login, user.User.Email, user.User.GivenName, user.TimeSigned, user.CLAVersion)
	if err != nil {
		return fmt.Errorf(msgTemplateErrInsertSignatureDuplicate, user.User, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil || rowsAffected == 0 {
		return fmt.Errorf(msgTemplateErrInsertSignatureDuplicate, user.User, err)
	}
	return nil
}

const SqlSelectUserSignature = `SELECT
		LoginName, Email, GivenName, SignedAt, ClaVersion
		FROM signatures
		WHERE LOWER(LoginName) = LOWER($1)
		AND ClaVersion = $2`

func (p *ClaDB) HasAuthorSignedTheCla(login, claVersion string) (isSigned bool, foundUserSignature *types.UserSignature, err error) {
	p.logger.Debug("did author sign the CLA",
		zap.String("login", login),
		zap.String("claVersion", claVersion),
	)

	rows, err := p.db.Query(SqlSelectUserSignature, login, claVersion)
	if err != nil {
		return
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		isSigned = true
		foundUserSignature = &types.UserSignature{}
		err = rows.Scan(
			&foundUserSignature.User.Login,
			&foundUserSignature.User.Email,
			&foundUserSignature.User.GivenName,
			&foundUserSignature.TimeSigned,
			&foundUserSignature.CLAVersion,
		)
		if err != nil {
			return
		}
		p.logger.Debug("found author signature",
			zap.String("login", foundUserSignature.User.Login),
			zap.Time("timeSigned", foundUserSignature.TimeSigned),
			zap.String("claVersion", foundUserSignature.CLAVersion),
		)
	}

	err = rows.Err()
	return
}

// LookupSignedContributors returns the subset of contributors with a recorded
// signature for claVersion. Signatures are keyed by login, so a contributor
// without a GitHub account can never be in the result.
func (p *ClaDB) LookupSignedContributors(contributors []types.Contributor, claVersion string) (signed []types.Contributor, err error) {
	for _, contributor := range contributors {
		user, ok := contributor.(types.User)
		if !ok {
			continue
		}
		isSigned, _, err := p.HasAuthorSignedTheCla(user.Login, claVersion)
		if err != nil {
			return nil, err
		}
		if isSigned {
			signed = append(signed, contributor)
		}
	}
	return signed, nil
}

func (p *ClaDB) MigrateDB(migrateSourceURL string) (err error) {
	driver, err := postgres.WithInstance(p.db, &postgres.Config{})
	if err != nil {
		return
	}

	m, err := migrate.NewWithDatabaseInstance(
		migrateSourceURL,
		"postgres", driver)
	if err != nil {
		return
	}

	if err = m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			// we can ignore (and clear) the "no change" error
			err = nil
		}
	}
	return
}

const sqlInsertAuthorMissing = `INSERT INTO unsigned_pr
		(repo_owner, repo_name, pr_number, head_sha, installation_id, login_name, ClaVersion, CheckedAt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT DO NOTHING`

const msgTemplateErrInsertAuthorMissing = "insert error tracking missing author CLA. user: %+v, error: %+v"

// StorePRAuthorsMissingSignature parks the pull request against every
// unsigned contributor with a login, so signing later re-triggers its
// validation. Contributors without an account are skipped; they cannot sign.
func (p *ClaDB) StorePRAuthorsMissingSignature(pr types.PullRequest, unsigned []types.Contributor, claVersion string, checkedAt time.Time) (err error) {
	for _, contributor := range unsigned {
		user, ok := contributor.(types.User)
		if !ok {
			continue
		}
		_, err = p.db.Exec(sqlInsertAuthorMissing,
			string(pr.Repo.Owner), pr.Repo.Name, pr.Number, pr.HeadSHA, pr.InstallationID,
			user.Login, claVersion, checkedAt)
		if err != nil {
			return fmt.Errorf(msgTemplateErrInsertAuthorMissing, user.Login, err)
		}
		// We ignore lack of insert (rowsAffected) for cases where a PR is closed and reopened - ON CONFLICT DO NOTHING
	}
	return
}

const SqlSelectPRsForUser = `SELECT
		repo_owner, repo_name, pr_number, head_sha, installation_id
		FROM unsigned_pr
		WHERE LOWER(login_name) = LOWER($1)
		AND ClaVersion = $2`

// GetPRsForUser returns the pull requests parked on this user's missing
// signature for the given CLA version.
func (p *ClaDB) GetPRsForUser(login, claVersion string) (prs []types.PullRequest, err error) {
	rows, err := p.db.Query(SqlSelectPRsForUser, login, claVersion)
	if err != nil {
		return
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var pr types.PullRequest
		var owner string
		err = rows.Scan(&owner, &pr.Repo.Name, &pr.Number, &pr.HeadSHA, &pr.InstallationID)
		if err != nil {
			return
		}
		pr.Repo.Owner = types.Owner(owner)
		pr.State = "open"
		prs = append(prs, pr)
	}
	err = rows.Err()
	return
}

const sqlDeletePR = `DELETE FROM unsigned_pr
		WHERE repo_owner = $1
		AND repo_name = $2
		AND pr_number = $3`

// RemovePR drops all parked rows for a pull request, called once it
// validates green. A PR can carry rows for several users, all go.
func (p *ClaDB) RemovePR(pr types.PullRequest) (err error) {
	_, err = p.db.Exec(sqlDeletePR, string(pr.Repo.Owner), pr.Repo.Name, pr.Number)
	return
}
