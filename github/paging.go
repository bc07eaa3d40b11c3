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

import "github.com/google/go-github/v64/github"

// defaultMaxPages bounds every listing call in the engine. A hundred-page
// commit list means something else is wrong.
const defaultMaxPages = 100

const perPage = 100

// forEachPage follows continuation pages in server order until the API
// reports no next page or maxPages pages have been fetched. fetch is invoked
// once per page with the page number to request and returns that page's
// response for continuation.
func forEachPage(maxPages int, fetch func(page int) (*github.Response, error)) error {
	page := 0
	for fetched := 0; fetched < maxPages; fetched++ {
		resp, err := fetch(page)
		if err != nil {
			return err
		}
		if resp == nil || resp.NextPage == 0 {
			return nil
		}
		page = resp.NextPage
	}
	return nil
}
