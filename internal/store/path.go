// Copyright 2018 The gVisor Authors.
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

package store

import "strings"

// splitComponents splits a slash-separated path into its non-empty
// components, so "/a/b/c" and "a/b/c" both walk identically from root.
func splitComponents(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitPath splits path into its parent directory and final component,
// e.g. "/a/b/c" -> ("/a/b", "c").
func splitPath(path string) (dir, name string) {
	comps := splitComponents(path)
	if len(comps) == 0 {
		return "/", ""
	}
	name = comps[len(comps)-1]
	dir = "/" + strings.Join(comps[:len(comps)-1], "/")
	return dir, name
}
