/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package storage implements storyboard project persistence and indexing.
// A project is a directory holding the canonical JSON manifest (storyboard.json),
// the script text under script/ and timestamped manifest backups under backups/.
// Manifests are schema-checked on save and open; writes are transactional.
// A per-project SQLite index at <project>/.gsb/index.sqlite backs shot search and
// script snapshots. It is derived from the manifest and can be rebuilt at any time.
package storage
