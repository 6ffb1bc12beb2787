/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"encoding/json"
	"errors"
	"os"
	"testing"

	gojsonschema "github.com/xeipuuv/gojsonschema"

	"gostoryboard/internal/domain"
)

func TestManifestConformsToSchema(t *testing.T) {
	root := t.TempDir()
	proj := sampleProject()
	proj.ImagePrompts = []domain.ImagePrompt{
		{SceneNumber: 1, PromptJSON: &domain.PromptStructure{}, PromptText: "a man", NegativePrompt: "blurry"},
		{SceneNumber: 2, Error: "translator unavailable"},
	}
	ph, err := InitProject(root, proj)
	if err != nil {
		t.Fatalf("InitProject error: %v", err)
	}
	data, err := os.ReadFile(ph.ManifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	schema, err := ManifestSchema()
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		t.Fatalf("schema validate error: %v", err)
	}
	if !result.Valid() {
		for _, e := range result.Errors() {
			t.Logf("schema error: %s", e)
		}
		t.Fatalf("manifest does not conform to schema")
	}
}

func TestSchemaIsDraft07WithRequiredFields(t *testing.T) {
	b, err := ManifestSchema()
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	if m["$schema"] != draft07 {
		t.Fatalf("unexpected $schema %v", m["$schema"])
	}
	req, _ := m["required"].([]any)
	want := map[string]bool{"project_name": false, "scenes": false, "script": false}
	for _, r := range req {
		if s, ok := r.(string); ok {
			if _, tracked := want[s]; tracked {
				want[s] = true
			}
		}
	}
	for k, seen := range want {
		if !seen {
			t.Fatalf("%s should be required, got %v", k, req)
		}
	}
}

func TestValidateManifestRejectsWrongTypes(t *testing.T) {
	cases := []string{
		`{"project_name": 5}`,
		`[]`,
		`{"id":"x","project_name":"a","created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z","script":"","scenes":[{"scene_number":"one"}],"image_prompts":[],"metadata":{}}`,
	}
	for _, c := range cases {
		if err := ValidateManifest([]byte(c)); !errors.Is(err, ErrSchemaInvalid) {
			t.Fatalf("%s: expected ErrSchemaInvalid, got %v", c, err)
		}
	}
}

func TestValidateManifestAllowsExtrasAndNullLists(t *testing.T) {
	doc := `{"id":"x","project_name":"a","created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z","script":"","scenes":null,"image_prompts":null,"metadata":{},"client":"desktop"}`
	if err := ValidateManifest([]byte(doc)); err != nil {
		t.Fatalf("expected valid manifest, got %v", err)
	}
}
