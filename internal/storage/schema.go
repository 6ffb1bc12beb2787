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
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	gojsonschema "github.com/xeipuuv/gojsonschema"

	"gostoryboard/internal/domain"
)

// ErrSchemaInvalid reports a manifest that does not match the project schema.
var ErrSchemaInvalid = errors.New("storage: manifest does not match schema")

const draft07 = "http://json-schema.org/draft-07/schema#"

var (
	schemaOnce   sync.Once
	schemaBytes  []byte
	schemaLoader gojsonschema.JSONLoader
	schemaErr    error
)

// ManifestSchema returns the JSON schema of storyboard.json. It is reflected from
// domain.Project, so the manifest and the schema cannot drift apart.
func ManifestSchema() ([]byte, error) {
	schemaOnce.Do(buildSchema)
	return schemaBytes, schemaErr
}

// ValidateManifest checks raw manifest bytes. Schema violations wrap ErrSchemaInvalid.
func ValidateManifest(data []byte) error {
	schemaOnce.Do(buildSchema)
	if schemaErr != nil {
		return schemaErr
	}
	res, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrSchemaInvalid, strings.Join(msgs, "; "))
}

func buildSchema() {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
		Anonymous:                 true,
	}
	raw, err := json.Marshal(r.Reflect(&domain.Project{}))
	if err != nil {
		schemaErr = fmt.Errorf("reflect schema: %w", err)
		return
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		schemaErr = fmt.Errorf("decode schema: %w", err)
		return
	}
	m["$schema"] = draft07
	delete(m, "$id")
	relax(m)
	schemaBytes, err = json.MarshalIndent(m, "", "  ")
	if err != nil {
		schemaErr = fmt.Errorf("encode schema: %w", err)
		return
	}
	schemaLoader = gojsonschema.NewBytesLoader(schemaBytes)
}

// relax lets Go's nil values through: lists may be null and a failed image prompt
// carries "prompt_json": null.
func relax(node map[string]any) {
	if t, ok := node["type"].(string); ok && t == "array" {
		node["type"] = []any{"array", "null"}
	}
	if props, ok := node["properties"].(map[string]any); ok {
		for name, p := range props {
			pm, ok := p.(map[string]any)
			if !ok {
				continue
			}
			relax(pm)
			if name == "prompt_json" {
				props[name] = map[string]any{"anyOf": []any{pm, map[string]any{"type": "null"}}}
			}
		}
	}
	if items, ok := node["items"].(map[string]any); ok {
		relax(items)
	}
}
