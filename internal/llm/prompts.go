/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package llm

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"gostoryboard/internal/vocab"
)

// UserPrompt is the per-segment instruction sent after the system prompt.
func UserPrompt(segment string) string {
	return "请对以下剧本进行分镜头划分：\n\n" + segment
}

var systemTmpl = template.Must(template.New("system").Funcs(template.FuncMap{
	"join": func(o []string) string { return strings.Join(o, " / ") },
}).Parse(`你是一名资深电影导演和分镜师。请把用户提供的剧本片段拆分为细致的分镜头，每个分镜只包含一个主要动作或一个人物的一句台词。

只输出一个 JSON 数组，不要输出任何解释。数组中每个元素是一个对象，包含以下字段：
- scene_number: 从 1 开始的整数
- scene_description: 画面描述
- characters: 出场人物名称数组
- location / mood: 地点、情绪
- dialogue_text / voiceover_text / sound_effects: 台词、旁白、音效（没有则为空字符串）
{{- range .Fields}}
- {{.Field}}: 只能取以下值之一{{if .Multi}}（可用逗号组合多个）{{end}}：{{join .Options}}{{if .Default}}；不确定时使用 "{{.Default}}"{{end}}
{{- end}}

台词必须完整填入 dialogue_text。严格按照 JSON 格式输出。`))

// SystemPrompt renders the storyboard instruction with every enumerated field's
// option list taken from cat, so the model is steered toward values the validator keeps.
func SystemPrompt(cat *vocab.Catalog) (string, error) {
	if cat == nil {
		cat = vocab.Default()
	}
	type row struct {
		Field   vocab.Field
		Options []string
		Default string
		Multi   bool
	}
	data := struct{ Fields []row }{}
	for _, f := range vocab.Fields {
		set, ok := cat.Set(f)
		if !ok {
			continue
		}
		data.Fields = append(data.Fields, row{Field: f, Options: set.Options, Default: set.Default, Multi: set.Multi})
	}
	var buf bytes.Buffer
	if err := systemTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("llm: render system prompt: %w", err)
	}
	return buf.String(), nil
}

const (
	translateSystem      = "你是一个专业的翻译专家，擅长将中文电影术语准确翻译成英文。"
	translateTemperature = 0.3
)

// TranslatePrompt asks for an English rendering of text and nothing else.
func TranslatePrompt(text string) string {
	return "请将以下中文文本准确翻译成english，保持专业术语的准确性。\n\n" +
		"**原文**：" + text + "\n\n" +
		"**要求**：\n1. 准确翻译，不要遗漏信息\n2. 保持专业术语的准确性（如镜头语言、摄影术语）\n" +
		"3. 如果涉及电影术语，使用标准的英文表达\n4. 只输出翻译结果，不要添加任何说明\n\n请翻译："
}
