/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package llm

import (
	"slices"
	"sort"
)

// Provider describes one OpenAI-compatible chat-completion vendor.
type Provider struct {
	Brand   string   `json:"brand"`
	APIBase string   `json:"api_base"`
	Models  []string `json:"models"`
	// Local servers accept requests without an API key.
	Local bool `json:"local,omitempty"`
}

// HasModel reports whether m is one of the provider's known models.
func (p Provider) HasModel(m string) bool { return slices.Contains(p.Models, m) }

// DefaultModel is the first listed model.
func (p Provider) DefaultModel() string {
	if len(p.Models) == 0 {
		return ""
	}
	return p.Models[0]
}

// BrandLMStudio is the local server brand; it needs no API key.
const BrandLMStudio = "LM Studio"

var providers = map[string]Provider{
	"OpenAI":   {Brand: "OpenAI", APIBase: "https://api.openai.com/v1", Models: []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-3.5-turbo"}},
	"通义千问":     {Brand: "通义千问", APIBase: "https://dashscope.aliyuncs.com/api/v1", Models: []string{"qwen-plus", "qwen-turbo", "qwen-max"}},
	"智谱GLM":    {Brand: "智谱GLM", APIBase: "https://open.bigmodel.cn/api/paas/v4", Models: []string{"glm-4", "glm-4v", "glm-3-turbo"}},
	"Deepseek": {Brand: "Deepseek", APIBase: "https://api.deepseek.com/v1", Models: []string{"deepseek-chat", "deepseek-coder"}},
	"月之暗面":     {Brand: "月之暗面", APIBase: "https://api.moonshot.cn/v1", Models: []string{"moonshot-v1-8k", "moonshot-v1-32k", "moonshot-v1-128k"}},
	"Claude":   {Brand: "Claude", APIBase: "https://api.anthropic.com/v1", Models: []string{"claude-3-5-sonnet-20241022", "claude-3-opus-20240229", "claude-3-haiku-20240307"}},
	"讯飞星火":     {Brand: "讯飞星火", APIBase: "https://spark-api.xf-yun.com/v1", Models: []string{"spark-v3.5", "spark-v3.0", "spark-v2.0"}},
	"百川智能":     {Brand: "百川智能", APIBase: "https://api.baichuan-ai.com/v1", Models: []string{"Baichuan2-Turbo", "Baichuan2-53B"}},
	"MiniMax":  {Brand: "MiniMax", APIBase: "https://api.minimax.chat/v1", Models: []string{"abab6-chat", "abab5.5-chat"}},
	BrandLMStudio: {Brand: BrandLMStudio, APIBase: "http://127.0.0.1:1234/v1", Models: []string{"lmstudio-local"}, Local: true},
	"Apigather": {Brand: "Apigather", APIBase: "https://apigather.com/v1", Models: []string{
		"gemini-3-pro-preview", "gemini-3-flash-preview", "gemini-3-pro-image-preview", "gemini-3-pro-preview-thinking",
	}},
}

// Lookup returns the provider registered under brand.
func Lookup(brand string) (Provider, bool) {
	p, ok := providers[brand]
	return p, ok
}

// Brands lists the known brands in sorted order.
func Brands() []string {
	out := make([]string, 0, len(providers))
	for b := range providers {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}
