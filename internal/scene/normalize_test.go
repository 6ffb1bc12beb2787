/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package scene

import (
	"testing"

	"gostoryboard/internal/vocab"
)

func TestNormalizeRules(t *testing.T) {
	opts := []string{"中景", "中近景", "特写"}
	cases := []struct {
		in, want string
	}{
		{"", "默认"},
		{"特写", "特写"},
		{"中景(medium)", "中景"},
		{"中近景特写风格", "中近景"},
		{"garbage", "默认"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in, opts, "默认"); got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeFirstDeclaredWins(t *testing.T) {
	if got := Normalize("xABy", []string{"A", "AB"}, "d"); got != "A" {
		t.Fatalf("Normalize(xABy) = %q, want A", got)
	}
	if got := Normalize("xABy", []string{"AB", "A"}, "d"); got != "AB" {
		t.Fatalf("Normalize(xABy) with reversed options = %q, want AB", got)
	}
	if got := Normalize("AB", []string{"A", "AB"}, "d"); got != "AB" {
		t.Fatalf("exact match must beat substring match, got %q", got)
	}
}

func TestNormalizeClosure(t *testing.T) {
	cat := vocab.Default()
	inputs := []string{"", " ", "???", "null", "中", "f/", "ARRI", "特写 / close-up", "固定机位", "视平角度",
		"超广角(14-24mm)镜头", "f/2.8 standard", "白天光线", "饱满+丰富+引导构图"}
	for _, f := range vocab.Fields {
		set := cat.MustSet(f)
		all := append(append([]string{}, inputs...), set.Options...)
		for _, o := range set.Options {
			all = append(all, "["+o+"]")
		}
		for _, in := range all {
			got := Normalize(in, set.Options, set.Default)
			if _, ok := set.Choice(got); !ok {
				t.Fatalf("%s: Normalize(%q) = %q is outside the option set", f, in, got)
			}
		}
	}
}

func TestNormalizeShotSizeOrderDependence(t *testing.T) {
	set := vocab.Default().MustSet(vocab.ShotSize)
	// 远景 is also contained, but 大远景 is declared first.
	if got := Normalize("大远景镜头", set.Options, set.Default); got != "大远景" {
		t.Fatalf("got %q", got)
	}
	if got := Normalize("超大特写", set.Options, set.Default); got != "特写" {
		t.Fatalf("特写 is declared before 大特写 and must win, got %q", got)
	}
}

func TestFilterMulti(t *testing.T) {
	opts := vocab.Default().MustSet(vocab.AestheticsTechnique).Options
	cases := []struct{ in, want string }{
		{"精细,不存在的技法,对比", "精细,对比"},
		{"对比, 排比 ,夸张", "对比,排比,夸张"},
		{"对比，组合", "精细"},
		{"精细，对比", "精细"},
		{"对比，组合,夸张", "夸张"},
		{",对比,,", "对比"},
		{"", "精细"},
		{"全都不对", "精细"},
		{"对比手法", "精细"},
	}
	for _, tc := range cases {
		if got := FilterMulti(tc.in, opts, "精细"); got != tc.want {
			t.Fatalf("FilterMulti(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
