// Copyright 2024-2026 Aiku AI

// Package rewrite applies declarative text rewriting rules: regex
// substitutions, link rewrites, and watermark handling. Rules are compiled
// once from configuration and applied in declaration order.
//
// The compiled rule set guards against compounding: any rule whose own
// output the full chain would rewrite again is rejected at compile time
// with a warning, so multi-destination fan-out can re-run a destination's
// rules without chaining substitutions or stacking watermarks.
package rewrite

import (
	"fmt"
	"regexp"
	"strings"
)

// ReplacementConfig is one regex substitution. The replacement string may
// reference template variables as {{name}} and capture groups as $1, $2...
type ReplacementConfig struct {
	Pattern string `yaml:"pattern"`
	Replace string `yaml:"replace"`
}

// LinkConfig rewrites every occurrence of one link (or link fragment) to
// another, e.g. from "t.me/x" to "t.me/y".
type LinkConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// WatermarkConfig controls watermark insertion and removal. Strip entries
// are removed first, then Prepend/Append are added unless already present.
type WatermarkConfig struct {
	Prepend string   `yaml:"prepend"`
	Append  string   `yaml:"append"`
	Strip   []string `yaml:"strip"`
}

// Config is the raw rule set as it appears in the configuration file.
type Config struct {
	Replacements []ReplacementConfig `yaml:"replacements"`
	Links        []LinkConfig        `yaml:"links"`
	Watermark    WatermarkConfig     `yaml:"watermark"`
}

var templateVarRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// expandVars substitutes {{name}} template variables. Unknown variables
// are left untouched.
func expandVars(s string, vars map[string]string) string {
	return templateVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.Trim(match, "{}")
		if val, ok := vars[name]; ok {
			return val
		}
		return match
	})
}

type replacement struct {
	re      *regexp.Regexp
	replace string
}

// Rules is a compiled, immutable rule set. The zero value and nil apply
// no rewrites.
type Rules struct {
	replacements []replacement
	links        []LinkConfig
	watermark    WatermarkConfig
}

// Compile builds Rules from config, expanding template variables in
// replacement strings. Invalid or non-idempotent rules are dropped and
// reported as warnings; compilation itself never fails.
func Compile(cfg Config, vars map[string]string) (*Rules, []string) {
	var warnings []string
	rules := &Rules{watermark: cfg.Watermark}
	rules.watermark.Prepend = expandVars(cfg.Watermark.Prepend, vars)
	rules.watermark.Append = expandVars(cfg.Watermark.Append, vars)

	for _, rc := range cfg.Replacements {
		if rc.Pattern == "" {
			continue
		}
		re, err := regexp.Compile("(?is)" + rc.Pattern)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("invalid replacement pattern %q: %v", rc.Pattern, err))
			continue
		}
		rules.replacements = append(rules.replacements, replacement{re: re, replace: expandVars(rc.Replace, vars)})
	}

	for _, lc := range cfg.Links {
		if lc.From == "" {
			continue
		}
		rules.links = append(rules.links, LinkConfig{From: lc.From, To: expandVars(lc.To, vars)})
	}

	warnings = append(warnings, rules.pruneCompounding()...)
	return rules, warnings
}

// pruneCompounding drops rules whose output the chain rewrites again.
// Checking each rule in isolation is not enough: with "a" -> "b" and
// "c" -> "a" both rules look idempotent alone, but a second application
// turns the first rule's work into "b". Every replacement string, link
// target, and watermark string must be a fixed point of the full chain
// as it would run over already-rewritten text. Replacement strings
// carrying capture group references cannot be checked statically and are
// trusted as written.
func (r *Rules) pruneCompounding() []string {
	var warnings []string
	for changed := true; changed; {
		changed = false
		for i := 0; i < len(r.replacements); i++ {
			rep := r.replacements[i]
			if strings.Contains(rep.replace, "$") {
				continue
			}
			if r.applyReplacements(rep.replace) == rep.replace {
				continue
			}
			pattern := strings.TrimPrefix(rep.re.String(), "(?is)")
			warnings = append(warnings, fmt.Sprintf("non-idempotent replacement %q -> %q dropped", pattern, rep.replace))
			r.replacements = append(r.replacements[:i], r.replacements[i+1:]...)
			changed = true
			i--
		}
	}
	for i := 0; i < len(r.links); i++ {
		link := r.links[i]
		if r.applyLinks(r.applyReplacements(link.To)) == link.To {
			continue
		}
		warnings = append(warnings, fmt.Sprintf("non-idempotent link rewrite %q -> %q dropped", link.From, link.To))
		r.links = append(r.links[:i], r.links[i+1:]...)
		i--
	}
	if wm := r.watermark.Prepend; wm != "" && r.rewriteBody(wm) != wm {
		warnings = append(warnings, fmt.Sprintf("watermark prepend %q rewritten by other rules, dropped", wm))
		r.watermark.Prepend = ""
	}
	if wm := r.watermark.Append; wm != "" && r.rewriteBody(wm) != wm {
		warnings = append(warnings, fmt.Sprintf("watermark append %q rewritten by other rules, dropped", wm))
		r.watermark.Append = ""
	}
	return warnings
}

func (r *Rules) applyReplacements(text string) string {
	for _, rep := range r.replacements {
		text = rep.re.ReplaceAllString(text, rep.replace)
	}
	return text
}

func (r *Rules) applyLinks(text string) string {
	for _, link := range r.links {
		text = strings.ReplaceAll(text, link.From, link.To)
	}
	return text
}

func (r *Rules) applyStrips(text string) string {
	for _, strip := range r.watermark.Strip {
		if strip != "" {
			text = strings.ReplaceAll(text, strip, "")
		}
	}
	return text
}

// rewriteBody runs the pre-watermark stages: replacements, links, strips,
// then whitespace trimming.
func (r *Rules) rewriteBody(text string) string {
	return strings.TrimSpace(r.applyStrips(r.applyLinks(r.applyReplacements(text))))
}

// Empty reports whether the rule set performs no rewrites.
func (r *Rules) Empty() bool {
	if r == nil {
		return true
	}
	return len(r.replacements) == 0 && len(r.links) == 0 &&
		r.watermark.Prepend == "" && r.watermark.Append == "" && len(r.watermark.Strip) == 0
}

// Apply rewrites text in declaration order: replacements, links, watermark
// strips, then watermark insertion. Empty text is returned unchanged.
func (r *Rules) Apply(text string) string {
	if r == nil || text == "" {
		return text
	}
	text = r.rewriteBody(text)
	if r.watermark.Prepend != "" && !strings.Contains(text, r.watermark.Prepend) {
		text = r.watermark.Prepend + "\n\n" + text
	}
	if r.watermark.Append != "" && !strings.Contains(text, r.watermark.Append) {
		text = text + "\n\n" + r.watermark.Append
	}
	return text
}
