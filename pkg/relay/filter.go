// Copyright 2024-2026 Aiku AI

package relay

import (
	"fmt"
	"regexp"
	"strings"
)

// FilterRules is a compiled, immutable filter rule set. The zero value
// accepts everything.
type FilterRules struct {
	RequireKeywords    []string
	ExcludeKeywords    []string
	IgnoreForwarded    bool
	MinLength          int
	MaxLength          int
	AllowMedia         []MediaKind
	DenyMedia          []MediaKind
	SkipFileExtensions []string

	excludePatterns []*regexp.Regexp
}

// CompileFilter builds FilterRules from raw config values. Malformed
// regex patterns and unknown media kinds are dropped and reported as
// warnings; a bad rule never rejects messages (fails open per rule).
func CompileFilter(cfg FilterConfig) (*FilterRules, []string) {
	var warnings []string
	rules := &FilterRules{
		RequireKeywords:    cfg.RequireKeywords,
		ExcludeKeywords:    cfg.ExcludeKeywords,
		IgnoreForwarded:    cfg.IgnoreForwarded == nil || *cfg.IgnoreForwarded,
		MinLength:          cfg.MinLength,
		MaxLength:          cfg.MaxLength,
		SkipFileExtensions: cfg.SkipFileExtensions,
	}
	for _, pattern := range cfg.ExcludePatterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("invalid exclude pattern %q: %v", pattern, err))
			continue
		}
		rules.excludePatterns = append(rules.excludePatterns, re)
	}
	parseKinds := func(raw []string, field string) []MediaKind {
		var kinds []MediaKind
		for _, s := range raw {
			kind, ok := ParseMediaKind(s)
			if !ok {
				warnings = append(warnings, fmt.Sprintf("unknown media kind %q in %s", s, field))
				continue
			}
			kinds = append(kinds, kind)
		}
		return kinds
	}
	rules.AllowMedia = parseKinds(cfg.AllowMedia, "allow_media")
	rules.DenyMedia = parseKinds(cfg.DenyMedia, "deny_media")
	return rules, warnings
}

// Decision is the filter verdict. Reason is empty on accept.
type Decision struct {
	Accept bool
	Reason string
}

func accept() Decision {
	return Decision{Accept: true}
}

func reject(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Decide evaluates the rule set against an inbound message. It is
// deterministic and side-effect free. Exclude rules are evaluated before
// include rules; an exclude match always wins. A nil or empty rule set
// accepts everything.
func Decide(evt InboundEvent, rules *FilterRules) Decision {
	if rules == nil {
		return accept()
	}
	text := evt.Content.Text

	if rules.IgnoreForwarded && evt.Forwarded {
		return reject("message is forwarded")
	}

	lower := strings.ToLower(text)
	for _, keyword := range rules.ExcludeKeywords {
		if keyword != "" && strings.Contains(lower, strings.ToLower(keyword)) {
			return reject("matched exclude keyword %q", keyword)
		}
	}
	for _, re := range rules.excludePatterns {
		if re.MatchString(text) {
			return reject("matched exclude pattern %q", re.String())
		}
	}
	if len(rules.DenyMedia) > 0 {
		for _, ref := range evt.Content.Media {
			if containsKind(rules.DenyMedia, ref.Kind) {
				return reject("media kind %s is denied", ref.Kind)
			}
		}
	}
	if len(rules.SkipFileExtensions) > 0 {
		for _, ref := range evt.Content.Media {
			if ext := matchExtension(ref.FileName, rules.SkipFileExtensions); ext != "" {
				return reject("file extension %s is excluded", ext)
			}
		}
	}

	if len(rules.RequireKeywords) > 0 && !containsAnyKeyword(lower, rules.RequireKeywords) {
		return reject("missing required keyword")
	}
	if len(rules.AllowMedia) > 0 {
		for _, ref := range evt.Content.Media {
			if !containsKind(rules.AllowMedia, ref.Kind) {
				return reject("media kind %s is not allowed", ref.Kind)
			}
		}
	}

	length := len([]rune(text))
	if rules.MinLength > 0 && length < rules.MinLength {
		return reject("message length %d below minimum %d", length, rules.MinLength)
	}
	if rules.MaxLength > 0 && length > rules.MaxLength {
		return reject("message length %d above maximum %d", length, rules.MaxLength)
	}

	return accept()
}

func containsAnyKeyword(lowerText string, keywords []string) bool {
	for _, keyword := range keywords {
		if keyword != "" && strings.Contains(lowerText, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

func containsKind(kinds []MediaKind, kind MediaKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func matchExtension(filename string, extensions []string) string {
	if filename == "" {
		return ""
	}
	lower := strings.ToLower(filename)
	for _, ext := range extensions {
		if ext != "" && strings.HasSuffix(lower, strings.ToLower(ext)) {
			return ext
		}
	}
	return ""
}
