// Copyright 2024-2026 Aiku AI

package relay

import (
	"fmt"

	"github.com/aiku/telegram-relay/pkg/relay/rewrite"
)

// TransformRules is a compiled, per-destination transform rule set: text
// rewriting plus media-targeting rules. Nil applies no transforms.
type TransformRules struct {
	Text      *rewrite.Rules
	DropMedia []MediaKind
}

// CompileTransform builds TransformRules from raw config values. Bad
// rules are dropped with warnings, never fatal.
func CompileTransform(cfg *TransformConfig, vars map[string]string) (*TransformRules, []string) {
	if cfg == nil {
		return nil, nil
	}
	text, warnings := rewrite.Compile(cfg.Config, vars)
	rules := &TransformRules{Text: text}
	for _, s := range cfg.DropMedia {
		kind, ok := ParseMediaKind(s)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("unknown media kind %q in drop_media", s))
			continue
		}
		rules.DropMedia = append(rules.DropMedia, kind)
	}
	return rules, warnings
}

// Apply produces the relayed content for one destination. It always
// operates on the original source content, never on another destination's
// output. Media passes through untouched unless a drop rule targets its
// kind.
func (t *TransformRules) Apply(content Content) Content {
	if t == nil {
		return content
	}
	out := Content{Text: t.Text.Apply(content.Text)}
	for _, ref := range content.Media {
		if containsKind(t.DropMedia, ref.Kind) {
			continue
		}
		out.Media = append(out.Media, ref)
	}
	return out
}
