// Copyright 2024-2026 Aiku AI

package relay

import (
	"testing"

	"github.com/aiku/telegram-relay/pkg/relay/rewrite"
)

func TestTransformApply_NilPassthrough(t *testing.T) {
	t.Parallel()
	var rules *TransformRules
	content := Content{Text: "as is", Media: []MediaRef{{Kind: MediaPhoto, FileID: "f1"}}}

	got := rules.Apply(content)
	if got.Text != content.Text || len(got.Media) != 1 {
		t.Errorf("nil transform should pass content through, got %+v", got)
	}
}

func TestTransformApply_TextRewrite(t *testing.T) {
	t.Parallel()
	rules, warnings := CompileTransform(&TransformConfig{
		Config: rewrite.Config{
			Watermark: rewrite.WatermarkConfig{Append: "via @mirror"},
		},
	}, nil)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	got := rules.Apply(Content{Text: "original"})
	want := "original\n\nvia @mirror"
	if got.Text != want {
		t.Errorf("text: got %q, want %q", got.Text, want)
	}
}

func TestTransformApply_DropMedia(t *testing.T) {
	t.Parallel()
	rules, warnings := CompileTransform(&TransformConfig{
		DropMedia: []string{"voice", "animation"},
	}, nil)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	content := Content{
		Text: "caption",
		Media: []MediaRef{
			{Kind: MediaPhoto, FileID: "p1"},
			{Kind: MediaVoice, FileID: "v1"},
			{Kind: MediaAnimation, FileID: "a1"},
		},
	}
	got := rules.Apply(content)
	if len(got.Media) != 1 || got.Media[0].Kind != MediaPhoto {
		t.Errorf("media: got %v, want only the photo", got.Media)
	}
	// The input content is never mutated.
	if len(content.Media) != 3 {
		t.Errorf("input media mutated: %v", content.Media)
	}
}

func TestTransformApply_DropAllMediaLeavesText(t *testing.T) {
	t.Parallel()
	rules, _ := CompileTransform(&TransformConfig{DropMedia: []string{"photo"}}, nil)

	got := rules.Apply(Content{Text: "caption", Media: []MediaRef{{Kind: MediaPhoto, FileID: "p1"}}})
	if got.Kind() != ContentText {
		t.Errorf("kind: got %s, want text", got.Kind())
	}
}

func TestTransformApply_CanEmptyContent(t *testing.T) {
	t.Parallel()
	rules, _ := CompileTransform(&TransformConfig{
		Config: rewrite.Config{
			Watermark: rewrite.WatermarkConfig{Strip: []string{"gone"}},
		},
		DropMedia: []string{"photo"},
	}, nil)

	got := rules.Apply(Content{Text: "gone", Media: []MediaRef{{Kind: MediaPhoto, FileID: "p1"}}})
	if got.Kind() != ContentEmpty {
		t.Errorf("kind: got %s, want empty", got.Kind())
	}
}

func TestCompileTransform_UnknownKindWarns(t *testing.T) {
	t.Parallel()
	rules, warnings := CompileTransform(&TransformConfig{DropMedia: []string{"sticker3d"}}, nil)
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", warnings)
	}
	if len(rules.DropMedia) != 0 {
		t.Errorf("unknown kind kept: %v", rules.DropMedia)
	}
}

func TestContentKind(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		content Content
		want    ContentKind
	}{
		{"empty", Content{}, ContentEmpty},
		{"text", Content{Text: "hi"}, ContentText},
		{"media", Content{Media: []MediaRef{{Kind: MediaPhoto}}}, ContentMedia},
		{"mixed", Content{Text: "hi", Media: []MediaRef{{Kind: MediaPhoto}}}, ContentMixed},
	}
	for _, tc := range cases {
		if got := tc.content.Kind(); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}
