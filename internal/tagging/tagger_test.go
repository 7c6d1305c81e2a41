package tagging

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

// mockCompleter returns a canned response or error.
type mockCompleter struct {
	response string
	err      error
	gotMsgs  []Message
}

func (m *mockCompleter) Complete(_ context.Context, messages []Message, _ CompletionOptions) (string, error) {
	m.gotMsgs = messages
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func TestParseTagResponse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{
			name: "bare array",
			raw:  `["go", "databases"]`,
			want: []string{"go", "databases"},
		},
		{
			name: "tags object",
			raw:  `{"tags": ["reading", "science"]}`,
			want: []string{"reading", "science"},
		},
		{
			name: "fenced json block",
			raw:  "Here you go:\n```json\n[\"web\", \"tools\"]\n```\nEnjoy!",
			want: []string{"web", "tools"},
		},
		{
			name: "fenced block without language tag",
			raw:  "```\n{\"tags\": [\"news\"]}\n```",
			want: []string{"news"},
		},
		{
			name: "non-string entries dropped",
			raw:  `["go", 42, null, "infra"]`,
			want: []string{"go", "infra"},
		},
		{
			name: "truncated to five",
			raw:  `["a", "b", "c", "d", "e", "f", "g"]`,
			want: []string{"a", "b", "c", "d", "e"},
		},
		{
			name: "whitespace trimmed, empties dropped",
			raw:  `["  go  ", "", "   "]`,
			want: []string{"go"},
		},
		{
			name:    "prose is an error",
			raw:     "I could not find any tags, sorry.",
			wantErr: true,
		},
		{
			name:    "object without tags array",
			raw:     `{"labels": ["x"]}`,
			wantErr: true,
		},
		{
			name:    "scalar json",
			raw:     `"just-one-tag"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTagResponse(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseTagResponse(%q) expected error, got %v", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTagResponse(%q) failed: %v", tt.raw, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseTagResponse(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestGenerateTags(t *testing.T) {
	completer := &mockCompleter{response: `["golang", "testing"]`}
	tagger := NewTagger(completer, Config{}, nil)

	tags, err := tagger.GenerateTags(context.Background(), "some article text", "An Article", "bookmark")
	if err != nil {
		t.Fatalf("GenerateTags failed: %v", err)
	}
	if !reflect.DeepEqual(tags, []string{"golang", "testing"}) {
		t.Errorf("tags = %v", tags)
	}

	if len(completer.gotMsgs) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(completer.gotMsgs))
	}
	if completer.gotMsgs[0].Role != "system" || completer.gotMsgs[1].Role != "user" {
		t.Errorf("unexpected message roles: %s, %s", completer.gotMsgs[0].Role, completer.gotMsgs[1].Role)
	}
}

func TestGenerateTagsExcerptCap(t *testing.T) {
	completer := &mockCompleter{response: `[]`}
	tagger := NewTagger(completer, Config{}, nil)

	long := make([]byte, 10*excerptLimit)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := tagger.GenerateTags(context.Background(), string(long), "", ""); err != nil {
		t.Fatalf("GenerateTags failed: %v", err)
	}
	if got := len(completer.gotMsgs[1].Content); got > excerptLimit+256 {
		t.Errorf("user message not capped: %d bytes", got)
	}
}

func TestTruncateExcerptKeepsRunesWhole(t *testing.T) {
	// Multibyte content sized so a byte-index cut would land mid-rune.
	long := strings.Repeat("日本語のテキスト", excerptLimit)
	got := truncateExcerpt(long, excerptLimit)
	if len(got) > excerptLimit {
		t.Fatalf("excerpt = %d bytes, want <= %d", len(got), excerptLimit)
	}
	if !utf8.ValidString(got) {
		t.Error("truncation split a rune")
	}

	short := "short ascii"
	if truncateExcerpt(short, excerptLimit) != short {
		t.Error("short input must pass through unchanged")
	}
}

func TestGenerateTagsProviderError(t *testing.T) {
	completer := &mockCompleter{err: errors.New("upstream 500")}
	tagger := NewTagger(completer, Config{}, nil)

	if _, err := tagger.GenerateTags(context.Background(), "text", "", ""); err == nil {
		t.Fatal("expected error from failing completer")
	}
}
