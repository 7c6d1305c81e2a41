package tagging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/curateapp/curate/internal/common"
)

const (
	// MaxTags bounds the returned list regardless of what the model says.
	MaxTags = 5
	// excerptLimit caps how much content is embedded into the prompt.
	excerptLimit = 4000
)

// tagListSchema validates the parsed tag list: short strings only.
const tagListSchema = `{
	"type": "array",
	"items": {"type": "string", "minLength": 1, "maxLength": 64}
}`

var compiledTagSchema = jsonschema.MustCompileString("tags.json", tagListSchema)

// reFencedJSON pulls the contents out of a fenced code block the model may
// wrap its answer in.
var reFencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// Config bounds the tagging call.
type Config struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Tagger produces up to MaxTags short tags for one asset's content.
type Tagger struct {
	completer Completer
	cfg       Config
	logger    *slog.Logger
}

func NewTagger(completer Completer, cfg Config, logger *slog.Logger) *Tagger {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 256
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Tagger{completer: completer, cfg: cfg, logger: logger}
}

// GenerateTags asks the capability for tags and parses the answer
// leniently. Any call or parse failure returns a SubstepError the caller
// degrades to an empty list; this function never fails a job.
func (t *Tagger) GenerateTags(ctx context.Context, contentText, title, kindHint string) ([]string, error) {
	messages := buildMessages(contentText, title, kindHint)

	raw, err := t.completer.Complete(ctx, messages, CompletionOptions{
		Temperature: t.cfg.Temperature,
		MaxTokens:   t.cfg.MaxTokens,
		Timeout:     t.cfg.Timeout,
	})
	if err != nil {
		return nil, &common.SubstepError{Step: "tags", Cause: err}
	}

	tags, err := ParseTagResponse(raw)
	if err != nil {
		return nil, &common.SubstepError{Step: "tags", Cause: err}
	}

	t.logger.Debug("tags generated", "count", len(tags), "kind", kindHint)
	return tags, nil
}

// buildMessages composes the fixed two-message prompt with a capped
// content excerpt.
func buildMessages(contentText, title, kindHint string) []Message {
	excerpt := truncateExcerpt(strings.TrimSpace(contentText), excerptLimit)

	var b strings.Builder
	b.WriteString("Suggest up to 5 short tags for the following ")
	if kindHint != "" {
		b.WriteString(kindHint)
	} else {
		b.WriteString("content")
	}
	b.WriteString(".\n")
	if title != "" {
		b.WriteString("Title: ")
		b.WriteString(title)
		b.WriteString("\n")
	}
	b.WriteString("\nContent:\n")
	b.WriteString(excerpt)

	return []Message{
		{
			Role: "system",
			Content: "You are a content tagger. Respond with a JSON array of at most 5 short, " +
				"lowercase tags (1-3 words each) describing the topic of the content. " +
				"Return ONLY JSON, either a bare array or {\"tags\": [...]}.",
		},
		{Role: "user", Content: b.String()},
	}
}

// truncateExcerpt cuts s down to at most limit bytes without splitting a
// rune; a byte-index slice could leave invalid UTF-8 in the prompt.
func truncateExcerpt(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// ParseTagResponse extracts a tag list from a model response. It first
// looks for a fenced ```json block, then tries the raw text; accepts
// either a bare array of strings or an object with a "tags" array;
// silently drops non-string entries and truncates to MaxTags.
func ParseTagResponse(raw string) ([]string, error) {
	payload := strings.TrimSpace(raw)
	if m := reFencedJSON.FindStringSubmatch(payload); m != nil {
		payload = strings.TrimSpace(m[1])
	}

	var decoded any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, fmt.Errorf("tag response is not JSON: %w", err)
	}

	var items []any
	switch v := decoded.(type) {
	case []any:
		items = v
	case map[string]any:
		inner, ok := v["tags"].([]any)
		if !ok {
			return nil, fmt.Errorf("tag object has no tags array")
		}
		items = inner
	default:
		return nil, fmt.Errorf("unexpected tag response shape %T", decoded)
	}

	tags := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || len(s) > 64 {
			continue
		}
		tags = append(tags, s)
		if len(tags) == MaxTags {
			break
		}
	}

	// The schema check keeps the accepted shape honest even as the lenient
	// parsing above evolves.
	checked := make([]any, len(tags))
	for i, s := range tags {
		checked[i] = s
	}
	if err := compiledTagSchema.Validate(checked); err != nil {
		return nil, fmt.Errorf("tag list failed validation: %w", err)
	}
	return tags, nil
}
