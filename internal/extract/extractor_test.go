package extract

import (
	"context"
	"strings"
	"testing"
)

const fixtureHTML = `<!DOCTYPE html>
<html lang="fr">
<head>
	<title>Une Page de Test</title>
	<meta name="description" content="A short description of the page.">
	<script>document.cookie = "tracker=1";</script>
</head>
<body>
	<article>
		<h1>Une Page de Test</h1>
		<p>Hello world, this is the opening paragraph of the article and it
		carries enough prose for the reader view to consider it content.</p>
		<p>A second paragraph keeps the body from looking like boilerplate,
		with more sentences that talk about nothing in particular at some
		length so extraction has something to hold onto.</p>
		<script>alert("should never survive");</script>
	</article>
</body>
</html>`

func TestExtractRoundTrip(t *testing.T) {
	engine := NewEngine(nil, nil)

	result, err := engine.Extract(context.Background(), fixtureHTML, "https://example.com/article")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if result.Title != "Une Page de Test" {
		t.Errorf("title = %q", result.Title)
	}
	if result.Description != "A short description of the page." {
		t.Errorf("description = %q", result.Description)
	}
	if result.Language != "fr" {
		t.Errorf("language = %q", result.Language)
	}
	if !strings.Contains(result.Markdown, "Hello world") {
		t.Errorf("markdown missing paragraph text: %q", result.Markdown)
	}
	if !strings.Contains(result.Text, "Hello world") {
		t.Errorf("plain text missing paragraph text: %q", result.Text)
	}
	if result.ReadableHTML == "" {
		t.Error("readable HTML is empty")
	}

	for name, out := range map[string]string{
		"readable": result.ReadableHTML,
		"markdown": result.Markdown,
		"text":     result.Text,
	} {
		if strings.Contains(out, "should never survive") || strings.Contains(out, "document.cookie") {
			t.Errorf("%s output contains script content", name)
		}
	}
}

func TestExtractDefaultsLanguage(t *testing.T) {
	engine := NewEngine(nil, nil)

	result, err := engine.Extract(context.Background(), "<html><body><p>No lang attribute here.</p></body></html>", "")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if result.Language != "en" {
		t.Errorf("language = %q, want en default", result.Language)
	}
}

func TestExtractEmptySourceURL(t *testing.T) {
	engine := NewEngine(nil, nil)

	// Uploaded HTML documents have no URL; extraction must still work.
	result, err := engine.Extract(context.Background(), fixtureHTML, "")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if result.Title != "Une Page de Test" {
		t.Errorf("title = %q", result.Title)
	}
}

func TestFlattenText(t *testing.T) {
	text, err := flattenText("<div><p>First   line.</p><p>Second line.</p></div>")
	if err != nil {
		t.Fatalf("flattenText failed: %v", err)
	}
	if strings.Contains(text, "First   line") {
		t.Errorf("whitespace not collapsed: %q", text)
	}
	if !strings.Contains(text, "First line.") || !strings.Contains(text, "Second line.") {
		t.Errorf("paragraph text missing: %q", text)
	}
	if !strings.Contains(text, "\n") {
		t.Errorf("block elements did not produce line breaks: %q", text)
	}
}
