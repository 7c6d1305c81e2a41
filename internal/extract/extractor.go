// Package extract turns raw HTML into the set of derived artifacts: the
// readability-extracted "readable" HTML, markdown, plain text, page
// metadata, and (best-effort) the site favicon. It owns no persistent
// state and knows nothing about queues or the database.
package extract

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/curateapp/curate/internal/common"
)

var reWhitespace = regexp.MustCompile(`[ \t]+`)
var reBlankLines = regexp.MustCompile(`\n{3,}`)

// Result holds everything the engine derives from one HTML input.
type Result struct {
	Title        string
	Description  string
	Author       *string
	Language     string
	ReadableHTML string
	Markdown     string
	Text         string
	Favicon      *Favicon
}

// Engine is the pure extraction pipeline. Parsing happens offline: goquery
// builds the DOM without executing scripts or loading external resources,
// and script elements are removed before any analysis.
type Engine struct {
	logger   *slog.Logger
	favicons *FaviconFetcher // nil disables favicon resolution
}

func NewEngine(favicons *FaviconFetcher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger, favicons: favicons}
}

// Extract derives all artifacts from rawHTML. A parse-level failure is
// fatal and propagates; favicon resolution and metadata heuristics degrade
// to defaults instead.
func (e *Engine) Extract(ctx context.Context, rawHTML, sourceURL string) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, &common.FatalError{Step: "parse", Cause: err}
	}
	doc.Find("script, noscript").Remove()

	pageURL, err := url.Parse(sourceURL)
	if err != nil || sourceURL == "" {
		// Documents have no source URL; readability still needs a base.
		pageURL = &url.URL{Scheme: "file", Path: "/"}
	}

	stripped, err := doc.Html()
	if err != nil {
		return nil, &common.FatalError{Step: "serialize", Cause: err}
	}

	res := &Result{Language: "en"}

	article, err := readability.FromReader(strings.NewReader(stripped), pageURL)
	if err != nil {
		e.logger.Warn("readability yielded nothing, falling back to body", "url", sourceURL, "error", err)
	}

	res.ReadableHTML = strings.TrimSpace(article.Content)
	if res.ReadableHTML == "" {
		body, bodyErr := goquery.OuterHtml(doc.Find("body").First())
		if bodyErr != nil {
			return nil, &common.FatalError{Step: "serialize", Cause: bodyErr}
		}
		res.ReadableHTML = body
	}

	res.Title = strings.TrimSpace(article.Title)
	if res.Title == "" {
		res.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	res.Description = strings.TrimSpace(article.Excerpt)
	if res.Description == "" {
		res.Description = strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", ""))
	}

	if byline := strings.TrimSpace(article.Byline); byline != "" {
		res.Author = &byline
	}

	if lang := strings.TrimSpace(doc.Find("html").AttrOr("lang", "")); lang != "" {
		res.Language = lang
	}

	md, err := htmltomarkdown.ConvertString(res.ReadableHTML)
	if err != nil {
		return nil, &common.FatalError{Step: "markdown", Cause: err}
	}
	res.Markdown = md

	text, err := flattenText(res.ReadableHTML)
	if err != nil {
		return nil, &common.FatalError{Step: "text", Cause: err}
	}
	res.Text = text

	if e.favicons != nil {
		res.Favicon = common.Degrade(ctx, e.logger, "favicon", nil,
			func(ctx context.Context) (*Favicon, error) {
				return e.favicons.Fetch(ctx, doc, pageURL)
			})
	}

	return res, nil
}

// flattenText renders HTML as plain text with no wrapping: block elements
// become line breaks, runs of spaces collapse.
func flattenText(html string) (string, error) {
	spaced := addBlockBreaks(html)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(spaced))
	if err != nil {
		return "", err
	}
	text := doc.Text()
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(reWhitespace.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = reBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text), nil
}

var blockElements = []string{"div", "p", "br", "li", "td", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "pre"}

// addBlockBreaks inserts newlines around block-level tags so their text
// does not run together once tags are stripped.
func addBlockBreaks(html string) string {
	result := html
	for _, tag := range blockElements {
		result = strings.ReplaceAll(result, "<"+tag+">", "\n<"+tag+">")
		result = strings.ReplaceAll(result, "<"+tag+" ", "\n<"+tag+" ")
		result = strings.ReplaceAll(result, "</"+tag+">", "</"+tag+">\n")
	}
	return result
}
