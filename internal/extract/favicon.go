package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/curateapp/curate/constants"
	"github.com/curateapp/curate/internal/common"
)

// maxFaviconBytes caps icon downloads; anything bigger is not a favicon.
const maxFaviconBytes = 1 << 20

// Favicon is a fetched site icon plus the extension its artifact file
// should carry.
type Favicon struct {
	Bytes       []byte
	Ext         string
	ContentType string
}

// FileName returns the deterministic artifact name for this icon.
func (f *Favicon) FileName() string {
	return constants.FaviconPrefix + "." + f.Ext
}

// FaviconFetcher resolves and downloads a page's icon. Every failure here
// is a SubstepError: the favicon is best-effort and must never abort the
// pipeline.
type FaviconFetcher struct {
	client *http.Client
	logger *slog.Logger
}

func NewFaviconFetcher(client *http.Client, logger *slog.Logger) *FaviconFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FaviconFetcher{client: client, logger: logger}
}

// Fetch looks for <link rel="icon">, then <link rel="shortcut icon">, and
// finally falls back to {origin}/favicon.ico, which is used only on an
// explicit 200.
func (f *FaviconFetcher) Fetch(ctx context.Context, doc *goquery.Document, pageURL *url.URL) (*Favicon, error) {
	href := strings.TrimSpace(doc.Find(`link[rel="icon"]`).AttrOr("href", ""))
	if href == "" {
		href = strings.TrimSpace(doc.Find(`link[rel="shortcut icon"]`).AttrOr("href", ""))
	}

	if href != "" {
		iconURL, err := pageURL.Parse(href)
		if err != nil {
			return nil, &common.SubstepError{Step: "favicon", Cause: err}
		}
		return f.download(ctx, iconURL, false)
	}

	if pageURL.Scheme != "http" && pageURL.Scheme != "https" {
		return nil, &common.SubstepError{Step: "favicon", Cause: fmt.Errorf("no icon link and no http origin")}
	}
	fallback := &url.URL{Scheme: pageURL.Scheme, Host: pageURL.Host, Path: "/favicon.ico"}
	return f.download(ctx, fallback, true)
}

// download fetches the icon. strict200 requires exactly 200 (the
// /favicon.ico fallback); otherwise any 2xx is accepted.
func (f *FaviconFetcher) download(ctx context.Context, iconURL *url.URL, strict200 bool) (*Favicon, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iconURL.String(), nil)
	if err != nil {
		return nil, &common.SubstepError{Step: "favicon", Cause: err}
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &common.SubstepError{Step: "favicon", Cause: err}
	}
	defer resp.Body.Close()

	if strict200 && resp.StatusCode != http.StatusOK {
		return nil, &common.SubstepError{Step: "favicon", Cause: fmt.Errorf("favicon.ico fallback returned %d", resp.StatusCode)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &common.SubstepError{Step: "favicon", Cause: fmt.Errorf("icon fetch returned %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFaviconBytes))
	if err != nil {
		return nil, &common.SubstepError{Step: "favicon", Cause: err}
	}
	if len(body) == 0 {
		return nil, &common.SubstepError{Step: "favicon", Cause: fmt.Errorf("empty icon body")}
	}

	ct := resp.Header.Get("Content-Type")
	fav := &Favicon{
		Bytes:       body,
		Ext:         iconExt(iconURL, ct),
		ContentType: ct,
	}
	f.logger.Debug("favicon fetched", "url", iconURL.String(), "bytes", len(body), "ext", fav.Ext)
	return fav, nil
}

// iconExt prefers the URL's own extension and falls back to the
// content-type table.
func iconExt(iconURL *url.URL, contentType string) string {
	if ext := constants.NormalizeExt(path.Ext(iconURL.Path)); ext != "" {
		return ext
	}
	return constants.FaviconExtForContentType(contentType)
}
