// Package render defines the headless-browser capability the bookmark
// pipeline consumes and a markdown-based PDF fallback used when no browser
// is attached. How a browser is provisioned is out of scope; only the
// contract lives here.
package render

import (
	"context"
	"time"
)

// PDFOptions mirror the print settings used for page snapshots.
type PDFOptions struct {
	Format          string  // paper size, e.g. "A4"
	MarginInches    float64 // uniform margin
	PrintBackground bool
}

// DefaultPDFOptions is A4 with half-inch margins and background graphics.
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{Format: "A4", MarginInches: 0.5, PrintBackground: true}
}

// Page is a fully navigated page handle.
type Page interface {
	// WaitForImages blocks until every image has loaded or faulted, then
	// applies a fixed settle delay. It returns even if some images never
	// resolve, bounded by the grace period.
	WaitForImages(ctx context.Context, settle time.Duration) error
	// EmulateScreenMedia forces desktop screen styles before printing.
	EmulateScreenMedia() error
	RenderPDF(ctx context.Context, opts PDFOptions) ([]byte, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Browser renders URLs into page handles. A timeout from any Browser or
// Page call is a recoverable failure of the pdf stage only, never of
// extraction.
type Browser interface {
	Open(ctx context.Context, url string) (Page, error)
}
