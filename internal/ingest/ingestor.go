package ingest

import (
	"bufio"
	"context"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/curateapp/curate/internal/bookmarks"
	"github.com/curateapp/curate/internal/documents"
)

// Ingestor turns dropped files into assets owned by a fixed user. Files
// are removed from the drop directory once their asset exists; a failed
// file stays put so the next write event retries it.
type Ingestor struct {
	bookmarks *bookmarks.Service
	documents *documents.Service
	userID    uuid.UUID
	logger    *slog.Logger
}

func NewIngestor(b *bookmarks.Service, d *documents.Service, userID uuid.UUID, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{bookmarks: b, documents: d, userID: userID, logger: logger}
}

// Run consumes watcher events until the channel closes.
func (i *Ingestor) Run(ctx context.Context, paths <-chan string) {
	for path := range paths {
		if err := i.IngestPath(ctx, path); err != nil {
			i.logger.Warn("ingest failed, leaving file in place", "path", path, "error", err)
		}
	}
}

// IngestPath ingests one dropped file.
func (i *Ingestor) IngestPath(ctx context.Context, path string) error {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "url" {
		return i.ingestURLFile(ctx, path)
	}
	return i.ingestDocument(ctx, path)
}

// ingestURLFile reads one URL per line, accepting both plain lines and
// the Windows shortcut "URL=" form, and creates a bookmark for each.
func (i *Ingestor) ingestURLFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	created := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "[") {
			continue
		}
		if v, ok := strings.CutPrefix(line, "URL="); ok {
			line = strings.TrimSpace(v)
		}
		if !strings.HasPrefix(line, "http://") && !strings.HasPrefix(line, "https://") {
			continue
		}
		if _, _, err := i.bookmarks.Create(ctx, i.userID, line); err != nil {
			i.logger.Warn("bookmark ingest failed", "path", path, "url", line, "error", err)
			continue
		}
		created++
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if created > 0 {
		i.logger.Info("bookmarks ingested", "path", path, "count", created)
	}
	return os.Remove(path)
}

func (i *Ingestor) ingestDocument(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	name := filepath.Base(path)
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	doc, _, err := i.documents.Upload(ctx, i.userID, name, mimeType, f)
	if err != nil {
		return err
	}

	i.logger.Info("document ingested", "path", path, "document_id", doc.ID)
	return os.Remove(path)
}
