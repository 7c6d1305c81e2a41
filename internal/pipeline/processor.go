// Package pipeline runs the per-asset processing state machine: extract,
// persist, and for bookmarks the pdf and tags stages. It is the only
// writer of stage transitions.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/curateapp/curate/constants"
	"github.com/curateapp/curate/internal/common"
	"github.com/curateapp/curate/internal/entity"
	"github.com/curateapp/curate/internal/extract"
	"github.com/curateapp/curate/internal/persist"
	"github.com/curateapp/curate/internal/render"
	"github.com/curateapp/curate/internal/repository"
	"github.com/curateapp/curate/internal/storage"
	"github.com/curateapp/curate/internal/tagging"
)

// errSuperseded aborts a run whose generation was fenced out by a forced
// retry. It is not a failure; the newer run owns the job now.
var errSuperseded = errors.New("run superseded by a newer generation")

type Processor struct {
	assets    repository.AssetRepository
	jobs      repository.ProcessingJobRepository
	tags      repository.TagRepository
	store     storage.BlobStore
	fetcher   *extract.PageFetcher
	engine    *extract.Engine
	persister *persist.Persister
	tagger    *tagging.Tagger // nil disables the tags stage body
	browser   render.Browser  // nil falls back to markdown rendering
	mdPDF     *render.MarkdownPDF
	renderCfg common.RenderConfig
	logger    *slog.Logger
}

type Deps struct {
	Assets    repository.AssetRepository
	Jobs      repository.ProcessingJobRepository
	Tags      repository.TagRepository
	Store     storage.BlobStore
	Fetcher   *extract.PageFetcher
	Engine    *extract.Engine
	Persister *persist.Persister
	Tagger    *tagging.Tagger
	Browser   render.Browser
	RenderCfg common.RenderConfig
}

func NewProcessor(d Deps, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		assets:    d.Assets,
		jobs:      d.Jobs,
		tags:      d.Tags,
		store:     d.Store,
		fetcher:   d.Fetcher,
		engine:    d.Engine,
		persister: d.Persister,
		tagger:    d.Tagger,
		browser:   d.Browser,
		mdPDF:     render.NewMarkdownPDF(),
		renderCfg: d.RenderCfg,
		logger:    logger,
	}
}

// advance records one stage transition under the run's generation. A
// stale-generation rejection converts to errSuperseded so callers stop
// without marking anything failed.
func (p *Processor) advance(ctx context.Context, kind constants.AssetKind, assetID uuid.UUID, gen int64, stage string, status constants.StageStatus, detail string) error {
	_, err := p.jobs.AdvanceStage(ctx, kind, assetID, repository.StageOutcome{
		Stage:  stage,
		Status: status,
		Detail: detail,
	}, gen)
	if errors.Is(err, repository.ErrStaleGeneration) {
		p.logger.Info("stage write fenced out, aborting run",
			"asset_kind", kind, "asset_id", assetID, "stage", stage, "generation", gen)
		return errSuperseded
	}
	return err
}

// failStage marks a stage failed, swallowing a fencing rejection.
func (p *Processor) failStage(ctx context.Context, kind constants.AssetKind, assetID uuid.UUID, gen int64, stage string, cause error) {
	if err := p.advance(ctx, kind, assetID, gen, stage, constants.StageFailed, cause.Error()); err != nil && !errors.Is(err, errSuperseded) {
		p.logger.Error("failed to record stage failure",
			"asset_kind", kind, "asset_id", assetID, "stage", stage, "error", err)
	}
}

func (p *Processor) readBlob(ctx context.Context, key string) ([]byte, error) {
	rc, _, err := p.store.GetStream(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// ProcessBookmark runs the full bookmark stage set. The pdf and tags
// stages are independent: a pdf failure still lets tags run, and a tags
// degradation still completes the stage.
func (p *Processor) ProcessBookmark(ctx context.Context, payload entity.QueuePayload) (err error) {
	kind := constants.AssetKindBookmark
	gen := payload.Generation
	currentStage := constants.StageExtract

	// Any exit with an error, panic and context death included, must land
	// the active stage in failed so the job never reads processing after
	// the run is gone. The write uses a cancellation-immune context: a
	// timed-out run could not record its own failure otherwise.
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic during bookmark processing",
				"bookmark_id", payload.AssetID, "stage", currentStage, "panic", r)
			err = fmt.Errorf("panic in stage %s: %v", currentStage, r)
		}
		if err != nil {
			p.failStage(context.WithoutCancel(ctx), kind, payload.AssetID, gen, currentStage, err)
		}
	}()

	bookmark, err := p.assets.GetBookmark(ctx, payload.UserID, payload.AssetID)
	if err != nil {
		return err
	}

	// extract
	if err := p.advance(ctx, kind, payload.AssetID, gen, constants.StageExtract, constants.StageProcessing, ""); err != nil {
		return p.stopOrErr(err)
	}
	rawHTML, rawFetched, err := p.loadRawHTML(ctx, payload, bookmark.URL)
	if err != nil {
		return err
	}
	result, err := p.engine.Extract(ctx, rawHTML, bookmark.URL)
	if err != nil {
		return err
	}
	if err := p.advance(ctx, kind, payload.AssetID, gen, constants.StageExtract, constants.StageCompleted, ""); err != nil {
		return p.stopOrErr(err)
	}

	// persist
	currentStage = constants.StagePersist
	if err := p.advance(ctx, kind, payload.AssetID, gen, constants.StagePersist, constants.StageProcessing, ""); err != nil {
		return p.stopOrErr(err)
	}
	artifacts := extractionArtifacts(result)
	if rawFetched {
		artifacts = append(artifacts, persist.Artifact{
			FileName:    constants.FileRawContent,
			ContentType: "text/html; charset=utf-8",
			Data:        []byte(rawHTML),
			Assign:      func(k *entity.StorageKeys, key string) { k.RawContent = &key },
		})
	}
	keys, err := p.persister.SaveArtifacts(ctx, payload.UserID, kind, payload.AssetID, artifacts)
	if err != nil {
		return err
	}
	if err := p.assets.SetStorageKeys(ctx, kind, payload.AssetID, keys); err != nil {
		return err
	}
	md := bookmark.Metadata
	md.Title = result.Title
	md.Description = result.Description
	md.Author = result.Author
	md.Language = result.Language
	if err := p.assets.UpdateMetadata(ctx, kind, payload.AssetID, md); err != nil {
		return err
	}
	if err := p.advance(ctx, kind, payload.AssetID, gen, constants.StagePersist, constants.StageCompleted, ""); err != nil {
		return p.stopOrErr(err)
	}

	// pdf: failure marks the stage failed but never blocks tagging.
	currentStage = constants.StagePDF
	if err := p.advance(ctx, kind, payload.AssetID, gen, constants.StagePDF, constants.StageProcessing, ""); err != nil {
		return p.stopOrErr(err)
	}
	if pdfErr := p.renderPDF(ctx, payload, bookmark.URL, result); pdfErr != nil {
		p.logger.Warn("pdf stage failed", "bookmark_id", payload.AssetID, "error", pdfErr)
		p.failStage(context.WithoutCancel(ctx), kind, payload.AssetID, gen, constants.StagePDF, pdfErr)
	} else if err := p.advance(ctx, kind, payload.AssetID, gen, constants.StagePDF, constants.StageCompleted, ""); err != nil {
		return p.stopOrErr(err)
	}

	// tags: degrades to none, the stage itself always completes.
	currentStage = constants.StageTags
	if err := p.advance(ctx, kind, payload.AssetID, gen, constants.StageTags, constants.StageProcessing, ""); err != nil {
		return p.stopOrErr(err)
	}
	p.applyTags(ctx, payload.UserID, kind, payload.AssetID, result.Text, result.Title)
	if err := p.advance(ctx, kind, payload.AssetID, gen, constants.StageTags, constants.StageCompleted, ""); err != nil {
		return p.stopOrErr(err)
	}

	p.logger.Info("bookmark processed", "bookmark_id", payload.AssetID, "generation", gen)
	return nil
}

// ProcessDocument runs the document stage set: extract (readability for
// HTML uploads, passthrough otherwise) and persist.
func (p *Processor) ProcessDocument(ctx context.Context, payload entity.QueuePayload) (err error) {
	kind := constants.AssetKindDocument
	gen := payload.Generation
	currentStage := constants.StageExtract

	// Same exit contract as ProcessBookmark: an error or panic leaves the
	// active stage failed, written through a cancellation-immune context.
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic during document processing",
				"document_id", payload.AssetID, "stage", currentStage, "panic", r)
			err = fmt.Errorf("panic in stage %s: %v", currentStage, r)
		}
		if err != nil {
			p.failStage(context.WithoutCancel(ctx), kind, payload.AssetID, gen, currentStage, err)
		}
	}()

	doc, err := p.assets.GetDocument(ctx, payload.UserID, payload.AssetID)
	if err != nil {
		return err
	}

	if err := p.advance(ctx, kind, payload.AssetID, gen, constants.StageExtract, constants.StageProcessing, ""); err != nil {
		return p.stopOrErr(err)
	}

	var (
		result    *extract.Result
		artifacts []persist.Artifact
	)
	if constants.IsHTML(doc.MimeType) {
		raw, readErr := p.readBlob(ctx, payload.RawKey)
		if readErr != nil {
			return readErr
		}
		result, err = p.engine.Extract(ctx, string(raw), "")
		if err != nil {
			return err
		}
		artifacts = extractionArtifacts(result)
	} else {
		// Non-HTML uploads pass through: the raw blob is already stored and
		// there is nothing to derive.
		p.logger.Debug("document passthrough", "document_id", payload.AssetID, "mime_type", doc.MimeType)
	}
	if err := p.advance(ctx, kind, payload.AssetID, gen, constants.StageExtract, constants.StageCompleted, ""); err != nil {
		return p.stopOrErr(err)
	}

	currentStage = constants.StagePersist
	if err := p.advance(ctx, kind, payload.AssetID, gen, constants.StagePersist, constants.StageProcessing, ""); err != nil {
		return p.stopOrErr(err)
	}
	if result != nil {
		keys, saveErr := p.persister.SaveArtifacts(ctx, payload.UserID, kind, payload.AssetID, artifacts)
		if saveErr != nil {
			return saveErr
		}
		if err := p.assets.SetStorageKeys(ctx, kind, payload.AssetID, keys); err != nil {
			return err
		}
		md := doc.Metadata
		if result.Title != "" {
			md.Title = result.Title
		}
		md.Description = result.Description
		md.Author = result.Author
		md.Language = result.Language
		if err := p.assets.UpdateMetadata(ctx, kind, payload.AssetID, md); err != nil {
			return err
		}
	}
	if err := p.advance(ctx, kind, payload.AssetID, gen, constants.StagePersist, constants.StageCompleted, ""); err != nil {
		return p.stopOrErr(err)
	}

	p.logger.Info("document processed", "document_id", payload.AssetID, "generation", gen)
	return nil
}

// stopOrErr maps errSuperseded to a clean stop; everything else
// propagates.
func (p *Processor) stopOrErr(err error) error {
	if errors.Is(err, errSuperseded) {
		return nil
	}
	return err
}

// loadRawHTML reads previously stored raw content when the payload names
// it, otherwise fetches the live page. The second return reports whether
// a fresh fetch produced content that still needs persisting.
func (p *Processor) loadRawHTML(ctx context.Context, payload entity.QueuePayload, pageURL string) (string, bool, error) {
	if payload.RawKey != "" {
		raw, err := p.readBlob(ctx, payload.RawKey)
		if err == nil {
			return string(raw), false, nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return "", false, err
		}
		p.logger.Warn("stored raw content missing, refetching", "raw_key", payload.RawKey)
	}
	raw, err := p.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return "", false, err
	}
	return raw, true, nil
}

func (p *Processor) renderPDF(ctx context.Context, payload entity.QueuePayload, pageURL string, result *extract.Result) error {
	pdfBytes, screenshot, err := p.renderSnapshot(ctx, pageURL, result)
	if err != nil {
		return err
	}

	artifacts := []persist.Artifact{{
		FileName:    constants.FilePDF,
		ContentType: "application/pdf",
		Data:        pdfBytes,
		Assign:      func(k *entity.StorageKeys, key string) { k.PDF = &key },
	}}
	if len(screenshot) > 0 {
		artifacts = append(artifacts, persist.Artifact{
			FileName:    constants.FileScreenshot,
			ContentType: "image/png",
			Data:        screenshot,
			Assign:      func(k *entity.StorageKeys, key string) { k.Screenshot = &key },
		})
	}
	keys, err := p.persister.SaveArtifacts(ctx, payload.UserID, constants.AssetKindBookmark, payload.AssetID, artifacts)
	if err != nil {
		return err
	}
	return p.assets.SetStorageKeys(ctx, constants.AssetKindBookmark, payload.AssetID, keys)
}

// renderSnapshot prefers the browser capability and falls back to
// rendering the extracted markdown.
func (p *Processor) renderSnapshot(ctx context.Context, pageURL string, result *extract.Result) (pdf, screenshot []byte, err error) {
	if p.browser == nil {
		pdf, err = p.mdPDF.Render(result.Title, pageURL, result.Markdown)
		return pdf, nil, err
	}

	rctx := ctx
	if p.renderCfg.Timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, p.renderCfg.Timeout)
		defer cancel()
	}

	page, err := p.browser.Open(rctx, pageURL)
	if err != nil {
		return nil, nil, err
	}
	defer page.Close()

	settle := p.renderCfg.SettleDelay
	if settle <= 0 {
		settle = 2 * time.Second
	}
	if err := page.WaitForImages(rctx, settle); err != nil {
		p.logger.Warn("images did not settle before snapshot", "url", pageURL, "error", err)
	}
	if err := page.EmulateScreenMedia(); err != nil {
		p.logger.Warn("screen media emulation failed", "url", pageURL, "error", err)
	}

	pdf, err = page.RenderPDF(rctx, render.DefaultPDFOptions())
	if err != nil {
		return nil, nil, err
	}
	screenshot = common.Degrade(rctx, p.logger, "screenshot", nil,
		func(ctx context.Context) ([]byte, error) { return page.Screenshot(ctx) })
	return pdf, screenshot, nil
}

// applyTags generates and attaches tags, degrading to none on any
// failure.
func (p *Processor) applyTags(ctx context.Context, userID uuid.UUID, kind constants.AssetKind, assetID uuid.UUID, text, title string) {
	if p.tagger == nil {
		return
	}
	names := common.Degrade(ctx, p.logger, "tags", nil,
		func(ctx context.Context) ([]string, error) {
			return p.tagger.GenerateTags(ctx, text, title, string(kind))
		})
	for _, name := range names {
		tag, err := p.tags.GetOrCreate(ctx, userID, name)
		if err != nil {
			p.logger.Warn("tag creation failed", "asset_id", assetID, "tag", name, "error", err)
			continue
		}
		if err := p.tags.AttachToAsset(ctx, tag.ID, kind, assetID); err != nil {
			p.logger.Warn("tag attach failed", "asset_id", assetID, "tag", name, "error", err)
		}
	}
	if len(names) > 0 {
		p.logger.Info("tags attached", "asset_id", assetID, "count", len(names))
	}
}

// extractionArtifacts maps an extraction result to its artifact files.
func extractionArtifacts(result *extract.Result) []persist.Artifact {
	artifacts := []persist.Artifact{
		{
			FileName:    constants.FileReadableContent,
			ContentType: "text/html; charset=utf-8",
			Data:        []byte(result.ReadableHTML),
			Assign:      func(k *entity.StorageKeys, key string) { k.ReadableContent = &key },
		},
		{
			FileName:    constants.FileMarkdown,
			ContentType: "text/markdown; charset=utf-8",
			Data:        []byte(result.Markdown),
			Assign:      func(k *entity.StorageKeys, key string) { k.Markdown = &key },
		},
		{
			FileName:    constants.FileText,
			ContentType: "text/plain; charset=utf-8",
			Data:        []byte(result.Text),
			Assign:      func(k *entity.StorageKeys, key string) { k.Text = &key },
		},
	}
	if result.Favicon != nil {
		artifacts = append(artifacts, persist.Artifact{
			FileName:    result.Favicon.FileName(),
			ContentType: result.Favicon.ContentType,
			Data:        result.Favicon.Bytes,
			Assign:      func(k *entity.StorageKeys, key string) { k.Favicon = &key },
		})
	}
	return artifacts
}
