package constants

// AssetKind discriminates the two asset families sharing the pipeline.
type AssetKind string

const (
	AssetKindBookmark AssetKind = "bookmark"
	AssetKindDocument AssetKind = "document"
)

// Queue names, one per asset kind.
const (
	QueueBookmarks = "bookmarks"
	QueueDocuments = "documents"
)
