package repository

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/curateapp/curate/constants"
	"github.com/curateapp/curate/internal/common"
	"github.com/curateapp/curate/internal/entity"
)

// TagRepository maintains the per-user tag vocabulary and the many-to-many
// link between tags and assets.
type TagRepository interface {
	// GetOrCreate returns the user's tag for a case-normalized name,
	// creating it on first use. Safe under concurrent workers: creation
	// races resolve through insert-or-ignore.
	GetOrCreate(ctx context.Context, userID uuid.UUID, name string) (*entity.Tag, error)
	AttachToAsset(ctx context.Context, tagID uuid.UUID, kind constants.AssetKind, assetID uuid.UUID) error
	ListForAsset(ctx context.Context, kind constants.AssetKind, assetID uuid.UUID) ([]*entity.Tag, error)
}

type tagRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewTagRepository(db *DB, logger *slog.Logger) TagRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &tagRepo{db: db, logger: logger}
}

// NormalizeTagName lowercases and trims a tag so the per-user vocabulary
// never holds case duplicates.
func NormalizeTagName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *tagRepo) GetOrCreate(ctx context.Context, userID uuid.UUID, name string) (*entity.Tag, error) {
	name = NormalizeTagName(name)
	if name == "" {
		return nil, common.NewAppError("EMPTY_TAG", "tag name is empty", common.ErrInvalidInput)
	}

	_, err := r.db.ExecContext(ctx, r.db.rebind(`
		INSERT INTO tags (id, user_id, name) VALUES (?, ?, ?)
		ON CONFLICT (user_id, name) DO NOTHING`),
		uuid.New().String(), userID.String(), name)
	if err != nil {
		r.logger.Error("failed to insert tag", "user_id", userID, "tag", name, "error", err)
		return nil, &common.InfraError{Component: "database", Cause: err}
	}

	row := r.db.QueryRowContext(ctx, r.db.rebind(
		"SELECT id, user_id, name FROM tags WHERE user_id = ? AND name = ?"),
		userID.String(), name)
	var (
		tag   entity.Tag
		idS   string
		userS string
	)
	if err := row.Scan(&idS, &userS, &tag.Name); err != nil {
		r.logger.Error("failed to read tag back", "user_id", userID, "tag", name, "error", err)
		return nil, &common.InfraError{Component: "database", Cause: err}
	}
	tag.ID, _ = uuid.Parse(idS)
	tag.UserID, _ = uuid.Parse(userS)
	return &tag, nil
}

func (r *tagRepo) AttachToAsset(ctx context.Context, tagID uuid.UUID, kind constants.AssetKind, assetID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, r.db.rebind(`
		INSERT INTO asset_tags (tag_id, asset_kind, asset_id) VALUES (?, ?, ?)
		ON CONFLICT (tag_id, asset_kind, asset_id) DO NOTHING`),
		tagID.String(), string(kind), assetID.String())
	if err != nil {
		r.logger.Error("failed to attach tag", "tag_id", tagID, "asset_kind", kind, "asset_id", assetID, "error", err)
		return &common.InfraError{Component: "database", Cause: err}
	}
	return nil
}

func (r *tagRepo) ListForAsset(ctx context.Context, kind constants.AssetKind, assetID uuid.UUID) ([]*entity.Tag, error) {
	rows, err := r.db.QueryContext(ctx, r.db.rebind(`
		SELECT t.id, t.user_id, t.name
		FROM tags t
		JOIN asset_tags at ON at.tag_id = t.id
		WHERE at.asset_kind = ? AND at.asset_id = ?
		ORDER BY t.name`),
		string(kind), assetID.String())
	if err != nil {
		r.logger.Error("failed to list tags", "asset_kind", kind, "asset_id", assetID, "error", err)
		return nil, &common.InfraError{Component: "database", Cause: err}
	}
	defer rows.Close()

	var tags []*entity.Tag
	for rows.Next() {
		var (
			tag   entity.Tag
			idS   string
			userS string
		)
		if err := rows.Scan(&idS, &userS, &tag.Name); err != nil {
			return nil, &common.InfraError{Component: "database", Cause: err}
		}
		tag.ID, _ = uuid.Parse(idS)
		tag.UserID, _ = uuid.Parse(userS)
		tags = append(tags, &tag)
	}
	return tags, rows.Err()
}
