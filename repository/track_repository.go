package repository

import (
	"context"
	"errors"
	"fmt"

	"harmony/core/utils"
	"harmony/logger"
	"harmony/model"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AddResult summarises one AddBatch call.
type AddResult struct {
	Added        int
	Duplicates   []string
	Inaccessible []string
}

// ValidateResult is the outcome of a catalog reconciliation.
type ValidateResult struct {
	Valid        []model.Track
	Removed      int
	RemovedPaths []string
}

// TrackRepository is the durable catalog of known tracks, keyed by file path.
type TrackRepository interface {
	ListOrdered(ctx context.Context) ([]model.Track, error)
	AddBatch(ctx context.Context, paths []string) (AddResult, error)
	RemoveByPath(ctx context.Context, path string) error
	RemoveBatch(ctx context.Context, paths []string) (int64, error)
	Validate(ctx context.Context) (ValidateResult, error)
	GetByPath(ctx context.Context, path string) (*model.Track, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// gormTrackRepository GORM 实现
type gormTrackRepository struct {
	db       *gorm.DB
	readable func(path string) bool
}

// NewGormTrackRepository 创建 GORM 曲目仓库
func NewGormTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db, readable: utils.Readable}
}

func catalogErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", model.ErrCatalogIO, op, err)
}

// ListOrdered returns every record ordered by title, then path for stable ties.
func (r *gormTrackRepository) ListOrdered(ctx context.Context) ([]model.Track, error) {
	var tracks []model.Track
	err := r.db.WithContext(ctx).
		Order("title ASC").
		Order("file_path ASC").
		Find(&tracks).Error
	if err != nil {
		return nil, catalogErr("list tracks", err)
	}
	return tracks, nil
}

// AddBatch inserts every accessible, not yet known path in one transaction.
// Inaccessible and duplicate paths are skipped and reported; any other insert
// failure rolls back the whole batch.
func (r *gormTrackRepository) AddBatch(ctx context.Context, paths []string) (AddResult, error) {
	var result AddResult

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result = AddResult{}
		for _, raw := range paths {
			path := utils.AbsPath(raw)
			if !r.readable(path) {
				logger.Warn("file not accessible, skipped", logger.String("path", path))
				result.Inaccessible = append(result.Inaccessible, path)
				continue
			}

			track := model.NewTrackFromPath(path)
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "file_path"}},
				DoNothing: true,
			}).Create(&track)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				logger.Info("song already in catalog, skipped", logger.String("path", path))
				result.Duplicates = append(result.Duplicates, path)
				continue
			}
			result.Added++
			logger.Debug("song added",
				logger.String("title", track.Title),
				logger.String("path", path))
		}
		return nil
	})
	if err != nil {
		return AddResult{}, catalogErr("add batch", err)
	}

	logger.Info("catalog batch insert finished",
		logger.Int("added", result.Added),
		logger.Int("duplicates", len(result.Duplicates)),
		logger.Int("inaccessible", len(result.Inaccessible)))
	return result, nil
}

// RemoveByPath deletes the record for path, if any.
func (r *gormTrackRepository) RemoveByPath(ctx context.Context, path string) error {
	err := r.db.WithContext(ctx).
		Where("file_path = ?", path).
		Delete(&model.Track{}).Error
	if err != nil {
		return catalogErr("remove track", err)
	}
	return nil
}

// RemoveBatch deletes all given paths in one transaction.
func (r *gormTrackRepository) RemoveBatch(ctx context.Context, paths []string) (int64, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		removed = 0
		for _, chunk := range lo.Chunk(paths, 500) {
			res := tx.Where("file_path IN ?", chunk).Delete(&model.Track{})
			if res.Error != nil {
				return res.Error
			}
			removed += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, catalogErr("remove batch", err)
	}
	return removed, nil
}

// Validate is the single reconciliation step: records whose file is gone or
// unreadable are deleted, the rest are returned in catalog order.
func (r *gormTrackRepository) Validate(ctx context.Context) (ValidateResult, error) {
	all, err := r.ListOrdered(ctx)
	if err != nil {
		return ValidateResult{}, err
	}

	valid, invalid := lo.FilterReject(all, func(t model.Track, _ int) bool {
		return r.readable(t.FilePath)
	})
	invalidPaths := lo.Map(invalid, func(t model.Track, _ int) string { return t.FilePath })

	for _, p := range invalidPaths {
		logger.Info("catalog entry has no readable file, removing", logger.String("path", p))
	}

	removed, err := r.RemoveBatch(ctx, invalidPaths)
	if err != nil {
		return ValidateResult{}, err
	}
	if removed > 0 {
		logger.Info("removed invalid catalog entries", logger.Int64("count", removed))
	}

	return ValidateResult{
		Valid:        valid,
		Removed:      int(removed),
		RemovedPaths: invalidPaths,
	}, nil
}

// GetByPath returns nil, nil when the path is not in the catalog.
func (r *gormTrackRepository) GetByPath(ctx context.Context, path string) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).
		Where("file_path = ?", path).
		First(&track).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, catalogErr("get track", err)
	}
	return &track, nil
}

// Exists reports whether path is catalogued and its file is still readable.
func (r *gormTrackRepository) Exists(ctx context.Context, path string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Track{}).
		Where("file_path = ?", path).
		Count(&count).Error
	if err != nil {
		return false, catalogErr("check track", err)
	}
	return count > 0 && r.readable(path), nil
}
