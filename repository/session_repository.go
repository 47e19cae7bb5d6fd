package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"harmony/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const sessionRowID = 1

// SessionRepository persists the single playback session row.
type SessionRepository interface {
	Load(ctx context.Context) (*model.SessionState, error)
	Save(ctx context.Context, state model.SessionState) error
}

type gormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository 创建 GORM 会话仓库
func NewGormSessionRepository(db *gorm.DB) SessionRepository {
	return &gormSessionRepository{db: db}
}

// Load returns nil, nil when no session was saved yet.
func (r *gormSessionRepository) Load(ctx context.Context) (*model.SessionState, error) {
	var state model.SessionState
	err := r.db.WithContext(ctx).First(&state, sessionRowID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: load session: %v", model.ErrCatalogIO, err)
	}
	return &state, nil
}

// Save upserts the session row.
func (r *gormSessionRepository) Save(ctx context.Context, state model.SessionState) error {
	state.ID = sessionRowID
	state.UpdatedAt = time.Now()
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&state).Error
	if err != nil {
		return fmt.Errorf("%w: save session: %v", model.ErrCatalogIO, err)
	}
	return nil
}
