package repository

import (
	"encoding/json"
	"errors"
	"fmt"

	"vaultsync/internal/db"
	"vaultsync/internal/model"

	"gorm.io/gorm"
)

// TreeCacheRepository stores the local tree of one sync root.
type TreeCacheRepository struct {
	root string
}

func NewTreeCacheRepository(root string) *TreeCacheRepository {
	return &TreeCacheRepository{root: root}
}

// Load returns nil without an error when nothing was cached yet.
func (r *TreeCacheRepository) Load() (*model.LocalFileNode, error) {
	var cache model.TreeCache
	err := db.DB.Where("root = ?", r.root).First(&cache).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var tree model.LocalFileNode
	if err := json.Unmarshal(cache.Data, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode tree cache: %w", err)
	}
	return &tree, nil
}

func (r *TreeCacheRepository) Save(tree *model.LocalFileNode) error {
	data, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to encode tree cache: %w", err)
	}

	var cache model.TreeCache
	return db.DB.
		Where(model.TreeCache{Root: r.root}).
		Assign(model.TreeCache{Data: data}).
		FirstOrCreate(&cache).Error
}
