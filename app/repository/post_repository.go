package repository

import (
	"time"

	"github.com/ManuelReschke/LocalBoard/app/models"
	"gorm.io/gorm"
)

type postRepository struct {
	db *gorm.DB
}

// NewPostRepository creates a new post repository instance
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(post *models.Post) error {
	return r.db.Create(post).Error
}

func (r *postRepository) GetByID(id uint) (*models.Post, error) {
	var post models.Post
	err := r.db.First(&post, id).Error
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// ApplyBoost sets the boost fields of a post.
func (r *postRepository) ApplyBoost(postID uint, weight int, expiresAt time.Time) error {
	res := r.db.Model(&models.Post{}).Where("id = ?", postID).Updates(map[string]interface{}{
		"boost_weight":     weight,
		"boost_expires_at": expiresAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SoftDelete marks a post deleted.
func (r *postRepository) SoftDelete(postID uint) error {
	res := r.db.Delete(&models.Post{}, postID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
