package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/pawstudio/internal/database"
	"github.com/digkill/pawstudio/internal/models"
)

type PhotoRepository struct {
	db database.Querier
}

func NewPhotoRepository(db database.Querier) *PhotoRepository {
	return &PhotoRepository{db: db}
}

func (r *PhotoRepository) WithTx(tx *sql.Tx) *PhotoRepository {
	return &PhotoRepository{db: tx}
}

func (r *PhotoRepository) Create(ctx context.Context, p *models.Photo) error {
	const query = `
INSERT INTO photos (user_id, url, storage_key, content_type, size_bytes, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, query, p.UserID, p.URL, p.StorageKey, p.ContentType, p.SizeBytes, now)
	if err != nil {
		return fmt.Errorf("insert photo: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	p.ID = id
	p.CreatedAt = now
	return nil
}

func (r *PhotoRepository) GetByID(ctx context.Context, id int64) (*models.Photo, error) {
	const query = `SELECT id, user_id, url, storage_key, content_type, size_bytes, created_at FROM photos WHERE id = ?`
	var p models.Photo
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.UserID, &p.URL, &p.StorageKey, &p.ContentType, &p.SizeBytes, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get photo: %w", err)
	}
	return &p, nil
}

func (r *PhotoRepository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Photo, error) {
	const query = `
SELECT id, user_id, url, storage_key, content_type, size_bytes, created_at
FROM photos WHERE user_id = ?
ORDER BY id DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	photos := make([]models.Photo, 0)
	for rows.Next() {
		var p models.Photo
		if err := rows.Scan(&p.ID, &p.UserID, &p.URL, &p.StorageKey, &p.ContentType, &p.SizeBytes, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

func (r *PhotoRepository) StorageKeysByUser(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT storage_key FROM photos WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("list photo keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan photo key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
