package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/digkill/pawstudio/internal/database"
	"github.com/digkill/pawstudio/internal/models"
)

const imageColumns = `id, user_id, photo_id, original_url, processed_url, storage_key, filter_type, processing_status, error_message, created_at, processed_at`

type ImageRepository struct {
	db database.Querier
}

func NewImageRepository(db database.Querier) *ImageRepository {
	return &ImageRepository{db: db}
}

func (r *ImageRepository) WithTx(tx *sql.Tx) *ImageRepository {
	return &ImageRepository{db: tx}
}

func scanImage(row interface{ Scan(...any) error }) (*models.Image, error) {
	var img models.Image
	var photoID sql.NullInt64
	var processedURL, storageKey, errMsg sql.NullString
	var status string
	var processedAt sql.NullTime
	if err := row.Scan(&img.ID, &img.UserID, &photoID, &img.OriginalURL, &processedURL, &storageKey, &img.FilterType, &status, &errMsg, &img.CreatedAt, &processedAt); err != nil {
		return nil, err
	}
	img.PhotoID = int64Ptr(photoID)
	img.ProcessedURL = stringPtr(processedURL)
	img.StorageKey = stringPtr(storageKey)
	img.ErrorMessage = stringPtr(errMsg)
	img.ProcessingStatus = models.ProcessingStatus(status)
	img.ProcessedAt = timePtr(processedAt)
	return &img, nil
}

func (r *ImageRepository) Create(ctx context.Context, img *models.Image) error {
	const query = `
INSERT INTO images (user_id, photo_id, original_url, processed_url, storage_key, filter_type, processing_status, created_at, processed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if img.ProcessingStatus == "" {
		img.ProcessingStatus = models.StatusPending
	}
	now := time.Now().UTC()
	var processedAt sql.NullTime
	if img.ProcessedAt != nil {
		processedAt = sql.NullTime{Time: img.ProcessedAt.UTC(), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, query, img.UserID, nullInt64(img.PhotoID), img.OriginalURL, nullString(img.ProcessedURL), nullString(img.StorageKey), img.FilterType, string(img.ProcessingStatus), now, processedAt)
	if err != nil {
		return fmt.Errorf("insert image: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	img.ID = id
	img.CreatedAt = now
	return nil
}

func (r *ImageRepository) GetByID(ctx context.Context, id int64) (*models.Image, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+imageColumns+` FROM images WHERE id = ?`, id)
	img, err := scanImage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get image: %w", err)
	}
	return img, nil
}

func (r *ImageRepository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Image, error) {
	const query = `SELECT ` + imageColumns + ` FROM images WHERE user_id = ? ORDER BY id DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	images := make([]models.Image, 0)
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, *img)
	}
	return images, rows.Err()
}

// MarkCompleted moves a pending image to completed. It reports false when the row
// was not pending, so a completed image is never completed twice.
func (r *ImageRepository) MarkCompleted(ctx context.Context, id int64, processedURL, storageKey string, at time.Time) (bool, error) {
	const query = `
UPDATE images SET processing_status = ?, processed_url = ?, storage_key = ?, processed_at = ?, error_message = NULL
WHERE id = ? AND processing_status = ?`
	res, err := r.db.ExecContext(ctx, query, string(models.StatusCompleted), processedURL, storageKey, at.UTC(), id, string(models.StatusPending))
	if err != nil {
		return false, fmt.Errorf("complete image: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete image rows affected: %w", err)
	}
	return affected > 0, nil
}

const maxErrorMessageBytes = 1000

func (r *ImageRepository) MarkFailed(ctx context.Context, id int64, message string) error {
	message = truncateUTF8(message, maxErrorMessageBytes)
	const query = `UPDATE images SET processing_status = ?, error_message = ? WHERE id = ? AND processing_status = ?`
	if _, err := r.db.ExecContext(ctx, query, string(models.StatusFailed), message, id, string(models.StatusPending)); err != nil {
		return fmt.Errorf("fail image: %w", err)
	}
	return nil
}

func (r *ImageRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM images WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	return nil
}

// StorageKeysByUser returns the object keys of every generated image of the user.
func (r *ImageRepository) StorageKeysByUser(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT storage_key FROM images WHERE user_id = ? AND storage_key IS NOT NULL`, userID)
	if err != nil {
		return nil, fmt.Errorf("list image keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan image key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (r *ImageRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT processing_status, COUNT(*) FROM images GROUP BY processing_status`)
	if err != nil {
		return nil, fmt.Errorf("count images: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan image count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// truncateUTF8 cuts s to at most limit bytes without splitting a rune.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.ToValidUTF8(s[:cut], "")
}
