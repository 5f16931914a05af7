package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/pawstudio/internal/apperr"
	"github.com/digkill/pawstudio/internal/database"
	"github.com/digkill/pawstudio/internal/models"
	"github.com/digkill/pawstudio/internal/repository"
	"github.com/digkill/pawstudio/internal/storage"
)

const defaultPageSize = 20

type ImageService struct {
	db       *sql.DB
	log      *slog.Logger
	images   *repository.ImageRepository
	photos   *repository.PhotoRepository
	store    ObjectStore
	maxBytes int64
}

type UploadResult struct {
	URL     string `json:"url"`
	ImageID int64  `json:"imageId"`
	PhotoID int64  `json:"photoId"`
}

func NewImageService(db *sql.DB, log *slog.Logger, images *repository.ImageRepository, photos *repository.PhotoRepository, store ObjectStore, maxBytes int64) *ImageService {
	return &ImageService{db: db, log: log, images: images, photos: photos, store: store, maxBytes: maxBytes}
}

// Upload stores an original photo and mirrors it as a completed "original" image so
// it shows up in the user's gallery.
func (s *ImageService) Upload(ctx context.Context, userID int64, data []byte, declaredType string) (*UploadResult, error) {
	if len(data) == 0 {
		return nil, apperr.Validation("file is empty")
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, apperr.Validation(fmt.Sprintf("file exceeds %d MB", s.maxBytes>>20))
	}
	contentType, err := detectImageType(data)
	if err != nil {
		return nil, err
	}
	if declaredType != "" && declaredType != contentType {
		s.log.Debug("upload content type differs from declared", "user_id", userID, "declared", declaredType, "detected", contentType)
	}

	obj, err := s.store.Upload(ctx, userID, storage.KindUploads, data, contentType)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExternalService, "store upload", err)
	}

	photo := &models.Photo{
		UserID:      userID,
		URL:         obj.URL,
		StorageKey:  obj.Key,
		ContentType: contentType,
		SizeBytes:   obj.Size,
	}
	now := time.Now().UTC()
	img := &models.Image{
		UserID:           userID,
		OriginalURL:      obj.URL,
		ProcessedURL:     &obj.URL,
		FilterType:       models.FilterOriginal,
		ProcessingStatus: models.StatusCompleted,
		ProcessedAt:      &now,
	}
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.photos.WithTx(tx).Create(ctx, photo); err != nil {
			return err
		}
		img.PhotoID = &photo.ID
		return s.images.WithTx(tx).Create(ctx, img)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("photo uploaded", "user_id", userID, "photo_id", photo.ID, "key", obj.Key, "bytes", obj.Size)
	return &UploadResult{URL: obj.URL, ImageID: img.ID, PhotoID: photo.ID}, nil
}

func (s *ImageService) List(ctx context.Context, userID int64, limit, offset int) ([]models.Image, error) {
	limit, offset = page(limit, offset)
	return s.images.ListByUser(ctx, userID, limit, offset)
}

func (s *ImageService) Photos(ctx context.Context, userID int64, limit, offset int) ([]models.Photo, error) {
	limit, offset = page(limit, offset)
	return s.photos.ListByUser(ctx, userID, limit, offset)
}

// Delete removes one of the user's images and its generated object. Other users'
// images look missing.
func (s *ImageService) Delete(ctx context.Context, userID, imageID int64) error {
	img, err := s.images.GetByID(ctx, imageID)
	if err != nil {
		return err
	}
	if img == nil || img.UserID != userID {
		return apperr.NotFound("image not found")
	}
	if img.StorageKey != nil {
		if err := s.store.Delete(ctx, *img.StorageKey); err != nil {
			s.log.Warn("delete stored object", "image_id", imageID, "key", *img.StorageKey, "err", err)
		}
	}
	return s.images.Delete(ctx, imageID)
}

func page(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
