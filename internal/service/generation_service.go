package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/pawstudio/internal/apperr"
	"github.com/digkill/pawstudio/internal/database"
	"github.com/digkill/pawstudio/internal/flux"
	"github.com/digkill/pawstudio/internal/models"
	"github.com/digkill/pawstudio/internal/notify"
	"github.com/digkill/pawstudio/internal/repository"
	"github.com/digkill/pawstudio/internal/storage"
)

// Transformer runs one image edit job to a terminal state.
type Transformer interface {
	Transform(ctx context.Context, req flux.Request) (*flux.Result, error)
}

// ObjectStore persists image bytes and removes them again.
type ObjectStore interface {
	Upload(ctx context.Context, userID int64, kind storage.Kind, data []byte, contentType string) (*storage.Object, error)
	Delete(ctx context.Context, key string) error
}

// SourceFetcher downloads the image a user wants transformed.
type SourceFetcher interface {
	Fetch(ctx context.Context, url string) (data []byte, contentType string, err error)
}

type GenerationService struct {
	db       *sql.DB
	log      *slog.Logger
	users    *repository.UserRepository
	scenes   *repository.SceneRepository
	images   *repository.ImageRepository
	photos   *repository.PhotoRepository
	credits  *CreditService
	flux     Transformer
	store    ObjectStore
	fetcher  SourceFetcher
	notifier notify.Notifier
	retries  int
	now      func() time.Time
}

type GenerationDeps struct {
	Users    *repository.UserRepository
	Scenes   *repository.SceneRepository
	Images   *repository.ImageRepository
	Photos   *repository.PhotoRepository
	Credits  *CreditService
	Flux     Transformer
	Store    ObjectStore
	Fetcher  SourceFetcher
	Notifier notify.Notifier

	// Retries is the number of extra attempts after ErrGenerationFailed.
	Retries int
}

func NewGenerationService(db *sql.DB, log *slog.Logger, deps GenerationDeps) *GenerationService {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &GenerationService{
		db:       db,
		log:      log,
		users:    deps.Users,
		scenes:   deps.Scenes,
		images:   deps.Images,
		photos:   deps.Photos,
		credits:  deps.Credits,
		flux:     deps.Flux,
		store:    deps.Store,
		fetcher:  deps.Fetcher,
		notifier: notifier,
		retries:  max(deps.Retries, 0),
		now:      time.Now,
	}
}

// ProcessRequest names the source either by URL or by one of the user's photos.
type ProcessRequest struct {
	ImageURL string
	SceneID  int64
	PhotoID  *int64
}

type ProcessResult struct {
	ProcessedURL     string `json:"processedUrl"`
	ImageID          int64  `json:"imageId"`
	CreditsRemaining int    `json:"creditsRemaining"`
}

// Process transforms the user's image with a scene. Credits are checked before any
// external call and spent only after the result is stored.
func (s *GenerationService) Process(ctx context.Context, userID int64, req ProcessRequest) (*ProcessResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.ErrUnauthenticated
	}

	scene, err := s.scenes.GetByID(ctx, req.SceneID)
	if err != nil {
		return nil, err
	}
	if scene == nil || !scene.IsActive {
		return nil, apperr.NotFound("scene not found")
	}

	if req.PhotoID != nil {
		photo, err := s.photos.GetByID(ctx, *req.PhotoID)
		if err != nil {
			return nil, err
		}
		if photo == nil || photo.UserID != user.ID {
			return nil, apperr.NotFound("photo not found")
		}
		if req.ImageURL == "" {
			req.ImageURL = photo.URL
		}
	}
	if req.ImageURL == "" {
		return nil, apperr.Validation("imageUrl or photoId is required")
	}

	if !user.TrialMode && user.Credits < scene.CreditCost {
		s.log.Info("generation refused", "user_id", user.ID, "scene_id", scene.ID, "credits", user.Credits, "cost", scene.CreditCost)
		return nil, apperr.ErrInsufficientCredits
	}

	source, mimeType, err := s.fetcher.Fetch(ctx, req.ImageURL)
	if err != nil {
		return nil, err
	}

	img := &models.Image{
		UserID:      user.ID,
		PhotoID:     req.PhotoID,
		OriginalURL: req.ImageURL,
		FilterType:  scene.Name,
	}
	if err := s.images.Create(ctx, img); err != nil {
		return nil, err
	}
	log := s.log.With("user_id", user.ID, "image_id", img.ID, "scene_id", scene.ID)

	job := flux.Request{Image: source, MimeType: mimeType, Prompt: scene.Prompt}
	if scene.ReferenceImageURL != nil {
		job.ReferenceImageURL = *scene.ReferenceImageURL
	}
	result, err := s.transform(ctx, log, job)
	if err != nil {
		s.markFailed(ctx, log, img.ID, err)
		return nil, err
	}

	obj, err := s.store.Upload(ctx, user.ID, storage.KindGenerated, result.Bytes, result.ContentType)
	if err != nil {
		err = apperr.Wrap(apperr.KindExternalService, "store generated image", err)
		s.markFailed(ctx, log, img.ID, err)
		return nil, err
	}

	remaining, err := s.complete(ctx, user, scene, img.ID, obj)
	if err != nil {
		s.markFailed(ctx, log, img.ID, err)
		s.reportOrphan(ctx, log, obj, err)
		return nil, err
	}

	log.Info("image processed", "key", obj.Key, "trial", user.TrialMode, "credits_remaining", remaining)
	return &ProcessResult{ProcessedURL: obj.URL, ImageID: img.ID, CreditsRemaining: remaining}, nil
}

func (s *GenerationService) transform(ctx context.Context, log *slog.Logger, job flux.Request) (*flux.Result, error) {
	for attempt := 0; ; attempt++ {
		result, err := s.flux.Transform(ctx, job)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, flux.ErrGenerationFailed) || attempt >= s.retries {
			return nil, err
		}
		log.Warn("generation failed, retrying", "attempt", attempt+1, "retries", s.retries, "err", err)
	}
}

// complete marks the image done and, outside trial mode, debits the scene cost in
// one transaction. A balance spent concurrently rolls everything back.
func (s *GenerationService) complete(ctx context.Context, user *models.User, scene *models.Scene, imageID int64, obj *storage.Object) (int, error) {
	var remaining int
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		ok, err := s.images.WithTx(tx).MarkCompleted(ctx, imageID, obj.URL, obj.Key, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("image %d is no longer pending", imageID)
		}

		if !user.TrialMode && scene.CreditCost > 0 {
			debited, err := s.credits.debitTx(ctx, tx, user.ID, scene.CreditCost, "scene: "+scene.Name)
			if err != nil {
				return err
			}
			if !debited {
				return apperr.ErrInsufficientCredits
			}
		}

		remaining, err = s.users.WithTx(tx).Credits(ctx, user.ID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// markFailed records the failure even when the request context is already gone.
func (s *GenerationService) markFailed(ctx context.Context, log *slog.Logger, imageID int64, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	log.Error("image processing failed", "kind", apperr.KindOf(cause), "err", cause)
	if err := s.images.MarkFailed(ctx, imageID, cause.Error()); err != nil {
		log.Error("mark image failed", "err", err)
	}
}

func (s *GenerationService) reportOrphan(ctx context.Context, log *slog.Logger, obj *storage.Object, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	log.Warn("stored object left without image", "key", obj.Key)
	text := fmt.Sprintf("orphaned object %s (%d bytes): %v", obj.Key, obj.Size, cause)
	if err := s.notifier.Notify(ctx, text); err != nil {
		log.Error("notify orphaned object", "err", err)
	}
}
