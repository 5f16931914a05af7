package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/digkill/pawstudio/internal/auth"
	"github.com/digkill/pawstudio/internal/config"
	"github.com/digkill/pawstudio/internal/database/dbtest"
	"github.com/digkill/pawstudio/internal/flux"
	"github.com/digkill/pawstudio/internal/models"
	"github.com/digkill/pawstudio/internal/repository"
	"github.com/digkill/pawstudio/internal/storage"
	"github.com/digkill/pawstudio/pkg/logger"
)

type fakeTransformer struct {
	mu      sync.Mutex
	calls   int
	last    flux.Request
	results []error
	hook    func()
}

func (f *fakeTransformer) Transform(ctx context.Context, req flux.Request) (*flux.Result, error) {
	f.mu.Lock()
	f.calls++
	f.last = req
	var err error
	if len(f.results) > 0 {
		err = f.results[0]
		f.results = f.results[1:]
	}
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return &flux.Result{Bytes: []byte("generated"), ContentType: "image/jpeg", SourceURL: "https://delivery.example/sample.jpg"}, nil
}

func (f *fakeTransformer) Last() flux.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeTransformer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct {
	mu        sync.Mutex
	uploads   []string
	deleted   []string
	uploadErr error
	deleteErr error
}

func (f *fakeStore) Upload(ctx context.Context, userID int64, kind storage.Kind, data []byte, contentType string) (*storage.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	key := fmt.Sprintf("%d/%s/%d%s", userID, kind, len(f.uploads)+1, storage.ExtensionFor(contentType))
	f.uploads = append(f.uploads, key)
	return &storage.Object{Key: key, URL: "https://cdn.example/" + key, Size: int64(len(data)), MimeType: contentType}, nil
}

func (f *fakeStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return f.deleteErr
}

type fakeFetcher struct {
	calls int
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return []byte("source"), "image/jpeg", nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Notify(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

// env wires every service against one SQLite database and fake externals.
type env struct {
	db       *sql.DB
	users    *repository.UserRepository
	txs      *repository.TransactionRepository
	images   *repository.ImageRepository
	photos   *repository.PhotoRepository
	scenes   *repository.SceneRepository
	payments *repository.PaymentRepository

	flux     *fakeTransformer
	store    *fakeStore
	fetcher  *fakeFetcher
	notifier *fakeNotifier

	credits    *CreditService
	generation *GenerationService
	userSvc    *UserService
	imageSvc   *ImageService
	sceneSvc   *SceneService
	paymentSvc *PaymentService
	adminSvc   *AdminService
}

func newEnv(t *testing.T, cfg config.Config) *env {
	t.Helper()
	db := dbtest.New(t)
	log := logger.Discard()

	e := &env{
		db:       db,
		users:    repository.NewUserRepository(db),
		txs:      repository.NewTransactionRepository(db),
		images:   repository.NewImageRepository(db),
		photos:   repository.NewPhotoRepository(db),
		scenes:   repository.NewSceneRepository(db),
		payments: repository.NewPaymentRepository(db),
		flux:     &fakeTransformer{},
		store:    &fakeStore{},
		fetcher:  &fakeFetcher{},
		notifier: &fakeNotifier{},
	}
	e.credits = NewCreditService(db, log, e.users, e.txs)
	e.generation = NewGenerationService(db, log, GenerationDeps{
		Users:    e.users,
		Scenes:   e.scenes,
		Images:   e.images,
		Photos:   e.photos,
		Credits:  e.credits,
		Flux:     e.flux,
		Store:    e.store,
		Fetcher:  e.fetcher,
		Notifier: e.notifier,
		Retries:  cfg.GenerationRetries,
	})
	tokens := auth.NewTokens("test-secret", time.Hour)
	e.userSvc = NewUserService(db, log, e.users, e.images, e.photos, e.credits, tokens, e.store, SignupPolicy{
		BonusCredits: cfg.SignupBonusCredits,
		TrialMode:    cfg.SignupTrialMode,
	})
	e.imageSvc = NewImageService(db, log, e.images, e.photos, e.store, 1<<20)
	e.sceneSvc = NewSceneService(e.scenes)
	e.paymentSvc = NewPaymentService(cfg, db, log, e.users, e.payments, e.credits, e.notifier)
	e.adminSvc = NewAdminService(db, log, e.users, e.images, e.scenes, e.txs, e.credits)
	return e
}

// newUser creates a user whose balance is backed by a matching ledger row.
func (e *env) newUser(t *testing.T, email string, credits int, trial bool) *models.User {
	t.Helper()
	ctx := context.Background()
	u, err := e.users.Create(ctx, &models.User{Email: email, PasswordHash: "x", TrialMode: trial})
	require.NoError(t, err)
	if credits > 0 {
		_, err := e.credits.Grant(ctx, u.ID, credits, models.TransactionBonus, "test balance", nil)
		require.NoError(t, err)
	}
	got, err := e.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	return got
}

func (e *env) newScene(t *testing.T, name string, cost int, active bool) *models.Scene {
	t.Helper()
	s, err := e.scenes.Create(context.Background(), &models.Scene{Name: name, Prompt: "make it " + name, CreditCost: cost, IsActive: active})
	require.NoError(t, err)
	return s
}

func (e *env) usageRows(t *testing.T, userID int64) []models.CreditTransaction {
	t.Helper()
	all, err := e.txs.ListByUser(context.Background(), userID, 100)
	require.NoError(t, err)
	var usage []models.CreditTransaction
	for _, tx := range all {
		if tx.Type == models.TransactionUsage {
			usage = append(usage, tx)
		}
	}
	return usage
}

func (e *env) imagesByStatus(t *testing.T, userID int64) map[models.ProcessingStatus]int {
	t.Helper()
	list, err := e.images.ListByUser(context.Background(), userID, 100, 0)
	require.NoError(t, err)
	out := make(map[models.ProcessingStatus]int)
	for _, img := range list {
		out[img.ProcessingStatus]++
	}
	return out
}

func (e *env) balance(t *testing.T, userID int64) int {
	t.Helper()
	credits, err := e.users.Credits(context.Background(), userID)
	require.NoError(t, err)
	return credits
}

var errUpstream = errors.New("upstream exploded")
