package repository

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/pawstudio/internal/database/dbtest"
	"github.com/digkill/pawstudio/internal/models"
)

func createUser(t *testing.T, users *UserRepository, email string, credits int) *models.User {
	t.Helper()
	u, err := users.Create(context.Background(), &models.User{Email: email, PasswordHash: "hash", Credits: credits})
	require.NoError(t, err)
	return u
}

func TestUserRepositoryRoundTrip(t *testing.T) {
	db := dbtest.New(t)
	users := NewUserRepository(db)
	ctx := context.Background()

	created := createUser(t, users, "rex@example.com", 3)
	assert.Equal(t, models.RoleUser, created.Role)

	got, err := users.GetByEmail(ctx, "rex@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, 3, got.Credits)
	assert.False(t, got.TrialMode)

	require.NoError(t, users.UpdateAccess(ctx, got.ID, models.RoleAdmin, true))
	got, err = users.GetByID(ctx, got.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAdmin())
	assert.True(t, got.TrialMode)

	missing, err := users.GetByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestConsumeCreditsIsConditional(t *testing.T) {
	db := dbtest.New(t)
	users := NewUserRepository(db)
	ctx := context.Background()
	u := createUser(t, users, "fido@example.com", 2)

	ok, err := users.ConsumeCredits(ctx, u.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = users.ConsumeCredits(ctx, u.ID, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	credits, err := users.Credits(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, credits)
}

func TestConsumeCreditsConcurrentSpendsNeverOverdraw(t *testing.T) {
	db := dbtest.New(t)
	users := NewUserRepository(db)
	ctx := context.Background()
	u := createUser(t, users, "luna@example.com", 1)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := users.ConsumeCredits(ctx, u.ID, 1)
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for ok := range results {
		if ok {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)

	credits, err := users.Credits(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, credits)
}

func TestAddCreditsRejectsNonPositive(t *testing.T) {
	db := dbtest.New(t)
	users := NewUserRepository(db)
	u := createUser(t, users, "max@example.com", 0)

	assert.Error(t, users.AddCredits(context.Background(), u.ID, 0))
	assert.Error(t, users.AddCredits(context.Background(), 4242, 5))
	require.NoError(t, users.AddCredits(context.Background(), u.ID, 5))
}

func TestImageCompletionOnlyFromPending(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	u := createUser(t, NewUserRepository(db), "bella@example.com", 0)
	images := NewImageRepository(db)

	img := &models.Image{UserID: u.ID, OriginalURL: "https://cdn/x.jpg", FilterType: "pirate"}
	require.NoError(t, images.Create(ctx, img))
	assert.Equal(t, models.StatusPending, img.ProcessingStatus)

	ok, err := images.MarkCompleted(ctx, img.ID, "https://cdn/out.jpg", "1/generated/out.jpg", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = images.MarkCompleted(ctx, img.ID, "https://cdn/other.jpg", "other", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, images.MarkFailed(ctx, img.ID, "late failure"))

	got, err := images.GetByID(ctx, img.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.ProcessingStatus)
	require.NotNil(t, got.ProcessedURL)
	assert.Equal(t, "https://cdn/out.jpg", *got.ProcessedURL)
	assert.NotNil(t, got.ProcessedAt)
	assert.Nil(t, got.ErrorMessage)

	keys, err := images.StorageKeysByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"1/generated/out.jpg"}, keys)
}

func TestMarkFailedKeepsMessageValidUTF8(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	u := createUser(t, NewUserRepository(db), "mochi@example.com", 0)
	images := NewImageRepository(db)

	img := &models.Image{UserID: u.ID, OriginalURL: "https://cdn/x.jpg", FilterType: "pirate"}
	require.NoError(t, images.Create(ctx, img))

	// 999 ASCII bytes followed by a 3-byte rune straddling the limit
	message := strings.Repeat("a", 999) + "猫猫"
	require.NoError(t, images.MarkFailed(ctx, img.ID, message))

	got, err := images.GetByID(ctx, img.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.ProcessingStatus)
	require.NotNil(t, got.ErrorMessage)
	assert.True(t, utf8.ValidString(*got.ErrorMessage))
	assert.Equal(t, strings.Repeat("a", 999), *got.ErrorMessage)
}

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "short", truncateUTF8("short", 10))
	assert.Equal(t, "ab", truncateUTF8("abé", 3))
	assert.Equal(t, "abé", truncateUTF8("abéd", 4))
	assert.Equal(t, "", truncateUTF8("猫", 2))
}

func TestPaymentDuplicateDetected(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	u := createUser(t, NewUserRepository(db), "coco@example.com", 0)
	payments := NewPaymentRepository(db)

	p := &models.Payment{UserID: u.ID, Provider: "stripe", ExternalRef: "evt_1", EventType: "checkout.session.completed", Credits: 10, Status: "paid"}
	require.NoError(t, payments.Create(ctx, p))

	dup := *p
	assert.ErrorIs(t, payments.Create(ctx, &dup), ErrDuplicatePayment)

	found, err := payments.FindByExternalRef(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, 10, found.Credits)
}

func TestLedgerMismatches(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	users := NewUserRepository(db)
	txs := NewTransactionRepository(db)

	balanced := createUser(t, users, "ok@example.com", 5)
	require.NoError(t, txs.Create(ctx, &models.CreditTransaction{UserID: balanced.ID, Amount: 5, Type: models.TransactionBonus}))

	drifted := createUser(t, users, "drift@example.com", 3)
	ref := "evt_9"
	require.NoError(t, txs.Create(ctx, &models.CreditTransaction{UserID: drifted.ID, Amount: 10, Type: models.TransactionPurchase, ExternalPaymentRef: &ref}))

	mismatches, err := txs.Mismatches(ctx)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, models.LedgerMismatch{UserID: drifted.ID, Credits: 3, LedgerSum: 10}, mismatches[0])

	history, err := txs.ListByUser(ctx, drifted.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].ExternalPaymentRef)
	assert.Equal(t, "evt_9", *history[0].ExternalPaymentRef)
}

func TestSceneListOrdersAndFilters(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	scenes := NewSceneRepository(db)

	_, err := scenes.Create(ctx, &models.Scene{Name: "B", Prompt: "b", CreditCost: 1, IsActive: true, SortOrder: 2})
	require.NoError(t, err)
	_, err = scenes.Create(ctx, &models.Scene{Name: "A", Prompt: "a", CreditCost: 1, IsActive: true, SortOrder: 1})
	require.NoError(t, err)
	_, err = scenes.Create(ctx, &models.Scene{Name: "Hidden", Prompt: "h", CreditCost: 1, IsActive: false})
	require.NoError(t, err)

	active, err := scenes.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "A", active[0].Name)

	all, err := scenes.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDeleteUserCascades(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	users := NewUserRepository(db)
	u := createUser(t, users, "gone@example.com", 0)

	photos := NewPhotoRepository(db)
	require.NoError(t, photos.Create(ctx, &models.Photo{UserID: u.ID, URL: "u", StorageKey: "k", ContentType: "image/png"}))
	require.NoError(t, NewImageRepository(db).Create(ctx, &models.Image{UserID: u.ID, OriginalURL: "u", FilterType: "x"}))

	require.NoError(t, users.Delete(ctx, u.ID))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&count))
	assert.Zero(t, count)
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM photos`).Scan(&count))
	assert.Zero(t, count)
}
