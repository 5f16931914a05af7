package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/pawstudio/internal/auth"
	"github.com/digkill/pawstudio/internal/config"
	"github.com/digkill/pawstudio/internal/database/dbtest"
	"github.com/digkill/pawstudio/internal/flux"
	"github.com/digkill/pawstudio/internal/models"
	"github.com/digkill/pawstudio/internal/notify"
	"github.com/digkill/pawstudio/internal/repository"
	"github.com/digkill/pawstudio/internal/service"
	"github.com/digkill/pawstudio/internal/storage"
	"github.com/digkill/pawstudio/pkg/logger"
)

type stubFlux struct{ err error }

func (f *stubFlux) Transform(ctx context.Context, req flux.Request) (*flux.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &flux.Result{Bytes: []byte("out"), ContentType: "image/png"}, nil
}

type stubStore struct{ n int }

func (s *stubStore) Upload(ctx context.Context, userID int64, kind storage.Kind, data []byte, contentType string) (*storage.Object, error) {
	s.n++
	key := strings.Join([]string{"u", string(kind), time.Now().Format("150405.000000")}, "/") + storage.ExtensionFor(contentType)
	return &storage.Object{Key: key, URL: "https://cdn.test/" + key, Size: int64(len(data)), MimeType: contentType}, nil
}

func (s *stubStore) Delete(ctx context.Context, key string) error { return nil }

type stubFetcher struct{}

func (stubFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	return []byte("src"), "image/jpeg", nil
}

type testAPI struct {
	srv    *httptest.Server
	users  *repository.UserRepository
	scenes *repository.SceneRepository
	flux   *stubFlux
}

func newTestAPI(t *testing.T, bonus int) *testAPI {
	t.Helper()
	db := dbtest.New(t)
	log := logger.Discard()

	users := repository.NewUserRepository(db)
	txs := repository.NewTransactionRepository(db)
	images := repository.NewImageRepository(db)
	photos := repository.NewPhotoRepository(db)
	scenes := repository.NewSceneRepository(db)
	payments := repository.NewPaymentRepository(db)

	fx := &stubFlux{}
	store := &stubStore{}
	tokens := auth.NewTokens("api-secret", time.Hour)
	credits := service.NewCreditService(db, log, users, txs)

	deps := Deps{
		Users:   service.NewUserService(db, log, users, images, photos, credits, tokens, store, service.SignupPolicy{BonusCredits: bonus}),
		Credits: credits,
		Generation: service.NewGenerationService(db, log, service.GenerationDeps{
			Users: users, Scenes: scenes, Images: images, Photos: photos, Credits: credits,
			Flux: fx, Store: store, Fetcher: stubFetcher{},
		}),
		Images:   service.NewImageService(db, log, images, photos, store, 1<<20),
		Scenes:   service.NewSceneService(scenes),
		Payments: service.NewPaymentService(config.Config{StripeWebhookSecret: "whsec"}, db, log, users, payments, credits, notify.Nop{}),
		Admin:    service.NewAdminService(db, log, users, images, scenes, txs, credits),
		Tokens:   tokens,
	}
	server := NewServer(Options{Addr: ":0", MaxUploadBytes: 1 << 20}, log, deps)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &testAPI{srv: srv, users: users, scenes: scenes, flux: fx}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (a *testAPI) signup(t *testing.T, email string) (string, int64) {
	t.Helper()
	resp, body := a.do(t, http.MethodPost, "/auth/signup", "", map[string]string{"email": email, "password": "goodboy123", "name": "Rex"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	user := body["user"].(map[string]any)
	return body["token"].(string), int64(user["id"].(float64))
}

func (a *testAPI) scene(t *testing.T, cost int) int64 {
	t.Helper()
	s, err := a.scenes.Create(context.Background(), &models.Scene{Name: "Astronaut", Prompt: "space suit", CreditCost: cost, IsActive: true})
	require.NoError(t, err)
	return s.ID
}

func TestAuthRequired(t *testing.T) {
	a := newTestAPI(t, 0)

	resp, body := a.do(t, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "authentication", body["code"])

	resp, _ = a.do(t, http.MethodGet, "/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSignupLoginAndMe(t *testing.T) {
	a := newTestAPI(t, 2)
	token, _ := a.signup(t, "rex@example.com")

	resp, body := a.do(t, http.MethodGet, "/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["credits"])
	assert.Equal(t, false, body["trialMode"])
	assert.NotContains(t, body, "passwordHash")

	resp, body = a.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "rex@example.com", "password": "goodboy123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["token"])

	resp, body = a.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "rex@example.com", "password": "badboy123"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid email or password", body["error"])

	resp, body = a.do(t, http.MethodPost, "/auth/signup", "", map[string]string{"email": "rex@example.com", "password": "goodboy123"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", body["code"])

	resp, body = a.do(t, http.MethodPost, "/auth/signup", "", map[string]string{"email": "nope", "password": "goodboy123"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "email must be a valid email", body["error"])
}

func TestSessionCookieAuthenticates(t *testing.T) {
	a := newTestAPI(t, 0)
	token, _ := a.signup(t, "web@example.com")

	req, err := http.NewRequest(http.MethodGet, a.srv.URL+"/me", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProcessInsufficientCredits(t *testing.T) {
	a := newTestAPI(t, 0)
	token, _ := a.signup(t, "broke@example.com")
	sceneID := a.scene(t, 1)

	resp, body := a.do(t, http.MethodPost, "/images/process", token, map[string]any{"imageUrl": "https://img.test/dog.jpg", "filterId": sceneID})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "insufficient_credits", body["code"])
}

func TestProcessSuccess(t *testing.T) {
	a := newTestAPI(t, 1)
	token, _ := a.signup(t, "rich@example.com")
	sceneID := a.scene(t, 1)

	resp, body := a.do(t, http.MethodPost, "/images/process", token, map[string]any{"imageUrl": "https://img.test/dog.jpg", "filterId": sceneID})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Contains(t, body["processedUrl"], "https://cdn.test/")
	assert.EqualValues(t, 0, body["creditsRemaining"])
	assert.NotZero(t, body["imageId"])

	resp, body = a.do(t, http.MethodGet, "/credits", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["credits"])
	assert.Len(t, body["transactions"], 2)
}

func TestProcessAcceptsStringFilterID(t *testing.T) {
	a := newTestAPI(t, 1)
	token, _ := a.signup(t, "str@example.com")
	sceneID := a.scene(t, 1)

	resp, body := a.do(t, http.MethodPost, "/images/process", token, map[string]any{"imageUrl": "https://img.test/dog.jpg", "filterId": strconv.FormatInt(sceneID, 10)})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	resp, body = a.do(t, http.MethodPost, "/images/process", token, map[string]any{"imageUrl": "https://img.test/dog.jpg"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "filterId is required", body["error"])
}

func TestProcessModerationIsServerError(t *testing.T) {
	a := newTestAPI(t, 1)
	token, userID := a.signup(t, "mod@example.com")
	sceneID := a.scene(t, 1)
	a.flux.err = flux.ErrContentModerated

	resp, body := a.do(t, http.MethodPost, "/images/process", token, map[string]any{"imageUrl": "https://img.test/dog.jpg", "filterId": sceneID})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "content_moderated", body["code"])

	credits, err := a.users.Credits(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 1, credits)
}

func TestProcessTimeoutHidesDetails(t *testing.T) {
	a := newTestAPI(t, 1)
	token, _ := a.signup(t, "slow@example.com")
	sceneID := a.scene(t, 1)
	a.flux.err = flux.ErrTimeout

	resp, body := a.do(t, http.MethodPost, "/images/process", token, map[string]any{"imageUrl": "https://img.test/dog.jpg", "filterId": sceneID})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "image generation timed out", body["error"])
}

func TestUploadMultipart(t *testing.T) {
	a := newTestAPI(t, 0)
	token, _ := a.signup(t, "upload@example.com")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "dog.png")
	require.NoError(t, err)
	_, err = fw.Write([]byte("\x89PNG\r\n\x1a\n0000000000"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, a.srv.URL+"/images/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Contains(t, out["url"], "/uploads/")
	assert.NotZero(t, out["imageId"])
	assert.NotZero(t, out["photoId"])

	listResp, list := a.doList(t, "/photos", token)
	assert.Equal(t, http.StatusOK, listResp.StatusCode)
	assert.Len(t, list, 1)
}

func (a *testAPI) doList(t *testing.T, path, token string) (*http.Response, []any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, a.srv.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out []any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	a := newTestAPI(t, 0)
	token, userID := a.signup(t, "boss@example.com")

	resp, body := a.do(t, http.MethodGet, "/admin/stats", token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "authorization", body["code"])

	require.NoError(t, a.users.UpdateAccess(context.Background(), userID, models.RoleAdmin, false))

	resp, body = a.do(t, http.MethodGet, "/admin/stats", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["users"])

	resp, body = a.do(t, http.MethodPut, "/admin/users/"+strconv.FormatInt(userID, 10), token, map[string]any{"creditAdjustment": 4, "note": "welcome"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.EqualValues(t, 4, body["credits"])

	resp, body = a.do(t, http.MethodPost, "/admin/scenes", token, map[string]any{"name": "Cowboy", "prompt": "wild west", "creditCost": 2})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, true, body["isActive"])

	resp, _ = a.do(t, http.MethodGet, "/admin/reconcile", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStripeWebhookRejectsUnsigned(t *testing.T) {
	a := newTestAPI(t, 0)

	resp, body := a.do(t, http.MethodPost, "/webhooks/stripe", "", map[string]any{"type": "checkout.session.completed"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid webhook signature", body["error"])
}

func TestDeleteMe(t *testing.T) {
	a := newTestAPI(t, 0)
	token, userID := a.signup(t, "gone@example.com")

	resp, _ := a.do(t, http.MethodDelete, "/me", token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	user, err := a.users.GetByID(context.Background(), userID)
	require.NoError(t, err)
	assert.Nil(t, user)

	resp, _ = a.do(t, http.MethodGet, "/me", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

