package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindStatus(t *testing.T) {
	cases := map[Kind]int{
		KindAuthentication:      http.StatusUnauthorized,
		KindAuthorization:       http.StatusForbidden,
		KindValidation:          http.StatusBadRequest,
		KindNotFound:            http.StatusNotFound,
		KindConflict:            http.StatusConflict,
		KindInsufficientCredits: http.StatusPaymentRequired,
		KindExternalService:     http.StatusInternalServerError,
		KindContentModerated:    http.StatusInternalServerError,
		KindTimeout:             http.StatusInternalServerError,
		KindInternal:            http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, kind.Status(), string(kind))
	}
}

func TestStatusIgnoresMessageText(t *testing.T) {
	err := New(KindValidation, "user not found in credits table")
	assert.Equal(t, http.StatusBadRequest, KindOf(err).Status())
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("process image: %w", ErrInsufficientCredits)
	assert.Equal(t, KindInsufficientCredits, KindOf(err))
	assert.True(t, errors.Is(err, ErrInsufficientCredits))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestIsMatchesKindAndMessage(t *testing.T) {
	a := New(KindExternalService, "image generation failed")
	b := Wrap(KindExternalService, "submit generation", errors.New("status=500"))
	assert.True(t, errors.Is(a, New(KindExternalService, "image generation failed")))
	assert.False(t, errors.Is(b, a))
	assert.True(t, errors.Is(b, &Error{Kind: KindExternalService}))
}

func TestPublicMessageHidesInternals(t *testing.T) {
	assert.Equal(t, "scene not found", PublicMessage(NotFound("scene not found")))
	assert.Equal(t, "upstream service failed", PublicMessage(Wrap(KindExternalService, "store upload", errors.New("secret upstream body"))))
	assert.Equal(t, "upstream service timed out", PublicMessage(New(KindTimeout, "poll")))
	assert.Equal(t, "internal error", PublicMessage(errors.New("sql: connection refused")))
}

func TestPublicTextTravelsWithTheError(t *testing.T) {
	base := Wrap(KindExternalService, "submit generation", errors.New("status=502"))
	public := base.WithPublic("image generation failed")

	assert.Equal(t, "image generation failed", PublicMessage(fmt.Errorf("process: %w", public)))
	assert.Equal(t, "upstream service failed", PublicMessage(base))
	assert.True(t, errors.Is(public, base))

	// exposed kinds keep their own message
	assert.Equal(t, "scene not found", PublicMessage(NotFound("scene not found").WithPublic("ignored")))
}
