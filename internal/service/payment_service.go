package service

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/digkill/pawstudio/internal/apperr"
	"github.com/digkill/pawstudio/internal/config"
	"github.com/digkill/pawstudio/internal/database"
	"github.com/digkill/pawstudio/internal/models"
	"github.com/digkill/pawstudio/internal/notify"
	"github.com/digkill/pawstudio/internal/repository"
)

const (
	ProviderStripe     = "stripe"
	ProviderRevenueCat = "revenuecat"

	stripeTolerance = 5 * time.Minute
)

var errBadSignature = apperr.Authentication("invalid webhook signature")

type PaymentService struct {
	cfg      config.Config
	db       *sql.DB
	log      *slog.Logger
	users    *repository.UserRepository
	payments *repository.PaymentRepository
	credits  *CreditService
	notifier notify.Notifier
}

// WebhookOutcome tells the caller what a delivery did.
type WebhookOutcome struct {
	Credited  bool   `json:"credited"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Ignored   string `json:"ignored,omitempty"`
}

func NewPaymentService(cfg config.Config, db *sql.DB, log *slog.Logger, users *repository.UserRepository, payments *repository.PaymentRepository, credits *CreditService, notifier notify.Notifier) *PaymentService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &PaymentService{
		cfg:      cfg,
		db:       db,
		log:      log,
		users:    users,
		payments: payments,
		credits:  credits,
		notifier: notifier,
	}
}

// HandleStripe verifies and applies a Stripe event. Only paid checkout sessions
// grant credits.
func (s *PaymentService) HandleStripe(ctx context.Context, payload []byte, signatureHeader string) (*WebhookOutcome, error) {
	if s.cfg.StripeWebhookSecret == "" {
		return nil, apperr.New(apperr.KindInternal, "stripe webhook is not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, s.cfg.StripeWebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                stripeTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		s.log.Warn("stripe signature rejected", "err", err)
		return nil, stripeSignatureError(err)
	}

	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		return &WebhookOutcome{Ignored: string(event.Type)}, nil
	}
	if event.Data == nil {
		return nil, apperr.Validation("malformed stripe event")
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, apperr.Validation("malformed stripe event")
	}
	if session.PaymentStatus != "" && session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return &WebhookOutcome{Ignored: "payment_status " + string(session.PaymentStatus)}, nil
	}

	userRef := session.ClientReferenceID
	if userRef == "" {
		userRef = session.Metadata["user_id"]
	}
	credits, err := strconv.Atoi(session.Metadata["credits"])
	if err != nil || credits <= 0 {
		credits = s.cfg.StripePriceCredits[session.Metadata["price_id"]]
	}

	ref := session.ID
	if ref == "" {
		ref = event.ID
	}
	return s.apply(ctx, &models.Payment{
		Provider:    ProviderStripe,
		ExternalRef: ref,
		EventType:   string(event.Type),
		Credits:     credits,
		AmountMinor: session.AmountTotal,
		Currency:    strings.ToUpper(string(session.Currency)),
		Status:      "paid",
		RawPayload:  string(payload),
	}, userRef)
}

func stripeSignatureError(err error) error {
	if errors.Is(err, webhook.ErrTooOld) {
		return apperr.Authentication("webhook timestamp outside tolerance")
	}
	if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrInvalidHeader) || errors.Is(err, webhook.ErrNoValidSignature) {
		return errBadSignature
	}
	return apperr.Validation("malformed stripe event")
}

type revenueCatWebhook struct {
	Event struct {
		ID            string  `json:"id"`
		Type          string  `json:"type"`
		AppUserID     string  `json:"app_user_id"`
		ProductID     string  `json:"product_id"`
		TransactionID string  `json:"transaction_id"`
		Price         float64 `json:"price_in_purchased_currency"`
		Currency      string  `json:"currency"`
	} `json:"event"`
}

var revenueCatPurchaseEvents = map[string]bool{
	"INITIAL_PURCHASE":      true,
	"RENEWAL":               true,
	"NON_RENEWING_PURCHASE": true,
}

// HandleRevenueCat applies a RevenueCat purchase event authenticated by the shared
// bearer secret.
func (s *PaymentService) HandleRevenueCat(ctx context.Context, payload []byte, authorization string) (*WebhookOutcome, error) {
	secret := s.cfg.RevenueCatWebhookSecret
	if secret == "" {
		return nil, apperr.New(apperr.KindInternal, "revenuecat webhook is not configured")
	}
	token := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(authorization), "Bearer "))
	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return nil, errBadSignature
	}

	var hook revenueCatWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, apperr.Validation("malformed revenuecat event")
	}
	event := hook.Event
	if !revenueCatPurchaseEvents[event.Type] {
		return &WebhookOutcome{Ignored: event.Type}, nil
	}

	ref := event.ID
	if ref == "" {
		ref = event.TransactionID
	}
	return s.apply(ctx, &models.Payment{
		Provider:    ProviderRevenueCat,
		ExternalRef: ref,
		EventType:   event.Type,
		Credits:     s.cfg.RevenueCatProductCredits[event.ProductID],
		AmountMinor: int64(math.Round(event.Price * 100)),
		Currency:    strings.ToUpper(event.Currency),
		Status:      "paid",
		RawPayload:  string(payload),
	}, event.AppUserID)
}

// apply records the payment and grants its credits in one transaction. A repeated
// delivery of the same provider reference changes nothing.
func (s *PaymentService) apply(ctx context.Context, payment *models.Payment, userRef string) (*WebhookOutcome, error) {
	if payment.ExternalRef == "" {
		return nil, apperr.Validation("event has no reference")
	}
	if payment.Credits <= 0 {
		return nil, apperr.Validation("cannot determine credits for purchase")
	}
	userID, err := strconv.ParseInt(strings.TrimSpace(userRef), 10, 64)
	if err != nil || userID <= 0 {
		return nil, apperr.Validation("event has no valid user reference")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound("user not found")
	}
	payment.UserID = userID

	log := s.log.With("provider", payment.Provider, "ref", payment.ExternalRef, "user_id", userID)

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.payments.WithTx(tx).Create(ctx, payment); err != nil {
			return err
		}
		ref := payment.ExternalRef
		desc := fmt.Sprintf("%s purchase (%d credits)", payment.Provider, payment.Credits)
		return s.credits.grantTx(ctx, tx, userID, payment.Credits, models.TransactionPurchase, desc, &ref)
	})
	if errors.Is(err, repository.ErrDuplicatePayment) {
		log.Info("duplicate payment event ignored")
		return &WebhookOutcome{Duplicate: true}, nil
	}
	if err != nil {
		return nil, err
	}

	log.Info("payment credited", "credits", payment.Credits, "amount_minor", payment.AmountMinor, "currency", payment.Currency)
	text := fmt.Sprintf("purchase via %s: user %d (%s) +%d credits, %.2f %s", payment.Provider, user.ID, user.Email, payment.Credits, float64(payment.AmountMinor)/100, payment.Currency)
	if err := s.notifier.Notify(ctx, text); err != nil {
		log.Warn("purchase notification failed", "err", err)
	}
	return &WebhookOutcome{Credited: true}, nil
}
