package api

import (
	"io"
	"net/http"

	"github.com/digkill/pawstudio/internal/apperr"
)

const maxWebhookBody = 1 << 20

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.KindValidation, "read body", err))
		return
	}
	outcome, err := s.deps.Payments.HandleStripe(r.Context(), body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		s.log.Warn("stripe webhook rejected", "err", err)
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleRevenueCatWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.KindValidation, "read body", err))
		return
	}
	outcome, err := s.deps.Payments.HandleRevenueCat(r.Context(), body, r.Header.Get("Authorization"))
	if err != nil {
		s.log.Warn("revenuecat webhook rejected", "err", err)
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}
