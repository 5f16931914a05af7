package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/digkill/pawstudio/internal/apperr"
	"github.com/digkill/pawstudio/internal/database"
	"github.com/digkill/pawstudio/internal/models"
	"github.com/digkill/pawstudio/internal/repository"
)

const defaultHistoryLimit = 50

// CreditService owns the balance and its ledger. Every balance change is written in
// the same transaction as its credit_transactions row.
type CreditService struct {
	db    *sql.DB
	log   *slog.Logger
	users *repository.UserRepository
	txs   *repository.TransactionRepository
}

func NewCreditService(db *sql.DB, log *slog.Logger, users *repository.UserRepository, txs *repository.TransactionRepository) *CreditService {
	return &CreditService{db: db, log: log, users: users, txs: txs}
}

type CreditSummary struct {
	Credits      int                        `json:"credits"`
	TrialMode    bool                       `json:"trialMode"`
	Transactions []models.CreditTransaction `json:"transactions"`
}

// Grant adds a positive purchase or bonus amount and returns the new balance.
func (s *CreditService) Grant(ctx context.Context, userID int64, amount int, typ models.TransactionType, description string, externalRef *string) (int, error) {
	var balance int
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.grantTx(ctx, tx, userID, amount, typ, description, externalRef); err != nil {
			return err
		}
		var err error
		balance, err = s.users.WithTx(tx).Credits(ctx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *CreditService) grantTx(ctx context.Context, tx *sql.Tx, userID int64, amount int, typ models.TransactionType, description string, externalRef *string) error {
	if amount <= 0 {
		return apperr.Validation("credit amount must be positive")
	}
	if typ != models.TransactionPurchase && typ != models.TransactionBonus {
		return apperr.Validation(fmt.Sprintf("cannot grant credits as %q", typ))
	}
	if err := s.users.WithTx(tx).AddCredits(ctx, userID, amount); err != nil {
		return err
	}
	return s.txs.WithTx(tx).Create(ctx, &models.CreditTransaction{
		UserID:             userID,
		Amount:             amount,
		Type:               typ,
		Description:        description,
		ExternalPaymentRef: externalRef,
	})
}

// Debit spends amount and returns the new balance, or ErrInsufficientCredits.
func (s *CreditService) Debit(ctx context.Context, userID int64, amount int, description string) (int, error) {
	var balance int
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		ok, err := s.debitTx(ctx, tx, userID, amount, description)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrInsufficientCredits
		}
		balance, err = s.users.WithTx(tx).Credits(ctx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// debitTx decrements only when the balance covers amount and appends one usage row
// of -amount. It reports false, writing nothing, when the balance is short.
func (s *CreditService) debitTx(ctx context.Context, tx *sql.Tx, userID int64, amount int, description string) (bool, error) {
	if amount <= 0 {
		return false, apperr.Validation("debit amount must be positive")
	}
	ok, err := s.users.WithTx(tx).ConsumeCredits(ctx, userID, amount)
	if err != nil || !ok {
		return false, err
	}
	err = s.txs.WithTx(tx).Create(ctx, &models.CreditTransaction{
		UserID:      userID,
		Amount:      -amount,
		Type:        models.TransactionUsage,
		Description: description,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *CreditService) History(ctx context.Context, userID int64, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultHistoryLimit
	}
	return s.txs.ListByUser(ctx, userID, limit)
}

func (s *CreditService) Summary(ctx context.Context, userID int64, limit int) (*CreditSummary, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound("user not found")
	}
	history, err := s.History(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	return &CreditSummary{Credits: user.Credits, TrialMode: user.TrialMode, Transactions: history}, nil
}

// Reconcile lists users whose balance differs from their ledger sum. With fix set it
// appends a correcting row so the ledger matches the stored balance.
func (s *CreditService) Reconcile(ctx context.Context, fix bool) ([]models.LedgerMismatch, error) {
	mismatches, err := s.txs.Mismatches(ctx)
	if err != nil {
		return nil, err
	}
	if !fix {
		return mismatches, nil
	}

	for _, m := range mismatches {
		diff := m.Credits - m.LedgerSum
		typ := models.TransactionBonus
		if diff < 0 {
			typ = models.TransactionUsage
		}
		row := &models.CreditTransaction{
			UserID:      m.UserID,
			Amount:      diff,
			Type:        typ,
			Description: "ledger reconciliation",
		}
		if err := s.txs.Create(ctx, row); err != nil {
			return nil, fmt.Errorf("reconcile user %d: %w", m.UserID, err)
		}
		s.log.Warn("ledger reconciled", "user_id", m.UserID, "credits", m.Credits, "ledger_sum", m.LedgerSum, "correction", diff)
	}
	return mismatches, nil
}
