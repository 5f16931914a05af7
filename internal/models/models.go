package models

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type TransactionType string

const (
	TransactionPurchase TransactionType = "purchase"
	TransactionUsage    TransactionType = "usage"
	TransactionBonus    TransactionType = "bonus"
)

type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusCompleted ProcessingStatus = "completed"
	StatusFailed    ProcessingStatus = "failed"
)

// FilterOriginal marks an Image row that mirrors an uploaded Photo.
const FilterOriginal = "original"

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	Credits      int       `json:"credits"`
	TrialMode    bool      `json:"trialMode"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

type CreditTransaction struct {
	ID                 int64           `json:"id"`
	UserID             int64           `json:"userId"`
	Amount             int             `json:"amount"`
	Type               TransactionType `json:"type"`
	Description        string          `json:"description"`
	ExternalPaymentRef *string         `json:"externalPaymentRef,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
}

type Scene struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	Prompt            string    `json:"prompt"`
	CreditCost        int       `json:"creditCost"`
	IsActive          bool      `json:"isActive"`
	ReferenceImageURL *string   `json:"referenceImageUrl,omitempty"`
	SortOrder         int       `json:"sortOrder"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type Photo struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"userId"`
	URL         string    `json:"url"`
	StorageKey  string    `json:"-"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Image struct {
	ID               int64            `json:"id"`
	UserID           int64            `json:"userId"`
	PhotoID          *int64           `json:"photoId,omitempty"`
	OriginalURL      string           `json:"originalUrl"`
	ProcessedURL     *string          `json:"processedUrl,omitempty"`
	StorageKey       *string          `json:"-"`
	FilterType       string           `json:"filterType"`
	ProcessingStatus ProcessingStatus `json:"processingStatus"`
	ErrorMessage     *string          `json:"errorMessage,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	ProcessedAt      *time.Time       `json:"processedAt,omitempty"`
}

type Payment struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"userId"`
	Provider    string    `json:"provider"`
	ExternalRef string    `json:"externalRef"`
	EventType   string    `json:"eventType"`
	Credits     int       `json:"credits"`
	AmountMinor int64     `json:"amountMinor"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	RawPayload  string    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// LedgerMismatch is a user whose balance disagrees with the sum of its transactions.
type LedgerMismatch struct {
	UserID    int64 `json:"userId"`
	Credits   int   `json:"credits"`
	LedgerSum int   `json:"ledgerSum"`
}

type Stats struct {
	Users          int            `json:"users"`
	ImagesByStatus map[string]int `json:"imagesByStatus"`
	CreditsSold    int            `json:"creditsSold"`
	CreditsUsed    int            `json:"creditsUsed"`
	CreditsBonus   int            `json:"creditsBonus"`
	ActiveScenes   int            `json:"activeScenes"`
}
