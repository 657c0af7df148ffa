/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the earnings-service. By defining an interface,
 * we decouple the orchestration logic from the specific database implementation
 * (PostgreSQL), making the saga testable against in-memory stubs.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - github.com/shopspring/decimal: For monetary amounts.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sigortaplus/earnings-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Principal and lookup methods
	FindOperatorByID(ctx context.Context, operatorID uuid.UUID) (*domain.Operator, error)
	FindLeadByID(ctx context.Context, leadID uuid.UUID) (*domain.Lead, error)
	FindPartnerByAffiliateCode(ctx context.Context, affiliateCode string) (*domain.Partner, error)
	FindPartnerByID(ctx context.Context, partnerID uuid.UUID) (*domain.Partner, error)

	// Earning methods
	// FindActiveEarningByLeadID returns ErrEarningNotFound when the lead has
	// no active earning; any other error is a storage failure.
	FindActiveEarningByLeadID(ctx context.Context, leadID uuid.UUID) (*domain.Earning, error)
	// CreateEarning returns ErrDuplicateEarning when the partial unique index
	// on (lead_id) WHERE status = 'active' rejects the insert.
	CreateEarning(ctx context.Context, earning *domain.Earning) error
	// DeleteEarning is only called as the saga's compensation for a failed
	// wallet credit; earnings are otherwise never deleted.
	DeleteEarning(ctx context.Context, earningID uuid.UUID) error
	FindEarningByID(ctx context.Context, earningID uuid.UUID) (*domain.Earning, error)
	FindEarningsByPartnerID(ctx context.Context, partnerID uuid.UUID) ([]domain.Earning, error)

	// Wallet methods
	GetWalletBalance(ctx context.Context, partnerID uuid.UUID) (decimal.Decimal, error)
	// CreditWalletConditional writes newBalance only if the stored balance
	// still equals expectedBalance; returns ErrBalanceConflict otherwise.
	// The conditional write is what makes concurrent credits to one partner
	// safe against lost updates.
	CreditWalletConditional(ctx context.Context, partnerID uuid.UUID, expectedBalance, newBalance decimal.Decimal) error

	// Audit trail methods
	CreateWalletTransaction(ctx context.Context, tx *domain.WalletTransaction) error
	AppendLeadActivity(ctx context.Context, activity *domain.LeadActivity) error
}
