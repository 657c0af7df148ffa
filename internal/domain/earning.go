/**
 * @description
 * This file defines the core domain models for the earnings-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Monetary values use shopspring/decimal rather than floats so that
 *   commission arithmetic and wallet balances keep exact 2-decimal-place
 *   currency semantics.
 * - Product types form a closed set fixed at deploy time; the rate table in
 *   internal/commission is the authority on membership.
 */

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductType identifies one of the insurance products the platform sells.
// The set is closed; values outside it are rejected at every boundary.
type ProductType string

const (
	ProductTrafik ProductType = "trafik"
	ProductKasko  ProductType = "kasko"
	ProductTSS    ProductType = "tss"
	ProductOSS    ProductType = "oss"
	ProductDask   ProductType = "dask"
	ProductKonut  ProductType = "konut"
)

// Operator roles. Only central finance may trigger commission processing.
const (
	RoleCentralFinance = "central_finance"
	RoleAgent          = "agent"
)

// EarningStatusActive marks the one earning per lead that counts. Voiding an
// earning (status "void") is owned by the back office; this service only reads
// the status as an idempotency guard, so no other value is modelled here.
const EarningStatusActive = "active"

// Operator is a back-office user who can be resolved from an authenticated
// request. Privilege decisions are made from the stored role, not the token.
type Operator struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"full_name"`
	Email    string    `json:"email"`
	Role     string    `json:"role"`
	Active   bool      `json:"active"`
}

// Lead is a prospective customer record captured by the public quote pages.
// AffiliateCode is set when the lead arrived through a partner's referral
// link; earnings cannot be attributed without it.
type Lead struct {
	ID            uuid.UUID   `json:"id"`
	CustomerName  string      `json:"customer_name"`
	ProductType   ProductType `json:"product_type"`
	AffiliateCode *string     `json:"affiliate_code,omitempty"`
	Status        string      `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Partner is an external referrer. WalletBalance is the current snapshot of
// credited earnings; every change to it is paired with one WalletTransaction.
type Partner struct {
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"name"`
	AffiliateCode string          `json:"affiliate_code"`
	WalletBalance decimal.Decimal `json:"wallet_balance"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Earning is the persisted commission record for one lead. At most one
// active earning may exist per lead.
type Earning struct {
	ID             uuid.UUID       `json:"id"`
	LeadID         uuid.UUID       `json:"lead_id"`
	PartnerID      uuid.UUID       `json:"partner_id"`
	AffiliateCode  string          `json:"affiliate_code"`
	ProductType    ProductType     `json:"product_type"`
	TotalPremium   decimal.Decimal `json:"total_premium"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	BaseCommission decimal.Decimal `json:"base_commission"`
	CompanyShare   decimal.Decimal `json:"company_share"`
	PartnerShare   decimal.Decimal `json:"partner_share"`
	PartnerEarning decimal.Decimal `json:"partner_earning"`
	ProcessedBy    uuid.UUID       `json:"processed_by"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

// WalletTransaction is the immutable audit record for one wallet mutation.
// Never updated or deleted once written.
type WalletTransaction struct {
	ID            uuid.UUID       `json:"id"`
	PartnerID     uuid.UUID       `json:"partner_id"`
	EarningID     uuid.UUID       `json:"earning_id"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"created_at"`
}

// LeadActivity is a human-readable audit note attached to a lead.
type LeadActivity struct {
	ID         uuid.UUID `json:"id"`
	LeadID     uuid.UUID `json:"lead_id"`
	OperatorID uuid.UUID `json:"operator_id"`
	Note       string    `json:"note"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProcessEarningRequest is the DTO for the earning-processing API endpoint.
// TotalPremium is kept as json.Number so the raw decimal text reaches the
// parser without a float round trip.
type ProcessEarningRequest struct {
	LeadID       string      `json:"lead_id"`
	ProductType  string      `json:"product_type"`
	TotalPremium json.Number `json:"total_premium"`
}

// ProcessEarningResult is returned by the orchestrator after a successful run.
type ProcessEarningResult struct {
	Earning         *Earning
	PartnerName     string
	PreviousBalance decimal.Decimal
	NewBalance      decimal.Decimal
	Credited        decimal.Decimal
}

// EarningDetail is the read-model for the back-office single-earning view:
// the earning plus the owning partner's current snapshot.
type EarningDetail struct {
	Earning *Earning `json:"earning"`
	Partner *Partner `json:"partner"`
}

// PartnerEarningsSummary is the read-model for the back-office partner view.
type PartnerEarningsSummary struct {
	Partner  *Partner  `json:"partner"`
	Earnings []Earning `json:"earnings"`
}
