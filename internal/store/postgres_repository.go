/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to operators, leads, partners, earnings, and wallet transactions.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: Monetary values; NUMERIC columns travel as text.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sigortaplus/earnings-service/internal/domain"
)

var (
	ErrOperatorNotFound = errors.New("operator not found")
	ErrLeadNotFound     = errors.New("lead not found")
	ErrPartnerNotFound  = errors.New("partner not found")
	ErrEarningNotFound  = errors.New("earning not found")
	ErrDuplicateEarning = errors.New("an active earning already exists for this lead")
	ErrBalanceConflict  = errors.New("wallet balance changed since it was read")
)

const uniqueViolationCode = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindOperatorByID retrieves a back-office operator by their internal UUID.
func (r *PostgresRepository) FindOperatorByID(ctx context.Context, operatorID uuid.UUID) (*domain.Operator, error) {
	var op domain.Operator
	query := `SELECT id, full_name, email, role, active FROM operators WHERE id = $1`
	err := r.db.QueryRow(ctx, query, operatorID).Scan(&op.ID, &op.FullName, &op.Email, &op.Role, &op.Active)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrOperatorNotFound
		}
		return nil, err
	}
	return &op, nil
}

// FindLeadByID retrieves a lead by its id.
func (r *PostgresRepository) FindLeadByID(ctx context.Context, leadID uuid.UUID) (*domain.Lead, error) {
	var lead domain.Lead
	query := `SELECT id, customer_name, product_type, affiliate_code, status, created_at FROM leads WHERE id = $1`
	err := r.db.QueryRow(ctx, query, leadID).Scan(
		&lead.ID, &lead.CustomerName, &lead.ProductType, &lead.AffiliateCode, &lead.Status, &lead.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrLeadNotFound
		}
		return nil, err
	}
	return &lead, nil
}

// FindPartnerByAffiliateCode retrieves the partner whose referral code matches.
// Codes are matched case-insensitively with whitespace trimmed, mirroring how
// the public site records them on leads.
func (r *PostgresRepository) FindPartnerByAffiliateCode(ctx context.Context, affiliateCode string) (*domain.Partner, error) {
	query := `
		SELECT id, name, btrim(affiliate_code), wallet_balance::text, active, created_at
		FROM partners
		WHERE lower(btrim(affiliate_code)) = lower(btrim($1))
	`
	return r.scanPartner(r.db.QueryRow(ctx, query, affiliateCode))
}

// FindPartnerByID retrieves a partner by its internal UUID.
func (r *PostgresRepository) FindPartnerByID(ctx context.Context, partnerID uuid.UUID) (*domain.Partner, error) {
	query := `
		SELECT id, name, btrim(affiliate_code), wallet_balance::text, active, created_at
		FROM partners
		WHERE id = $1
	`
	return r.scanPartner(r.db.QueryRow(ctx, query, partnerID))
}

func (r *PostgresRepository) scanPartner(row pgx.Row) (*domain.Partner, error) {
	var partner domain.Partner
	var balance string
	err := row.Scan(&partner.ID, &partner.Name, &partner.AffiliateCode, &balance, &partner.Active, &partner.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPartnerNotFound
		}
		return nil, err
	}
	partner.WalletBalance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, err
	}
	return &partner, nil
}

// FindActiveEarningByLeadID retrieves the lead's active earning, if any.
func (r *PostgresRepository) FindActiveEarningByLeadID(ctx context.Context, leadID uuid.UUID) (*domain.Earning, error) {
	query := earningSelect + ` WHERE lead_id = $1 AND status = 'active'`
	return r.scanEarning(r.db.QueryRow(ctx, query, leadID))
}

// FindEarningByID retrieves one earning by id.
func (r *PostgresRepository) FindEarningByID(ctx context.Context, earningID uuid.UUID) (*domain.Earning, error) {
	query := earningSelect + ` WHERE id = $1`
	return r.scanEarning(r.db.QueryRow(ctx, query, earningID))
}

// FindEarningsByPartnerID lists a partner's earnings, newest first.
func (r *PostgresRepository) FindEarningsByPartnerID(ctx context.Context, partnerID uuid.UUID) ([]domain.Earning, error) {
	query := earningSelect + ` WHERE partner_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, partnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var earnings []domain.Earning
	for rows.Next() {
		earning, err := r.scanEarning(rows)
		if err != nil {
			return nil, err
		}
		earnings = append(earnings, *earning)
	}
	return earnings, rows.Err()
}

const earningSelect = `
	SELECT id, lead_id, partner_id, affiliate_code, product_type,
	       total_premium::text, commission_rate::text, base_commission::text,
	       company_share::text, partner_share::text, partner_earning::text,
	       processed_by, status, created_at
	FROM earnings`

func (r *PostgresRepository) scanEarning(row pgx.Row) (*domain.Earning, error) {
	var earning domain.Earning
	var premium, rate, base, company, partnerShare, partnerEarning string
	err := row.Scan(
		&earning.ID, &earning.LeadID, &earning.PartnerID, &earning.AffiliateCode, &earning.ProductType,
		&premium, &rate, &base, &company, &partnerShare, &partnerEarning,
		&earning.ProcessedBy, &earning.Status, &earning.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrEarningNotFound
		}
		return nil, err
	}

	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&earning.TotalPremium, premium},
		{&earning.CommissionRate, rate},
		{&earning.BaseCommission, base},
		{&earning.CompanyShare, company},
		{&earning.PartnerShare, partnerShare},
		{&earning.PartnerEarning, partnerEarning},
	}
	for _, f := range fields {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, err
		}
	}
	return &earning, nil
}

// CreateEarning inserts the earning record in one atomic write. A partial
// unique index (lead_id WHERE status = 'active') backs the at-most-one-active
// invariant; concurrent inserts for the same lead surface as ErrDuplicateEarning.
func (r *PostgresRepository) CreateEarning(ctx context.Context, earning *domain.Earning) error {
	query := `
		INSERT INTO earnings (
			id, lead_id, partner_id, affiliate_code, product_type,
			total_premium, commission_rate, base_commission,
			company_share, partner_share, partner_earning,
			processed_by, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
	`
	_, err := r.db.Exec(ctx, query,
		earning.ID,
		earning.LeadID,
		earning.PartnerID,
		earning.AffiliateCode,
		earning.ProductType,
		earning.TotalPremium.StringFixed(2),
		earning.CommissionRate.String(),
		earning.BaseCommission.StringFixed(2),
		earning.CompanyShare.StringFixed(2),
		earning.PartnerShare.StringFixed(2),
		earning.PartnerEarning.StringFixed(2),
		earning.ProcessedBy,
		earning.Status,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDuplicateEarning
		}
		return err
	}
	return nil
}

// DeleteEarning removes an earning. Only the saga's compensation path uses this.
func (r *PostgresRepository) DeleteEarning(ctx context.Context, earningID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM earnings WHERE id = $1`, earningID)
	return err
}

// GetWalletBalance reads a partner's current wallet balance.
func (r *PostgresRepository) GetWalletBalance(ctx context.Context, partnerID uuid.UUID) (decimal.Decimal, error) {
	var balance string
	err := r.db.QueryRow(ctx, `SELECT wallet_balance::text FROM partners WHERE id = $1`, partnerID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return decimal.Zero, ErrPartnerNotFound
		}
		return decimal.Zero, err
	}
	return decimal.NewFromString(balance)
}

// CreditWalletConditional performs an optimistic conditional update of the
// wallet balance. The write only lands if the stored balance still equals the
// value the caller read, so concurrent credits to the same partner can never
// silently overwrite each other.
func (r *PostgresRepository) CreditWalletConditional(ctx context.Context, partnerID uuid.UUID, expectedBalance, newBalance decimal.Decimal) error {
	query := `
		UPDATE partners
		SET wallet_balance = $1, updated_at = NOW()
		WHERE id = $2 AND wallet_balance = $3
	`
	tag, err := r.db.Exec(ctx, query, newBalance.StringFixed(2), partnerID, expectedBalance.StringFixed(2))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the partner vanished or the balance moved under us.
		var exists bool
		if checkErr := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM partners WHERE id = $1)`, partnerID).Scan(&exists); checkErr != nil {
			return checkErr
		}
		if !exists {
			return ErrPartnerNotFound
		}
		return ErrBalanceConflict
	}
	return nil
}

// CreateWalletTransaction appends the immutable audit record for a wallet credit.
func (r *PostgresRepository) CreateWalletTransaction(ctx context.Context, tx *domain.WalletTransaction) error {
	query := `
		INSERT INTO wallet_transactions (
			id, partner_id, earning_id, amount, balance_before, balance_after, description, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`
	_, err := r.db.Exec(ctx, query,
		tx.ID,
		tx.PartnerID,
		tx.EarningID,
		tx.Amount.StringFixed(2),
		tx.BalanceBefore.StringFixed(2),
		tx.BalanceAfter.StringFixed(2),
		tx.Description,
	)
	return err
}

// AppendLeadActivity records a human-readable audit note on a lead.
func (r *PostgresRepository) AppendLeadActivity(ctx context.Context, activity *domain.LeadActivity) error {
	query := `
		INSERT INTO lead_activities (id, lead_id, operator_id, note, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`
	_, err := r.db.Exec(ctx, query, activity.ID, activity.LeadID, activity.OperatorID, activity.Note)
	return err
}
