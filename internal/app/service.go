/**
 * @description
 * This file contains the core business logic for the earnings-service. The
 * `Service` struct orchestrates commission processing: it authorizes the
 * operator, validates input, resolves the lead and its referring partner,
 * computes the commission breakdown, persists the earning, credits the
 * partner's wallet, and appends the audit trail.
 *
 * Key features:
 * - The whole operation runs as an explicit saga (see saga.go): the earning
 *   insert is compensated by a delete if the wallet credit fails, and the
 *   audit appends are best-effort.
 * - Wallet credits use an optimistic conditional update with bounded retries
 *   so concurrent credits to the same partner never lose an update.
 * - Publishes events to RabbitMQ for asynchronous processing by other services.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - github.com/shopspring/decimal: Monetary arithmetic.
 * - internal/commission, internal/domain, internal/store: Rate table, models, data access.
 * - pkg/rabbitmq: For event publication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sigortaplus/earnings-service/internal/commission"
	"github.com/sigortaplus/earnings-service/internal/domain"
	"github.com/sigortaplus/earnings-service/internal/store"
	"github.com/sigortaplus/earnings-service/pkg/rabbitmq"
)

var (
	ErrUnauthorized     = errors.New("operator could not be resolved")
	ErrForbidden        = errors.New("operator lacks central finance privilege")
	ErrInvalidInput     = errors.New("invalid input")
	ErrMissingReferral  = errors.New("lead has no affiliate code")
	ErrAlreadyProcessed = errors.New("an earning has already been processed for this lead")
	ErrPersistence      = errors.New("persistence failure")
	ErrRateLimited      = errors.New("too many earning requests")
)

const defaultCreditMaxRetries = 3

// Service provides the core business logic for earnings.
type Service struct {
	repo               store.Repository
	events             rabbitmq.Publisher
	limiter            RateLimiter
	rateLimitPerMinute int
	creditMaxRetries   int
}

// NewService creates a new earnings service instance.
func NewService(repo store.Repository, events rabbitmq.Publisher, rateLimitPerMinute, creditMaxRetries int) *Service {
	if creditMaxRetries <= 0 {
		creditMaxRetries = defaultCreditMaxRetries
	}
	return &Service{
		repo:               repo,
		events:             events,
		rateLimitPerMinute: rateLimitPerMinute,
		creditMaxRetries:   creditMaxRetries,
	}
}

// SetRateLimiter installs the distributed rate limiter; without one the
// process-earning endpoint runs unthrottled.
func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.limiter = limiter
}

// ProcessEarning runs the full earning saga for one lead and returns the
// commission breakdown plus the wallet before/after snapshot.
func (s *Service) ProcessEarning(ctx context.Context, operatorID uuid.UUID, req domain.ProcessEarningRequest) (*domain.ProcessEarningResult, error) {
	if err := s.consumeRateLimit(ctx, operatorID); err != nil {
		return nil, err
	}

	run := &earningSaga{svc: s, operatorID: operatorID, req: req}

	steps := []sagaStep{
		{name: "authorize", run: run.authorize},
		{name: "validate", run: run.validate},
		{name: "resolve_lead", run: run.resolveLead},
		{name: "resolve_partner", run: run.resolvePartner},
		{name: "check_idempotency", run: run.checkIdempotency},
		{name: "calculate", run: run.calculate},
		{name: "persist_earning", run: run.persistEarning, compensate: run.deleteEarning},
		{name: "credit_wallet", run: run.creditWallet},
		{name: "log_wallet_transaction", bestEffort: true, run: run.appendWalletTransaction},
		{name: "log_lead_activity", bestEffort: true, run: run.appendLeadActivity},
		{name: "publish_event", bestEffort: true, run: run.publishProcessed},
	}

	if err := runSaga(ctx, steps, run.reportGap); err != nil {
		return nil, err
	}

	log.Printf("level=info component=earnings msg=\"earning processed\" earning_id=%s lead_id=%s partner_id=%s credited=%s",
		run.earning.ID, run.earning.LeadID, run.partner.ID, run.breakdown.PartnerEarning.StringFixed(2))

	return &domain.ProcessEarningResult{
		Earning:         run.earning,
		PartnerName:     run.partner.Name,
		PreviousBalance: run.balanceBefore,
		NewBalance:      run.balanceAfter,
		Credited:        run.breakdown.PartnerEarning,
	}, nil
}

// GetEarning returns one earning together with the owning partner's current
// snapshot. The caller must hold the central finance privilege.
func (s *Service) GetEarning(ctx context.Context, operatorID, earningID uuid.UUID) (*domain.EarningDetail, error) {
	if _, err := s.authorizeOperator(ctx, operatorID); err != nil {
		return nil, err
	}
	earning, err := s.repo.FindEarningByID(ctx, earningID)
	if err != nil {
		return nil, err
	}
	partner, err := s.repo.FindPartnerByID(ctx, earning.PartnerID)
	if err != nil {
		return nil, err
	}
	return &domain.EarningDetail{Earning: earning, Partner: partner}, nil
}

// PartnerEarnings returns a partner's earnings and current wallet balance.
func (s *Service) PartnerEarnings(ctx context.Context, operatorID uuid.UUID, affiliateCode string) (*domain.PartnerEarningsSummary, error) {
	if _, err := s.authorizeOperator(ctx, operatorID); err != nil {
		return nil, err
	}
	partner, err := s.repo.FindPartnerByAffiliateCode(ctx, affiliateCode)
	if err != nil {
		return nil, err
	}
	earnings, err := s.repo.FindEarningsByPartnerID(ctx, partner.ID)
	if err != nil {
		return nil, err
	}
	return &domain.PartnerEarningsSummary{Partner: partner, Earnings: earnings}, nil
}

// authorizeOperator resolves the principal and enforces the central finance
// privilege. The decision comes from the stored operator record, not the token.
func (s *Service) authorizeOperator(ctx context.Context, operatorID uuid.UUID) (*domain.Operator, error) {
	operator, err := s.repo.FindOperatorByID(ctx, operatorID)
	if err != nil {
		if errors.Is(err, store.ErrOperatorNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("resolve operator: %w", err)
	}
	if !operator.Active || operator.Role != domain.RoleCentralFinance {
		return nil, ErrForbidden
	}
	return operator, nil
}

func (s *Service) consumeRateLimit(ctx context.Context, operatorID uuid.UUID) error {
	if s.limiter == nil || s.rateLimitPerMinute <= 0 {
		return nil
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, "process_earning", operatorID.String(), s.rateLimitPerMinute, time.Minute)
	if err != nil {
		// Fail open: a limiter outage must not block commission processing.
		log.Printf("level=warn component=earnings msg=\"rate limiter unavailable; allowing request\" operator_id=%s err=%v", operatorID, err)
		return nil
	}
	if count > s.rateLimitPerMinute {
		return fmt.Errorf("%w: retry in %ds", ErrRateLimited, retryAfter)
	}
	return nil
}

// earningSaga carries the state threaded through one ProcessEarning run.
type earningSaga struct {
	svc        *Service
	operatorID uuid.UUID
	req        domain.ProcessEarningRequest

	operator    *domain.Operator
	leadID      uuid.UUID
	productType domain.ProductType
	premium     decimal.Decimal

	lead      *domain.Lead
	partner   *domain.Partner
	breakdown commission.Breakdown
	earning   *domain.Earning

	balanceBefore decimal.Decimal
	balanceAfter  decimal.Decimal
}

func (r *earningSaga) authorize(ctx context.Context) error {
	operator, err := r.svc.authorizeOperator(ctx, r.operatorID)
	if err != nil {
		return err
	}
	r.operator = operator
	return nil
}

func (r *earningSaga) validate(ctx context.Context) error {
	leadIDStr := strings.TrimSpace(r.req.LeadID)
	if leadIDStr == "" {
		return fmt.Errorf("%w: lead_id is required", ErrInvalidInput)
	}
	leadID, err := uuid.Parse(leadIDStr)
	if err != nil {
		return fmt.Errorf("%w: lead_id must be a valid uuid", ErrInvalidInput)
	}

	productType := strings.TrimSpace(r.req.ProductType)
	if productType == "" {
		return fmt.Errorf("%w: product_type is required", ErrInvalidInput)
	}
	if !commission.IsValidProductType(productType) {
		return fmt.Errorf("%w: product_type %q is not a known product", ErrInvalidInput, productType)
	}

	premiumStr := strings.TrimSpace(r.req.TotalPremium.String())
	if premiumStr == "" {
		return fmt.Errorf("%w: total_premium is required", ErrInvalidInput)
	}
	premium, err := decimal.NewFromString(premiumStr)
	if err != nil {
		return fmt.Errorf("%w: total_premium must be a number", ErrInvalidInput)
	}
	if !premium.IsPositive() {
		return fmt.Errorf("%w: total_premium must be greater than zero", ErrInvalidInput)
	}
	if !premium.Equal(premium.Round(2)) {
		return fmt.Errorf("%w: total_premium must have at most 2 decimal places", ErrInvalidInput)
	}

	r.leadID = leadID
	r.productType = domain.ProductType(productType)
	r.premium = premium
	return nil
}

func (r *earningSaga) resolveLead(ctx context.Context) error {
	lead, err := r.svc.repo.FindLeadByID(ctx, r.leadID)
	if err != nil {
		return err
	}
	if lead.AffiliateCode == nil || strings.TrimSpace(*lead.AffiliateCode) == "" {
		return ErrMissingReferral
	}
	r.lead = lead
	return nil
}

func (r *earningSaga) resolvePartner(ctx context.Context) error {
	partner, err := r.svc.repo.FindPartnerByAffiliateCode(ctx, *r.lead.AffiliateCode)
	if err != nil {
		return err
	}
	r.partner = partner
	return nil
}

func (r *earningSaga) checkIdempotency(ctx context.Context) error {
	_, err := r.svc.repo.FindActiveEarningByLeadID(ctx, r.leadID)
	if err == nil {
		return ErrAlreadyProcessed
	}
	if errors.Is(err, store.ErrEarningNotFound) {
		return nil
	}
	return fmt.Errorf("check existing earning: %w", err)
}

func (r *earningSaga) calculate(ctx context.Context) error {
	breakdown, err := commission.Calculate(r.productType, r.premium)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	r.breakdown = breakdown
	return nil
}

func (r *earningSaga) persistEarning(ctx context.Context) error {
	earning := &domain.Earning{
		ID:             uuid.New(),
		LeadID:         r.lead.ID,
		PartnerID:      r.partner.ID,
		AffiliateCode:  r.partner.AffiliateCode,
		ProductType:    r.breakdown.ProductType,
		TotalPremium:   r.breakdown.TotalPremium,
		CommissionRate: r.breakdown.CommissionRate,
		BaseCommission: r.breakdown.BaseCommission,
		CompanyShare:   r.breakdown.CompanyShare,
		PartnerShare:   r.breakdown.PartnerShare,
		PartnerEarning: r.breakdown.PartnerEarning,
		ProcessedBy:    r.operator.ID,
		Status:         domain.EarningStatusActive,
		CreatedAt:      time.Now().UTC(),
	}
	if err := r.svc.repo.CreateEarning(ctx, earning); err != nil {
		// The read-based idempotency check can lose a race; the unique index
		// is the authority and its rejection is still a conflict, not a 500.
		if errors.Is(err, store.ErrDuplicateEarning) {
			return ErrAlreadyProcessed
		}
		return fmt.Errorf("%w: create earning: %v", ErrPersistence, err)
	}
	r.earning = earning
	return nil
}

func (r *earningSaga) deleteEarning(ctx context.Context) error {
	if r.earning == nil {
		return nil
	}
	return r.svc.repo.DeleteEarning(ctx, r.earning.ID)
}

func (r *earningSaga) creditWallet(ctx context.Context) error {
	credited := r.breakdown.PartnerEarning
	var lastErr error

	for attempt := 0; attempt <= r.svc.creditMaxRetries; attempt++ {
		balance, err := r.svc.repo.GetWalletBalance(ctx, r.partner.ID)
		if err != nil {
			lastErr = err
			break
		}
		newBalance := balance.Add(credited)

		err = r.svc.repo.CreditWalletConditional(ctx, r.partner.ID, balance, newBalance)
		if err == nil {
			r.balanceBefore = balance
			r.balanceAfter = newBalance
			return nil
		}
		lastErr = err
		if !errors.Is(err, store.ErrBalanceConflict) {
			break
		}
		// Another credit landed between our read and write; re-read and retry.
	}

	return fmt.Errorf("%w: credit wallet: %v", ErrPersistence, lastErr)
}

func (r *earningSaga) appendWalletTransaction(ctx context.Context) error {
	return r.svc.repo.CreateWalletTransaction(ctx, &domain.WalletTransaction{
		ID:            uuid.New(),
		PartnerID:     r.partner.ID,
		EarningID:     r.earning.ID,
		Amount:        r.breakdown.PartnerEarning,
		BalanceBefore: r.balanceBefore,
		BalanceAfter:  r.balanceAfter,
		Description:   fmt.Sprintf("Commission for %s lead %s", r.breakdown.ProductType, r.lead.ID),
		CreatedAt:     time.Now().UTC(),
	})
}

func (r *earningSaga) appendLeadActivity(ctx context.Context) error {
	note := fmt.Sprintf("commission computed: %s TL, product %s, partner %s",
		r.breakdown.PartnerEarning.StringFixed(2), r.breakdown.ProductType, r.partner.Name)
	return r.svc.repo.AppendLeadActivity(ctx, &domain.LeadActivity{
		ID:         uuid.New(),
		LeadID:     r.lead.ID,
		OperatorID: r.operator.ID,
		Note:       note,
		CreatedAt:  time.Now().UTC(),
	})
}

func (r *earningSaga) publishProcessed(ctx context.Context) error {
	if r.svc.events == nil {
		return nil
	}
	return r.svc.events.Publish(ctx, rabbitmq.EarningsExchange, rabbitmq.RoutingKeyEarningProcessed, rabbitmq.EarningProcessedEvent{
		EarningID:      r.earning.ID,
		LeadID:         r.lead.ID,
		PartnerID:      r.partner.ID,
		ProductType:    string(r.breakdown.ProductType),
		PartnerEarning: r.breakdown.PartnerEarning.StringFixed(2),
		NewBalance:     r.balanceAfter.StringFixed(2),
		ProcessedBy:    r.operator.ID,
		Timestamp:      time.Now().UTC(),
	})
}

// reportGap surfaces a best-effort step failure to the observability channel.
// The operation still reports success to the caller.
func (r *earningSaga) reportGap(step string, err error) {
	earningID := uuid.Nil
	partnerID := uuid.Nil
	if r.earning != nil {
		earningID = r.earning.ID
	}
	if r.partner != nil {
		partnerID = r.partner.ID
	}

	log.Printf("level=warn component=earnings msg=\"audit step failed after wallet credit\" step=%s earning_id=%s partner_id=%s err=%v",
		step, earningID, partnerID, err)

	if r.svc.events == nil {
		return
	}
	publishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if pubErr := r.svc.events.Publish(publishCtx, rabbitmq.EarningsExchange, rabbitmq.RoutingKeyAuditGap, rabbitmq.AuditGapEvent{
		EarningID: earningID,
		PartnerID: partnerID,
		Step:      step,
		Reason:    err.Error(),
		Timestamp: time.Now().UTC(),
	}); pubErr != nil {
		log.Printf("level=error component=earnings msg=\"audit gap event publish failed\" step=%s earning_id=%s err=%v", step, earningID, pubErr)
	}
}
