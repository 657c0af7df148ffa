package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sigortaplus/earnings-service/internal/domain"
	"github.com/sigortaplus/earnings-service/internal/store"
	"github.com/sigortaplus/earnings-service/pkg/rabbitmq"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type processRepoStub struct {
	store.Repository

	operator      *domain.Operator
	lead          *domain.Lead
	partner       *domain.Partner
	activeEarning *domain.Earning

	balance          decimal.Decimal
	conflictsToServe int
	concurrentCredit decimal.Decimal

	failCreateEarning bool
	duplicateOnCreate bool
	failCredit        bool
	failWalletTx      bool
	failLeadActivity  bool
	failDeleteEarning bool

	createdEarning   *domain.Earning
	deletedEarningID *uuid.UUID
	walletTx         *domain.WalletTransaction
	leadActivity     *domain.LeadActivity
	creditCalls      int
}

func (s *processRepoStub) FindOperatorByID(ctx context.Context, operatorID uuid.UUID) (*domain.Operator, error) {
	if s.operator == nil || s.operator.ID != operatorID {
		return nil, store.ErrOperatorNotFound
	}
	return s.operator, nil
}

func (s *processRepoStub) FindLeadByID(ctx context.Context, leadID uuid.UUID) (*domain.Lead, error) {
	if s.lead == nil || s.lead.ID != leadID {
		return nil, store.ErrLeadNotFound
	}
	return s.lead, nil
}

func (s *processRepoStub) FindPartnerByAffiliateCode(ctx context.Context, affiliateCode string) (*domain.Partner, error) {
	if s.partner == nil || s.partner.AffiliateCode != affiliateCode {
		return nil, store.ErrPartnerNotFound
	}
	return s.partner, nil
}

func (s *processRepoStub) FindActiveEarningByLeadID(ctx context.Context, leadID uuid.UUID) (*domain.Earning, error) {
	if s.activeEarning != nil && s.activeEarning.LeadID == leadID {
		return s.activeEarning, nil
	}
	return nil, store.ErrEarningNotFound
}

func (s *processRepoStub) CreateEarning(ctx context.Context, earning *domain.Earning) error {
	if s.duplicateOnCreate {
		return store.ErrDuplicateEarning
	}
	if s.failCreateEarning {
		return errors.New("insert rejected")
	}
	s.createdEarning = earning
	return nil
}

func (s *processRepoStub) DeleteEarning(ctx context.Context, earningID uuid.UUID) error {
	if s.failDeleteEarning {
		return errors.New("delete rejected")
	}
	s.deletedEarningID = &earningID
	if s.createdEarning != nil && s.createdEarning.ID == earningID {
		s.createdEarning = nil
	}
	return nil
}

func (s *processRepoStub) GetWalletBalance(ctx context.Context, partnerID uuid.UUID) (decimal.Decimal, error) {
	return s.balance, nil
}

func (s *processRepoStub) CreditWalletConditional(ctx context.Context, partnerID uuid.UUID, expectedBalance, newBalance decimal.Decimal) error {
	s.creditCalls++
	if s.failCredit {
		return errors.New("credit rejected")
	}
	if s.conflictsToServe > 0 {
		s.conflictsToServe--
		s.balance = s.balance.Add(s.concurrentCredit)
		return store.ErrBalanceConflict
	}
	if !s.balance.Equal(expectedBalance) {
		return store.ErrBalanceConflict
	}
	s.balance = newBalance
	return nil
}

func (s *processRepoStub) CreateWalletTransaction(ctx context.Context, tx *domain.WalletTransaction) error {
	if s.failWalletTx {
		return errors.New("wallet transaction insert rejected")
	}
	s.walletTx = tx
	return nil
}

func (s *processRepoStub) AppendLeadActivity(ctx context.Context, activity *domain.LeadActivity) error {
	if s.failLeadActivity {
		return errors.New("lead activity insert rejected")
	}
	s.leadActivity = activity
	return nil
}

type publisherStub struct {
	published []publishedEvent
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.published = append(p.published, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *publisherStub) Close() {}

func (p *publisherStub) byRoutingKey(key string) []publishedEvent {
	var out []publishedEvent
	for _, e := range p.published {
		if e.routingKey == key {
			out = append(out, e)
		}
	}
	return out
}

func newProcessFixture() (*processRepoStub, *publisherStub, *Service, uuid.UUID, domain.ProcessEarningRequest) {
	operatorID := uuid.New()
	leadID := uuid.New()
	code := "PTR-2024"

	repo := &processRepoStub{
		operator: &domain.Operator{ID: operatorID, FullName: "Ayse Demir", Role: domain.RoleCentralFinance, Active: true},
		lead:     &domain.Lead{ID: leadID, CustomerName: "Mehmet K.", ProductType: domain.ProductKasko, AffiliateCode: &code, Status: "quoted"},
		partner:  &domain.Partner{ID: uuid.New(), Name: "Anadolu Acente", AffiliateCode: code, Active: true},
		balance:  dec("200.00"),
	}
	events := &publisherStub{}
	svc := NewService(repo, events, 0, 3)

	req := domain.ProcessEarningRequest{
		LeadID:       leadID.String(),
		ProductType:  "kasko",
		TotalPremium: json.Number("1000"),
	}
	return repo, events, svc, operatorID, req
}

func TestProcessEarning_KaskoScenario(t *testing.T) {
	repo, events, svc, operatorID, req := newProcessFixture()

	result, err := svc.ProcessEarning(context.Background(), operatorID, req)
	if err != nil {
		t.Fatalf("ProcessEarning returned error: %v", err)
	}

	if !result.Credited.Equal(dec("52.50")) {
		t.Fatalf("expected credited 52.50, got %s", result.Credited)
	}
	if !result.PreviousBalance.Equal(dec("200.00")) || !result.NewBalance.Equal(dec("252.50")) {
		t.Fatalf("expected wallet 200.00 -> 252.50, got %s -> %s", result.PreviousBalance, result.NewBalance)
	}
	if result.PartnerName != "Anadolu Acente" {
		t.Fatalf("expected partner name in result, got %q", result.PartnerName)
	}

	earning := repo.createdEarning
	if earning == nil {
		t.Fatal("expected earning to be persisted")
	}
	if earning.Status != domain.EarningStatusActive {
		t.Fatalf("expected active earning, got status %q", earning.Status)
	}
	if !earning.BaseCommission.Equal(dec("150.00")) ||
		!earning.CompanyShare.Equal(dec("45.00")) ||
		!earning.PartnerShare.Equal(dec("105.00")) ||
		!earning.PartnerEarning.Equal(dec("52.50")) {
		t.Fatalf("unexpected breakdown: base=%s company=%s partner=%s earning=%s",
			earning.BaseCommission, earning.CompanyShare, earning.PartnerShare, earning.PartnerEarning)
	}
	if earning.ProcessedBy != operatorID {
		t.Fatalf("expected earning to record the triggering operator")
	}

	if repo.walletTx == nil {
		t.Fatal("expected wallet transaction to be appended")
	}
	if !repo.walletTx.BalanceBefore.Add(repo.walletTx.Amount).Equal(repo.walletTx.BalanceAfter) {
		t.Fatalf("wallet transaction does not balance: %s + %s != %s",
			repo.walletTx.BalanceBefore, repo.walletTx.Amount, repo.walletTx.BalanceAfter)
	}
	if repo.leadActivity == nil {
		t.Fatal("expected lead activity note to be appended")
	}

	if got := events.byRoutingKey(rabbitmq.RoutingKeyEarningProcessed); len(got) != 1 {
		t.Fatalf("expected exactly one earning.processed event, got %d", len(got))
	}
}

func TestProcessEarning_Unauthorized(t *testing.T) {
	_, _, svc, _, req := newProcessFixture()

	_, err := svc.ProcessEarning(context.Background(), uuid.New(), req)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestProcessEarning_ForbiddenWithoutCentralFinanceRole(t *testing.T) {
	repo, _, svc, operatorID, req := newProcessFixture()
	repo.operator.Role = domain.RoleAgent

	_, err := svc.ProcessEarning(context.Background(), operatorID, req)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for agent role, got %v", err)
	}
}

func TestProcessEarning_ForbiddenWhenOperatorInactive(t *testing.T) {
	repo, _, svc, operatorID, req := newProcessFixture()
	repo.operator.Active = false

	_, err := svc.ProcessEarning(context.Background(), operatorID, req)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for inactive operator, got %v", err)
	}
}

func TestProcessEarning_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(req *domain.ProcessEarningRequest)
	}{
		{name: "missing lead id", mutate: func(r *domain.ProcessEarningRequest) { r.LeadID = "" }},
		{name: "malformed lead id", mutate: func(r *domain.ProcessEarningRequest) { r.LeadID = "not-a-uuid" }},
		{name: "missing product type", mutate: func(r *domain.ProcessEarningRequest) { r.ProductType = "" }},
		{name: "unknown product type", mutate: func(r *domain.ProcessEarningRequest) { r.ProductType = "hayat" }},
		{name: "missing premium", mutate: func(r *domain.ProcessEarningRequest) { r.TotalPremium = "" }},
		{name: "malformed premium", mutate: func(r *domain.ProcessEarningRequest) { r.TotalPremium = "abc" }},
		{name: "zero premium", mutate: func(r *domain.ProcessEarningRequest) { r.TotalPremium = "0" }},
		{name: "negative premium", mutate: func(r *domain.ProcessEarningRequest) { r.TotalPremium = "-5" }},
		{name: "sub-cent premium", mutate: func(r *domain.ProcessEarningRequest) { r.TotalPremium = "100.005" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, _, svc, operatorID, req := newProcessFixture()
			tt.mutate(&req)

			_, err := svc.ProcessEarning(context.Background(), operatorID, req)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if repo.createdEarning != nil {
				t.Fatal("no earning should be created on invalid input")
			}
			if repo.creditCalls != 0 {
				t.Fatal("wallet must not be touched on invalid input")
			}
		})
	}
}

func TestProcessEarning_LeadNotFound(t *testing.T) {
	_, _, svc, operatorID, req := newProcessFixture()
	req.LeadID = uuid.New().String()

	_, err := svc.ProcessEarning(context.Background(), operatorID, req)
	if !errors.Is(err, store.ErrLeadNotFound) {
		t.Fatalf("expected ErrLeadNotFound, got %v", err)
	}
}

func TestProcessEarning_MissingReferral(t *testing.T) {
	repo, _, svc, operatorID, req := newProcessFixture()
	repo.lead.AffiliateCode = nil

	_, err := svc.ProcessEarning(context.Background(), operatorID, req)
	if !errors.Is(err, ErrMissingReferral) {
		t.Fatalf("expected ErrMissingReferral, got %v", err)
	}
}

func TestProcessEarning_PartnerNotFound(t *testing.T) {
	repo, _, svc, operatorID, req := newProcessFixture()
	orphan := "NO-SUCH-PARTNER"
	repo.lead.AffiliateCode = &orphan

	_, err := svc.ProcessEarning(context.Background(), operatorID, req)
	if !errors.Is(err, store.ErrPartnerNotFound) {
		t.Fatalf("expected ErrPartnerNotFound, got %v", err)
	}
}

func TestProcessEarning_ConflictWhenActiveEarningExists(t *testing.T) {
	repo, _, svc, operatorID, req := newProcessFixture()
	repo.activeEarning = &domain.Earning{
		ID:     uuid.New(),
		LeadID: repo.lead.ID,
		Status: domain.EarningStatusActive,
	}

	_, err := svc.ProcessEarning(context.Background(), operatorID, req)
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
	if repo.createdEarning != nil {
		t.Fatal("no second earning should be created")
	}
	if repo.creditCalls != 0 || !repo.balance.Equal(dec("200.00")) {
		t.Fatalf("wallet must be untouched on conflict; calls=%d balance=%s", repo.creditCalls, repo.balance)
	}
}

func TestProcessEarning_ConflictWhenInsertLosesRace(t *testing.T) {
	// The read check passed but the partial unique index rejected the insert:
	// same outcome as the read-based check, a conflict rather than a 500.
	repo, _, svc, operatorID, req := newProcessFixture()
	repo.duplicateOnCreate = true

	_, err := svc.ProcessEarning(context.Background(), operatorID, req)
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed on duplicate insert, got %v", err)
	}
	if repo.creditCalls != 0 {
		t.Fatal("wallet must not be credited after a duplicate insert")
	}
}

func TestProcessEarning_EarningInsertFailureIsTerminal(t *testing.T) {
	repo, _, svc, operatorID, req := newProcessFixture()
	repo.failCreateEarning = true

	_, err := svc.ProcessEarning(context.Background(), operatorID, req)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if repo.creditCalls != 0 {
		t.Fatal("nothing further may be attempted after a failed earning insert")
	}
}

func TestProcessEarning_CompensatesEarningOnWalletFailure(t *testing.T) {
	repo, _, svc, operatorID, req := newProcessFixture()
	repo.failCredit = true

	_, err := svc.ProcessEarning(context.Background(), operatorID, req)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if repo.deletedEarningID == nil {
		t.Fatal("expected the just-created earning to be compensated away")
	}
	if repo.createdEarning != nil {
		t.Fatal("earning record must not exist after compensation")
	}
	if !repo.balance.Equal(dec("200.00")) {
		t.Fatalf("wallet balance must be unchanged, got %s", repo.balance)
	}
	if repo.walletTx != nil {
		t.Fatal("no wallet transaction may be written on a failed credit")
	}
}

func TestProcessEarning_FailedCompensationLeavesEarningForReconciliation(t *testing.T) {
	// Worst case: the credit fails and the compensating delete is also
	// rejected. The caller still sees a persistence failure; the orphaned
	// earning stays in the store for manual reconciliation.
	repo, _, svc, operatorID, req := newProcessFixture()
	repo.failCredit = true
	repo.failDeleteEarning = true

	_, err := svc.ProcessEarning(context.Background(), operatorID, req)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if repo.deletedEarningID != nil {
		t.Fatal("delete was rejected; nothing may be recorded as deleted")
	}
	if repo.createdEarning == nil {
		t.Fatal("the orphaned earning must remain in place for reconciliation")
	}
	if !repo.balance.Equal(dec("200.00")) {
		t.Fatalf("wallet balance must be unchanged, got %s", repo.balance)
	}
	if repo.walletTx != nil {
		t.Fatal("no wallet transaction may be written on a failed credit")
	}
}

func TestProcessEarning_CreditRetryExhaustionCompensates(t *testing.T) {
	// Every attempt hits a balance conflict. After the configured retries
	// the credit gives up, the earning is compensated away, and the caller
	// sees a persistence failure.
	repo, _, svc, operatorID, req := newProcessFixture()
	repo.conflictsToServe = 10
	repo.concurrentCredit = dec("1.00")

	_, err := svc.ProcessEarning(context.Background(), operatorID, req)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence after retry exhaustion, got %v", err)
	}
	if repo.creditCalls != 4 {
		t.Fatalf("expected 4 credit attempts with creditMaxRetries=3, got %d", repo.creditCalls)
	}
	if repo.deletedEarningID == nil {
		t.Fatal("expected the earning to be compensated away after retry exhaustion")
	}
	if repo.createdEarning != nil {
		t.Fatal("earning record must not exist after compensation")
	}
	if repo.walletTx != nil {
		t.Fatal("no wallet transaction may be written on a failed credit")
	}
}

func TestProcessEarning_RetriesOnBalanceConflict(t *testing.T) {
	repo, _, svc, operatorID, req := newProcessFixture()
	// A concurrent credit of 10.00 lands between our read and write once.
	repo.conflictsToServe = 1
	repo.concurrentCredit = dec("10.00")

	result, err := svc.ProcessEarning(context.Background(), operatorID, req)
	if err != nil {
		t.Fatalf("ProcessEarning returned error: %v", err)
	}
	if repo.creditCalls != 2 {
		t.Fatalf("expected one retry after the balance conflict, got %d credit calls", repo.creditCalls)
	}
	if !result.PreviousBalance.Equal(dec("210.00")) || !result.NewBalance.Equal(dec("262.50")) {
		t.Fatalf("expected wallet 210.00 -> 262.50 after retry, got %s -> %s", result.PreviousBalance, result.NewBalance)
	}
}

func TestProcessEarning_AuditFailuresAreNonFatal(t *testing.T) {
	repo, events, svc, operatorID, req := newProcessFixture()
	repo.failWalletTx = true
	repo.failLeadActivity = true

	result, err := svc.ProcessEarning(context.Background(), operatorID, req)
	if err != nil {
		t.Fatalf("audit failures must not fail the operation, got %v", err)
	}
	if !result.Credited.Equal(dec("52.50")) || !result.NewBalance.Equal(dec("252.50")) {
		t.Fatalf("success payload must stay intact, got credited=%s new=%s", result.Credited, result.NewBalance)
	}
	if !repo.balance.Equal(dec("252.50")) {
		t.Fatalf("wallet must stay credited, got %s", repo.balance)
	}

	gaps := events.byRoutingKey(rabbitmq.RoutingKeyAuditGap)
	if len(gaps) != 2 {
		t.Fatalf("expected audit gap events for both failed steps, got %d", len(gaps))
	}
}

type blockingLimiterStub struct {
	count int
}

func (l *blockingLimiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return l.count, 30, nil
}

func TestProcessEarning_RateLimited(t *testing.T) {
	repo, _, _, operatorID, req := newProcessFixture()
	svc := NewService(repo, nil, 10, 3)
	svc.SetRateLimiter(&blockingLimiterStub{count: 11})

	_, err := svc.ProcessEarning(context.Background(), operatorID, req)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if repo.createdEarning != nil || repo.creditCalls != 0 {
		t.Fatal("a throttled request must have no side effects")
	}
}
