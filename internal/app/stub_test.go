package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tunewave/finance-service/internal/domain"
	"github.com/tunewave/finance-service/internal/store"
)

// stubRepository is an in-memory store.Repository used across the engine
// tests. Unimplemented interface methods panic via the embedded nil.
type stubRepository struct {
	store.Repository
	mu sync.Mutex

	payments  map[uuid.UUID]*domain.Payment
	revenues  map[uuid.UUID]*domain.ArtistRevenue
	payouts   map[uuid.UUID]*domain.ArtistPayout
	claims    map[string]bool
	audits    []domain.AuditRecord
	released  int64
	settled   int64

	reserveErr error
	claimErr   error

	recentPayouts    int
	avgPayout        int64
	avgPayoutSamples int
	balance          int64
}

func newStubRepository() *stubRepository {
	return &stubRepository{
		payments: make(map[uuid.UUID]*domain.Payment),
		revenues: make(map[uuid.UUID]*domain.ArtistRevenue),
		payouts:  make(map[uuid.UUID]*domain.ArtistPayout),
		claims:   make(map[string]bool),
		balance:  1 << 50,
	}
}

func (s *stubRepository) CreatePayment(ctx context.Context, p *domain.Payment, audit *domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.payments[p.ID] = &cp
	if audit != nil {
		s.audits = append(s.audits, *audit)
	}
	return nil
}

func (s *stubRepository) FindPaymentByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *stubRepository) FindPaymentByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.Reference == reference {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrPaymentNotFound
}

func (s *stubRepository) TransitionPayment(ctx context.Context, id uuid.UUID, expected, next domain.PaymentStatus, patch store.PaymentStatusPatch, audit *domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return store.ErrPaymentNotFound
	}
	if p.Status != expected {
		return store.ErrStatusConflict
	}
	p.Status = next
	if patch.FailureReason != nil {
		p.FailureReason = patch.FailureReason
	}
	if patch.RefundedAmount != nil {
		p.RefundedAmount = patch.RefundedAmount
	}
	if patch.RefundReason != nil {
		p.RefundReason = patch.RefundReason
	}
	if patch.CompletedAt != nil {
		p.CompletedAt = patch.CompletedAt
	}
	if patch.FailedAt != nil {
		p.FailedAt = patch.FailedAt
	}
	if patch.RefundedAt != nil {
		p.RefundedAt = patch.RefundedAt
	}
	if len(patch.Metadata) > 0 {
		if p.Metadata == nil {
			p.Metadata = make(map[string]interface{})
		}
		for k, v := range patch.Metadata {
			p.Metadata[k] = v
		}
	}
	if audit != nil {
		s.audits = append(s.audits, *audit)
	}
	return nil
}

func (s *stubRepository) ClaimHookExecution(ctx context.Context, paymentReference, hook string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return false, s.claimErr
	}
	key := paymentReference + "|" + hook
	if s.claims[key] {
		return false, nil
	}
	s.claims[key] = true
	return true, nil
}

func (s *stubRepository) CreateArtistRevenue(ctx context.Context, rev *domain.ArtistRevenue, audit *domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rev
	s.revenues[rev.ID] = &cp
	if audit != nil {
		s.audits = append(s.audits, *audit)
	}
	return nil
}

func (s *stubRepository) FindArtistRevenueByID(ctx context.Context, id uuid.UUID) (*domain.ArtistRevenue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rev, ok := s.revenues[id]
	if !ok {
		return nil, store.ErrRevenueNotFound
	}
	cp := *rev
	return &cp, nil
}

func (s *stubRepository) AdvanceRevenueStatus(ctx context.Context, id uuid.UUID, expected, next domain.RevenueStatus, payoutID *uuid.UUID, audit *domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rev, ok := s.revenues[id]
	if !ok {
		return store.ErrRevenueNotFound
	}
	if rev.Status != expected {
		return store.ErrStatusConflict
	}
	rev.Status = next
	if payoutID != nil {
		rev.PayoutID = payoutID
	}
	if audit != nil {
		s.audits = append(s.audits, *audit)
	}
	return nil
}

func (s *stubRepository) TrailingAverageRevenueNet(ctx context.Context, artistID uuid.UUID, revenueType string, since time.Time, exclude uuid.UUID) (int64, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	var n int
	for _, rev := range s.revenues {
		if rev.ArtistID != artistID || rev.RevenueType != revenueType || rev.ID == exclude {
			continue
		}
		if rev.AccruedAt.Before(since) {
			continue
		}
		sum += rev.NetAmount
		n++
	}
	if n == 0 {
		return 0, 0, nil
	}
	return sum / int64(n), n, nil
}

// seedRevenue plants a historical processed revenue row for aggregate tests.
func (s *stubRepository) seedRevenue(artistID uuid.UUID, revenueType string, net int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.revenues[id] = &domain.ArtistRevenue{
		ID:          id,
		ArtistID:    artistID,
		RevenueType: revenueType,
		GrossAmount: net,
		NetAmount:   net,
		Currency:    "UGX",
		Status:      domain.RevenueStatusProcessed,
		AccruedAt:   time.Now().UTC(),
	}
}

func (s *stubRepository) CreateArtistPayoutReservingRevenue(ctx context.Context, p *domain.ArtistPayout, audit *domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserveErr != nil {
		return s.reserveErr
	}
	if p.Amount > s.balance {
		return domain.ErrInsufficientBalance
	}
	cp := *p
	s.payouts[p.ID] = &cp
	if audit != nil {
		s.audits = append(s.audits, *audit)
	}
	return nil
}

func (s *stubRepository) FindArtistPayoutByID(ctx context.Context, id uuid.UUID) (*domain.ArtistPayout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[id]
	if !ok || p.DeletedAt != nil {
		return nil, store.ErrPayoutNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *stubRepository) FindArtistPayoutByTransactionRef(ctx context.Context, ref string) (*domain.ArtistPayout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payouts {
		if p.TransactionRef == ref && p.DeletedAt == nil {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrPayoutNotFound
}

func (s *stubRepository) TransitionPayout(ctx context.Context, id uuid.UUID, expected, next domain.PayoutStatus, patch store.PayoutStatusPatch, audit *domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[id]
	if !ok {
		return store.ErrPayoutNotFound
	}
	if p.Status != expected {
		return store.ErrStatusConflict
	}
	p.Status = next
	if patch.ApprovedBy != nil {
		p.ApprovedBy = patch.ApprovedBy
	}
	if patch.FailureReason != nil {
		p.FailureReason = patch.FailureReason
	}
	if patch.ProviderTxID != nil {
		p.ProviderTxID = patch.ProviderTxID
	}
	if patch.ApprovedAt != nil {
		p.ApprovedAt = patch.ApprovedAt
	}
	if patch.ProcessingAt != nil {
		p.ProcessingAt = patch.ProcessingAt
	}
	if patch.CompletedAt != nil {
		p.CompletedAt = patch.CompletedAt
	}
	if patch.FailedAt != nil {
		p.FailedAt = patch.FailedAt
	}
	if len(patch.Metadata) > 0 {
		if p.Metadata == nil {
			p.Metadata = make(map[string]interface{})
		}
		for k, v := range patch.Metadata {
			p.Metadata[k] = v
		}
	}
	if audit != nil {
		s.audits = append(s.audits, *audit)
	}
	return nil
}

func (s *stubRepository) TransitionPayoutReleasingRevenue(ctx context.Context, id uuid.UUID, expected, next domain.PayoutStatus, patch store.PayoutStatusPatch, audit *domain.AuditRecord) (int64, error) {
	if err := s.TransitionPayout(ctx, id, expected, next, patch, audit); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
	for _, rev := range s.revenues {
		if rev.PayoutID != nil && *rev.PayoutID == id && rev.Status == domain.RevenueStatusProcessed {
			rev.PayoutID = nil
		}
	}
	return s.released, nil
}

func (s *stubRepository) SettleRevenueForPayout(ctx context.Context, payoutID uuid.UUID, audit *domain.AuditRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled++
	if audit != nil {
		s.audits = append(s.audits, *audit)
	}
	return s.settled, nil
}

func (s *stubRepository) CountPayoutRequestsSince(ctx context.Context, artistID uuid.UUID, since time.Time, exclude uuid.UUID) (int, error) {
	return s.recentPayouts, nil
}

func (s *stubRepository) AverageCompletedPayoutAmount(ctx context.Context, artistID uuid.UUID) (int64, int, error) {
	return s.avgPayout, s.avgPayoutSamples, nil
}

func (s *stubRepository) AvailablePayoutBalance(ctx context.Context, artistID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

func (s *stubRepository) SoftDeletePayout(ctx context.Context, id uuid.UUID, audit *domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[id]
	if !ok {
		return store.ErrPayoutNotFound
	}
	now := time.Now().UTC()
	p.DeletedAt = &now
	if audit != nil {
		s.audits = append(s.audits, *audit)
	}
	return nil
}

func (s *stubRepository) RestorePayout(ctx context.Context, id uuid.UUID, audit *domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[id]
	if !ok {
		return store.ErrPayoutNotFound
	}
	p.DeletedAt = nil
	if audit != nil {
		s.audits = append(s.audits, *audit)
	}
	return nil
}

func (s *stubRepository) InsertAuditRecord(ctx context.Context, rec domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, rec)
	return nil
}

func (s *stubRepository) ListAuditRecordsForTarget(ctx context.Context, targetType, targetID string, limit int) ([]domain.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditRecord
	for i := len(s.audits) - 1; i >= 0 && len(out) < limit; i-- {
		if s.audits[i].TargetType == targetType && s.audits[i].TargetID == targetID {
			out = append(out, s.audits[i])
		}
	}
	return out, nil
}

func (s *stubRepository) auditEvents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.audits))
	for _, a := range s.audits {
		out = append(out, a.Event)
	}
	return out
}

// recordingSink captures audit records instead of persisting them.
type recordingSink struct {
	mu      sync.Mutex
	records []domain.AuditRecord
}

func (s *recordingSink) Record(ctx context.Context, rec domain.AuditRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *recordingSink) eventsBySeverity(severity domain.AuditSeverity) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, rec := range s.records {
		if rec.Severity == severity {
			out = append(out, rec.Event)
		}
	}
	return out
}

func (s *recordingSink) hasEvent(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.Event == event {
			return true
		}
	}
	return false
}

func strPtr(v string) *string { return &v }

func int64Ptr(v int64) *int64 { return &v }
