/**
 * @description
 * This file contains the disbursement submitter: the bridge between an
 * approved payout and the external payment provider. Submitting hands the
 * payout's net amount and destination to the provider and moves the payout to
 * processing; the terminal status arrives later as an asynchronous provider
 * event.
 *
 * @dependencies
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/providerclient: The provider's disbursement API client.
 */

package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tunewave/finance-service/internal/domain"
	"github.com/tunewave/finance-service/internal/store"
	"github.com/tunewave/finance-service/pkg/providerclient"
)

// DisbursementClient is the subset of the provider client the submitter uses.
type DisbursementClient interface {
	SubmitDisbursement(ctx context.Context, payload providerclient.DisbursementRequest) (*providerclient.DisbursementResponse, error)
}

// DisbursementSubmitter submits approved payouts to the provider.
type DisbursementSubmitter struct {
	client   DisbursementClient
	governor *PayoutGovernor
	repo     store.Repository
}

// NewDisbursementSubmitter creates the submitter; client may be nil when the
// provider integration is not configured.
func NewDisbursementSubmitter(client DisbursementClient, governor *PayoutGovernor, repo store.Repository) *DisbursementSubmitter {
	return &DisbursementSubmitter{client: client, governor: governor, repo: repo}
}

// Enabled reports whether a provider client is configured.
func (d *DisbursementSubmitter) Enabled() bool {
	return d.client != nil
}

// Submit hands an approved payout to the provider and marks it processing.
// The payout's net amount is what leaves the platform; the fee stays behind.
func (d *DisbursementSubmitter) Submit(ctx context.Context, actor domain.ActorContext, payoutID uuid.UUID) (*domain.ArtistPayout, error) {
	if d.client == nil {
		return nil, fmt.Errorf("provider disbursement is not configured")
	}

	payout, err := d.repo.FindArtistPayoutByID(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.Status != domain.PayoutStatusApproved {
		return nil, &domain.TransitionError{Entity: "artist_payout", From: string(payout.Status), To: string(domain.PayoutStatusProcessing)}
	}

	req := providerclient.DisbursementRequest{
		Reference: payout.TransactionRef,
		Amount:    payout.NetAmount,
		Currency:  payout.Currency,
		Channel:   string(payout.Method),
		Narration: fmt.Sprintf("Artist payout %s", payout.TransactionRef),
	}
	if payout.Destination.PhoneNumber != nil {
		req.PhoneNumber = *payout.Destination.PhoneNumber
	}
	if payout.Destination.BankName != nil {
		req.BankName = *payout.Destination.BankName
	}
	if payout.Destination.AccountName != nil {
		req.AccountName = *payout.Destination.AccountName
	}
	if payout.Destination.AccountNumber != nil {
		req.AccountNumber = *payout.Destination.AccountNumber
	}

	if _, err := d.client.SubmitDisbursement(ctx, req); err != nil {
		return nil, fmt.Errorf("provider submission failed: %w", err)
	}

	return d.governor.MarkProcessing(ctx, actor, payoutID)
}
