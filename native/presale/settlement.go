package presale

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"daopresale/core/types"
)

// Reasons attached to presale.affiliate.rejected events.
const (
	AffiliateRejectSelfReferral = "self_referral"
)

// settlementPlan is the outcome of settling one admitted payment.
type settlementPlan struct {
	state   *SaleState
	account *ParticipantAccount
	receipt *PurchaseReceipt
	events  []*types.Event
}

// planSettlement converts the payment and routes the affiliate commission.
// The affiliate binding is first-write-wins: once bound, the stored affiliate
// is paid regardless of the referrer supplied. A self-referral is ignored
// without failing the purchase. account and state are the post-admission
// values; the plan carries updated copies.
func planSettlement(cfg *SaleConfig, state *SaleState, account *ParticipantAccount, sequence uint64, amount *uint256.Int, referrer *common.Address) (*settlementPlan, error) {
	tokens, err := TokensFor(amount, cfg.Price)
	if err != nil {
		return nil, err
	}
	plan := &settlementPlan{state: state.Clone(), account: account.Clone()}
	payer := account.Address

	var recipient *common.Address
	switch {
	case plan.account.AffiliateOf != nil:
		bound := *plan.account.AffiliateOf
		recipient = &bound
	case referrer == nil || *referrer == (common.Address{}):
	case *referrer == payer:
		plan.events = append(plan.events, AffiliateRejectedEvent(payer, *referrer, AffiliateRejectSelfReferral))
	default:
		bound := *referrer
		plan.account.AffiliateOf = &bound
		recipient = &bound
		plan.events = append(plan.events, AffiliateBoundEvent(payer, bound))
	}

	commission := new(uint256.Int)
	if recipient != nil {
		if commission, err = CommissionFor(amount, cfg.AffiliatePPM); err != nil {
			return nil, err
		}
	}
	beneficiary := new(uint256.Int).Sub(amount, commission)

	if plan.account.TokensPurchased, err = checkedAdd(plan.account.TokensPurchased, tokens); err != nil {
		return nil, err
	}
	if plan.state.TotalTokensSold, err = checkedAdd(plan.state.TotalTokensSold, tokens); err != nil {
		return nil, err
	}
	if plan.state.TotalCommission, err = checkedAdd(plan.state.TotalCommission, commission); err != nil {
		return nil, err
	}

	plan.receipt = &PurchaseReceipt{
		Sequence:            sequence,
		Payer:               payer,
		PaymentAmount:       cloneAmount(amount),
		TokensGranted:       tokens,
		AffiliateCommission: commission,
		AffiliateRecipient:  recipient,
		BeneficiaryAmount:   beneficiary,
	}
	return plan, nil
}

// Settle completes an admission produced by Admit: it grants tokens, binds or
// applies the affiliate and records the receipt. An admission settles at most
// once.
func (e *Engine) Settle(admitted *AdmittedPurchase, referrer *common.Address) (*PurchaseReceipt, error) {
	if e == nil {
		return nil, errNilState
	}
	if admitted == nil {
		return nil, ErrAdmissionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg, state, err := e.loadInitialized()
	if err != nil {
		return nil, err
	}
	admission, ok, err := e.state.PresaleAdmissionGet(admitted.Sequence)
	if err != nil {
		return nil, err
	}
	if !ok || admission == nil {
		return nil, fmt.Errorf("%w: sequence %d", ErrAdmissionNotFound, admitted.Sequence)
	}
	if admission.Settled {
		return nil, fmt.Errorf("%w: sequence %d", ErrAlreadySettled, admitted.Sequence)
	}
	if admission.Payer != admitted.Payer || admission.Amount == nil || admitted.Amount == nil || !admission.Amount.Eq(admitted.Amount) {
		return nil, fmt.Errorf("%w: sequence %d", ErrAdmissionMismatch, admitted.Sequence)
	}
	account, ok, err := e.state.PresaleParticipantGet(admission.Payer)
	if err != nil {
		return nil, err
	}
	if !ok || account == nil {
		return nil, fmt.Errorf("presale: participant %s missing for admission %d", admission.Payer.Hex(), admission.Sequence)
	}
	normaliseAccount(account)
	plan, err := planSettlement(cfg, state, account, admission.Sequence, admission.Amount, referrer)
	if err != nil {
		return nil, err
	}
	settled := admission.Clone()
	settled.Settled = true
	commit := &Commit{
		State:       plan.state,
		Participant: plan.account,
		Admission:   settled,
		Receipt:     plan.receipt,
	}
	if err := e.state.PresaleCommit(commit); err != nil {
		return nil, err
	}
	e.publishSettlement(plan)
	return plan.receipt.Clone(), nil
}

// Purchase admits and settles a payment in one atomic commit. It is the
// normal entry point; Admit and Settle exist for callers that confirm
// payment between the two stages.
func (e *Engine) Purchase(payer common.Address, amount *uint256.Int, referrer *common.Address) (*PurchaseReceipt, error) {
	if e == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	receipt, err := e.purchase(payer, amount, referrer, true)
	if err != nil {
		e.telemetry.ObserveRejection(rejectionReason(err))
		return nil, err
	}
	return receipt, nil
}

// Quote runs the purchase checks and conversion without committing anything.
func (e *Engine) Quote(payer common.Address, amount *uint256.Int, referrer *common.Address) (*PurchaseReceipt, error) {
	if e == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.purchase(payer, amount, referrer, false)
}

func (e *Engine) purchase(payer common.Address, amount *uint256.Int, referrer *common.Address, commit bool) (*PurchaseReceipt, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	cfg, state, err := e.loadInitialized()
	if err != nil {
		return nil, err
	}
	admission, err := e.planAdmission(cfg, state, payer, amount)
	if err != nil {
		return nil, err
	}
	plan, err := planSettlement(cfg, admission.state, admission.account, admission.admitted.Sequence, amount, referrer)
	if err != nil {
		return nil, err
	}
	if !commit {
		return plan.receipt.Clone(), nil
	}
	record := &Commit{
		State:          plan.state,
		Participant:    plan.account,
		NewParticipant: admission.isNew,
		Admission: &Admission{
			Sequence: admission.admitted.Sequence,
			Payer:    payer,
			Amount:   cloneAmount(amount),
			Settled:  true,
		},
		Receipt: plan.receipt,
	}
	if err := e.state.PresaleCommit(record); err != nil {
		return nil, err
	}
	e.emit(AdmittedEvent(admission.admitted))
	e.telemetry.ObserveStage("admitted")
	e.publishSettlement(plan)
	return plan.receipt.Clone(), nil
}

func (e *Engine) publishSettlement(plan *settlementPlan) {
	for _, evt := range plan.events {
		e.emit(evt)
		if evt.Type == EventTypeAffiliateBound {
			e.telemetry.ObserveAffiliate("bound")
		} else {
			e.telemetry.ObserveAffiliate("rejected")
		}
	}
	e.emit(PurchasedEvent(plan.receipt))
	e.telemetry.ObserveStage("settled")
	e.telemetry.ObserveState(toBig(plan.state.TotalRaised), toBig(plan.state.TotalTokensSold), plan.state.Participants)
	e.telemetry.SetCommission(toBig(plan.state.TotalCommission))
}

func normaliseAccount(account *ParticipantAccount) {
	if account.Contributed == nil {
		account.Contributed = new(uint256.Int)
	}
	if account.TokensPurchased == nil {
		account.TokensPurchased = new(uint256.Int)
	}
}
