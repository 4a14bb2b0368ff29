package presale

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// admissionPlan is the ledger transition computed for one payment before it
// is committed.
type admissionPlan struct {
	state    *SaleState
	account  *ParticipantAccount
	isNew    bool
	admitted *AdmittedPurchase
}

// planAdmission enforces the allocation bounds against cfg and state and
// returns the next ledger values. It performs no writes. The checks run in a
// fixed order: minimum on a first purchase, cumulative maximum, then the sale
// cap.
func (e *Engine) planAdmission(cfg *SaleConfig, state *SaleState, payer common.Address, amount *uint256.Int) (*admissionPlan, error) {
	if payer == (common.Address{}) {
		return nil, ErrInvalidAddress
	}
	if !isPositive(amount) {
		return nil, ErrInvalidAmount
	}
	if state.Admin != (common.Address{}) && payer == state.Admin {
		return nil, ErrAdminCannotPurchase
	}
	account, exists, err := e.state.PresaleParticipantGet(payer)
	if err != nil {
		return nil, err
	}
	if !exists || account == nil {
		account = &ParticipantAccount{Address: payer, Contributed: new(uint256.Int), TokensPurchased: new(uint256.Int)}
		exists = false
	} else {
		account = account.Clone()
		if account.Contributed == nil {
			account.Contributed = new(uint256.Int)
		}
		if account.TokensPurchased == nil {
			account.TokensPurchased = new(uint256.Int)
		}
	}

	if !exists && amount.Lt(cfg.MinAllocation) {
		return nil, fmt.Errorf("%w: %s < %s", ErrBelowMinimum, amount.Dec(), cfg.MinAllocation.Dec())
	}
	contributed, err := checkedAdd(account.Contributed, amount)
	if err != nil {
		return nil, err
	}
	if contributed.Gt(cfg.MaxAllocation) {
		return nil, fmt.Errorf("%w: %s > %s", ErrAboveMaximum, contributed.Dec(), cfg.MaxAllocation.Dec())
	}
	raised, err := checkedAdd(state.TotalRaised, amount)
	if err != nil {
		return nil, err
	}
	if raised.Gt(cfg.PurchaseCap) {
		return nil, fmt.Errorf("%w: %s > %s", ErrCapExceeded, raised.Dec(), cfg.PurchaseCap.Dec())
	}
	tokens, err := TokensFor(amount, cfg.Price)
	if err != nil {
		return nil, err
	}
	if tokens.IsZero() {
		return nil, ErrDustPurchase
	}

	next := state.Clone()
	next.TotalRaised = raised
	next.Purchases++
	if !exists {
		next.Participants++
	}
	account.Contributed = contributed
	account.Purchases++

	return &admissionPlan{
		state:   next,
		account: account,
		isNew:   !exists,
		admitted: &AdmittedPurchase{
			Sequence:      next.Purchases,
			Payer:         payer,
			Amount:        cloneAmount(amount),
			FirstPurchase: !exists,
			Contributed:   cloneAmount(contributed),
			TotalRaised:   cloneAmount(raised),
		},
	}, nil
}

// Admit validates a payment against the allocation bounds and commits the
// ledger update together with an unsettled admission record. Either every
// ledger field changes or none does. The returned AdmittedPurchase must be
// passed to Settle to grant tokens and route the affiliate commission.
func (e *Engine) Admit(payer common.Address, amount *uint256.Int) (*AdmittedPurchase, error) {
	if e == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	admitted, err := e.admit(payer, amount)
	if err != nil {
		e.telemetry.ObserveRejection(rejectionReason(err))
		return nil, err
	}
	return admitted, nil
}

func (e *Engine) admit(payer common.Address, amount *uint256.Int) (*AdmittedPurchase, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	cfg, state, err := e.loadInitialized()
	if err != nil {
		return nil, err
	}
	plan, err := e.planAdmission(cfg, state, payer, amount)
	if err != nil {
		return nil, err
	}
	commit := &Commit{
		State:          plan.state,
		Participant:    plan.account,
		NewParticipant: plan.isNew,
		Admission: &Admission{
			Sequence: plan.admitted.Sequence,
			Payer:    payer,
			Amount:   cloneAmount(amount),
		},
	}
	if err := e.state.PresaleCommit(commit); err != nil {
		return nil, err
	}
	e.emit(AdmittedEvent(plan.admitted))
	e.telemetry.ObserveStage("admitted")
	e.telemetry.ObserveState(toBig(plan.state.TotalRaised), toBig(plan.state.TotalTokensSold), plan.state.Participants)
	return plan.admitted, nil
}

// Admission returns the stored admission for a sequence number.
func (e *Engine) Admission(sequence uint64) (*Admission, bool, error) {
	if e == nil {
		return nil, false, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, false, errNilState
	}
	admission, ok, err := e.state.PresaleAdmissionGet(sequence)
	if err != nil || !ok {
		return nil, ok, err
	}
	return admission.Clone(), true, nil
}
