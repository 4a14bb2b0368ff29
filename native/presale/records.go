package presale

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// The record types below are the persisted storage layout. They are RLP
// lists, so field order is the layout: existing fields must never be
// reordered, retyped or removed, and new fields are appended with the
// rlp:"optional" tag so records written by older releases still decode.
// LayoutHistory pins every released shape.

// ConfigRecord is the persisted form of SaleConfig.
type ConfigRecord struct {
	Beneficiary     common.Address
	PriceTokens     *big.Int
	PricePerPayment *big.Int
	AffiliatePPM    uint32
	MinAllocation   *big.Int
	MaxAllocation   *big.Int
	PurchaseCap     *big.Int
}

// StateRecord is the persisted form of SaleState.
type StateRecord struct {
	Initialized bool
	TotalRaised *big.Int

	TotalTokensSold *big.Int       `rlp:"optional"`
	TotalCommission *big.Int       `rlp:"optional"`
	Participants    uint64         `rlp:"optional"`
	Purchases       uint64         `rlp:"optional"`
	Admin           common.Address `rlp:"optional"`
	SchemaVersion   uint32         `rlp:"optional"`
}

// ParticipantRecord is the persisted form of ParticipantAccount. An empty
// AffiliateOf means no affiliate has been bound.
type ParticipantRecord struct {
	Address     common.Address
	Contributed *big.Int
	AffiliateOf []byte

	TokensPurchased *big.Int `rlp:"optional"`
	Purchases       uint64   `rlp:"optional"`
}

// AdmissionRecord is the persisted form of Admission.
type AdmissionRecord struct {
	Sequence uint64
	Payer    common.Address
	Amount   *big.Int
	Settled  bool
}

// ReceiptRecord is the persisted form of PurchaseReceipt.
type ReceiptRecord struct {
	Sequence            uint64
	Payer               common.Address
	PaymentAmount       *big.Int
	TokensGranted       *big.Int
	AffiliateCommission *big.Int
	AffiliateRecipient  []byte
	BeneficiaryAmount   *big.Int
}

// NewConfigRecord converts a configuration into its stored form.
func NewConfigRecord(cfg *SaleConfig) *ConfigRecord {
	if cfg == nil {
		return nil
	}
	return &ConfigRecord{
		Beneficiary:     cfg.Beneficiary,
		PriceTokens:     toBig(cfg.Price.Tokens),
		PricePerPayment: toBig(cfg.Price.PerPayment),
		AffiliatePPM:    cfg.AffiliatePPM,
		MinAllocation:   toBig(cfg.MinAllocation),
		MaxAllocation:   toBig(cfg.MaxAllocation),
		PurchaseCap:     toBig(cfg.PurchaseCap),
	}
}

// Config decodes the stored configuration.
func (r *ConfigRecord) Config() (*SaleConfig, error) {
	if r == nil {
		return nil, fmt.Errorf("presale: nil config record")
	}
	cfg := &SaleConfig{Beneficiary: r.Beneficiary, AffiliatePPM: r.AffiliatePPM}
	var err error
	if cfg.Price.Tokens, err = fromBig(r.PriceTokens); err != nil {
		return nil, fmt.Errorf("presale: decode price tokens: %w", err)
	}
	if cfg.Price.PerPayment, err = fromBig(r.PricePerPayment); err != nil {
		return nil, fmt.Errorf("presale: decode price denominator: %w", err)
	}
	if cfg.MinAllocation, err = fromBig(r.MinAllocation); err != nil {
		return nil, fmt.Errorf("presale: decode min allocation: %w", err)
	}
	if cfg.MaxAllocation, err = fromBig(r.MaxAllocation); err != nil {
		return nil, fmt.Errorf("presale: decode max allocation: %w", err)
	}
	if cfg.PurchaseCap, err = fromBig(r.PurchaseCap); err != nil {
		return nil, fmt.Errorf("presale: decode purchase cap: %w", err)
	}
	return cfg, nil
}

// NewStateRecord converts the sale state into its stored form.
func NewStateRecord(state *SaleState) *StateRecord {
	if state == nil {
		return nil
	}
	return &StateRecord{
		Initialized:     state.Initialized,
		TotalRaised:     toBig(state.TotalRaised),
		TotalTokensSold: toBig(state.TotalTokensSold),
		TotalCommission: toBig(state.TotalCommission),
		Participants:    state.Participants,
		Purchases:       state.Purchases,
		Admin:           state.Admin,
		SchemaVersion:   state.SchemaVersion,
	}
}

// State decodes the stored sale state. Records written before the
// accounting fields existed decode with zero totals and schema version 1.
func (r *StateRecord) State() (*SaleState, error) {
	if r == nil {
		return nil, fmt.Errorf("presale: nil state record")
	}
	state := &SaleState{
		Initialized:   r.Initialized,
		Participants:  r.Participants,
		Purchases:     r.Purchases,
		Admin:         r.Admin,
		SchemaVersion: r.SchemaVersion,
	}
	if state.Initialized && state.SchemaVersion == 0 {
		state.SchemaVersion = 1
	}
	var err error
	if state.TotalRaised, err = fromBig(r.TotalRaised); err != nil {
		return nil, fmt.Errorf("presale: decode total raised: %w", err)
	}
	if state.TotalTokensSold, err = fromBig(r.TotalTokensSold); err != nil {
		return nil, fmt.Errorf("presale: decode tokens sold: %w", err)
	}
	if state.TotalCommission, err = fromBig(r.TotalCommission); err != nil {
		return nil, fmt.Errorf("presale: decode commission: %w", err)
	}
	return state, nil
}

// NewParticipantRecord converts an account into its stored form.
func NewParticipantRecord(account *ParticipantAccount) *ParticipantRecord {
	if account == nil {
		return nil
	}
	record := &ParticipantRecord{
		Address:         account.Address,
		Contributed:     toBig(account.Contributed),
		TokensPurchased: toBig(account.TokensPurchased),
		Purchases:       account.Purchases,
	}
	if account.AffiliateOf != nil {
		record.AffiliateOf = account.AffiliateOf.Bytes()
	}
	return record
}

// Participant decodes the stored account.
func (r *ParticipantRecord) Participant() (*ParticipantAccount, error) {
	if r == nil {
		return nil, fmt.Errorf("presale: nil participant record")
	}
	account := &ParticipantAccount{Address: r.Address, Purchases: r.Purchases}
	var err error
	if account.Contributed, err = fromBig(r.Contributed); err != nil {
		return nil, fmt.Errorf("presale: decode contributed: %w", err)
	}
	if account.TokensPurchased, err = fromBig(r.TokensPurchased); err != nil {
		return nil, fmt.Errorf("presale: decode tokens purchased: %w", err)
	}
	if account.AffiliateOf, err = optionalAddress(r.AffiliateOf); err != nil {
		return nil, err
	}
	return account, nil
}

// NewAdmissionRecord converts an admission into its stored form.
func NewAdmissionRecord(admission *Admission) *AdmissionRecord {
	if admission == nil {
		return nil
	}
	return &AdmissionRecord{
		Sequence: admission.Sequence,
		Payer:    admission.Payer,
		Amount:   toBig(admission.Amount),
		Settled:  admission.Settled,
	}
}

// Admission decodes the stored admission.
func (r *AdmissionRecord) Admission() (*Admission, error) {
	if r == nil {
		return nil, fmt.Errorf("presale: nil admission record")
	}
	amount, err := fromBig(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("presale: decode admission amount: %w", err)
	}
	return &Admission{Sequence: r.Sequence, Payer: r.Payer, Amount: amount, Settled: r.Settled}, nil
}

// NewReceiptRecord converts a receipt into its stored form.
func NewReceiptRecord(receipt *PurchaseReceipt) *ReceiptRecord {
	if receipt == nil {
		return nil
	}
	record := &ReceiptRecord{
		Sequence:            receipt.Sequence,
		Payer:               receipt.Payer,
		PaymentAmount:       toBig(receipt.PaymentAmount),
		TokensGranted:       toBig(receipt.TokensGranted),
		AffiliateCommission: toBig(receipt.AffiliateCommission),
		BeneficiaryAmount:   toBig(receipt.BeneficiaryAmount),
	}
	if receipt.AffiliateRecipient != nil {
		record.AffiliateRecipient = receipt.AffiliateRecipient.Bytes()
	}
	return record
}

// Receipt decodes the stored receipt.
func (r *ReceiptRecord) Receipt() (*PurchaseReceipt, error) {
	if r == nil {
		return nil, fmt.Errorf("presale: nil receipt record")
	}
	receipt := &PurchaseReceipt{Sequence: r.Sequence, Payer: r.Payer}
	var err error
	if receipt.PaymentAmount, err = fromBig(r.PaymentAmount); err != nil {
		return nil, fmt.Errorf("presale: decode payment: %w", err)
	}
	if receipt.TokensGranted, err = fromBig(r.TokensGranted); err != nil {
		return nil, fmt.Errorf("presale: decode tokens: %w", err)
	}
	if receipt.AffiliateCommission, err = fromBig(r.AffiliateCommission); err != nil {
		return nil, fmt.Errorf("presale: decode commission: %w", err)
	}
	if receipt.BeneficiaryAmount, err = fromBig(r.BeneficiaryAmount); err != nil {
		return nil, fmt.Errorf("presale: decode beneficiary amount: %w", err)
	}
	if receipt.AffiliateRecipient, err = optionalAddress(r.AffiliateRecipient); err != nil {
		return nil, err
	}
	return receipt, nil
}

func optionalAddress(raw []byte) (*common.Address, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if len(raw) != common.AddressLength {
		return nil, fmt.Errorf("presale: stored address has %d bytes", len(raw))
	}
	addr := common.BytesToAddress(raw)
	return &addr, nil
}
