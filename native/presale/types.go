package presale

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Price expresses how many smallest sale-token units are granted for
// PerPayment smallest payment units. A price of {2500, 1} grants 2500 token
// units per wei; {1e18, 2.5e15} sells one whole 18-decimal token for 0.0025 of
// the payment asset.
type Price struct {
	Tokens     *uint256.Int `json:"tokens"`
	PerPayment *uint256.Int `json:"perPayment"`
}

// Clone returns a deep copy of the price.
func (p Price) Clone() Price {
	return Price{Tokens: cloneAmount(p.Tokens), PerPayment: cloneAmount(p.PerPayment)}
}

// SaleConfig holds the sale parameters fixed by Initialize.
type SaleConfig struct {
	Beneficiary   common.Address `json:"beneficiary"`
	Price         Price          `json:"price"`
	AffiliatePPM  uint32         `json:"affiliatePpm"`
	MinAllocation *uint256.Int   `json:"minAllocation"`
	MaxAllocation *uint256.Int   `json:"maxAllocation"`
	PurchaseCap   *uint256.Int   `json:"purchaseCap"`
}

// Clone returns a deep copy of the configuration.
func (c *SaleConfig) Clone() *SaleConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Price = c.Price.Clone()
	clone.MinAllocation = cloneAmount(c.MinAllocation)
	clone.MaxAllocation = cloneAmount(c.MaxAllocation)
	clone.PurchaseCap = cloneAmount(c.PurchaseCap)
	return &clone
}

// ParticipantAccount tracks a single payer. Accounts are created on the first
// admitted purchase and never removed.
type ParticipantAccount struct {
	Address     common.Address  `json:"address"`
	Contributed *uint256.Int    `json:"contributed"`
	AffiliateOf *common.Address `json:"affiliateOf,omitempty"`

	TokensPurchased *uint256.Int `json:"tokensPurchased"`
	Purchases       uint64       `json:"purchases"`
}

// Clone returns a deep copy of the account.
func (a *ParticipantAccount) Clone() *ParticipantAccount {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Contributed = cloneAmount(a.Contributed)
	clone.TokensPurchased = cloneAmount(a.TokensPurchased)
	if a.AffiliateOf != nil {
		affiliate := *a.AffiliateOf
		clone.AffiliateOf = &affiliate
	}
	return &clone
}

// SaleState is the singleton accounting record of a deployed sale.
type SaleState struct {
	Initialized bool         `json:"initialized"`
	TotalRaised *uint256.Int `json:"totalRaised"`

	TotalTokensSold *uint256.Int   `json:"totalTokensSold"`
	TotalCommission *uint256.Int   `json:"totalCommission"`
	Participants    uint64         `json:"participants"`
	Purchases       uint64         `json:"purchases"`
	Admin           common.Address `json:"admin"`
	SchemaVersion   uint32         `json:"schemaVersion"`
}

// Clone returns a deep copy of the state.
func (s *SaleState) Clone() *SaleState {
	if s == nil {
		return nil
	}
	clone := *s
	clone.TotalRaised = cloneAmount(s.TotalRaised)
	clone.TotalTokensSold = cloneAmount(s.TotalTokensSold)
	clone.TotalCommission = cloneAmount(s.TotalCommission)
	return &clone
}

// Admission is the persisted trace of an admitted payment awaiting (or having
// completed) settlement.
type Admission struct {
	Sequence uint64         `json:"sequence"`
	Payer    common.Address `json:"payer"`
	Amount   *uint256.Int   `json:"amount"`
	Settled  bool           `json:"settled"`
}

// Clone returns a deep copy of the admission.
func (a *Admission) Clone() *Admission {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Amount = cloneAmount(a.Amount)
	return &clone
}

// AdmittedPurchase is returned by Admit once the ledger bounds have been
// enforced and committed.
type AdmittedPurchase struct {
	Sequence      uint64         `json:"sequence"`
	Payer         common.Address `json:"payer"`
	Amount        *uint256.Int   `json:"amount"`
	FirstPurchase bool           `json:"firstPurchase"`
	Contributed   *uint256.Int   `json:"contributed"`
	TotalRaised   *uint256.Int   `json:"totalRaised"`
}

// PurchaseReceipt describes the settlement of one admitted payment.
type PurchaseReceipt struct {
	Sequence            uint64          `json:"sequence"`
	Payer               common.Address  `json:"payer"`
	PaymentAmount       *uint256.Int    `json:"paymentAmount"`
	TokensGranted       *uint256.Int    `json:"tokensGranted"`
	AffiliateCommission *uint256.Int    `json:"affiliateCommission"`
	AffiliateRecipient  *common.Address `json:"affiliateRecipient,omitempty"`
	BeneficiaryAmount   *uint256.Int    `json:"beneficiaryAmount"`
}

// Clone returns a deep copy of the receipt.
func (r *PurchaseReceipt) Clone() *PurchaseReceipt {
	if r == nil {
		return nil
	}
	clone := *r
	clone.PaymentAmount = cloneAmount(r.PaymentAmount)
	clone.TokensGranted = cloneAmount(r.TokensGranted)
	clone.AffiliateCommission = cloneAmount(r.AffiliateCommission)
	clone.BeneficiaryAmount = cloneAmount(r.BeneficiaryAmount)
	if r.AffiliateRecipient != nil {
		recipient := *r.AffiliateRecipient
		clone.AffiliateRecipient = &recipient
	}
	return &clone
}

// Commit is the unit of persistence handed to the state backend. Every non-nil
// member must be written in a single atomic batch.
type Commit struct {
	Config         *SaleConfig
	State          *SaleState
	Participant    *ParticipantAccount
	NewParticipant bool
	Admission      *Admission
	Receipt        *PurchaseReceipt
}
