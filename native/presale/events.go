package presale

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"daopresale/core/events"
	"daopresale/core/types"
)

const (
	// EventTypeInitialized is emitted once when the sale parameters are fixed.
	EventTypeInitialized = "presale.initialized"
	// EventTypeAdmitted is emitted when a payment passes the ledger bounds.
	EventTypeAdmitted = "presale.admitted"
	// EventTypePurchased is emitted when an admitted payment is settled.
	EventTypePurchased = "presale.purchased"
	// EventTypeAffiliateBound is emitted when a payer is bound to a referrer.
	EventTypeAffiliateBound = "presale.affiliate.bound"
	// EventTypeAffiliateRejected is emitted when a referral is ignored.
	EventTypeAffiliateRejected = "presale.affiliate.rejected"
	// EventTypeUpgraded is emitted when the schema version is raised.
	EventTypeUpgraded = "presale.upgraded"
)

type eventEnvelope struct {
	evt *types.Event
}

func (e eventEnvelope) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e eventEnvelope) Event() *types.Event { return e.evt }

// WrapEvent converts a raw event payload into the emitter-friendly envelope.
func WrapEvent(evt *types.Event) events.Event { return eventEnvelope{evt: evt} }

// InitializedEvent announces the fixed sale configuration.
func InitializedEvent(cfg *SaleConfig, admin common.Address) *types.Event {
	return &types.Event{
		Type: EventTypeInitialized,
		Attributes: map[string]string{
			"beneficiary":   cfg.Beneficiary.Hex(),
			"admin":         admin.Hex(),
			"priceTokens":   FormatAmount(cfg.Price.Tokens),
			"pricePer":      FormatAmount(cfg.Price.PerPayment),
			"affiliatePpm":  strconv.FormatUint(uint64(cfg.AffiliatePPM), 10),
			"minAllocation": FormatAmount(cfg.MinAllocation),
			"maxAllocation": FormatAmount(cfg.MaxAllocation),
			"purchaseCap":   FormatAmount(cfg.PurchaseCap),
		},
	}
}

// AdmittedEvent records a committed ledger admission.
func AdmittedEvent(admitted *AdmittedPurchase) *types.Event {
	return &types.Event{
		Type: EventTypeAdmitted,
		Attributes: map[string]string{
			"sequence":    strconv.FormatUint(admitted.Sequence, 10),
			"payer":       admitted.Payer.Hex(),
			"amount":      FormatAmount(admitted.Amount),
			"contributed": FormatAmount(admitted.Contributed),
			"totalRaised": FormatAmount(admitted.TotalRaised),
		},
	}
}

// PurchasedEvent is the auditable settlement record of a purchase.
func PurchasedEvent(receipt *PurchaseReceipt) *types.Event {
	affiliate := ""
	if receipt.AffiliateRecipient != nil {
		affiliate = receipt.AffiliateRecipient.Hex()
	}
	return &types.Event{
		Type: EventTypePurchased,
		Attributes: map[string]string{
			"sequence":    strconv.FormatUint(receipt.Sequence, 10),
			"payer":       receipt.Payer.Hex(),
			"payment":     FormatAmount(receipt.PaymentAmount),
			"tokens":      FormatAmount(receipt.TokensGranted),
			"commission":  FormatAmount(receipt.AffiliateCommission),
			"affiliate":   affiliate,
			"beneficiary": FormatAmount(receipt.BeneficiaryAmount),
		},
	}
}

// AffiliateBoundEvent records the first-write-wins binding of a referrer.
func AffiliateBoundEvent(payer, affiliate common.Address) *types.Event {
	return &types.Event{
		Type: EventTypeAffiliateBound,
		Attributes: map[string]string{
			"payer":     payer.Hex(),
			"affiliate": affiliate.Hex(),
		},
	}
}

// AffiliateRejectedEvent records a referral that was ignored.
func AffiliateRejectedEvent(payer, referrer common.Address, reason string) *types.Event {
	return &types.Event{
		Type: EventTypeAffiliateRejected,
		Attributes: map[string]string{
			"payer":    payer.Hex(),
			"referrer": referrer.Hex(),
			"reason":   reason,
		},
	}
}

// UpgradedEvent records a schema version change.
func UpgradedEvent(from, to uint32, caller common.Address) *types.Event {
	return &types.Event{
		Type: EventTypeUpgraded,
		Attributes: map[string]string{
			"from":   strconv.FormatUint(uint64(from), 10),
			"to":     strconv.FormatUint(uint64(to), 10),
			"caller": caller.Hex(),
		},
	}
}
