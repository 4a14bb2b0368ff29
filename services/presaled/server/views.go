package server

import (
	"github.com/ethereum/go-ethereum/common"

	"daopresale/native/presale"
)

type configView struct {
	Beneficiary     string `json:"beneficiary"`
	PriceTokens     string `json:"priceTokens"`
	PricePerPayment string `json:"pricePerPayment"`
	AffiliatePPM    uint32 `json:"affiliatePpm"`
	MinAllocation   string `json:"minAllocation"`
	MaxAllocation   string `json:"maxAllocation"`
	PurchaseCap     string `json:"purchaseCap"`
}

func newConfigView(cfg *presale.SaleConfig) configView {
	return configView{
		Beneficiary:     cfg.Beneficiary.Hex(),
		PriceTokens:     presale.FormatAmount(cfg.Price.Tokens),
		PricePerPayment: presale.FormatAmount(cfg.Price.PerPayment),
		AffiliatePPM:    cfg.AffiliatePPM,
		MinAllocation:   presale.FormatAmount(cfg.MinAllocation),
		MaxAllocation:   presale.FormatAmount(cfg.MaxAllocation),
		PurchaseCap:     presale.FormatAmount(cfg.PurchaseCap),
	}
}

type stateView struct {
	Initialized     bool   `json:"initialized"`
	TotalRaised     string `json:"totalRaised"`
	TotalTokensSold string `json:"totalTokensSold"`
	TotalCommission string `json:"totalCommission"`
	Participants    uint64 `json:"participants"`
	Purchases       uint64 `json:"purchases"`
	Admin           string `json:"admin,omitempty"`
	SchemaVersion   uint32 `json:"schemaVersion"`
}

func newStateView(state *presale.SaleState) stateView {
	view := stateView{
		Initialized:     state.Initialized,
		TotalRaised:     presale.FormatAmount(state.TotalRaised),
		TotalTokensSold: presale.FormatAmount(state.TotalTokensSold),
		TotalCommission: presale.FormatAmount(state.TotalCommission),
		Participants:    state.Participants,
		Purchases:       state.Purchases,
		SchemaVersion:   state.SchemaVersion,
	}
	if state.Admin != (common.Address{}) {
		view.Admin = state.Admin.Hex()
	}
	return view
}

type participantView struct {
	Address         string `json:"address"`
	Contributed     string `json:"contributed"`
	TokensPurchased string `json:"tokensPurchased"`
	Purchases       uint64 `json:"purchases"`
	AffiliateOf     string `json:"affiliateOf,omitempty"`
}

func newParticipantView(account *presale.ParticipantAccount) participantView {
	return participantView{
		Address:         account.Address.Hex(),
		Contributed:     presale.FormatAmount(account.Contributed),
		TokensPurchased: presale.FormatAmount(account.TokensPurchased),
		Purchases:       account.Purchases,
		AffiliateOf:     optionalHex(account.AffiliateOf),
	}
}

type receiptView struct {
	Sequence            uint64 `json:"sequence"`
	Payer               string `json:"payer"`
	PaymentAmount       string `json:"paymentAmount"`
	TokensGranted       string `json:"tokensGranted"`
	AffiliateCommission string `json:"affiliateCommission"`
	AffiliateRecipient  string `json:"affiliateRecipient,omitempty"`
	BeneficiaryAmount   string `json:"beneficiaryAmount"`
}

func newReceiptView(receipt *presale.PurchaseReceipt) receiptView {
	return receiptView{
		Sequence:            receipt.Sequence,
		Payer:               receipt.Payer.Hex(),
		PaymentAmount:       presale.FormatAmount(receipt.PaymentAmount),
		TokensGranted:       presale.FormatAmount(receipt.TokensGranted),
		AffiliateCommission: presale.FormatAmount(receipt.AffiliateCommission),
		AffiliateRecipient:  optionalHex(receipt.AffiliateRecipient),
		BeneficiaryAmount:   presale.FormatAmount(receipt.BeneficiaryAmount),
	}
}

type admissionView struct {
	Sequence uint64 `json:"sequence"`
	Payer    string `json:"payer"`
	Amount   string `json:"amount"`
	Settled  bool   `json:"settled"`
}

func newAdmissionView(admission *presale.Admission) admissionView {
	return admissionView{
		Sequence: admission.Sequence,
		Payer:    admission.Payer.Hex(),
		Amount:   presale.FormatAmount(admission.Amount),
		Settled:  admission.Settled,
	}
}

type admittedView struct {
	Sequence      uint64 `json:"sequence"`
	Payer         string `json:"payer"`
	Amount        string `json:"amount"`
	FirstPurchase bool   `json:"firstPurchase"`
	Contributed   string `json:"contributed"`
	TotalRaised   string `json:"totalRaised"`
}

func newAdmittedView(admitted *presale.AdmittedPurchase) admittedView {
	return admittedView{
		Sequence:      admitted.Sequence,
		Payer:         admitted.Payer.Hex(),
		Amount:        presale.FormatAmount(admitted.Amount),
		FirstPurchase: admitted.FirstPurchase,
		Contributed:   presale.FormatAmount(admitted.Contributed),
		TotalRaised:   presale.FormatAmount(admitted.TotalRaised),
	}
}

func optionalHex(addr *common.Address) string {
	if addr == nil {
		return ""
	}
	return addr.Hex()
}
