package exports

import (
	"bytes"
	"encoding/json"

	"daopresale/native/presale"
)

// ReceiptsJSONL builds a JSON Lines export of settlement receipts and returns
// the serialised payload alongside a checksum.
func ReceiptsJSONL(receipts []*presale.PurchaseReceipt) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, receipt := range receipts {
		if receipt == nil {
			continue
		}
		payload := map[string]interface{}{
			"sequence":          receipt.Sequence,
			"payer":             receipt.Payer.Hex(),
			"payment":           presale.FormatAmount(receipt.PaymentAmount),
			"tokens":            presale.FormatAmount(receipt.TokensGranted),
			"commission":        presale.FormatAmount(receipt.AffiliateCommission),
			"affiliate":         optionalHex(receipt.AffiliateRecipient),
			"beneficiaryAmount": presale.FormatAmount(receipt.BeneficiaryAmount),
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}
