package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"daopresale/native/presale"
)

// ParticipantsCSV builds a CSV export of the participant ledger and returns
// the serialised data alongside a SHA-256 checksum of the payload.
func ParticipantsCSV(accounts []*presale.ParticipantAccount) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"address", "contributed", "tokens_purchased", "purchases", "affiliate"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, account := range accounts {
		if account == nil {
			continue
		}
		record := []string{
			account.Address.Hex(),
			presale.FormatAmount(account.Contributed),
			presale.FormatAmount(account.TokensPurchased),
			strconv.FormatUint(account.Purchases, 10),
			optionalHex(account.AffiliateOf),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	return finish(writer, buffer)
}

// ReceiptsCSV builds a CSV export of settlement receipts.
func ReceiptsCSV(receipts []*presale.PurchaseReceipt) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"sequence", "payer", "payment", "tokens", "commission", "affiliate", "beneficiary_amount"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, receipt := range receipts {
		if receipt == nil {
			continue
		}
		record := []string{
			strconv.FormatUint(receipt.Sequence, 10),
			receipt.Payer.Hex(),
			presale.FormatAmount(receipt.PaymentAmount),
			presale.FormatAmount(receipt.TokensGranted),
			presale.FormatAmount(receipt.AffiliateCommission),
			optionalHex(receipt.AffiliateRecipient),
			presale.FormatAmount(receipt.BeneficiaryAmount),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	return finish(writer, buffer)
}

func finish(writer *csv.Writer, buffer *bytes.Buffer) ([]byte, string, error) {
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func optionalHex(addr *common.Address) string {
	if addr == nil {
		return ""
	}
	return addr.Hex()
}
