package exports

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"daopresale/native/presale"
)

func sampleAccount(b byte, contributed uint64, affiliate *common.Address) *presale.ParticipantAccount {
	return &presale.ParticipantAccount{
		Address:         common.BytesToAddress([]byte{b}),
		Contributed:     uint256.NewInt(contributed),
		TokensPurchased: uint256.NewInt(contributed * 2500),
		Purchases:       1,
		AffiliateOf:     affiliate,
	}
}

func sampleReceipt(seq uint64, affiliate *common.Address) *presale.PurchaseReceipt {
	return &presale.PurchaseReceipt{
		Sequence:            seq,
		Payer:               common.BytesToAddress([]byte{byte(seq)}),
		PaymentAmount:       uint256.NewInt(1000),
		TokensGranted:       uint256.NewInt(2_500_000),
		AffiliateCommission: uint256.NewInt(0),
		AffiliateRecipient:  affiliate,
		BeneficiaryAmount:   uint256.NewInt(1000),
	}
}

func TestParticipantsCSV(t *testing.T) {
	affiliate := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	data, sum, err := ParticipantsCSV([]*presale.ParticipantAccount{sampleAccount(1, 10, &affiliate), nil, sampleAccount(2, 20, nil)})
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(data) == 0 || sum == "" {
		t.Fatalf("expected data and checksum")
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %d", len(lines))
	}
	if lines[0] != "address,contributed,tokens_purchased,purchases,affiliate" {
		t.Fatalf("unexpected header: %s", lines[0])
	}
	if !strings.HasSuffix(lines[1], affiliate.Hex()) {
		t.Fatalf("missing affiliate: %s", lines[1])
	}
	if !strings.HasSuffix(lines[2], ",") {
		t.Fatalf("expected empty affiliate column: %s", lines[2])
	}
}

func TestReceiptsCSVDeterministic(t *testing.T) {
	receipts := []*presale.PurchaseReceipt{sampleReceipt(1, nil), sampleReceipt(2, nil)}
	first, sumA, err := ReceiptsCSV(receipts)
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	second, sumB, err := ReceiptsCSV(receipts)
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if !bytes.Equal(first, second) || sumA != sumB {
		t.Fatalf("export not deterministic")
	}
	if !strings.Contains(string(first), "1,"+receipts[0].Payer.Hex()+",1000,2500000,0,,1000") {
		t.Fatalf("unexpected row: %s", first)
	}
}

func TestReceiptsJSONL(t *testing.T) {
	affiliate := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	data, sum, err := ReceiptsJSONL([]*presale.PurchaseReceipt{sampleReceipt(7, &affiliate)})
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if len(data) == 0 || sum == "" {
		t.Fatalf("expected data and checksum")
	}
	output := string(data)
	if !strings.Contains(output, "\"sequence\":7") {
		t.Fatalf("unexpected payload: %s", output)
	}
	if !strings.Contains(output, affiliate.Hex()) {
		t.Fatalf("missing affiliate: %s", output)
	}
}

func TestWriteReceiptsParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.parquet")
	if err := WriteReceiptsParquet(path, []*presale.PurchaseReceipt{sampleReceipt(1, nil), sampleReceipt(2, nil)}); err != nil {
		t.Fatalf("parquet: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) < 8 || string(data[:4]) != "PAR1" || string(data[len(data)-4:]) != "PAR1" {
		t.Fatalf("output is not a parquet file")
	}
}

func TestLedgerCommitmentProof(t *testing.T) {
	affiliate := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	accounts := []*presale.ParticipantAccount{sampleAccount(1, 10, nil), sampleAccount(2, 20, &affiliate), sampleAccount(3, 30, nil)}
	commitment, err := LedgerCommitment(accounts)
	if err != nil {
		t.Fatalf("commitment: %v", err)
	}
	proof, err := ProveParticipant(commitment, accounts[1].Address)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	account, err := VerifyParticipant(commitment.Root(), accounts[1].Address, proof)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !account.Contributed.Eq(uint256.NewInt(20)) {
		t.Fatalf("unexpected contribution %s", account.Contributed.Dec())
	}
	if account.AffiliateOf == nil || *account.AffiliateOf != affiliate {
		t.Fatalf("affiliate not committed")
	}

	reordered, err := LedgerCommitment([]*presale.ParticipantAccount{accounts[2], accounts[0], accounts[1]})
	if err != nil {
		t.Fatalf("commitment: %v", err)
	}
	if reordered.Root() != commitment.Root() {
		t.Fatalf("root depends on export order")
	}
}
