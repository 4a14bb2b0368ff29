package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/term"

	"daopresale/config"
	"daopresale/core/state"
	"daopresale/integrations/exports"
	"daopresale/native/presale"
	"daopresale/storage"
)

const defaultConfig = "./config.toml"

var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			usage(os.Stderr)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: presalectl <command> [flags]

commands:
  init         initialize the sale from the config file
  upgrade      raise the ledger schema version (admin only)
  status       print the sale configuration and totals
  participant  print one ledger entry
  quote        dry-run a purchase without committing it
  layout       verify and print the storage layouts
  export       write CSV, JSONL, Parquet and Merkle commitment files
  prove        print and verify a participant inclusion proof`)
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "init":
		return runInit(rest, out)
	case "upgrade":
		return runUpgrade(rest, out)
	case "status":
		return runStatus(rest, out)
	case "participant":
		return runParticipant(rest, out)
	case "quote":
		return runQuote(rest, out)
	case "layout":
		return runLayout(out)
	case "export":
		return runExport(rest, out)
	case "prove":
		return runProve(rest, out)
	default:
		return errUsage
	}
}

type ledger struct {
	cfg    *config.Config
	db     storage.Database
	engine *presale.Engine
}

func (l *ledger) Close() { l.db.Close() }

func openLedger(configPath string) (*ledger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	db, err := storage.Open(cfg.Backend, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	manager := state.NewManager(db)
	if err := manager.EnsureStateVersion(false); err != nil {
		db.Close()
		return nil, err
	}
	engine, err := presale.Attach(manager)
	if err != nil {
		db.Close()
		return nil, err
	}
	engine.SetPauses(cfg.Pauses)
	return &ledger{cfg: cfg, db: db, engine: engine}, nil
}

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the presale config file")
	return fs, configPath
}

func runInit(args []string, out io.Writer) error {
	fs, configPath := newFlagSet("init")
	if err := fs.Parse(args); err != nil {
		return err
	}
	l, err := openLedger(*configPath)
	if err != nil {
		return err
	}
	defer l.Close()
	admin, err := l.cfg.AdminAddress()
	if err != nil {
		return err
	}
	saleCfg, err := l.cfg.SaleConfig()
	if err != nil {
		return err
	}
	if err := l.engine.Initialize(admin, saleCfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "Initialized sale with admin %s and beneficiary %s\n", admin.Hex(), saleCfg.Beneficiary.Hex())
	return nil
}

func runUpgrade(args []string, out io.Writer) error {
	fs, configPath := newFlagSet("upgrade")
	version := fs.Uint("version", uint(presale.SchemaVersion), "Target schema version")
	caller := fs.String("caller", "", "Admin address performing the upgrade (defaults to the configured Admin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	l, err := openLedger(*configPath)
	if err != nil {
		return err
	}
	defer l.Close()
	var addr common.Address
	if strings.TrimSpace(*caller) != "" {
		if addr, err = parseAddress(*caller); err != nil {
			return err
		}
	} else if addr, err = l.cfg.AdminAddress(); err != nil {
		return err
	}
	if err := l.engine.Upgrade(addr, uint32(*version)); err != nil {
		return err
	}
	st, err := l.engine.State()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Schema version %d (admin %s)\n", st.SchemaVersion, st.Admin.Hex())
	return nil
}

type statusReport struct {
	Initialized     bool   `json:"initialized"`
	Beneficiary     string `json:"beneficiary,omitempty"`
	Price           string `json:"price,omitempty"`
	AffiliatePPM    uint32 `json:"affiliatePpm"`
	MinAllocation   string `json:"minAllocation,omitempty"`
	MaxAllocation   string `json:"maxAllocation,omitempty"`
	PurchaseCap     string `json:"purchaseCap,omitempty"`
	TotalRaised     string `json:"totalRaised"`
	TotalTokensSold string `json:"totalTokensSold"`
	TotalCommission string `json:"totalCommission"`
	Participants    uint64 `json:"participants"`
	Purchases       uint64 `json:"purchases"`
	SchemaVersion   uint32 `json:"schemaVersion"`
	Admin           string `json:"admin,omitempty"`
	Paused          bool   `json:"paused"`
}

func runStatus(args []string, out io.Writer) error {
	fs, configPath := newFlagSet("status")
	if err := fs.Parse(args); err != nil {
		return err
	}
	l, err := openLedger(*configPath)
	if err != nil {
		return err
	}
	defer l.Close()
	st, err := l.engine.State()
	if err != nil {
		return err
	}
	report := statusReport{
		Initialized:     st.Initialized,
		TotalRaised:     presale.FormatAmount(st.TotalRaised),
		TotalTokensSold: presale.FormatAmount(st.TotalTokensSold),
		TotalCommission: presale.FormatAmount(st.TotalCommission),
		Participants:    st.Participants,
		Purchases:       st.Purchases,
		SchemaVersion:   st.SchemaVersion,
		Paused:          l.cfg.Pauses.IsPaused(presale.ModuleName),
	}
	if st.Admin != (common.Address{}) {
		report.Admin = st.Admin.Hex()
	}
	if st.Initialized {
		cfg, err := l.engine.Config()
		if err != nil {
			return err
		}
		report.Beneficiary = cfg.Beneficiary.Hex()
		report.Price = presale.FormatAmount(cfg.Price.Tokens) + "/" + presale.FormatAmount(cfg.Price.PerPayment)
		report.AffiliatePPM = cfg.AffiliatePPM
		report.MinAllocation = presale.FormatAmount(cfg.MinAllocation)
		report.MaxAllocation = presale.FormatAmount(cfg.MaxAllocation)
		report.PurchaseCap = presale.FormatAmount(cfg.PurchaseCap)
	}
	return writeJSON(out, report)
}

func runParticipant(args []string, out io.Writer) error {
	fs, configPath := newFlagSet("participant")
	address := fs.String("address", "", "Participant address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := parseAddress(*address)
	if err != nil {
		return err
	}
	l, err := openLedger(*configPath)
	if err != nil {
		return err
	}
	defer l.Close()
	account, ok, err := l.engine.Participant(addr)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("participant %s not found", addr.Hex())
	}
	return writeJSON(out, account)
}

func runQuote(args []string, out io.Writer) error {
	fs, configPath := newFlagSet("quote")
	payer := fs.String("payer", "", "Paying address")
	amount := fs.String("amount", "", "Payment amount in base units")
	referrer := fs.String("referrer", "", "Optional referrer address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	payerAddr, err := parseAddress(*payer)
	if err != nil {
		return err
	}
	value, err := presale.ParseAmount(strings.TrimSpace(*amount))
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	var ref *common.Address
	if strings.TrimSpace(*referrer) != "" {
		addr, err := parseAddress(*referrer)
		if err != nil {
			return err
		}
		ref = &addr
	}
	l, err := openLedger(*configPath)
	if err != nil {
		return err
	}
	defer l.Close()
	receipt, err := l.engine.Quote(payerAddr, value, ref)
	if err != nil {
		return err
	}
	return writeJSON(out, receipt)
}

func runLayout(out io.Writer) error {
	if err := presale.VerifyLayouts(); err != nil {
		return err
	}
	for _, release := range presale.LayoutHistory {
		fmt.Fprintf(out, "schema v%d\n", release.Version)
		for _, name := range []string{presale.RecordConfig, presale.RecordState, presale.RecordParticipant, presale.RecordAdmission, presale.RecordReceipt} {
			layout, ok := release.Records[name]
			if !ok {
				continue
			}
			fmt.Fprintf(out, "  %s\n", name)
			for i, field := range layout {
				fmt.Fprintf(out, "    %d %s\n", i, field)
			}
		}
	}
	fmt.Fprintf(out, "layouts ok (binary schema v%d)\n", presale.SchemaVersion)
	return nil
}

type exportManifest struct {
	Participants         int               `json:"participants"`
	Receipts             int               `json:"receipts"`
	LedgerRoot           string            `json:"ledgerRoot"`
	Checksums            map[string]string `json:"checksums"`
	SchemaVersion        uint32            `json:"schemaVersion"`
	TotalRaised          string            `json:"totalRaised"`
	TotalTokensSold      string            `json:"totalTokensSold"`
	TotalAffiliateAmount string            `json:"totalCommission"`
}

func runExport(args []string, out io.Writer) error {
	fs, configPath := newFlagSet("export")
	dir := fs.String("out", "./presale-export", "Output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	l, err := openLedger(*configPath)
	if err != nil {
		return err
	}
	defer l.Close()
	st, err := l.engine.State()
	if err != nil {
		return err
	}
	accounts, err := l.engine.Participants()
	if err != nil {
		return err
	}
	receipts, err := l.engine.Receipts()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*dir, 0o755); err != nil {
		return err
	}

	manifest := exportManifest{
		Participants:         len(accounts),
		Receipts:             len(receipts),
		Checksums:            map[string]string{},
		SchemaVersion:        st.SchemaVersion,
		TotalRaised:          presale.FormatAmount(st.TotalRaised),
		TotalTokensSold:      presale.FormatAmount(st.TotalTokensSold),
		TotalAffiliateAmount: presale.FormatAmount(st.TotalCommission),
	}
	files := []struct {
		name  string
		build func() ([]byte, string, error)
	}{
		{"participants.csv", func() ([]byte, string, error) { return exports.ParticipantsCSV(accounts) }},
		{"receipts.csv", func() ([]byte, string, error) { return exports.ReceiptsCSV(receipts) }},
		{"receipts.jsonl", func() ([]byte, string, error) { return exports.ReceiptsJSONL(receipts) }},
	}
	for _, file := range files {
		data, sum, err := file.build()
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(*dir, file.name), data, 0o644); err != nil {
			return err
		}
		manifest.Checksums[file.name] = sum
	}
	if err := exports.WriteReceiptsParquet(filepath.Join(*dir, "receipts.parquet"), receipts); err != nil {
		return err
	}
	commitment, err := exports.LedgerCommitment(accounts)
	if err != nil {
		return err
	}
	manifest.LedgerRoot = commitment.Root().Hex()

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(*dir, "manifest.json"), append(data, '\n'), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(out, "Exported %d participants and %d receipts to %s (root %s)\n", len(accounts), len(receipts), *dir, manifest.LedgerRoot)
	return nil
}

func runProve(args []string, out io.Writer) error {
	fs, configPath := newFlagSet("prove")
	address := fs.String("address", "", "Participant address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := parseAddress(*address)
	if err != nil {
		return err
	}
	l, err := openLedger(*configPath)
	if err != nil {
		return err
	}
	defer l.Close()
	accounts, err := l.engine.Participants()
	if err != nil {
		return err
	}
	commitment, err := exports.LedgerCommitment(accounts)
	if err != nil {
		return err
	}
	proof, err := exports.ProveParticipant(commitment, addr)
	if err != nil {
		return err
	}
	account, err := exports.VerifyParticipant(commitment.Root(), addr, proof)
	if err != nil {
		return err
	}
	nodes := make([]string, 0, len(proof))
	for _, node := range proof {
		nodes = append(nodes, "0x"+hex.EncodeToString(node))
	}
	return writeJSON(out, map[string]interface{}{
		"root":        commitment.Root().Hex(),
		"address":     addr.Hex(),
		"contributed": presale.FormatAmount(account.Contributed),
		"tokens":      presale.FormatAmount(account.TokensPurchased),
		"proof":       nodes,
	})
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

// writeJSON indents output for terminals and keeps it on one line for pipes.
func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
