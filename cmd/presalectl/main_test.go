package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"daopresale/config"
)

const (
	testAdmin = "0x00000000000000000000000000000000000000Ad"
	testBuyer = "0x0000000000000000000000000000000000000B01"
	testRef   = "0x0000000000000000000000000000000000000aF1"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	return writeBackendConfig(t, "leveldb")
}

func writeBackendConfig(t *testing.T, backend string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Backend = backend
	cfg.Admin = testAdmin
	cfg.Sale.AffiliatePPM = 50_000
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, config.Save(path, cfg))
	return path
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(args, &out)
	return out.String(), err
}

func purchase(t *testing.T, configPath, payer, amount, referrer string) {
	t.Helper()
	l, err := openLedger(configPath)
	require.NoError(t, err)
	defer l.Close()
	value, err := uint256.FromDecimal(amount)
	require.NoError(t, err)
	ref := common.HexToAddress(referrer)
	_, err = l.engine.Purchase(common.HexToAddress(payer), value, &ref)
	require.NoError(t, err)
}

func TestUnknownCommand(t *testing.T) {
	_, err := runCmd(t)
	require.ErrorIs(t, err, errUsage)
	_, err = runCmd(t, "mint")
	require.ErrorIs(t, err, errUsage)
}

func TestInitStatusAndUpgrade(t *testing.T) {
	path := writeTestConfig(t)

	out, err := runCmd(t, "status", "-config", path)
	require.NoError(t, err)
	var before statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &before))
	require.False(t, before.Initialized)

	out, err = runCmd(t, "init", "-config", path)
	require.NoError(t, err)
	require.Contains(t, out, "Initialized sale")

	_, err = runCmd(t, "init", "-config", path)
	require.Error(t, err)

	out, err = runCmd(t, "status", "-config", path)
	require.NoError(t, err)
	var after statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &after))
	require.True(t, after.Initialized)
	require.Equal(t, "2500/1", after.Price)
	require.Equal(t, "10000000000000000000000", after.PurchaseCap)
	require.Equal(t, common.HexToAddress(testAdmin).Hex(), after.Admin)

	_, err = runCmd(t, "upgrade", "-config", path, "-caller", testBuyer)
	require.Error(t, err)
	out, err = runCmd(t, "upgrade", "-config", path)
	require.NoError(t, err)
	require.Contains(t, out, "Schema version 2")
}

func TestQuoteAndParticipant(t *testing.T) {
	path := writeTestConfig(t)
	_, err := runCmd(t, "init", "-config", path)
	require.NoError(t, err)

	out, err := runCmd(t, "quote", "-config", path, "-payer", testBuyer, "-amount", "2e17", "-referrer", testRef)
	require.NoError(t, err)
	require.Contains(t, out, "500000000000000000000")

	_, err = runCmd(t, "participant", "-config", path, "-address", testBuyer)
	require.Error(t, err)

	purchase(t, path, testBuyer, "200000000000000000", testRef)
	out, err = runCmd(t, "participant", "-config", path, "-address", testBuyer)
	require.NoError(t, err)
	require.Contains(t, out, "200000000000000000")

	_, err = runCmd(t, "quote", "-config", path, "-payer", "nope", "-amount", "1")
	require.Error(t, err)
}

func TestLayout(t *testing.T) {
	out, err := runCmd(t, "layout")
	require.NoError(t, err)
	require.Contains(t, out, "schema v1")
	require.Contains(t, out, "schema v2")
	require.Contains(t, out, "layouts ok")
}

func TestExportAndProve(t *testing.T) {
	path := writeTestConfig(t)
	_, err := runCmd(t, "init", "-config", path)
	require.NoError(t, err)
	purchase(t, path, testBuyer, "200000000000000000", testRef)
	purchase(t, path, "0x0000000000000000000000000000000000000B02", "300000000000000000", testRef)

	dir := filepath.Join(t.TempDir(), "export")
	out, err := runCmd(t, "export", "-config", path, "-out", dir)
	require.NoError(t, err)
	require.Contains(t, out, "Exported 2 participants and 2 receipts")

	for _, name := range []string{"participants.csv", "receipts.csv", "receipts.jsonl", "receipts.parquet", "manifest.json"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		require.NotZero(t, info.Size(), name)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)
	var manifest exportManifest
	require.NoError(t, json.Unmarshal(raw, &manifest))
	require.Equal(t, 2, manifest.Receipts)
	require.Len(t, manifest.Checksums, 3)
	require.Equal(t, "500000000000000000", manifest.TotalRaised)
	require.Equal(t, "25000000000000000", manifest.TotalAffiliateAmount)

	out, err = runCmd(t, "prove", "-config", path, "-address", testBuyer)
	require.NoError(t, err)
	require.True(t, strings.Contains(out, manifest.LedgerRoot))
	require.Contains(t, out, "200000000000000000")
}

func TestBoltBackend(t *testing.T) {
	path := writeBackendConfig(t, "bolt")
	_, err := runCmd(t, "init", "-config", path)
	require.NoError(t, err)
	purchase(t, path, testBuyer, "200000000000000000", testRef)

	out, err := runCmd(t, "status", "-config", path)
	require.NoError(t, err)
	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Equal(t, uint64(1), report.Participants)
	require.Equal(t, "200000000000000000", report.TotalRaised)
}
