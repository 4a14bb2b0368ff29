package presale

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// SchemaVersion is the storage layout version written by this binary.
const SchemaVersion uint32 = 2

// Record names used by the layout registry.
const (
	RecordConfig      = "config"
	RecordState       = "state"
	RecordParticipant = "participant"
	RecordAdmission   = "admission"
	RecordReceipt     = "receipt"
)

// FieldSpec describes one persisted field.
type FieldSpec struct {
	Name     string
	Type     string
	Optional bool
}

func (f FieldSpec) String() string {
	if f.Optional {
		return f.Name + " " + f.Type + " (optional)"
	}
	return f.Name + " " + f.Type
}

// Layout is the ordered field list of one record.
type Layout []FieldSpec

// SchemaRelease pins the layouts shipped with a schema version.
type SchemaRelease struct {
	Version uint32
	Records map[string]Layout
}

var layoutV1 = map[string]Layout{
	RecordConfig: {
		{Name: "Beneficiary", Type: "common.Address"},
		{Name: "PriceTokens", Type: "*big.Int"},
		{Name: "PricePerPayment", Type: "*big.Int"},
		{Name: "AffiliatePPM", Type: "uint32"},
		{Name: "MinAllocation", Type: "*big.Int"},
		{Name: "MaxAllocation", Type: "*big.Int"},
		{Name: "PurchaseCap", Type: "*big.Int"},
	},
	RecordState: {
		{Name: "Initialized", Type: "bool"},
		{Name: "TotalRaised", Type: "*big.Int"},
	},
	RecordParticipant: {
		{Name: "Address", Type: "common.Address"},
		{Name: "Contributed", Type: "*big.Int"},
		{Name: "AffiliateOf", Type: "[]uint8"},
	},
}

var layoutV2 = map[string]Layout{
	RecordConfig: layoutV1[RecordConfig],
	RecordState: append(append(Layout{}, layoutV1[RecordState]...),
		FieldSpec{Name: "TotalTokensSold", Type: "*big.Int", Optional: true},
		FieldSpec{Name: "TotalCommission", Type: "*big.Int", Optional: true},
		FieldSpec{Name: "Participants", Type: "uint64", Optional: true},
		FieldSpec{Name: "Purchases", Type: "uint64", Optional: true},
		FieldSpec{Name: "Admin", Type: "common.Address", Optional: true},
		FieldSpec{Name: "SchemaVersion", Type: "uint32", Optional: true},
	),
	RecordParticipant: append(append(Layout{}, layoutV1[RecordParticipant]...),
		FieldSpec{Name: "TokensPurchased", Type: "*big.Int", Optional: true},
		FieldSpec{Name: "Purchases", Type: "uint64", Optional: true},
	),
	RecordAdmission: {
		{Name: "Sequence", Type: "uint64"},
		{Name: "Payer", Type: "common.Address"},
		{Name: "Amount", Type: "*big.Int"},
		{Name: "Settled", Type: "bool"},
	},
	RecordReceipt: {
		{Name: "Sequence", Type: "uint64"},
		{Name: "Payer", Type: "common.Address"},
		{Name: "PaymentAmount", Type: "*big.Int"},
		{Name: "TokensGranted", Type: "*big.Int"},
		{Name: "AffiliateCommission", Type: "*big.Int"},
		{Name: "AffiliateRecipient", Type: "[]uint8"},
		{Name: "BeneficiaryAmount", Type: "*big.Int"},
	},
}

// LayoutHistory lists every released schema in ascending version order. A
// release is never edited once shipped; a layout change adds a new entry.
var LayoutHistory = []SchemaRelease{
	{Version: 1, Records: layoutV1},
	{Version: 2, Records: layoutV2},
}

// DescribeLayout reflects the persisted field list of a record struct (or a
// pointer to one).
func DescribeLayout(record interface{}) Layout {
	t := reflect.TypeOf(record)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	layout := make(Layout, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("rlp")
		if tag == "-" {
			continue
		}
		layout = append(layout, FieldSpec{
			Name:     field.Name,
			Type:     field.Type.String(),
			Optional: hasTagOption(tag, "optional"),
		})
	}
	return layout
}

func hasTagOption(tag, option string) bool {
	for _, part := range strings.Split(tag, ",") {
		if strings.TrimSpace(part) == option {
			return true
		}
	}
	return false
}

// CurrentLayouts describes the record structs compiled into this binary.
func CurrentLayouts() map[string]Layout {
	return map[string]Layout{
		RecordConfig:      DescribeLayout(ConfigRecord{}),
		RecordState:       DescribeLayout(StateRecord{}),
		RecordParticipant: DescribeLayout(ParticipantRecord{}),
		RecordAdmission:   DescribeLayout(AdmissionRecord{}),
		RecordReceipt:     DescribeLayout(ReceiptRecord{}),
	}
}

// CheckAppendOnly reports whether next is a storage-compatible extension of
// prev: every previous field keeps its position, name and type, optional
// fields stay optional, and any appended field is optional so records written
// under prev still decode.
func CheckAppendOnly(prev, next Layout) error {
	if len(next) < len(prev) {
		return fmt.Errorf("%w: %d fields removed", ErrLayoutIncompatible, len(prev)-len(next))
	}
	for i, old := range prev {
		cur := next[i]
		if cur.Name != old.Name {
			return fmt.Errorf("%w: slot %d renamed or reordered (%s -> %s)", ErrLayoutIncompatible, i, old.Name, cur.Name)
		}
		if cur.Type != old.Type {
			return fmt.Errorf("%w: slot %d (%s) retyped %s -> %s", ErrLayoutIncompatible, i, old.Name, old.Type, cur.Type)
		}
		if old.Optional && !cur.Optional {
			return fmt.Errorf("%w: slot %d (%s) became mandatory", ErrLayoutIncompatible, i, old.Name)
		}
	}
	if len(prev) == 0 {
		return nil
	}
	for i := len(prev); i < len(next); i++ {
		if !next[i].Optional {
			return fmt.Errorf("%w: appended slot %d (%s) must be optional", ErrLayoutIncompatible, i, next[i].Name)
		}
	}
	return nil
}

// VerifyLayouts checks the release history and the compiled record structs:
// every release must extend its predecessor append-only, the newest release
// must match the compiled structs exactly, and its version must equal
// SchemaVersion.
func VerifyLayouts() error {
	return verifyLayouts(LayoutHistory, CurrentLayouts())
}

func verifyLayouts(history []SchemaRelease, current map[string]Layout) error {
	if len(history) == 0 {
		return fmt.Errorf("%w: no released layouts", ErrLayoutIncompatible)
	}
	for i := 1; i < len(history); i++ {
		prev, next := history[i-1], history[i]
		if next.Version <= prev.Version {
			return fmt.Errorf("%w: release versions out of order (%d after %d)", ErrLayoutIncompatible, next.Version, prev.Version)
		}
		for _, name := range sortedRecordNames(prev.Records) {
			nextLayout, ok := next.Records[name]
			if !ok {
				return fmt.Errorf("%w: record %s dropped in v%d", ErrLayoutIncompatible, name, next.Version)
			}
			if err := CheckAppendOnly(prev.Records[name], nextLayout); err != nil {
				return fmt.Errorf("record %s v%d -> v%d: %w", name, prev.Version, next.Version, err)
			}
		}
	}
	latest := history[len(history)-1]
	if latest.Version != SchemaVersion {
		return fmt.Errorf("%w: latest release v%d does not match schema v%d", ErrLayoutIncompatible, latest.Version, SchemaVersion)
	}
	for _, name := range sortedRecordNames(current) {
		released, ok := latest.Records[name]
		if !ok {
			return fmt.Errorf("%w: record %s missing from release v%d", ErrLayoutIncompatible, name, latest.Version)
		}
		if err := CheckAppendOnly(released, current[name]); err != nil {
			return fmt.Errorf("record %s: %w", name, err)
		}
		if len(current[name]) != len(released) {
			return fmt.Errorf("%w: record %s has unreleased fields; add a release to LayoutHistory", ErrLayoutIncompatible, name)
		}
	}
	for _, name := range sortedRecordNames(latest.Records) {
		if _, ok := current[name]; !ok {
			return fmt.Errorf("%w: record %s removed from binary", ErrLayoutIncompatible, name)
		}
	}
	return nil
}

func sortedRecordNames(records map[string]Layout) []string {
	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
