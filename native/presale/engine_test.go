package presale

import (
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"daopresale/core/events"
	"daopresale/core/types"
)

type mockState struct {
	cfg          *SaleConfig
	state        *SaleState
	participants map[common.Address]*ParticipantAccount
	order        []common.Address
	admissions   map[uint64]*Admission
	receipts     map[uint64]*PurchaseReceipt
	commitErr    error
	commits      int
}

func newMockState() *mockState {
	return &mockState{
		participants: make(map[common.Address]*ParticipantAccount),
		admissions:   make(map[uint64]*Admission),
		receipts:     make(map[uint64]*PurchaseReceipt),
	}
}

func (m *mockState) PresaleConfigGet() (*SaleConfig, bool, error) {
	if m.cfg == nil {
		return nil, false, nil
	}
	return m.cfg.Clone(), true, nil
}

func (m *mockState) PresaleStateGet() (*SaleState, bool, error) {
	if m.state == nil {
		return nil, false, nil
	}
	return m.state.Clone(), true, nil
}

func (m *mockState) PresaleParticipantGet(addr common.Address) (*ParticipantAccount, bool, error) {
	account, ok := m.participants[addr]
	if !ok {
		return nil, false, nil
	}
	return account.Clone(), true, nil
}

func (m *mockState) PresaleParticipantList() ([]common.Address, error) {
	return append([]common.Address(nil), m.order...), nil
}

func (m *mockState) PresaleAdmissionGet(sequence uint64) (*Admission, bool, error) {
	admission, ok := m.admissions[sequence]
	if !ok {
		return nil, false, nil
	}
	return admission.Clone(), true, nil
}

func (m *mockState) PresaleReceiptGet(sequence uint64) (*PurchaseReceipt, bool, error) {
	receipt, ok := m.receipts[sequence]
	if !ok {
		return nil, false, nil
	}
	return receipt.Clone(), true, nil
}

func (m *mockState) PresaleCommit(commit *Commit) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.commits++
	if commit.Config != nil {
		m.cfg = commit.Config.Clone()
	}
	if commit.State != nil {
		m.state = commit.State.Clone()
	}
	if commit.Participant != nil {
		if commit.NewParticipant {
			m.order = append(m.order, commit.Participant.Address)
		}
		m.participants[commit.Participant.Address] = commit.Participant.Clone()
	}
	if commit.Admission != nil {
		m.admissions[commit.Admission.Sequence] = commit.Admission.Clone()
	}
	if commit.Receipt != nil {
		m.receipts[commit.Receipt.Sequence] = commit.Receipt.Clone()
	}
	return nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []*types.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, carrier.Event())
}

func (r *recordingEmitter) ofType(kind string) []*types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Event
	for _, evt := range r.events {
		if evt.Type == kind {
			out = append(out, evt)
		}
	}
	return out
}

var (
	testAdmin       = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	testBeneficiary = common.HexToAddress("0x00000000000000000000000000000000000000be")
)

func addr(b byte) common.Address {
	return common.BytesToAddress([]byte{0x10, b})
}

func amount(t *testing.T, raw string) *uint256.Int {
	t.Helper()
	v, err := ParseAmount(raw)
	require.NoError(t, err)
	return v
}

// deploymentConfig mirrors the production deployment: a price of 2500 token
// units per wei, a 100% affiliate rate and wei-denominated bounds.
func deploymentConfig(t *testing.T) *SaleConfig {
	return &SaleConfig{
		Beneficiary:   testBeneficiary,
		Price:         Price{Tokens: uint256.NewInt(2500), PerPayment: uint256.NewInt(1)},
		AffiliatePPM:  1_000_000,
		MinAllocation: amount(t, "2e17"),
		MaxAllocation: amount(t, "5e20"),
		PurchaseCap:   amount(t, "1e22"),
	}
}

func smallConfig() *SaleConfig {
	return &SaleConfig{
		Beneficiary:   testBeneficiary,
		Price:         Price{Tokens: uint256.NewInt(2500), PerPayment: uint256.NewInt(1)},
		AffiliatePPM:  100_000,
		MinAllocation: uint256.NewInt(10),
		MaxAllocation: uint256.NewInt(100),
		PurchaseCap:   uint256.NewInt(250),
	}
}

func newTestEngine(t *testing.T, cfg *SaleConfig) (*Engine, *mockState, *recordingEmitter) {
	t.Helper()
	state := newMockState()
	engine := NewEngine()
	engine.SetState(state)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)
	require.NoError(t, engine.Initialize(testAdmin, cfg))
	return engine, state, emitter
}

func TestInitializeOnce(t *testing.T) {
	engine, state, emitter := newTestEngine(t, smallConfig())
	require.Len(t, emitter.ofType(EventTypeInitialized), 1)

	other := smallConfig()
	other.PurchaseCap = uint256.NewInt(1000)
	err := engine.Initialize(testAdmin, other)
	require.ErrorIs(t, err, ErrAlreadyInitialized)
	require.True(t, state.cfg.PurchaseCap.Eq(uint256.NewInt(250)))

	snapshot, err := engine.State()
	require.NoError(t, err)
	require.True(t, snapshot.Initialized)
	require.Equal(t, testAdmin, snapshot.Admin)
	require.Equal(t, SchemaVersion, snapshot.SchemaVersion)
	require.True(t, snapshot.TotalRaised.IsZero())
}

func TestInitializeNotReplayedAfterAttach(t *testing.T) {
	_, state, _ := newTestEngine(t, smallConfig())
	upgraded, err := Attach(state)
	require.NoError(t, err)
	require.ErrorIs(t, upgraded.Initialize(testAdmin, smallConfig()), ErrAlreadyInitialized)
	cfg, err := upgraded.Config()
	require.NoError(t, err)
	require.True(t, cfg.MaxAllocation.Eq(uint256.NewInt(100)))
}

func TestInitializeRejectsInvalidConfig(t *testing.T) {
	cases := map[string]func(*SaleConfig){
		"zero beneficiary": func(c *SaleConfig) { c.Beneficiary = common.Address{} },
		"zero price":       func(c *SaleConfig) { c.Price.Tokens = new(uint256.Int) },
		"zero denominator": func(c *SaleConfig) { c.Price.PerPayment = nil },
		"ppm above 100%":   func(c *SaleConfig) { c.AffiliatePPM = 1_000_001 },
		"min above max":    func(c *SaleConfig) { c.MinAllocation = uint256.NewInt(101) },
		"max above cap":    func(c *SaleConfig) { c.MaxAllocation = uint256.NewInt(251) },
		"missing cap":      func(c *SaleConfig) { c.PurchaseCap = nil },
		"zero max and cap": func(c *SaleConfig) { c.MinAllocation, c.MaxAllocation, c.PurchaseCap = new(uint256.Int), new(uint256.Int), new(uint256.Int) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := smallConfig()
			mutate(cfg)
			state := newMockState()
			engine := NewEngine()
			engine.SetState(state)
			require.ErrorIs(t, engine.Initialize(testAdmin, cfg), ErrInvalidConfig)
			require.Nil(t, state.state)
			require.Zero(t, state.commits)
		})
	}

	engine := NewEngine()
	engine.SetState(newMockState())
	require.ErrorIs(t, engine.Initialize(common.Address{}, smallConfig()), ErrInvalidConfig)
}

func TestInitializeAllowsBoundaryConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.MinAllocation = uint256.NewInt(100)
	cfg.MaxAllocation = uint256.NewInt(100)
	cfg.PurchaseCap = uint256.NewInt(100)
	cfg.AffiliatePPM = 0
	engine := NewEngine()
	engine.SetState(newMockState())
	require.NoError(t, engine.Initialize(testAdmin, cfg))
}

func TestEngineWithoutState(t *testing.T) {
	engine := NewEngine()
	require.ErrorIs(t, engine.Initialize(testAdmin, smallConfig()), errNilState)
	_, err := engine.Admit(addr(1), uint256.NewInt(10))
	require.ErrorIs(t, err, errNilState)
	_, err = engine.Purchase(addr(1), uint256.NewInt(10), nil)
	require.ErrorIs(t, err, errNilState)
	_, err = Attach(nil)
	require.ErrorIs(t, err, errNilState)
}

func TestOperationsRequireInitialize(t *testing.T) {
	engine := NewEngine()
	engine.SetState(newMockState())
	_, err := engine.Admit(addr(1), uint256.NewInt(10))
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = engine.Purchase(addr(1), uint256.NewInt(10), nil)
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = engine.Config()
	require.ErrorIs(t, err, ErrNotInitialized)
	require.ErrorIs(t, engine.Upgrade(testAdmin, SchemaVersion), ErrNotInitialized)

	snapshot, err := engine.State()
	require.NoError(t, err)
	require.False(t, snapshot.Initialized)
}

func TestAttachRefusesNewerSchema(t *testing.T) {
	_, state, _ := newTestEngine(t, smallConfig())
	state.state.SchemaVersion = SchemaVersion + 1
	_, err := Attach(state)
	require.ErrorIs(t, err, ErrUnsupportedSchema)
}

func TestUpgradeAuthorization(t *testing.T) {
	engine, state, emitter := newTestEngine(t, smallConfig())

	require.ErrorIs(t, engine.Upgrade(addr(9), SchemaVersion), ErrUnauthorized)
	require.ErrorIs(t, engine.Upgrade(common.Address{}, SchemaVersion), ErrUnauthorized)
	require.ErrorIs(t, engine.Upgrade(testAdmin, SchemaVersion+1), ErrUnsupportedSchema)
	require.ErrorIs(t, engine.Upgrade(testAdmin, SchemaVersion-1), ErrSchemaDowngrade)

	commits := state.commits
	require.NoError(t, engine.Upgrade(testAdmin, SchemaVersion))
	require.Equal(t, commits, state.commits, "same-version upgrade must not write")
	require.Empty(t, emitter.ofType(EventTypeUpgraded))
}

func TestUpgradeFromLegacyStore(t *testing.T) {
	state := newMockState()
	state.cfg = smallConfig()
	state.state = &SaleState{Initialized: true, TotalRaised: uint256.NewInt(40), SchemaVersion: 1}
	state.participants[addr(1)] = &ParticipantAccount{Address: addr(1), Contributed: uint256.NewInt(40)}
	state.order = []common.Address{addr(1)}

	engine, err := Attach(state)
	require.NoError(t, err)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)

	operator := addr(0xaa)
	require.NoError(t, engine.Upgrade(operator, SchemaVersion))
	require.Equal(t, SchemaVersion, state.state.SchemaVersion)
	require.Equal(t, operator, state.state.Admin)
	require.True(t, state.state.TotalRaised.Eq(uint256.NewInt(40)))
	upgraded := emitter.ofType(EventTypeUpgraded)
	require.Len(t, upgraded, 1)
	require.Equal(t, "1", upgraded[0].Attributes["from"])

	require.ErrorIs(t, engine.Upgrade(addr(0xbb), SchemaVersion), ErrUnauthorized)
	require.ErrorIs(t, engine.Initialize(operator, smallConfig()), ErrAlreadyInitialized)

	receipt, err := engine.Purchase(addr(1), uint256.NewInt(20), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), receipt.Sequence)
	account, ok, err := engine.Participant(addr(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, account.Contributed.Eq(uint256.NewInt(60)))
}

func TestCommitFailureLeavesStateUntouched(t *testing.T) {
	engine, state, emitter := newTestEngine(t, smallConfig())
	state.commitErr = errors.New("disk full")
	_, err := engine.Purchase(addr(1), uint256.NewInt(50), nil)
	require.EqualError(t, err, "disk full")
	require.True(t, state.state.TotalRaised.IsZero())
	require.Empty(t, state.participants)
	require.Empty(t, emitter.ofType(EventTypePurchased))
}
