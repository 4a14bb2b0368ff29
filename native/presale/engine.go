package presale

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"daopresale/core/events"
	"daopresale/core/types"
	nativecommon "daopresale/native/common"
	"daopresale/observability/metrics"
)

// ModuleName identifies the presale module in pause configuration.
const ModuleName = "presale"

type engineState interface {
	PresaleConfigGet() (*SaleConfig, bool, error)
	PresaleStateGet() (*SaleState, bool, error)
	PresaleParticipantGet(addr common.Address) (*ParticipantAccount, bool, error)
	PresaleParticipantList() ([]common.Address, error)
	PresaleAdmissionGet(sequence uint64) (*Admission, bool, error)
	PresaleReceiptGet(sequence uint64) (*PurchaseReceipt, bool, error)
	PresaleCommit(commit *Commit) error
}

// Engine serialises every presale state transition. All mutations run under
// a single mutex and reach the backend as one Commit, so each call either
// applies completely or not at all.
type Engine struct {
	mu        sync.Mutex
	state     engineState
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	telemetry *metrics.PresaleMetrics
}

// NewEngine constructs a presale engine with default dependencies.
func NewEngine() *Engine {
	return &Engine{
		emitter:   events.NoopEmitter{},
		telemetry: metrics.Presale(),
	}
}

// Attach binds a new engine to previously persisted state without running
// Initialize. It refuses stores written by a newer schema than this binary
// understands.
func Attach(state engineState) (*Engine, error) {
	if state == nil {
		return nil, errNilState
	}
	engine := NewEngine()
	engine.SetState(state)
	stored, ok, err := state.PresaleStateGet()
	if err != nil {
		return nil, err
	}
	if ok && stored != nil && stored.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("%w: stored v%d, binary v%d", ErrUnsupportedSchema, stored.SchemaVersion, SchemaVersion)
	}
	return engine, nil
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
}

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the pause view consulted before admitting payments.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauses = p
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || evt == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(WrapEvent(evt))
}

// ValidateConfig enforces the static sale invariants:
// min <= max <= cap, a positive cap and maximum, a positive price and an
// affiliate rate within [0, 1_000_000] ppm.
func ValidateConfig(cfg *SaleConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: config required", ErrInvalidConfig)
	}
	if cfg.Beneficiary == (common.Address{}) {
		return fmt.Errorf("%w: beneficiary required", ErrInvalidConfig)
	}
	if !isPositive(cfg.Price.Tokens) || !isPositive(cfg.Price.PerPayment) {
		return fmt.Errorf("%w: price must be positive", ErrInvalidConfig)
	}
	if cfg.AffiliatePPM > AffiliateDenominator {
		return fmt.Errorf("%w: affiliate ppm %d exceeds %d", ErrInvalidConfig, cfg.AffiliatePPM, AffiliateDenominator)
	}
	if cfg.MinAllocation == nil || cfg.MaxAllocation == nil || cfg.PurchaseCap == nil {
		return fmt.Errorf("%w: allocation bounds required", ErrInvalidConfig)
	}
	if cfg.MaxAllocation.IsZero() || cfg.PurchaseCap.IsZero() {
		return fmt.Errorf("%w: max allocation and cap must be positive", ErrInvalidConfig)
	}
	if cfg.MinAllocation.Gt(cfg.MaxAllocation) {
		return fmt.Errorf("%w: min allocation %s above max %s", ErrInvalidConfig, cfg.MinAllocation.Dec(), cfg.MaxAllocation.Dec())
	}
	if cfg.MaxAllocation.Gt(cfg.PurchaseCap) {
		return fmt.Errorf("%w: max allocation %s above cap %s", ErrInvalidConfig, cfg.MaxAllocation.Dec(), cfg.PurchaseCap.Dec())
	}
	return nil
}

// Initialize fixes the sale parameters and records the upgrade admin. It can
// succeed only once per persisted store; replays, including those attempted
// by an upgraded engine attached to the same store, fail with
// ErrAlreadyInitialized and leave state untouched.
func (e *Engine) Initialize(admin common.Address, cfg *SaleConfig) error {
	if e == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	existing, ok, err := e.state.PresaleStateGet()
	if err != nil {
		return err
	}
	if ok && existing != nil && existing.Initialized {
		return ErrAlreadyInitialized
	}
	if admin == (common.Address{}) {
		return fmt.Errorf("%w: upgrade admin required", ErrInvalidConfig)
	}
	if err := ValidateConfig(cfg); err != nil {
		return err
	}
	stored := cfg.Clone()
	state := &SaleState{
		Initialized:     true,
		TotalRaised:     new(uint256.Int),
		TotalTokensSold: new(uint256.Int),
		TotalCommission: new(uint256.Int),
		Admin:           admin,
		SchemaVersion:   SchemaVersion,
	}
	if err := e.state.PresaleCommit(&Commit{Config: stored, State: state}); err != nil {
		return err
	}
	e.emit(InitializedEvent(stored, admin))
	e.telemetry.ObserveState(toBig(state.TotalRaised), toBig(state.TotalTokensSold), state.Participants)
	return nil
}

func (e *Engine) loadInitialized() (*SaleConfig, *SaleState, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	state, ok, err := e.state.PresaleStateGet()
	if err != nil {
		return nil, nil, err
	}
	if !ok || state == nil || !state.Initialized {
		return nil, nil, ErrNotInitialized
	}
	cfg, ok, err := e.state.PresaleConfigGet()
	if err != nil {
		return nil, nil, err
	}
	if !ok || cfg == nil {
		return nil, nil, fmt.Errorf("%w: config record missing", ErrNotInitialized)
	}
	normaliseState(state)
	return cfg, state, nil
}

func normaliseState(state *SaleState) {
	if state.TotalRaised == nil {
		state.TotalRaised = new(uint256.Int)
	}
	if state.TotalTokensSold == nil {
		state.TotalTokensSold = new(uint256.Int)
	}
	if state.TotalCommission == nil {
		state.TotalCommission = new(uint256.Int)
	}
}

// Config returns the fixed sale configuration.
func (e *Engine) Config() (*SaleConfig, error) {
	if e == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg, _, err := e.loadInitialized()
	if err != nil {
		return nil, err
	}
	return cfg.Clone(), nil
}

// State returns the current sale accounting snapshot.
func (e *Engine) State() (*SaleState, error) {
	if e == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	state, ok, err := e.state.PresaleStateGet()
	if err != nil {
		return nil, err
	}
	if !ok || state == nil {
		return &SaleState{TotalRaised: new(uint256.Int), TotalTokensSold: new(uint256.Int), TotalCommission: new(uint256.Int)}, nil
	}
	normaliseState(state)
	return state.Clone(), nil
}

// Participant returns the ledger entry for addr, if any.
func (e *Engine) Participant(addr common.Address) (*ParticipantAccount, bool, error) {
	if e == nil {
		return nil, false, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, false, errNilState
	}
	account, ok, err := e.state.PresaleParticipantGet(addr)
	if err != nil || !ok {
		return nil, ok, err
	}
	return account.Clone(), true, nil
}

// Participants enumerates every ledger entry in first-purchase order.
func (e *Engine) Participants() ([]*ParticipantAccount, error) {
	if e == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	addrs, err := e.state.PresaleParticipantList()
	if err != nil {
		return nil, err
	}
	accounts := make([]*ParticipantAccount, 0, len(addrs))
	for _, addr := range addrs {
		account, ok, err := e.state.PresaleParticipantGet(addr)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("presale: participant %s indexed but missing", addr.Hex())
		}
		accounts = append(accounts, account.Clone())
	}
	return accounts, nil
}

// Receipt returns the settlement receipt for an admission sequence.
func (e *Engine) Receipt(sequence uint64) (*PurchaseReceipt, bool, error) {
	if e == nil {
		return nil, false, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, false, errNilState
	}
	receipt, ok, err := e.state.PresaleReceiptGet(sequence)
	if err != nil || !ok {
		return nil, ok, err
	}
	return receipt.Clone(), true, nil
}

// Receipts lists settled receipts in sequence order. Admissions that have not
// been settled yet are skipped.
func (e *Engine) Receipts() ([]*PurchaseReceipt, error) {
	if e == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	state, ok, err := e.state.PresaleStateGet()
	if err != nil {
		return nil, err
	}
	if !ok || state == nil {
		return []*PurchaseReceipt{}, nil
	}
	receipts := make([]*PurchaseReceipt, 0, state.Purchases)
	for seq := uint64(1); seq <= state.Purchases; seq++ {
		receipt, ok, err := e.state.PresaleReceiptGet(seq)
		if err != nil {
			return nil, err
		}
		if ok {
			receipts = append(receipts, receipt.Clone())
		}
	}
	return receipts, nil
}

// Upgrade raises the recorded schema version after checking that the
// compiled storage layout is an append-only extension of every released
// layout. Only the upgrade admin may call it; Initialize is never re-run.
// Stores written before the admin was tracked adopt the first caller as
// admin of record.
func (e *Engine) Upgrade(caller common.Address, version uint32) error {
	if e == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, state, err := e.loadInitialized()
	if err != nil {
		return err
	}
	if caller == (common.Address{}) {
		return ErrUnauthorized
	}
	if state.Admin != (common.Address{}) && caller != state.Admin {
		return ErrUnauthorized
	}
	if version < state.SchemaVersion {
		return fmt.Errorf("%w: v%d -> v%d", ErrSchemaDowngrade, state.SchemaVersion, version)
	}
	if version > SchemaVersion {
		return fmt.Errorf("%w: requested v%d, binary v%d", ErrUnsupportedSchema, version, SchemaVersion)
	}
	if err := VerifyLayouts(); err != nil {
		return err
	}
	if version == state.SchemaVersion && state.Admin != (common.Address{}) {
		return nil
	}
	next := state.Clone()
	from := next.SchemaVersion
	next.SchemaVersion = version
	next.Admin = caller
	if err := e.state.PresaleCommit(&Commit{State: next}); err != nil {
		return err
	}
	e.emit(UpgradedEvent(from, version, caller))
	return nil
}

func (e *Engine) guard() error {
	return nativecommon.Guard(e.pauses, ModuleName)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrBelowMinimum):
		return "below_minimum"
	case errors.Is(err, ErrAboveMaximum):
		return "above_maximum"
	case errors.Is(err, ErrCapExceeded):
		return "cap_exceeded"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return "paused"
	case errors.Is(err, ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, ErrDustPurchase):
		return "dust"
	default:
		return "invalid"
	}
}
