package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"daopresale/config"
	nativecommon "daopresale/native/common"
	"daopresale/native/presale"
	"daopresale/services/presaled/middleware"
)

const maxBodyBytes = 1 << 16

type purchaseRequest struct {
	Payer    string `json:"payer"`
	Amount   string `json:"amount"`
	Referrer string `json:"referrer,omitempty"`
}

type settleRequest struct {
	Sequence uint64 `json:"sequence"`
	Payer    string `json:"payer"`
	Amount   string `json:"amount"`
	Referrer string `json:"referrer,omitempty"`
}

type initializeRequest struct {
	Beneficiary     string `json:"beneficiary"`
	PriceTokens     string `json:"priceTokens"`
	PricePerPayment string `json:"pricePerPayment"`
	AffiliatePPM    uint32 `json:"affiliatePpm"`
	MinAllocation   string `json:"minAllocation"`
	MaxAllocation   string `json:"maxAllocation"`
	PurchaseCap     string `json:"purchaseCap"`
}

type upgradeRequest struct {
	Version uint32 `json:"version"`
}

// errBadRequest marks malformed request input.
var errBadRequest = errors.New("bad request")

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.Config()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newConfigView(cfg))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.State()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newStateView(state))
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.engine.Participants()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	views := make([]participantView, 0, len(accounts))
	for _, account := range accounts {
		views = append(views, newParticipantView(account))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleParticipant(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	account, ok, err := s.engine.Participant(addr)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "participant not found")
		return
	}
	writeJSON(w, http.StatusOK, newParticipantView(account))
}

func (s *Server) handleReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.engine.Receipts()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	views := make([]receiptView, 0, len(receipts))
	for _, receipt := range receipts {
		views = append(views, newReceiptView(receipt))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	sequence, err := parseSequence(chi.URLParam(r, "sequence"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	receipt, ok, err := s.engine.Receipt(sequence)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "receipt not found")
		return
	}
	writeJSON(w, http.StatusOK, newReceiptView(receipt))
}

func (s *Server) handleAdmission(w http.ResponseWriter, r *http.Request) {
	sequence, err := parseSequence(chi.URLParam(r, "sequence"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	admission, ok, err := s.engine.Admission(sequence)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "admission not found")
		return
	}
	writeJSON(w, http.StatusOK, newAdmissionView(admission))
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	s.servePurchase(w, r, s.engine.Quote, http.StatusOK)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	s.servePurchase(w, r, s.engine.Purchase, http.StatusCreated)
}

type purchaseFunc func(common.Address, *uint256.Int, *common.Address) (*presale.PurchaseReceipt, error)

func (s *Server) servePurchase(w http.ResponseWriter, r *http.Request, fn purchaseFunc, status int) {
	var req purchaseRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	payer, amount, referrer, err := parsePayment(req.Payer, req.Amount, req.Referrer)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	receipt, err := fn(payer, amount, referrer)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, status, newReceiptView(receipt))
}

func (s *Server) handleAdmit(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	payer, amount, _, err := parsePayment(req.Payer, req.Amount, "")
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	admitted, err := s.engine.Admit(payer, amount)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAdmittedView(admitted))
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	payer, amount, referrer, err := parsePayment(req.Payer, req.Amount, req.Referrer)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	receipt, err := s.engine.Settle(&presale.AdmittedPurchase{Sequence: req.Sequence, Payer: payer, Amount: amount}, referrer)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newReceiptView(receipt))
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "caller unknown")
		return
	}
	var req initializeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	file := &config.Config{Sale: config.Sale{
		Beneficiary:     req.Beneficiary,
		PriceTokens:     req.PriceTokens,
		PricePerPayment: req.PricePerPayment,
		AffiliatePPM:    req.AffiliatePPM,
		MinAllocation:   req.MinAllocation,
		MaxAllocation:   req.MaxAllocation,
		PurchaseCap:     req.PurchaseCap,
	}}
	if strings.TrimSpace(file.Sale.PricePerPayment) == "" {
		file.Sale.PricePerPayment = "1"
	}
	cfg, err := file.SaleConfig()
	if err != nil {
		s.writeEngineError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := s.engine.Initialize(caller, cfg); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.logger.Info("sale initialized", "component", "presaled", "event", presale.EventTypeInitialized)
	writeJSON(w, http.StatusCreated, newConfigView(cfg))
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "caller unknown")
		return
	}
	var req upgradeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if req.Version == 0 {
		req.Version = presale.SchemaVersion
	}
	if err := s.engine.Upgrade(caller, req.Version); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	state, err := s.engine.State()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.logger.Info("schema upgraded", "component", "presaled", "version", state.SchemaVersion)
	writeJSON(w, http.StatusOK, newStateView(state))
}

func decodeBody(r *http.Request, out interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	return nil
}

func parsePayment(rawPayer, rawAmount, rawReferrer string) (common.Address, *uint256.Int, *common.Address, error) {
	payer, err := parseAddress("payer", rawPayer)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	amount, err := presale.ParseAmount(strings.TrimSpace(rawAmount))
	if err != nil {
		return common.Address{}, nil, nil, fmt.Errorf("%w: amount: %v", errBadRequest, err)
	}
	var referrer *common.Address
	if strings.TrimSpace(rawReferrer) != "" {
		addr, err := parseAddress("referrer", rawReferrer)
		if err != nil {
			return common.Address{}, nil, nil, err
		}
		referrer = &addr
	}
	return payer, amount, referrer, nil
}

func parseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %s is not a hex address", errBadRequest, field)
	}
	return common.HexToAddress(raw), nil
}

func parseSequence(raw string) (uint64, error) {
	sequence, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || sequence == 0 {
		return 0, fmt.Errorf("%w: sequence must be a positive integer", errBadRequest)
	}
	return sequence, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, presale.ErrInvalidAmount),
		errors.Is(err, presale.ErrInvalidAddress),
		errors.Is(err, presale.ErrInvalidConfig),
		errors.Is(err, presale.ErrDustPurchase),
		errors.Is(err, presale.ErrAmountOverflow),
		errors.Is(err, presale.ErrAdmissionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, presale.ErrBelowMinimum),
		errors.Is(err, presale.ErrAboveMaximum),
		errors.Is(err, presale.ErrCapExceeded),
		errors.Is(err, presale.ErrAdminCannotPurchase):
		return http.StatusUnprocessableEntity
	case errors.Is(err, presale.ErrNotInitialized),
		errors.Is(err, presale.ErrAlreadyInitialized),
		errors.Is(err, presale.ErrAlreadySettled),
		errors.Is(err, presale.ErrSchemaDowngrade),
		errors.Is(err, presale.ErrUnsupportedSchema),
		errors.Is(err, presale.ErrLayoutIncompatible):
		return http.StatusConflict
	case errors.Is(err, presale.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, presale.ErrAdmissionNotFound):
		return http.StatusNotFound
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"request_id", middleware.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
