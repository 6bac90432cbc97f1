package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"yieldvault/config"
	"yieldvault/native/controller"
	"yieldvault/native/farm"
	"yieldvault/native/strategy"
)

type amountResponse struct {
	Amount string `json:"amount"`
}

type statusResponse struct {
	Height   uint64 `json:"height"`
	Time     uint64 `json:"time"`
	Digest   string `json:"digest"`
	Operator string `json:"operator"`
	Farm     string `json:"farm"`
}

type strategyResponse struct {
	Address                 string `json:"address"`
	BorrowRateBps           uint64 `json:"borrowRateBps"`
	BorrowRateMaxBps        uint64 `json:"borrowRateMaxBps"`
	BorrowDepth             uint64 `json:"borrowDepth"`
	BorrowDepthMax          uint64 `json:"borrowDepthMax"`
	MinLeverage             string `json:"minLeverage"`
	RatioForFullWithdrawBps uint64 `json:"ratioForFullWithdrawBps"`
	PerformanceFeeBps       uint64 `json:"performanceFeeBps"`
	MaxDeleverageIterations uint64 `json:"maxDeleverageIterations"`
	Paused                  bool   `json:"paused"`
	Collateral              string `json:"collateral"`
	Debt                    string `json:"debt"`
}

type approveRequest struct {
	Symbol  string `json:"symbol"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type depositRequest struct {
	Amount   string `json:"amount"`
	Referrer string `json:"referrer"`
	// All deposits the caller's whole balance and ignores Amount.
	All bool `json:"all"`
}

type withdrawRequest struct {
	Shares string `json:"shares"`
}

type fundRequest struct {
	Symbol string `json:"symbol"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type priceRequest struct {
	Symbol string `json:"symbol"`
	Answer string `json:"answer"`
}

type guardRequest struct {
	MaxPriceOffsetSeconds uint64 `json:"maxPriceOffsetSeconds"`
	SlippageBps           uint64 `json:"slippageBps"`
}

type pauseRequest struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

type advanceRequest struct {
	Blocks uint64 `json:"blocks"`
	// Time, when set, moves block time without producing blocks.
	Time uint64 `json:"time"`
}

type setStrategyRequest struct {
	Address string `json:"address"`
}

// strategyActionRequest carries the arguments of the strategy operator
// actions. Fields unused by an action are ignored.
type strategyActionRequest struct {
	BorrowRateBps uint64 `json:"borrowRateBps"`
	BorrowDepth   uint64 `json:"borrowDepth"`
	RatioBps      uint64 `json:"ratioBps"`
}

// vaultSettingsRequest updates only the fields that are present.
type vaultSettingsRequest struct {
	Weighing       *uint64 `json:"weighing"`
	DepositCap     *string `json:"depositCap"`
	WithdrawFeeBps *uint64 `json:"withdrawFeeBps"`
}

type eventsResponse struct {
	Total  int64        `json:"total"`
	Events []eventEntry `json:"events"`
}

type eventEntry struct {
	Seq        int64             `json:"seq"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt string            `json:"recordedAt"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	digest, err := s.protocol.Digest()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Height:   s.protocol.Height(),
		Time:     s.protocol.Time(),
		Digest:   "0x" + hex.EncodeToString(digest[:]),
		Operator: lowerHex(s.protocol.Operator()),
		Farm:     lowerHex(s.protocol.FarmAddress()),
	})
}

func (s *Server) handleVaults(w http.ResponseWriter, r *http.Request) {
	vaults, err := s.protocol.Vaults()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, vaults)
}

func (s *Server) handleVault(w http.ResponseWriter, r *http.Request) {
	pid, ok := pidParam(w, r)
	if !ok {
		return
	}
	info, err := s.protocol.VaultInfo(pid)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	pid, ok := pidParam(w, r)
	if !ok {
		return
	}
	user, err := config.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	info, err := s.protocol.UserInfo(pid, user)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleStrategy(w http.ResponseWriter, r *http.Request) {
	pid, ok := pidParam(w, r)
	if !ok {
		return
	}
	info, err := s.protocol.VaultInfo(pid)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	params, collateral, debt, err := s.protocol.StrategyInfo(pid)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, strategyResponse{
		Address:                 lowerHex(info.Strategy),
		BorrowRateBps:           params.BorrowRate,
		BorrowRateMaxBps:        params.BorrowRateMax,
		BorrowDepth:             params.BorrowDepth,
		BorrowDepthMax:          params.BorrowDepthMax,
		MinLeverage:             amountString(params.MinLeverage),
		RatioForFullWithdrawBps: params.RatioForFullWithdraw,
		PerformanceFeeBps:       params.PerformanceFee,
		MaxDeleverageIterations: params.MaxDeleverageIterations,
		Paused:                  params.Paused,
		Collateral:              amountString(collateral),
		Debt:                    amountString(debt),
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	owner, err := config.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	balance, err := s.protocol.BalanceOf(chi.URLParam(r, "symbol"), owner)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: balance.String()})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusNotFound, errors.New("event index disabled"))
		return
	}
	query := r.URL.Query()
	eventType := query.Get("type")
	var after int64
	if raw := query.Get("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid after %q", raw))
			return
		}
		after = parsed
	}
	limit := 100
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	records, err := s.index.Query(r.Context(), eventType, after, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	total, err := s.index.Count(r.Context(), eventType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := eventsResponse{Total: total, Events: make([]eventEntry, 0, len(records))}
	for _, record := range records {
		resp.Events = append(resp.Events, eventEntry{
			Seq:        record.Seq,
			ID:         record.ID,
			Type:       record.Type,
			Attributes: record.Attributes,
			RecordedAt: record.RecordedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	spender, err := config.ParseAddress(req.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, ok := amountField(w, "amount", req.Amount)
	if !ok {
		return
	}
	caller, _ := Caller(r.Context())
	if err := s.protocol.Approve(caller, req.Symbol, spender, amount); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amount.String()})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	pid, ok := pidParam(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var referrer common.Address
	if req.Referrer != "" {
		parsed, err := config.ParseAddress(req.Referrer)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		referrer = parsed
	}
	caller, _ := Caller(r.Context())
	var (
		shares *big.Int
		err    error
	)
	if req.All {
		shares, err = s.protocol.DepositAll(caller, pid, referrer)
	} else {
		amount, ok := amountField(w, "amount", req.Amount)
		if !ok {
			return
		}
		shares, err = s.protocol.Deposit(caller, pid, amount, referrer)
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"shares": shares.String()})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	pid, ok := pidParam(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}
	shares, ok := amountField(w, "shares", req.Shares)
	if !ok {
		return
	}
	caller, _ := Caller(r.Context())
	amount, err := s.protocol.Withdraw(caller, pid, shares)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amount.String()})
}

func (s *Server) handleHarvest(w http.ResponseWriter, r *http.Request) {
	pid, ok := pidParam(w, r)
	if !ok {
		return
	}
	caller, _ := Caller(r.Context())
	reward, err := s.protocol.Harvest(caller, pid)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: reward.String()})
}

func (s *Server) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	pid, ok := pidParam(w, r)
	if !ok {
		return
	}
	caller, _ := Caller(r.Context())
	amount, err := s.protocol.EmergencyWithdraw(caller, pid)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amount.String()})
}

func (s *Server) handleStrategyHarvest(w http.ResponseWriter, r *http.Request) {
	pid, ok := pidParam(w, r)
	if !ok {
		return
	}
	caller, _ := Caller(r.Context())
	s.respondDone(w, s.protocol.HarvestStrategy(caller, pid))
}

func (s *Server) handleEarn(w http.ResponseWriter, r *http.Request) {
	pid, ok := pidParam(w, r)
	if !ok {
		return
	}
	s.respondDone(w, s.protocol.Earn(pid))
}

func (s *Server) handleMassUpdate(w http.ResponseWriter, r *http.Request) {
	s.respondDone(w, s.protocol.MassUpdatePools())
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if !decodeBody(w, r, &req) {
		return
	}
	to, err := config.ParseAddress(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, ok := amountField(w, "amount", req.Amount)
	if !ok {
		return
	}
	caller, _ := Caller(r.Context())
	s.respondDone(w, s.protocol.Fund(caller, req.Symbol, to, amount))
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	answer, ok := amountField(w, "answer", req.Answer)
	if !ok {
		return
	}
	caller, _ := Caller(r.Context())
	s.respondDone(w, s.protocol.UpdatePrice(caller, req.Symbol, answer))
}

func (s *Server) handleGuard(w http.ResponseWriter, r *http.Request) {
	var req guardRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, _ := Caller(r.Context())
	s.respondDone(w, s.protocol.SetGuardParams(caller, req.MaxPriceOffsetSeconds, req.SlippageBps))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, _ := Caller(r.Context())
	s.respondDone(w, s.protocol.SetModulePaused(caller, req.Module, req.Paused))
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Time != 0 {
		if err := s.protocol.SetTime(req.Time); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	}
	if err := s.protocol.AdvanceBlocks(req.Blocks); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.handleStatus(w, r)
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	out, err := s.protocol.ConvertFees(chi.URLParam(r, "symbol"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: out.String()})
}

func (s *Server) handleRegisterStrategy(w http.ResponseWriter, r *http.Request) {
	pid, ok := pidParam(w, r)
	if !ok {
		return
	}
	var params config.Strategy
	if !decodeBody(w, r, &params) {
		return
	}
	caller, _ := Caller(r.Context())
	addr, err := s.protocol.RegisterStrategy(caller, pid, params)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, setStrategyRequest{Address: lowerHex(addr)})
}

func (s *Server) handleSetStrategy(w http.ResponseWriter, r *http.Request) {
	pid, ok := pidParam(w, r)
	if !ok {
		return
	}
	var req setStrategyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	next, err := config.ParseAddress(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, _ := Caller(r.Context())
	s.respondDone(w, s.protocol.SetStrategy(caller, pid, next))
}

func (s *Server) handleStrategyAction(w http.ResponseWriter, r *http.Request) {
	pid, ok := pidParam(w, r)
	if !ok {
		return
	}
	var req strategyActionRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	caller, _ := Caller(r.Context())
	action := chi.URLParam(r, "action")
	var fn func(*strategy.Leveraged) error
	switch action {
	case "panic":
		fn = func(l *strategy.Leveraged) error { return l.Panic(caller) }
	case "unpause":
		fn = func(l *strategy.Leveraged) error { return l.Unpause(caller) }
	case "rebalance":
		fn = func(l *strategy.Leveraged) error { return l.Rebalance(caller, req.BorrowRateBps, req.BorrowDepth) }
	case "healthFactor":
		fn = func(l *strategy.Leveraged) error { return l.IncreaseHealthFactor(caller, req.RatioBps) }
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown strategy action %q", action))
		return
	}
	s.respondDone(w, s.protocol.ExecuteStrategy(action, pid, fn))
}

func (s *Server) handleVaultSettings(w http.ResponseWriter, r *http.Request) {
	pid, ok := pidParam(w, r)
	if !ok {
		return
	}
	var req vaultSettingsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, _ := Caller(r.Context())
	if req.Weighing != nil {
		err := s.protocol.ExecuteFarm("setWeighing", func(f *farm.Farm) error { return f.SetWeighing(caller, pid, *req.Weighing) })
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	}
	if req.DepositCap != nil {
		limit, ok := amountField(w, "depositCap", *req.DepositCap)
		if !ok {
			return
		}
		err := s.protocol.ExecuteVault("setDepositCap", pid, func(c *controller.Controller) error { return c.SetDepositCap(caller, limit) })
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	}
	if req.WithdrawFeeBps != nil {
		err := s.protocol.ExecuteVault("setWithdrawFee", pid, func(c *controller.Controller) error { return c.SetWithdrawFee(caller, *req.WithdrawFeeBps) })
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	}
	info, err := s.protocol.VaultInfo(pid)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleEmission(w http.ResponseWriter, r *http.Request) {
	var req amountResponse
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := amountField(w, "amount", req.Amount)
	if !ok {
		return
	}
	caller, _ := Caller(r.Context())
	s.respondDone(w, s.protocol.ExecuteFarm("setEmissionPerBlock", func(f *farm.Farm) error {
		return f.SetEmissionPerBlock(caller, amount)
	}))
}

func (s *Server) respondDone(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func pidParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "pid")
	pid, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid pool id %q", raw))
		return 0, false
	}
	return pid, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return false
	}
	return true
}

func amountField(w http.ResponseWriter, name, value string) (*big.Int, bool) {
	amount, err := config.ParseAmount(value)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%s: %w", name, err))
		return nil, false
	}
	return amount, true
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func lowerHex(addr common.Address) string {
	if addr == (common.Address{}) {
		return ""
	}
	return "0x" + hex.EncodeToString(addr.Bytes())
}
