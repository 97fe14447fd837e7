package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/round-engine/internal/round-engine/dto"
	"github.com/radieske/round-engine/internal/round-engine/ledger"
	"github.com/radieske/round-engine/internal/round-engine/orchestrator"
	"github.com/radieske/round-engine/internal/round-engine/ratelimit"
	"github.com/radieske/round-engine/internal/round-engine/scheduler"
	"github.com/radieske/round-engine/internal/round-engine/wagering"
	"github.com/radieske/round-engine/pkg/contracts/events"
)

type Rounds interface {
	Snapshot() scheduler.Snapshot
}

type Ledger interface {
	GetBalance(accountID string) decimal.Decimal
	Account(accountID string) (ledger.Account, error)
	History(accountID string) []ledger.Transaction
	Credit(ctx context.Context, accountID string, amount decimal.Decimal, reason, operator string) (decimal.Decimal, error)
	Debit(ctx context.Context, accountID string, amount decimal.Decimal, reason string, allowNegative bool) ledger.DebitResult
}

type Trustees interface {
	Register(accountID, groupID, customTemplate string) bool
	Deregister(accountID string) bool
	Registrations() []wagering.TrusteeRegistration
}

type Settler interface {
	Settle(ctx context.Context, groupID string, roundID int64, payouts []orchestrator.Payout) error
}

type Quota interface {
	Stats() ratelimit.Stats
}

// ResultSource é opcional: quando presente, /v1/round inclui o último resultado anunciado
type ResultSource interface {
	LastResult() (events.DrawResult, bool)
}

type Deps struct {
	Rounds   Rounds
	Ledger   Ledger
	Trustees Trustees
	Settler  Settler
	Quota    Quota
	Results  ResultSource
	// WS recebe o upgrade do feed de fases em /ws
	WS http.HandlerFunc
}

// Server expõe a API administrativa do round-engine
type Server struct {
	log *zap.Logger
	d   Deps
}

func NewServer(log *zap.Logger, d Deps) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{log: log, d: d}
}

// Router retorna o roteador chi com as rotas administrativas
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/round", s.getRound)
	r.Get("/v1/accounts/{id}", s.getAccount)
	r.Get("/v1/accounts/{id}/transactions", s.listTransactions)
	r.Post("/v1/accounts/{id}/credit", s.credit)
	r.Post("/v1/accounts/{id}/debit", s.debit)
	r.Get("/v1/trustees", s.listTrustees)
	r.Post("/v1/trustees", s.registerTrustee)
	r.Delete("/v1/trustees/{id}", s.deregisterTrustee)
	r.Post("/v1/groups/{group}/settle", s.settle)
	r.Get("/v1/ratelimit", s.rateLimit)
	if s.d.WS != nil {
		r.Get("/ws", s.d.WS)
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, dto.ErrorResponse{Error: msg})
}

func (s *Server) getRound(w http.ResponseWriter, r *http.Request) {
	snap := s.d.Rounds.Snapshot()
	resp := dto.RoundResponse{
		RoundID:          snap.RoundID,
		Phase:            string(snap.Phase),
		CountdownSeconds: int64(snap.Countdown.Seconds()),
		SecondsToSeal:    int64(snap.SecondsToSeal.Seconds()),
	}
	if s.d.Results != nil {
		if res, ok := s.d.Results.LastResult(); ok {
			resp.LastResult = &res
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// getAccount responde saldo zero para conta desconhecida, como o ledger
func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resp := dto.AccountResponse{AccountID: id, Balance: s.d.Ledger.GetBalance(id)}
	if acc, err := s.d.Ledger.Account(id); err == nil {
		resp.Balance = acc.Balance
		resp.TotalCredits = &acc.TotalCredits
		resp.TotalDebits = &acc.TotalDebits
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	txs := s.d.Ledger.History(chi.URLParam(r, "id"))
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// decodeAmount lê o corpo e valida o valor decimal
func decodeAmount(r *http.Request) (dto.AmountRequest, decimal.Decimal, error) {
	var req dto.AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, decimal.Zero, errors.New("bad json")
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		return req, decimal.Zero, errors.New("invalid amount")
	}
	if strings.TrimSpace(req.Reason) == "" {
		return req, decimal.Zero, errors.New("reason required")
	}
	return req, amount, nil
}

func (s *Server) credit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, amount, err := decodeAmount(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	operator := req.Operator
	if operator == "" {
		operator = "admin"
	}
	bal, err := s.d.Ledger.Credit(r.Context(), id, amount, req.Reason, operator)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ledger.ErrInvalidAmount) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, dto.BalanceResponse{AccountID: id, Balance: bal, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, dto.BalanceResponse{AccountID: id, OK: true, Balance: bal})
}

// debit com saldo insuficiente responde 409 com ok=false e o saldo inalterado
func (s *Server) debit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, amount, err := decodeAmount(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res := s.d.Ledger.Debit(r.Context(), id, amount, req.Reason, req.AllowNegative)
	resp := dto.BalanceResponse{AccountID: id, OK: res.OK, Balance: res.Balance}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	switch {
	case res.OK:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(res.Err, ledger.ErrInsufficientFunds):
		writeJSON(w, http.StatusConflict, resp)
	case errors.Is(res.Err, ledger.ErrInvalidAmount):
		writeJSON(w, http.StatusBadRequest, resp)
	default:
		s.log.Error("debit failed", zap.String("account", id), zap.Error(res.Err))
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func (s *Server) listTrustees(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.d.Trustees.Registrations())
}

func (s *Server) registerTrustee(w http.ResponseWriter, r *http.Request) {
	var req dto.TrusteeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.AccountID == "" || req.GroupID == "" {
		writeError(w, http.StatusBadRequest, "account_id and group_id required")
		return
	}
	if !s.d.Trustees.Register(req.AccountID, req.GroupID, req.CustomTemplate) {
		writeError(w, http.StatusConflict, "trustee already registered")
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) deregisterTrustee(w http.ResponseWriter, r *http.Request) {
	if !s.d.Trustees.Deregister(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "trustee not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) settle(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	var req dto.SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.RoundID <= 0 {
		writeError(w, http.StatusBadRequest, "round_id required")
		return
	}
	payouts := make([]orchestrator.Payout, 0, len(req.Payouts))
	for _, p := range req.Payouts {
		amount, err := decimal.NewFromString(p.Amount)
		if err != nil || p.AccountID == "" {
			writeError(w, http.StatusBadRequest, "invalid payout for "+p.AccountID)
			return
		}
		payouts = append(payouts, orchestrator.Payout{AccountID: p.AccountID, Amount: amount})
	}

	err := s.d.Settler.Settle(r.Context(), group, req.RoundID, payouts)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"group": group, "round_id": req.RoundID, "payouts": len(payouts)})
	case errors.Is(err, orchestrator.ErrUnknownGroup):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrRoundNotSealed), errors.Is(err, orchestrator.ErrAlreadySettled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrSettlementExpired):
		writeError(w, http.StatusGone, err.Error())
	default:
		s.log.Error("settle failed", zap.String("group", group), zap.Int64("round", req.RoundID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) rateLimit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.d.Quota.Stats())
}
