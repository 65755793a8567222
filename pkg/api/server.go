package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/creditswap/pkg/abci"
	"github.com/uhyunpark/creditswap/pkg/app/core/exchange"
	"github.com/uhyunpark/creditswap/pkg/app/core/mempool"
	"github.com/uhyunpark/creditswap/pkg/app/core/transaction"
	"github.com/uhyunpark/creditswap/pkg/app/escrow"
	"github.com/uhyunpark/creditswap/pkg/metrics"
)

const maxBodyBytes = 64 << 10

// Ledger is the balance view served by the accounts endpoints
type Ledger interface {
	NativeBalance(addr common.Address) int64
	TokenBalance(token, addr common.Address) int64
}

// Faucet credits devnet funds
type Faucet interface {
	Deposit(addr common.Address, amount int64) error
	Mint(token, addr common.Address, amount int64) error
}

type Config struct {
	Addr        string
	ChainID     int64
	CORSOrigins []string
	Registry    *prometheus.Registry // served on /metrics when set
	Faucet      Faucet               // POST /api/v1/faucet is routed only when set
	Logger      *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections
type Server struct {
	app    *escrow.App
	ledger Ledger
	cfg    Config
	router *mux.Router
	hub    *Hub
	logger *zap.SugaredLogger
	http   *http.Server
}

func NewServer(app *escrow.App, ledger Ledger, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		app:    app,
		ledger: ledger,
		cfg:    cfg,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		logger: logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Transactions
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/tx/{hash}", s.handleGetTx).Methods("GET")

	// Orders
	api.HandleFunc("/orders", s.handleGetActiveOrders).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}/escrow", s.handleGetEscrow).Methods("GET")
	api.HandleFunc("/orders/{id}/fills", s.handleGetFills).Methods("GET")
	api.HandleFunc("/orders/{id}/fills/{seq}", s.handleGetFill).Methods("GET")

	// Accounts
	api.HandleFunc("/accounts/{address}/orders", s.handleGetAccountOrders).Methods("GET")
	api.HandleFunc("/accounts/{address}/balances", s.handleGetBalances).Methods("GET")

	api.HandleFunc("/exchange", s.handleGetExchange).Methods("GET")

	if s.cfg.Faucet != nil {
		api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")
	}

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.cfg.Registry != nil {
		s.router.Handle("/metrics", metrics.Handler(s.cfg.Registry)).Methods("GET")
	}
}

// Handler is the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

func (s *Server) Hub() *Hub { return s.hub }

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	s.http = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Infow("api_listening", "addr", s.cfg.Addr, "faucet", s.cfg.Faucet != nil)
		errc <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}

	hash, err := s.app.SubmitTx(body)
	if err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, transaction.ErrBadSignature):
			status = http.StatusUnauthorized
		case errors.Is(err, escrow.ErrStaleNonce), errors.Is(err, escrow.ErrDuplicate):
			status = http.StatusConflict
		case errors.Is(err, mempool.ErrFull):
			status = http.StatusServiceUnavailable
		}
		respondError(w, status, "transaction rejected", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitTxResponse{Status: "pending", Hash: hash.Hex()})
}

func (s *Server) handleGetTx(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["hash"]
	b, err := hexBytes(raw)
	if err != nil || len(b) != common.HashLength {
		respondError(w, http.StatusBadRequest, "invalid hash", raw)
		return
	}
	hash := common.BytesToHash(b)

	if rec, ok := s.app.Receipt(hash); ok {
		respondJSON(w, TxStatus{Hash: hash.Hex(), Status: "executed", Receipt: &rec})
		return
	}
	if s.app.IsPending(hash) {
		respondJSON(w, TxStatus{Hash: hash.Hex(), Status: "pending"})
		return
	}
	respondError(w, http.StatusNotFound, "transaction not found", hash.Hex())
}

func (s *Server) handleGetActiveOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.app.Exchange().ActiveOrders()
	out := make([]OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = newOrderInfo(o)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDVar(w, r)
	if !ok {
		return
	}
	o, found := s.app.Exchange().GetOrderDetails(id)
	if !found {
		respondExchangeError(w, exchange.ErrOrderNotFound)
		return
	}
	respondJSON(w, newOrderInfo(o))
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDVar(w, r)
	if !ok {
		return
	}
	e, found := s.app.Exchange().GetEscrow(id)
	if !found {
		respondError(w, http.StatusNotFound, "no escrow for order", strconv.FormatUint(id, 10))
		return
	}
	respondJSON(w, EscrowInfo{OrderID: e.OrderID, EscrowedAmount: e.EscrowedAmount})
}

func (s *Server) handleGetFills(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDVar(w, r)
	if !ok {
		return
	}
	fills := s.app.Exchange().GetOrderFills(id)
	out := make([]FillInfo, len(fills))
	for i, f := range fills {
		out[i] = newFillInfo(f)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetFill(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDVar(w, r)
	if !ok {
		return
	}
	seq, err := strconv.ParseUint(mux.Vars(r)["seq"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid fill sequence", err.Error())
		return
	}
	f, found := s.app.Exchange().GetOrderHistory(id, seq)
	if !found {
		respondError(w, http.StatusNotFound, "fill not found", fmt.Sprintf("order %d seq %d", id, seq))
		return
	}
	respondJSON(w, newFillInfo(f))
}

func (s *Server) handleGetAccountOrders(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r)
	if !ok {
		return
	}
	respondJSON(w, AccountOrders{
		Address:  addr.Hex(),
		OrderIDs: s.app.Exchange().GetUserOrders(addr),
	})
}

// handleGetBalances returns the native balance, and credits of each
// ?token= contract given
func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r)
	if !ok {
		return
	}
	info := BalanceInfo{
		Address: addr.Hex(),
		Native:  s.ledger.NativeBalance(addr),
		Nonce:   s.app.Nonce(addr),
	}
	if tokens := r.URL.Query()["token"]; len(tokens) > 0 {
		info.Tokens = make(map[string]int64, len(tokens))
		for _, t := range tokens {
			if !common.IsHexAddress(t) {
				respondError(w, http.StatusBadRequest, "invalid token address", t)
				return
			}
			token := common.HexToAddress(t)
			info.Tokens[token.Hex()] = s.ledger.TokenBalance(token, addr)
		}
	}
	respondJSON(w, info)
}

func (s *Server) handleGetExchange(w http.ResponseWriter, r *http.Request) {
	x := s.app.Exchange()
	cfg := x.Config()
	respondJSON(w, ExchangeInfo{
		ChainID:            s.cfg.ChainID,
		Admin:              x.GetAdmin().Hex(),
		Custody:            cfg.Custody.Hex(),
		CommunityFund:      cfg.CommunityFund.Hex(),
		Treasury:           cfg.Treasury.Hex(),
		FeePercent:         cfg.FeePercent,
		MaxOrdersPerUser:   cfg.MaxOrdersPerUser,
		Paused:             x.IsPaused(),
		NextOrderID:        x.GetNextOrderID(),
		TotalFeesCollected: x.GetTotalFees(),
		ActiveOrders:       len(x.ActiveOrders()),
		Height:             s.app.Height(),
		MempoolSize:        s.app.MempoolSize(),
	})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondError(w, http.StatusBadRequest, "invalid address", req.Address)
		return
	}
	addr := common.HexToAddress(req.Address)

	var err error
	if req.Token == "" {
		err = s.cfg.Faucet.Deposit(addr, req.Amount)
	} else {
		if !common.IsHexAddress(req.Token) {
			respondError(w, http.StatusBadRequest, "invalid token address", req.Token)
			return
		}
		err = s.cfg.Faucet.Mint(common.HexToAddress(req.Token), addr, req.Amount)
	}
	if err != nil {
		respondExchangeError(w, err)
		return
	}

	s.logger.Infow("faucet_credited", "address", addr.Hex(), "token", req.Token, "amount", req.Amount)
	respondJSON(w, map[string]string{"status": "credited"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]interface{}{"status": "ok", "height": s.app.Height()})
}

// ==============================
// Broadcast Methods
// ==============================

// OnEvent pushes an exchange event to WebSocket subscribers
func (s *Server) OnEvent(ev exchange.Event) {
	switch ev.Kind {
	case exchange.EventOrderCreated, exchange.EventOrderCancelled, exchange.EventOrderFilled:
		if ev.Order == nil {
			return
		}
		update := OrderUpdate{Type: "order", Seq: ev.Seq, Event: string(ev.Kind), Order: newOrderInfo(*ev.Order)}
		s.hub.BroadcastToChannel("orders", update)
		s.hub.BroadcastToChannel(orderChannel(ev.Order.ID), update)
		s.hub.BroadcastToChannel(accountChannel(ev.Order.Seller), update)

		if ev.Fill != nil {
			fill := FillUpdate{Type: "fill", Seq: ev.Seq, Fill: newFillInfo(*ev.Fill)}
			s.hub.BroadcastToChannel("fills", fill)
			s.hub.BroadcastToChannel(orderChannel(ev.Order.ID), fill)
			s.hub.BroadcastToChannel(accountChannel(ev.Fill.Buyer), fill)
		}
	default:
		update := ExchangeUpdate{Type: "exchange", Seq: ev.Seq, Event: string(ev.Kind), Actor: ev.Actor.Hex(), Amount: ev.Amount}
		if ev.NewAdmin != (common.Address{}) {
			update.NewAdmin = ev.NewAdmin.Hex()
		}
		if ev.Recipient != (common.Address{}) {
			update.Recipient = ev.Recipient.Hex()
		}
		s.hub.BroadcastToChannel("exchange", update)
	}
}

// OnReceipt tells the sender's account channel how its transaction ended
func (s *Server) OnReceipt(r escrow.Receipt) {
	if r.Sender == (common.Address{}) {
		return
	}
	s.hub.BroadcastToChannel(accountChannel(r.Sender), TxUpdate{Type: "tx", Receipt: r})
}

// OnCommit announces a finalized block
func (s *Server) OnCommit(height, timestamp int64, appHash abci.Hash) {
	s.hub.BroadcastToChannel("blocks", BlockUpdate{
		Type:      "block",
		Height:    height,
		Timestamp: timestamp,
		AppHash:   fmt.Sprintf("0x%x", appHash[:]),
	})
}

func orderChannel(id uint64) string { return "order:" + strconv.FormatUint(id, 10) }

func accountChannel(addr common.Address) string { return "account:" + addr.Hex() }

// ==============================
// Helper Functions
// ==============================

func orderIDVar(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		respondExchangeError(w, fmt.Errorf("%w: %q", exchange.ErrInvalidOrderID, raw))
		return 0, false
	}
	return id, true
}

func addressVar(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid address", raw)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func hexBytes(s string) ([]byte, error) {
	if !has0xPrefix(s) {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

// statusFor maps an exchange error kind to an HTTP status
func statusFor(code exchange.Code) int {
	switch code {
	case exchange.CodeUnauthorized, exchange.CodeNotOwner:
		return http.StatusForbidden
	case exchange.CodeOrderNotFound:
		return http.StatusNotFound
	case exchange.CodeInvalidAmount, exchange.CodeInvalidPrice, exchange.CodeInvalidRecipient,
		exchange.CodeInvalidOrderID, exchange.CodeFeeTooHigh:
		return http.StatusBadRequest
	case exchange.CodeOrderNotActive, exchange.CodePaused, exchange.CodeTooManyOrders,
		exchange.CodeAlreadyExists, exchange.CodeInsufficientFunds:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondExchangeError(w http.ResponseWriter, err error) {
	code := exchange.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(code))
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: err.Error(),
		Code:  code.String(),
	})
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
