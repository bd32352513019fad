// api/server.go

// HTTP REST surface for relayers and orchestrators
// Read endpoints expose vault, batch, request, pool and proposal state;
// mutating endpoints drive the batch lifecycle and settlement flow
// Uses Gorilla Mux for routing, includes CORS support and logging middleware
// The engine itself enforces capabilities; this layer only maps errors to
// status codes and never holds protocol state

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/veris-labs/go-kam/core/batch"
	"github.com/veris-labs/go-kam/core/kamerr"
	"github.com/veris-labs/go-kam/core/ledger"
	"github.com/veris-labs/go-kam/core/minter"
	"github.com/veris-labs/go-kam/core/orders"
	"github.com/veris-labs/go-kam/core/pool"
	"github.com/veris-labs/go-kam/core/request"
	"github.com/veris-labs/go-kam/core/settlement"
	vaultpkg "github.com/veris-labs/go-kam/staking/vault"
)

// Server is the HTTP API server for the settlement router
type Server struct {
	ledger   *ledger.Ledger
	batches  *batch.Tracker
	requests *request.Queue
	pools    *pool.Accounting
	engine   *settlement.Engine
	minter   *minter.Minter
	staking  *vaultpkg.StakingVault
	verifier *orders.Verifier

	router *mux.Router
	server *http.Server
	addr   string
	cors   bool
}

// Deps bundles the server's collaborators
type Deps struct {
	Ledger   *ledger.Ledger
	Batches  *batch.Tracker
	Requests *request.Queue
	Pools    *pool.Accounting
	Engine   *settlement.Engine
	Minter   *minter.Minter
	Staking  *vaultpkg.StakingVault
	Verifier *orders.Verifier
}

// NewServer creates the API server
func NewServer(addr string, enableCORS bool, deps Deps) *Server {
	s := &Server{
		ledger:   deps.Ledger,
		batches:  deps.Batches,
		requests: deps.Requests,
		pools:    deps.Pools,
		engine:   deps.Engine,
		minter:   deps.Minter,
		staking:  deps.Staking,
		verifier: deps.Verifier,
		addr:     addr,
		cors:     enableCORS,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Vault endpoints
	api.HandleFunc("/vault/{vault}/batch/current", s.getCurrentBatch).Methods("GET")
	api.HandleFunc("/vault/{vault}/batch/{id}", s.getBatch).Methods("GET")
	api.HandleFunc("/vault/{vault}/batch/{id}/requests", s.getBatchRequests).Methods("GET")
	api.HandleFunc("/vault/{vault}/pool", s.getPool).Methods("GET")
	api.HandleFunc("/vault/{vault}/share-price", s.getSharePrice).Methods("GET")

	// Request endpoints
	api.HandleFunc("/request/{id}", s.getRequest).Methods("GET")
	api.HandleFunc("/user/{user}/requests", s.getUserRequests).Methods("GET")

	// Token endpoints
	api.HandleFunc("/asset/{asset}/supply", s.getTotalSupply).Methods("GET")
	api.HandleFunc("/asset/{asset}/balance/{holder}", s.getBalance).Methods("GET")

	// Settlement endpoints
	api.HandleFunc("/proposal/{id}", s.getProposal).Methods("GET")
	api.HandleFunc("/batch/close", s.postCloseBatch).Methods("POST")
	api.HandleFunc("/settlement/propose", s.postPropose).Methods("POST")
	api.HandleFunc("/settlement/execute", s.postExecute).Methods("POST")
	api.HandleFunc("/settlement/cancel", s.postCancel).Methods("POST")

	// Institutional and retail flows
	api.HandleFunc("/mint", s.postMint).Methods("POST")
	api.HandleFunc("/redeem", s.postRedeem).Methods("POST")
	api.HandleFunc("/stake", s.postStake).Methods("POST")
	api.HandleFunc("/unstake", s.postUnstake).Methods("POST")
	api.HandleFunc("/request/cancel", s.postCancelRequest).Methods("POST")
	api.HandleFunc("/request/claim", s.postClaim).Methods("POST")

	// Signed order envelopes
	api.HandleFunc("/order", s.postOrder).Methods("POST")

	// Status endpoints
	api.HandleFunc("/health", s.getHealth).Methods("GET")

	if s.cors {
		c := cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		})
		s.router.Use(c.Handler)
	}

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.jsonMiddleware)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("API server starting on %s", s.addr)
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// Vault endpoints

func (s *Server) getCurrentBatch(w http.ResponseWriter, r *http.Request) {
	vault := mux.Vars(r)["vault"]

	id, err := s.batches.CurrentBatchID(vault)
	if err != nil {
		s.writeError(w, err)
		return
	}

	b, err := s.batches.Get(vault, id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, b)
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	id, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		s.writeError(w, errors.New("invalid batch id"))
		return
	}

	b, err := s.batches.Get(vars["vault"], id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, b)
}

func (s *Server) getBatchRequests(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	id, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		s.writeError(w, errors.New("invalid batch id"))
		return
	}

	requests := s.requests.BatchRequests(vars["vault"], id)
	s.writeJSON(w, map[string]interface{}{
		"requests": requests,
		"count":    len(requests),
	})
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	vault := mux.Vars(r)["vault"]

	institutional, user, err := s.pools.Totals(vault)
	if err != nil {
		s.writeError(w, err)
		return
	}

	lastObserved, settled := s.engine.LastObserved(vault)

	s.writeJSON(w, map[string]interface{}{
		"vault":                vault,
		"institutional_assets": institutional,
		"user_assets":          user,
		"last_observed":        lastObserved,
		"has_settled":          settled,
	})
}

func (s *Server) getSharePrice(w http.ResponseWriter, r *http.Request) {
	vault := mux.Vars(r)["vault"]

	price, err := s.pools.SharePrice(vault)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"vault":       vault,
		"share_price": price.String(),
		"scale":       strconv.FormatInt(pool.PriceScale, 10),
	})
}

// Request endpoints

func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.requests.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, req)
}

func (s *Server) getUserRequests(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]

	requests := s.requests.UserRequests(user)
	s.writeJSON(w, map[string]interface{}{
		"user":     user,
		"requests": requests,
		"count":    len(requests),
	})
}

// Token endpoints

func (s *Server) getTotalSupply(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["asset"]

	s.writeJSON(w, map[string]interface{}{
		"asset":        asset,
		"total_supply": s.ledger.TotalSupply(asset),
	})
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	s.writeJSON(w, map[string]interface{}{
		"asset":   vars["asset"],
		"holder":  vars["holder"],
		"balance": s.ledger.BalanceOf(vars["asset"], vars["holder"]),
	})
}

// Settlement endpoints

func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Proposal(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, p)
}

type closeBatchRequest struct {
	Actor      string `json:"actor"`
	Vault      string `json:"vault"`
	BatchID    uint64 `json:"batch_id"`
	CreateNext bool   `json:"create_next"`
}

func (s *Server) postCloseBatch(w http.ResponseWriter, r *http.Request) {
	var body closeBatchRequest
	if !s.decode(w, r, &body) {
		return
	}

	if err := s.engine.CloseBatch(body.Actor, body.Vault, body.BatchID, body.CreateNext); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, map[string]interface{}{"closed": body.BatchID})
}

type proposeRequest struct {
	Actor               string `json:"actor"`
	Asset               string `json:"asset"`
	Vault               string `json:"vault"`
	BatchID             uint64 `json:"batch_id"`
	ObservedTotalAssets int64  `json:"observed_total_assets"`
	Netted              int64  `json:"netted"`
	YieldAmount         int64  `json:"yield_amount"`
	IsProfit            bool   `json:"is_profit"`
}

func (s *Server) postPropose(w http.ResponseWriter, r *http.Request) {
	var body proposeRequest
	if !s.decode(w, r, &body) {
		return
	}

	id, err := s.engine.ProposeSettleBatch(body.Actor, body.Asset, body.Vault, body.BatchID,
		body.ObservedTotalAssets, body.Netted, body.YieldAmount, body.IsProfit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, map[string]interface{}{"proposal_id": id})
}

type proposalActionRequest struct {
	Actor      string `json:"actor"`
	ProposalID string `json:"proposal_id"`
}

func (s *Server) postExecute(w http.ResponseWriter, r *http.Request) {
	var body proposalActionRequest
	if !s.decode(w, r, &body) {
		return
	}

	if err := s.engine.ExecuteSettleBatch(body.Actor, body.ProposalID); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, map[string]interface{}{"executed": body.ProposalID})
}

func (s *Server) postCancel(w http.ResponseWriter, r *http.Request) {
	var body proposalActionRequest
	if !s.decode(w, r, &body) {
		return
	}

	if err := s.engine.CancelProposal(body.Actor, body.ProposalID); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, map[string]interface{}{"cancelled": body.ProposalID})
}

// Institutional and retail flows

type flowRequest struct {
	Actor     string `json:"actor"`
	Vault     string `json:"vault"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
}

func (s *Server) postMint(w http.ResponseWriter, r *http.Request) {
	var body flowRequest
	if !s.decode(w, r, &body) {
		return
	}

	req, err := s.minter.Mint(body.Actor, body.Vault, body.Amount, body.Recipient)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, req)
}

func (s *Server) postRedeem(w http.ResponseWriter, r *http.Request) {
	var body flowRequest
	if !s.decode(w, r, &body) {
		return
	}

	req, err := s.minter.RequestRedeem(body.Actor, body.Vault, body.Amount, body.Recipient)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, req)
}

func (s *Server) postStake(w http.ResponseWriter, r *http.Request) {
	var body flowRequest
	if !s.decode(w, r, &body) {
		return
	}

	req, err := s.staking.RequestStake(body.Actor, body.Vault, body.Amount, body.Recipient)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, req)
}

func (s *Server) postUnstake(w http.ResponseWriter, r *http.Request) {
	var body flowRequest
	if !s.decode(w, r, &body) {
		return
	}

	req, err := s.staking.RequestUnstake(body.Actor, body.Vault, body.Amount, body.Recipient)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, req)
}

type requestActionRequest struct {
	Actor     string `json:"actor"`
	RequestID string `json:"request_id"`
}

func (s *Server) postCancelRequest(w http.ResponseWriter, r *http.Request) {
	var body requestActionRequest
	if !s.decode(w, r, &body) {
		return
	}

	req, err := s.requests.Get(body.RequestID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	switch req.Kind {
	case request.Redeem:
		err = s.minter.CancelRedeem(body.Actor, body.RequestID)
	default:
		err = s.staking.Cancel(body.Actor, body.RequestID)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, map[string]interface{}{"cancelled": body.RequestID})
}

func (s *Server) postClaim(w http.ResponseWriter, r *http.Request) {
	var body requestActionRequest
	if !s.decode(w, r, &body) {
		return
	}

	req, err := s.requests.Get(body.RequestID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	switch req.Kind {
	case request.Redeem:
		err = s.minter.Claim(body.Actor, body.RequestID)
	default:
		err = s.staking.Claim(body.Actor, body.RequestID)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, map[string]interface{}{"claimed": body.RequestID})
}

// Signed order envelopes

type orderPayload struct {
	Action    string `json:"action"`
	Vault     string `json:"vault"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
}

// postOrder accepts a signed command envelope. The signature binds the
// signer to the payload, so the signer is the acting party; capability
// checks still happen downstream.
func (s *Server) postOrder(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		s.writeStatusError(w, "signed orders are not enabled", http.StatusNotImplemented)
		return
	}

	var o orders.Order
	if !s.decode(w, r, &o) {
		return
	}

	if err := s.verifier.Verify(&o); err != nil {
		s.writeStatusError(w, err.Error(), http.StatusUnauthorized)
		return
	}

	var p orderPayload
	if err := json.Unmarshal(o.Payload, &p); err != nil {
		s.writeStatusError(w, "invalid order payload", http.StatusBadRequest)
		return
	}

	var result interface{}
	var err error
	switch p.Action {
	case "mint":
		result, err = s.minter.Mint(o.Signer, p.Vault, p.Amount, p.Recipient)
	case "redeem":
		result, err = s.minter.RequestRedeem(o.Signer, p.Vault, p.Amount, p.Recipient)
	case "stake":
		result, err = s.staking.RequestStake(o.Signer, p.Vault, p.Amount, p.Recipient)
	case "unstake":
		result, err = s.staking.RequestUnstake(o.Signer, p.Vault, p.Amount, p.Recipient)
	default:
		s.writeStatusError(w, "unknown order action "+p.Action, http.StatusBadRequest)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, result)
}

// Status endpoints

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"vaults":    len(s.batches.Vaults()),
	})
}

// Helper methods

func (s *Server) decode(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		s.writeStatusError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeStatusError(w, err.Error(), statusFor(err))
}

func (s *Server) writeStatusError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":     message,
		"status":    statusCode,
		"timestamp": time.Now().Unix(),
	})
}

// statusFor maps the protocol error taxonomy to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, kamerr.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, kamerr.ErrRequestNotFound),
		errors.Is(err, kamerr.ErrProposalNotFound),
		errors.Is(err, kamerr.ErrVaultNotFound),
		errors.Is(err, kamerr.ErrAssetNotRegistered):
		return http.StatusNotFound
	case errors.Is(err, kamerr.ErrSettlementTooEarly):
		return http.StatusTooEarly
	case errors.Is(err, kamerr.ErrProposalAlreadyExecuted),
		errors.Is(err, kamerr.ErrProposalCancelled),
		errors.Is(err, kamerr.ErrBatchAlreadySettled),
		errors.Is(err, kamerr.ErrBatchClosed),
		errors.Is(err, kamerr.ErrRequestNotPending):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)

		log.Printf("%s %s %d %v", r.Method, r.URL.Path, lrw.statusCode, time.Since(start))
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}
