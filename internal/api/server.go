package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"mortgage-exchange/internal/db"
	"mortgage-exchange/internal/engine"
	"mortgage-exchange/internal/metrics"
	"mortgage-exchange/internal/model"
	"mortgage-exchange/internal/ws"
)

type Server struct {
	store   *db.Store
	manager *engine.Manager
	hub     *ws.Hub
	secret  []byte
}

func NewServer(store *db.Store, mgr *engine.Manager, hub *ws.Hub, secret string) *Server {
	return &Server{store: store, manager: mgr, hub: hub, secret: []byte(secret)}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	// Health
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json200(w, map[string]string{"status": "ok"})
	})

	// Prometheus
	r.Handle("/metrics", metrics.Handler())

	// Auth (public)
	r.Post("/api/register", s.register)
	r.Post("/api/login", s.login)

	// WebSocket
	r.Get("/ws", s.hub.HandleWS)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		// Wallet
		r.Get("/api/wallet", s.getWallet)

		// Pools
		r.Get("/api/pools", s.listPools)
		r.Get("/api/pools/{id}", s.getPool)
		r.Get("/api/pools/{id}/queues", s.getQueues)
		r.Get("/api/pools/{id}/shares", s.getShares)
		r.Post("/api/pools/{id}/deposit", s.deposit)

		// Withdrawal claims
		r.Post("/api/pools/{id}/claims", s.enqueueClaim)
		r.Delete("/api/pools/{id}/claims/{index}", s.cancelClaim)

		// Position queue
		r.Post("/api/pools/{id}/positions", s.insertPosition)
		r.Delete("/api/pools/{id}/positions/{tokenID}", s.removePosition)

		// Matching
		r.Post("/api/pools/{id}/process", s.process)

		// Loans
		r.Get("/api/loans/{tokenID}", s.getLoan)
		r.Post("/api/loans/{tokenID}/pay", s.payLoan)
		r.Post("/api/loans/{tokenID}/pay-penalty", s.payPenalty)
		r.Post("/api/loans/{tokenID}/redeem", s.redeemLoan)
		r.Post("/api/loans/{tokenID}/refinance", s.refinanceLoan)
		r.Post("/api/loans/{tokenID}/expand", s.expandLoan)
		r.Post("/api/loans/{tokenID}/accrue", s.accrueLoan)

		// Admin
		r.Group(func(r chi.Router) {
			r.Use(s.adminOnly)
			r.Post("/api/admin/pools", s.createPool)
			r.Post("/api/admin/pools/{id}/loans", s.originateLoan)
			r.Post("/api/admin/pools/{id}/price", s.markPrice)
			r.Post("/api/admin/loans/{tokenID}/foreclose", s.forecloseLoan)
			r.Post("/api/admin/deposit", s.adminDeposit)
			r.Get("/api/admin/events", s.listEvents)
			r.Get("/api/admin/platform-fees", s.platformFees)
		})
	})

	return r
}

// ── Auth ─────────────────────────────────────────────

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.Email == "" || len(req.Password) < 6 {
		jsonErr(w, 400, "email and password (min 6 chars) required")
		return
	}

	existing, _ := s.store.GetUserByEmail(r.Context(), req.Email)
	if existing != nil {
		jsonErr(w, 409, "email already registered")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		jsonErr(w, 500, "hash failed")
		return
	}

	user, err := s.store.CreateUser(r.Context(), req.Email, string(hash), model.RoleUser)
	if err != nil {
		jsonErr(w, 500, "create user failed: "+err.Error())
		return
	}
	if err := s.store.CreateWallet(r.Context(), user.ID); err != nil {
		jsonErr(w, 500, "create wallet failed")
		return
	}

	token := s.makeToken(user.ID, user.Role)
	json200(w, map[string]any{"user": user, "token": token})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil || user == nil {
		jsonErr(w, 401, "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		jsonErr(w, 401, "invalid credentials")
		return
	}

	token := s.makeToken(user.ID, user.Role)
	json200(w, map[string]any{"user": user, "token": token})
}

func (s *Server) makeToken(userID string, role model.Role) string {
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": string(role),
		"exp":  time.Now().Add(72 * time.Hour).Unix(),
	}
	t, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	return t
}

// ── Middleware ────────────────────────────────────────

type ctxKey string

const (
	ctxUserID ctxKey = "userID"
	ctxRole   ctxKey = "role"
)

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			jsonErr(w, 401, "missing token")
			return
		}
		tokenStr := strings.TrimPrefix(auth, "Bearer ")
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return s.secret, nil
		})
		if err != nil || !token.Valid {
			jsonErr(w, 401, "invalid token")
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			jsonErr(w, 401, "invalid claims")
			return
		}
		userID, _ := claims["sub"].(string)
		role, _ := claims["role"].(string)
		ctx := context.WithValue(r.Context(), ctxUserID, userID)
		ctx = context.WithValue(ctx, ctxRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, _ := r.Context().Value(ctxRole).(string)
		if role != string(model.RoleAdmin) {
			jsonErr(w, 403, "admin only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ── Wallet ───────────────────────────────────────────

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	wallet, err := s.store.GetWallet(r.Context(), uid)
	if err != nil || wallet == nil {
		jsonErr(w, 404, "wallet not found")
		return
	}
	json200(w, wallet)
}

// ── Pools ────────────────────────────────────────────

func (s *Server) listPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.store.ListPools(r.Context())
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if pools == nil {
		pools = []model.Pool{}
	}
	json200(w, pools)
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	json200(w, eng.Pool())
}

func (s *Server) getQueues(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	json200(w, eng.Queues())
}

func (s *Server) getShares(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	eng, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	json200(w, map[string]any{"account": uid, "shares": eng.ShareBalance(uid).String()})
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	eng, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	amount, ok2 := parseAmount(req.Amount)
	if !ok2 {
		jsonErr(w, 400, "amount must be a positive integer")
		return
	}
	shares, err := eng.Deposit(uid, amount)
	if err != nil {
		opErr(w, err)
		return
	}
	json200(w, map[string]any{"shares_minted": shares.String()})
}

// ── Claims ───────────────────────────────────────────

func (s *Server) enqueueClaim(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	eng, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	var req model.EnqueueClaimReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	amount, ok2 := parseAmount(req.Amount)
	if !ok2 {
		jsonErr(w, 400, "amount must be a positive integer")
		return
	}
	claim, err := eng.EnqueueClaim(uid, amount)
	if err != nil {
		opErr(w, err)
		return
	}
	w.WriteHeader(201)
	json.NewEncoder(w).Encode(claim)
}

func (s *Server) cancelClaim(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	eng, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		jsonErr(w, 400, "bad claim index")
		return
	}
	if err := eng.CancelClaim(uid, index); err != nil {
		opErr(w, err)
		return
	}
	json200(w, map[string]string{"status": "cancelled"})
}

// ── Positions ────────────────────────────────────────

func (s *Server) insertPosition(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	eng, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	var req model.InsertPositionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if err := eng.InsertPosition(uid, req); err != nil {
		opErr(w, err)
		return
	}
	w.WriteHeader(201)
	json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
}

func (s *Server) removePosition(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	eng, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	tokenID, err := strconv.ParseUint(chi.URLParam(r, "tokenID"), 10, 64)
	if err != nil {
		jsonErr(w, 400, "bad token id")
		return
	}
	if err := eng.RemovePosition(uid, tokenID); err != nil {
		opErr(w, err)
		return
	}
	json200(w, map[string]string{"status": "removed"})
}

// ── Matching ─────────────────────────────────────────

func (s *Server) process(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	eng, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	var req model.ProcessReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	var price *big.Int
	if req.CurrentPrice != "" {
		// A price override is an admin affordance.
		role, _ := r.Context().Value(ctxRole).(string)
		if role != string(model.RoleAdmin) {
			jsonErr(w, 403, "price override is admin only")
			return
		}
		p, ok2 := parseAmount(req.CurrentPrice)
		if !ok2 {
			jsonErr(w, 400, "bad current_price")
			return
		}
		price = p
	}
	summary, err := eng.Process(uid, req.Iterations, price)
	if err != nil {
		opErr(w, err)
		return
	}
	json200(w, summary)
}

// ── Loans ────────────────────────────────────────────

func (s *Server) getLoan(w http.ResponseWriter, r *http.Request) {
	tokenID, err := strconv.ParseUint(chi.URLParam(r, "tokenID"), 10, 64)
	if err != nil {
		jsonErr(w, 400, "bad token id")
		return
	}
	pos, err := s.store.GetLoan(r.Context(), tokenID)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if pos == nil {
		jsonErr(w, 404, "loan not found")
		return
	}
	json200(w, pos)
}

// engineForLoan resolves the engine owning a loan's pool.
func (s *Server) engineForLoan(w http.ResponseWriter, r *http.Request) (*engine.PoolEngine, uint64, bool) {
	tokenID, err := strconv.ParseUint(chi.URLParam(r, "tokenID"), 10, 64)
	if err != nil {
		jsonErr(w, 400, "bad token id")
		return nil, 0, false
	}
	pos, err := s.store.GetLoan(r.Context(), tokenID)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return nil, 0, false
	}
	if pos == nil {
		jsonErr(w, 404, "loan not found")
		return nil, 0, false
	}
	eng := s.manager.GetEngine(pos.PoolID)
	if eng == nil {
		jsonErr(w, 500, "engine not running")
		return nil, 0, false
	}
	return eng, tokenID, true
}

func (s *Server) payLoan(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	eng, tokenID, ok := s.engineForLoan(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	amount, ok2 := parseAmount(req.Amount)
	if !ok2 {
		jsonErr(w, 400, "amount must be a positive integer")
		return
	}
	res, err := eng.PeriodPay(uid, tokenID, amount)
	if err != nil {
		opErr(w, err)
		return
	}
	json200(w, map[string]any{
		"principal_paid": res.PrincipalPaid.String(),
		"refund":         res.Refund.String(),
		"term_remaining": res.Pos.TermRemaining().String(),
	})
}

func (s *Server) payPenalty(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	eng, tokenID, ok := s.engineForLoan(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	amount, ok2 := parseAmount(req.Amount)
	if !ok2 {
		jsonErr(w, 400, "amount must be a positive integer")
		return
	}
	paid, err := eng.PenaltyPay(uid, tokenID, amount)
	if err != nil {
		opErr(w, err)
		return
	}
	json200(w, map[string]string{"penalty_paid": paid.String()})
}

func (s *Server) redeemLoan(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	eng, tokenID, ok := s.engineForLoan(w, r)
	if !ok {
		return
	}
	if err := eng.Redeem(uid, tokenID); err != nil {
		opErr(w, err)
		return
	}
	json200(w, map[string]string{"status": "redeemed"})
}

func (s *Server) refinanceLoan(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	eng, tokenID, ok := s.engineForLoan(w, r)
	if !ok {
		return
	}
	var req struct {
		RateBps      uint64 `json:"rate_bps"`
		TotalPeriods uint64 `json:"total_periods"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.TotalPeriods == 0 {
		jsonErr(w, 400, "total_periods must be >= 1")
		return
	}
	fee, err := eng.Refinance(uid, tokenID, req.RateBps, req.TotalPeriods)
	if err != nil {
		opErr(w, err)
		return
	}
	json200(w, map[string]string{"fee": fee.String()})
}

func (s *Server) expandLoan(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	eng, tokenID, ok := s.engineForLoan(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount     string `json:"amount"`
		Collateral string `json:"collateral"`
		RateBps    uint64 `json:"rate_bps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	amount, ok2 := parseAmount(req.Amount)
	if !ok2 {
		jsonErr(w, 400, "amount must be a positive integer")
		return
	}
	collateral, ok3 := new(big.Int).SetString(req.Collateral, 10)
	if !ok3 || collateral.Sign() < 0 {
		jsonErr(w, 400, "collateral must be a non-negative integer")
		return
	}
	if err := eng.ExpandBalanceSheet(uid, tokenID, amount, collateral, req.RateBps); err != nil {
		opErr(w, err)
		return
	}
	json200(w, map[string]string{"status": "expanded"})
}

func (s *Server) accrueLoan(w http.ResponseWriter, r *http.Request) {
	eng, tokenID, ok := s.engineForLoan(w, r)
	if !ok {
		return
	}
	if err := eng.Accrue(tokenID); err != nil {
		opErr(w, err)
		return
	}
	json200(w, map[string]string{"status": "accrued"})
}

// ── Admin ────────────────────────────────────────────

func (s *Server) createPool(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slug       string `json:"slug"`
		Collateral string `json:"collateral"`
		Decimals   uint32 `json:"collateral_decimals"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.Slug == "" || req.Collateral == "" {
		jsonErr(w, 400, "slug and collateral required")
		return
	}
	if req.Decimals == 0 {
		req.Decimals = 18
	}

	pool, err := s.store.CreatePool(r.Context(), req.Slug, req.Collateral, req.Decimals)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if err := s.manager.StartEngine(r.Context(), pool.ID); err != nil {
		log.Error().Err(err).Str("pool", pool.ID).Msg("api: start engine failed")
	}
	w.WriteHeader(201)
	json.NewEncoder(w).Encode(pool)
}

func (s *Server) originateLoan(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	var req model.OriginateLoanReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	pos, err := eng.OriginateLoan(req)
	if err != nil {
		opErr(w, err)
		return
	}
	w.WriteHeader(201)
	json.NewEncoder(w).Encode(pos)
}

func (s *Server) markPrice(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	var req struct {
		Price string `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	price, ok2 := parseAmount(req.Price)
	if !ok2 {
		jsonErr(w, 400, "price must be a positive integer")
		return
	}
	if err := eng.MarkPrice(price); err != nil {
		opErr(w, err)
		return
	}
	json200(w, map[string]string{"status": "marked"})
}

func (s *Server) forecloseLoan(w http.ResponseWriter, r *http.Request) {
	eng, tokenID, ok := s.engineForLoan(w, r)
	if !ok {
		return
	}
	if err := eng.Foreclose(tokenID); err != nil {
		opErr(w, err)
		return
	}
	json200(w, map[string]string{"status": "foreclosed"})
}

func (s *Server) adminDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if req.UserID == "" || !ok {
		jsonErr(w, 400, "user_id and positive amount required")
		return
	}
	wallet, err := s.store.DepositWallet(r.Context(), req.UserID, amount)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	json200(w, wallet)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	limit := 100
	if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n <= 500 {
		limit = n
	}
	poolID := r.URL.Query().Get("pool_id")
	var pp *string
	if poolID != "" {
		pp = &poolID
	}
	events, err := s.store.ListEvents(r.Context(), pp, limit)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if events == nil {
		events = []model.EventLog{}
	}
	json200(w, events)
}

func (s *Server) platformFees(w http.ResponseWriter, r *http.Request) {
	fee, err := s.store.GetPlatformFee(r.Context())
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	json200(w, map[string]string{"balance": fee.String()})
}

// ── Helpers ──────────────────────────────────────────

func (s *Server) engineFor(w http.ResponseWriter, r *http.Request) (*engine.PoolEngine, bool) {
	id := chi.URLParam(r, "id")
	eng := s.manager.GetEngine(id)
	if eng == nil {
		jsonErr(w, 404, "pool not found")
		return nil, false
	}
	return eng, true
}

func parseAmount(s string) (*big.Int, bool) {
	out, ok := new(big.Int).SetString(s, 10)
	if !ok || out.Sign() <= 0 {
		return nil, false
	}
	return out, true
}

// opErr maps engine errors onto HTTP statuses.
func opErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownLoan),
		errors.Is(err, engine.ErrUnknownPosition),
		errors.Is(err, engine.ErrNoSuchClaim):
		jsonErr(w, 404, err.Error())
	case errors.Is(err, engine.ErrNotPayer),
		errors.Is(err, engine.ErrNotBorrower),
		errors.Is(err, engine.ErrNotClaimOwner):
		jsonErr(w, 403, err.Error())
	case errors.Is(err, db.ErrInsufficientFunds):
		jsonErr(w, 402, err.Error())
	default:
		jsonErr(w, 400, err.Error())
	}
}

func json200(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
