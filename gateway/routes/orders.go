package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"janus/crypto"
	"janus/native/escrow"
)

type buyRequest struct {
	Seller  string `json:"seller"`
	Price   string `json:"price"`
	Payment string `json:"payment"`
}

type sellRequest struct {
	Buyer string `json:"buyer"`
	ID    uint64 `json:"id"`
	Price string `json:"price"`
}

type buyerOrderRequest struct {
	Buyer string `json:"buyer"`
	ID    uint64 `json:"id"`
}

type sellerOrderRequest struct {
	Seller string `json:"seller"`
	ID     uint64 `json:"id"`
}

type resolveRequest struct {
	Buyer   string `json:"buyer"`
	Seller  string `json:"seller"`
	ID      uint64 `json:"id"`
	Outcome string `json:"outcome"`
}

func (s *server) buy(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req buyRequest
	if err := decodeJSON(r, s.maxBodyBytes, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	seller, err := parseParty("seller", req.Seller)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	payment := price
	if req.Payment != "" {
		if payment, err = parseAmount("payment", req.Payment); err != nil {
			writeBadRequest(w, err)
			return
		}
	}
	order, err := s.engine.Buy(caller, seller, price, payment)
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOrder(order))
}

func (s *server) sell(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req sellRequest
	if err := decodeJSON(r, s.maxBodyBytes, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	buyer, err := parseParty("buyer", req.Buyer)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	order, err := s.engine.Sell(caller, buyer, req.ID, price)
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOrder(order))
}

func (s *server) withdrawOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req buyerOrderRequest
	if err := decodeJSON(r, s.maxBodyBytes, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	buyer, err := parseParty("buyer", req.Buyer)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	order, err := s.engine.WithdrawOrder(caller, buyer, req.ID)
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOrder(order))
}

// buyerAction decodes a (seller, id) body and runs fn with the caller as buyer.
func (s *server) buyerAction(fn func(caller, seller [20]byte, id uint64) (*escrow.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := s.caller(w, r)
		if !ok {
			return
		}
		var req sellerOrderRequest
		if err := decodeJSON(r, s.maxBodyBytes, &req); err != nil {
			writeBadRequest(w, err)
			return
		}
		seller, err := parseParty("seller", req.Seller)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		order, err := fn(caller, seller, req.ID)
		if err != nil {
			s.writeEscrowError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOrder(order))
	}
}

func (s *server) requestRefund(w http.ResponseWriter, r *http.Request) {
	s.buyerAction(s.engine.RequestRefund)(w, r)
}

func (s *server) revokeRefund(w http.ResponseWriter, r *http.Request) {
	s.buyerAction(s.engine.RevokeRefund)(w, r)
}

func (s *server) withdrawRefund(w http.ResponseWriter, r *http.Request) {
	s.buyerAction(s.engine.WithdrawRefund)(w, r)
}

func (s *server) resolveRefund(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if err := decodeJSON(r, s.maxBodyBytes, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	buyer, err := parseParty("buyer", req.Buyer)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	seller, err := parseParty("seller", req.Seller)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	outcome, err := escrow.ParseOutcome(req.Outcome)
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	order, err := s.engine.ResolveRefund(caller, buyer, seller, req.ID, outcome)
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOrder(order))
}

// orderParams reads the (buyer, seller, id) path triple.
func orderParams(r *http.Request) (buyer, seller [20]byte, id uint64, err error) {
	if buyer, err = parseParty("buyer", chi.URLParam(r, "buyer")); err != nil {
		return
	}
	if seller, err = parseParty("seller", chi.URLParam(r, "seller")); err != nil {
		return
	}
	id, err = parseUint("id", chi.URLParam(r, "id"))
	return
}

func (s *server) getOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	buyer, seller, id, err := orderParams(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	order, err := s.engine.GetOrder(caller, buyer, seller, id)
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOrder(order))
}

func (s *server) custody(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	buyer, seller, id, err := orderParams(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	held, err := s.engine.Custody(caller, buyer, seller, id)
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"custody": held.String()})
}

// partyParams reads the enumerated party and its role.
func partyParams(r *http.Request) ([20]byte, escrow.Role, error) {
	party, err := parseParty("party", chi.URLParam(r, "party"))
	if err != nil {
		return [20]byte{}, 0, err
	}
	role, err := escrow.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		return [20]byte{}, 0, err
	}
	return party, role, nil
}

type ordersPage struct {
	Orders []orderView `json:"orders"`
	Total  uint64      `json:"total"`
	Offset uint64      `json:"offset"`
}

func (s *server) ordersFor(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	party, role, err := partyParams(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	offset, err := queryUint(r, "offset", 0)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	limit, err := queryUint(r, "limit", escrow.MaxPageSize)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	orders, total, err := s.engine.OrdersFor(caller, party, role, offset, limit)
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ordersPage{Orders: viewOrders(orders), Total: total, Offset: offset})
}

func (s *server) countFor(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	party, role, err := partyParams(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	count, err := s.engine.CountFor(caller, party, role)
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"count": count})
}

func (s *server) orderAt(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	party, role, err := partyParams(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	index, err := parseUint("index", chi.URLParam(r, "index"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	order, err := s.engine.OrderAt(caller, party, role, index)
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOrder(order))
}

type depositRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

func (s *server) deposit(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.caller(w, r); !ok {
		return
	}
	var req depositRequest
	if err := decodeJSON(r, s.maxBodyBytes, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	account, err := parseParty("account", req.Account)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	balance, err := s.engine.Deposit(account, amount)
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": crypto.FormatAddress(account),
		"balance": balance.String(),
	})
}

func (s *server) balance(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	account, err := parseParty("account", chi.URLParam(r, "account"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	balance, err := s.engine.Balance(caller, account)
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": crypto.FormatAddress(account),
		"balance": balance.String(),
	})
}
