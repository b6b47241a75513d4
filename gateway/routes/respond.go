package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"janus/crypto"
	"janus/native/escrow"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code string, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, "bad_request", err)
}

// writeEscrowError maps a classified engine error onto an HTTP status.
// Unclassified errors are internal and their text is not echoed.
func (s *server) writeEscrowError(w http.ResponseWriter, r *http.Request, err error) {
	var classified *escrow.Error
	if !errors.As(err, &classified) || classified.Kind == escrow.KindInternal {
		s.logger.Error("escrow operation failed", "path", r.URL.Path, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal", errors.New("internal error"))
		return
	}
	writeJSONError(w, mapKind(classified.Kind), classified.Code, errors.New(classified.Message))
}

func mapKind(kind escrow.Kind) int {
	switch kind {
	case escrow.KindValidation:
		return http.StatusBadRequest
	case escrow.KindAuthorization:
		return http.StatusForbidden
	case escrow.KindNotFound:
		return http.StatusNotFound
	case escrow.KindConflict:
		return http.StatusConflict
	case escrow.KindTiming:
		return http.StatusUnprocessableEntity
	case escrow.KindPaused:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, limit int64, out any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, limit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseParty decodes an address field. The null address is passed through so
// the engine reports it with its own validation error.
func parseParty(field, value string) ([20]byte, error) {
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s must be a base-10 integer", field)
	}
	return amount, nil
}

func parseUint(field, value string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a non-negative integer", field)
	}
	return v, nil
}

func queryUint(r *http.Request, field string, fallback uint64) (uint64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(field))
	if raw == "" {
		return fallback, nil
	}
	return parseUint(field, raw)
}

// orderView is the JSON representation of an order.
type orderView struct {
	Buyer         string `json:"buyer"`
	Seller        string `json:"seller"`
	ID            uint64 `json:"id"`
	Price         string `json:"price"`
	Status        string `json:"status"`
	RefundStatus  string `json:"refundStatus"`
	DisplayStatus uint8  `json:"displayStatus"`
	CreatedAt     int64  `json:"createdAt"`
	AcceptedAt    int64  `json:"acceptedAt,omitempty"`
}

func viewOrder(o *escrow.Order) orderView {
	return orderView{
		Buyer:         crypto.FormatAddress(o.Buyer),
		Seller:        crypto.FormatAddress(o.Seller),
		ID:            o.ID,
		Price:         o.Price.String(),
		Status:        o.Status.String(),
		RefundStatus:  o.RefundStatus.String(),
		DisplayStatus: uint8(o.Display()),
		CreatedAt:     o.CreatedAt,
		AcceptedAt:    o.AcceptedAt,
	}
}

func viewOrders(orders []*escrow.Order) []orderView {
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, viewOrder(o))
	}
	return out
}
