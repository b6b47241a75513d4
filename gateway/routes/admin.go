package routes

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"janus/crypto"
	"janus/integrations/exports"
	"janus/services/journal"
)

// ChecksumHeader carries the SHA-256 digest of an export body.
const ChecksumHeader = "X-Checksum-SHA256"

var errJournalDisabled = errors.New("event journal is not configured")

type policyView struct {
	Owner            string `json:"owner"`
	FeeTreasury      string `json:"feeTreasury,omitempty"`
	FeeBps           uint32 `json:"feeBps"`
	AcceptanceWindow int64  `json:"acceptanceWindow"`
	WarrantyWindow   int64  `json:"warrantyWindow"`
	Paused           bool   `json:"paused"`
	NewOrdersPaused  bool   `json:"newOrdersPaused"`
	CreationMarker   int64  `json:"creationMarker"`
}

func (s *server) policy(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.caller(w, r); !ok {
		return
	}
	cfg, err := s.engine.Settings()
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	view := policyView{
		Owner:            crypto.FormatAddress(cfg.Owner),
		FeeBps:           cfg.Policy.FeeBps,
		AcceptanceWindow: cfg.Policy.AcceptanceWindow,
		WarrantyWindow:   cfg.Policy.WarrantyWindow,
		Paused:           cfg.Paused,
		NewOrdersPaused:  cfg.NewOrdersPaused,
		CreationMarker:   cfg.CreationMarker,
	}
	if cfg.FeeTreasury != ([20]byte{}) {
		view.FeeTreasury = crypto.FormatAddress(cfg.FeeTreasury)
	}
	writeJSON(w, http.StatusOK, view)
}

// toggle wraps an owner-only switch and reports the resulting flags.
func (s *server) toggle(fn func(caller [20]byte) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := s.caller(w, r)
		if !ok {
			return
		}
		if err := fn(caller); err != nil {
			s.writeEscrowError(w, r, err)
			return
		}
		cfg, err := s.engine.Settings()
		if err != nil {
			s.writeEscrowError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{
			"paused":          cfg.Paused,
			"newOrdersPaused": cfg.NewOrdersPaused,
		})
	}
}

func (s *server) pause(w http.ResponseWriter, r *http.Request) {
	s.toggle(s.engine.Pause)(w, r)
}

func (s *server) unpause(w http.ResponseWriter, r *http.Request) {
	s.toggle(s.engine.Unpause)(w, r)
}

func (s *server) pauseNewOrders(w http.ResponseWriter, r *http.Request) {
	s.toggle(s.engine.PauseNewOrders)(w, r)
}

func (s *server) unpauseNewOrders(w http.ResponseWriter, r *http.Request) {
	s.toggle(s.engine.UnpauseNewOrders)(w, r)
}

type ownerRequest struct {
	Owner string `json:"owner"`
}

func (s *server) updateOwner(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req ownerRequest
	if err := decodeJSON(r, s.maxBodyBytes, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	owner, err := parseParty("owner", req.Owner)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.engine.UpdateOwner(caller, owner); err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"owner": crypto.FormatAddress(owner)})
}

func (s *server) renounceOwnership(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	if err := s.engine.RenounceOwnership(caller); err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) disputes(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	if err := s.requireArbiter(caller); err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	if s.journal == nil {
		writeJSONError(w, http.StatusNotImplemented, "journal_disabled", errJournalDisabled)
		return
	}
	pending, err := s.journal.PendingRefunds(r.Context())
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"disputes": pending})
}

type eventsPage struct {
	Entries []journal.Entry `json:"entries"`
	Next    uint64          `json:"next"`
	Head    uint64          `json:"head"`
}

func (s *server) listEvents(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	if err := s.requireArbiter(caller); err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	if s.journal == nil {
		writeJSONError(w, http.StatusNotImplemented, "journal_disabled", errJournalDisabled)
		return
	}
	after, err := queryUint(r, "after", 0)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	limit, err := queryUint(r, "limit", 100)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if limit > journal.MaxListLimit {
		limit = journal.MaxListLimit
	}
	entries, err := s.journal.List(r.Context(), after, int(limit))
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	next := after
	if n := len(entries); n > 0 {
		next = entries[n-1].Sequence
	}
	head, _ := s.journal.Head()
	writeJSON(w, http.StatusOK, eventsPage{Entries: entries, Next: next, Head: head})
}

func (s *server) verifyJournal(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	if err := s.requireArbiter(caller); err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	if s.journal == nil {
		writeJSONError(w, http.StatusNotImplemented, "journal_disabled", errJournalDisabled)
		return
	}
	checked, err := s.journal.Verify(r.Context())
	if errors.Is(err, journal.ErrChainBroken) {
		writeJSON(w, http.StatusConflict, map[string]any{"valid": false, "checked": checked, "error": err.Error()})
		return
	}
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	head, hash := s.journal.Head()
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "checked": checked, "head": head, "hash": hash})
}

func (s *server) export(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	format, ok := exports.ParseFormat(r.URL.Query().Get("format"))
	if !ok {
		writeBadRequest(w, fmt.Errorf("unsupported export format %q", r.URL.Query().Get("format")))
		return
	}
	orders, err := s.engine.ExportOrders(caller)
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	body, checksum, err := exports.Encode(format, orders)
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=orders.%s", format))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set(ChecksumHeader, checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
