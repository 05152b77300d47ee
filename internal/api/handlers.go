package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/punchamoorthee/courtledger/internal/domain"
	"github.com/punchamoorthee/courtledger/internal/models"
	"github.com/punchamoorthee/courtledger/internal/service"
	"github.com/shopspring/decimal"
)

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ListCourtsHandler(w http.ResponseWriter, r *http.Request) {
	courts, err := h.bookings.ListCourts(r.Context())
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	if courts == nil {
		courts = []domain.Court{}
	}
	respondWithJSON(w, http.StatusOK, courts)
}

func (h *Handler) GetCourtHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := pathID(r)
	court, err := h.bookings.GetCourt(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, court)
}

func (h *Handler) CourtBookingsHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := pathID(r)
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "from must be an RFC3339 timestamp", "")
		return
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "to must be an RFC3339 timestamp", "")
		return
	}

	bookings, err := h.bookings.ListForCourt(r.Context(), id, from, to)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, nonNilBookings(bookings))
}

func (h *Handler) HoldHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	var req models.SlotRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	b, err := h.bookings.Hold(r.Context(), p.AccountID, req.CourtID, req.StartTime, req.EndTime)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, b)
}

func (h *Handler) ConfirmHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	var req models.SlotRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	b, err := h.bookings.Confirm(r.Context(), p.AccountID, req.CourtID, req.StartTime, req.EndTime)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/bookings/"+strconv.FormatInt(b.ID, 10))
	respondWithJSON(w, http.StatusCreated, b)
}

func (h *Handler) RecurringHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	var req models.RecurringRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	booked, err := h.planner.Plan(r.Context(), service.PlanRequest{
		AccountID:   p.AccountID,
		CourtID:     req.CourtID,
		AnchorStart: req.StartTime,
		Duration:    req.EndTime.Sub(req.StartTime),
		Rule:        req.RecurrenceRule,
		Until:       req.Until,
	})
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	total := decimal.Zero
	for _, b := range booked {
		total = total.Add(b.TotalPrice)
	}
	respondWithJSON(w, http.StatusCreated, models.RecurringResponse{Count: len(booked), Total: total, Bookings: booked})
}

func (h *Handler) MyBookingsHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	bookings, err := h.bookings.ListForAccount(r.Context(), p.AccountID)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, nonNilBookings(bookings))
}

func (h *Handler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id, _ := pathID(r)

	res, err := h.bookings.Cancel(r.Context(), id, p.AccountID)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.CancelResponse{Booking: res.Booking, Refund: res.Refund})
}

func (h *Handler) DepositHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	var req models.DepositRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	entry, err := h.ledger.RequestDeposit(r.Context(), p.AccountID, req.Amount, req.Description, req.ProofRef)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, entry)
}

func (h *Handler) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	acc, err := h.ledger.Account(r.Context(), p.AccountID)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.BalanceResponse{
		AccountID:  acc.ID,
		Balance:    acc.Balance,
		TotalSpent: acc.TotalSpent,
		Tier:       acc.Tier,
	})
}

func (h *Handler) TransactionsHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "pageSize", service.DefaultPageSize)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > service.MaxPageSize {
		pageSize = service.DefaultPageSize
	}

	entries, err := h.ledger.History(r.Context(), p.AccountID, page, pageSize)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	respondWithJSON(w, http.StatusOK, models.TransactionsResponse{Page: page, PageSize: pageSize, Items: entries})
}

func (h *Handler) ApproveDepositHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := pathID(r)
	if _, err := h.ledger.ApproveDeposit(r.Context(), id); err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.DepositDecisionResponse{TransactionID: id, Status: domain.EntryCompleted})
}

func (h *Handler) RejectDepositHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := pathID(r)
	if _, err := h.ledger.RejectDeposit(r.Context(), id); err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.DepositDecisionResponse{TransactionID: id, Status: domain.EntryRejected})
}

func (h *Handler) JoinTournamentHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id, _ := pathID(r)
	var req models.JoinTournamentRequest
	if r.ContentLength != 0 && !decodeAndValidate(w, r, &req) {
		return
	}

	entry, err := h.tournaments.Enter(r.Context(), p.AccountID, id, req.TeamName)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, entry)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return v
}

func nonNilBookings(b []domain.Booking) []domain.Booking {
	if b == nil {
		return []domain.Booking{}
	}
	return b
}
