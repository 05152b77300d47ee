package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/courtledger/internal/domain"
	"github.com/punchamoorthee/courtledger/internal/models"
	"github.com/punchamoorthee/courtledger/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courtledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "courtledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		// decimal.Decimal is checked directly; a custom type func returning the same type loops forever.
		_ = v.RegisterValidation("positive_decimal", func(fl validator.FieldLevel) bool {
			d, ok := fl.Field().Interface().(decimal.Decimal)
			return ok && d.IsPositive()
		})
		validate = v
	})
	return validate
}

// Services are the domain services the HTTP layer drives. Idempotency is optional.
type Services struct {
	Bookings    *service.BookingService
	Planner     *service.Planner
	Ledger      *service.Ledger
	Tournaments *service.TournamentService
	Idempotency *service.Idempotency
}

type Handler struct {
	bookings    *service.BookingService
	planner     *service.Planner
	ledger      *service.Ledger
	tournaments *service.TournamentService
	idempotency *service.Idempotency
	log         *zap.Logger
}

func NewHandler(svc Services, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		bookings:    svc.Bookings,
		planner:     svc.Planner,
		ledger:      svc.Ledger,
		tournaments: svc.Tournaments,
		idempotency: svc.Idempotency,
		log:         log.With(zap.String("component", "http")),
	}
}

// NewRouter wires every route. Health and metrics are public; everything under
// /api/v1 needs a bearer token, and /api/v1/admin needs the admin role. Money
// moving POSTs honour an optional Idempotency-Key header.
func NewRouter(h *Handler, auth *Authenticator) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestID, h.instrument)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(auth.Middleware)

	v1.HandleFunc("/courts", h.ListCourtsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/courts/{id:[0-9]+}", h.GetCourtHandler).Methods(http.MethodGet)
	v1.HandleFunc("/courts/{id:[0-9]+}/bookings", h.CourtBookingsHandler).Methods(http.MethodGet)

	v1.HandleFunc("/bookings/hold", h.HoldHandler).Methods(http.MethodPost)
	v1.Handle("/bookings", h.idempotent(h.ConfirmHandler)).Methods(http.MethodPost)
	v1.Handle("/bookings/recurring", h.idempotent(h.RecurringHandler)).Methods(http.MethodPost)
	v1.HandleFunc("/bookings/mine", h.MyBookingsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/bookings/{id:[0-9]+}/cancel", h.CancelHandler).Methods(http.MethodPost)

	v1.Handle("/wallet/deposits", h.idempotent(h.DepositHandler)).Methods(http.MethodPost)
	v1.HandleFunc("/wallet/balance", h.BalanceHandler).Methods(http.MethodGet)
	v1.HandleFunc("/wallet/transactions", h.TransactionsHandler).Methods(http.MethodGet)

	v1.Handle("/tournaments/{id:[0-9]+}/join", h.idempotent(h.JoinTournamentHandler)).Methods(http.MethodPost)

	admin := v1.PathPrefix("/admin").Subrouter()
	admin.Use(requireAdmin)
	admin.HandleFunc("/deposits/{id:[0-9]+}/approve", h.ApproveDepositHandler).Methods(http.MethodPut)
	admin.HandleFunc("/deposits/{id:[0-9]+}/reject", h.RejectDepositHandler).Methods(http.MethodPut)

	return r
}

// statusFor maps a typed domain error to an HTTP status.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindInvalid, domain.KindInvalidRange, domain.KindResourceUnavailable, domain.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindState:
		return http.StatusConflict
	case domain.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	kind := string(domain.KindOf(err))

	var partial *domain.PartialBatchError
	if errors.As(err, &partial) {
		h.log.Warn("recurring batch partially applied", zap.String("request_id", requestIDFrom(r.Context())),
			zap.Int("failed_index", partial.FailedIndex), zap.Error(err))
		respondWithJSON(w, code, models.PartialBatchResponse{
			Error:       partial.Err.Error(),
			Kind:        kind,
			FailedIndex: partial.FailedIndex,
			Charged:     partial.Charged,
			Confirmed:   partial.Confirmed,
		})
		return
	}

	if code == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("path", r.URL.Path), zap.Error(err))
		respondWithError(w, code, "Internal Server Error", "")
		return
	}
	respondWithError(w, code, err.Error(), kind)
}

// decodeAndValidate reads a JSON body into dst and runs the struct validators.
// It writes the error response itself and reports whether the handler should continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body", "")
		return false
	}
	if err := validatorInstance().Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			respondWithError(w, http.StatusUnprocessableEntity,
				fmt.Sprintf("field %s failed %s validation", fe.Field(), fe.Tag()), string(domain.KindInvalid))
			return false
		}
		respondWithError(w, http.StatusUnprocessableEntity, err.Error(), string(domain.KindInvalid))
		return false
	}
	return true
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func respondWithError(w http.ResponseWriter, code int, message, kind string) {
	respondWithJSON(w, code, models.ErrorResponse{Error: message, Kind: kind})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
