package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/punchamoorthee/courtledger/internal/service"
	"go.uber.org/zap"
)

const RoleAdmin = "admin"

type ctxKey int

const (
	principalKey ctxKey = iota
	requestIDKey
)

// Principal is the caller extracted from the bearer token.
type Principal struct {
	AccountID int64
	Role      string
}

// Claims carry the account id in sub and an optional role.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Sign issues an HS256 token. Used by the CLI and tests; the service itself never issues tokens.
func (a *Authenticator) Sign(accountID int64, role string, ttl time.Duration) (string, error) {
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(accountID, 10),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) Parse(tokenString string) (Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Principal{}, errors.New("invalid token claims")
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, errors.New("invalid account id in token")
	}
	return Principal{AccountID: id, Role: claims.Role}, nil
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			respondWithError(w, http.StatusUnauthorized, "Authentication required", "")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			respondWithError(w, http.StatusUnauthorized, "Invalid token format", "")
			return
		}
		p, err := a.Parse(parts[1])
		if err != nil {
			respondWithError(w, http.StatusUnauthorized, "Invalid token", "")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := PrincipalFrom(r.Context()); !ok || p.Role != RoleAdmin {
			respondWithError(w, http.StatusForbidden, "Admin role required", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records request totals and latency per route template.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		start := time.Now()
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		timer.ObserveDuration()

		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		h.log.Debug("request",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("method", r.Method),
			zap.String("endpoint", endpoint),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

// teeRecorder captures the response so it can be stored for replay.
type teeRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (t *teeRecorder) WriteHeader(code int) {
	t.status = code
	t.ResponseWriter.WriteHeader(code)
}

func (t *teeRecorder) Write(b []byte) (int, error) {
	t.body.Write(b)
	return t.ResponseWriter.Write(b)
}

// idempotent replays the stored response when a request repeats its
// Idempotency-Key. Requests without the header pass straight through. Server
// errors release the key so the client can retry.
func (h *Handler) idempotent(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		p, ok := PrincipalFrom(r.Context())
		if key == "" || h.idempotency == nil || !ok {
			next(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, "Stream read error", "")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		// the route is part of the fingerprint so one key cannot span endpoints
		hash := service.HashRequest(append([]byte(r.Method+" "+r.URL.Path+"\n"), body...))
		replay, err := h.idempotency.Begin(r.Context(), p.AccountID, key, hash)
		if err != nil {
			h.respondDomainError(w, r, err)
			return
		}
		if replay != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(replay.ResponseStatus)
			w.Write(replay.ResponseBody)
			return
		}

		rec := &teeRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		ctx := context.WithoutCancel(r.Context())
		if rec.status >= http.StatusInternalServerError {
			h.idempotency.Abandon(ctx, p.AccountID, key)
			return
		}
		if err := h.idempotency.Finish(ctx, p.AccountID, key, rec.status, rec.body.Bytes()); err != nil {
			h.log.Warn("failed to store idempotent response", zap.String("key", key), zap.Error(err))
		}
	})
}
