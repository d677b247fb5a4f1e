package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"accessmatrix.org/internal/auth"
	"accessmatrix.org/internal/obs"
	"accessmatrix.org/internal/permission"
)

const serviceName = "accessmatrix-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options wires the API dependencies.
type Options struct {
	Version        string
	Grants         *auth.GrantService
	Tokens         *auth.TokenIssuer
	Ready          readinessChecker
	AllowDevTokens bool
	RateBurst      int
	RatePerSec     int
	MaxBodyBytes   int64
	TrustedProxies []string
}

// API is the HTTP layer.
type API struct {
	mux            *http.ServeMux
	grants         *auth.GrantService
	tokens         *auth.TokenIssuer
	readyProbe     readinessChecker
	version        string
	allowDevTokens bool
	rateBurst      int
	ratePerSec     int
	maxBodyBytes   int64
	proxies        TrustedProxies
}

func New(opts Options) (*API, error) {
	if opts.Grants == nil {
		return nil, errors.New("httpapi: grant service is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("httpapi: token issuer is required")
	}
	proxies, err := ParseTrustedProxies(opts.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("httpapi: %w", err)
	}
	a := &API{
		mux:            http.NewServeMux(),
		grants:         opts.Grants,
		tokens:         opts.Tokens,
		readyProbe:     opts.Ready,
		version:        opts.Version,
		allowDevTokens: opts.AllowDevTokens,
		rateBurst:      opts.RateBurst,
		ratePerSec:     opts.RatePerSec,
		maxBodyBytes:   opts.MaxBodyBytes,
		proxies:        proxies,
	}
	if a.readyProbe == nil {
		a.readyProbe = ReadyProbe{}
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 50
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 25
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 1 << 20
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	admin := RequireRole(auth.RoleAdmin)

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())
	if a.allowDevTokens {
		a.mux.HandleFunc("POST /v1/auth/token", a.handleAuthToken)
	}

	a.mux.HandleFunc("GET /v1/schema", a.handleSchema)

	a.mux.Handle("POST /v1/roles", admin(http.HandlerFunc(a.handleCreateRole)))
	a.mux.HandleFunc("GET /v1/roles", a.handleListRoles)
	a.mux.HandleFunc("GET /v1/roles/{roleID}", a.handleGetRole)
	a.mux.Handle("DELETE /v1/roles/{roleID}", admin(http.HandlerFunc(a.handleDeleteRole)))

	a.mux.HandleFunc("GET /v1/roles/{roleID}/grants", a.handleListGrants)
	a.mux.Handle("POST /v1/roles/{roleID}/grants", admin(http.HandlerFunc(a.handleCreateGrant)))
	a.mux.HandleFunc("GET /v1/grants/{grantID}", a.handleGetGrant)
	a.mux.Handle("PATCH /v1/grants/{grantID}", admin(http.HandlerFunc(a.handleUpdateGrant)))
	a.mux.Handle("DELETE /v1/grants/{grantID}", admin(http.HandlerFunc(a.handleDeleteGrant)))

	a.mux.HandleFunc("POST /v1/roles/{roleID}/resolve", a.handleResolve)
	a.mux.HandleFunc("POST /v1/roles/{roleID}/authorize", a.handleAuthorize)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec, a.proxies)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

type levelInfo struct {
	Value permission.Level `json:"value"`
	Name  string           `json:"name"`
}

func (a *API) handleSchema(w http.ResponseWriter, r *http.Request) {
	levels := make([]levelInfo, 0, len(permission.AllLevels()))
	for _, l := range permission.AllLevels() {
		levels = append(levels, levelInfo{Value: l, Name: l.String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entities": a.grants.Schema().Schema(),
		"levels":   levels,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// writeDecodeError answers a failed decodeJSON: 413 once MaxBodyBytes
// cut the body off, 400 otherwise.
func writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	writeError(w, r, http.StatusBadRequest, err.Error())
}

func handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, permission.ErrInvalidLevel),
		errors.Is(err, permission.ErrInvalidMode),
		errors.Is(err, permission.ErrUnknownEntity):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	default:
		obs.Error("request failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"error":      err.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
