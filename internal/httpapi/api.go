package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"healthfolio.org/internal/auth"
	"healthfolio.org/internal/obs"
)

// ReadyProbe reports whether the backing stores are reachable.
type ReadyProbe struct {
	DB   *sql.DB
	Ping func(ctx context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		return rp.DB.PingContext(ctx)
	}
	if rp.Ping != nil {
		return rp.Ping(ctx)
	}
	return nil
}

// API is the HTTP layer over the auth core. Route handlers for metrics,
// medications and the rest of the dashboard live in their own services and
// call the same token service and evaluator through this module's types.
type API struct {
	mux        *http.ServeMux
	tokens     *auth.TokenService
	store      auth.TokenStore
	users      auth.UserStore
	evaluator  *auth.Evaluator
	readyProbe ReadyProbe
	version    string
	production bool
}

// Options carries the collaborators New needs.
type Options struct {
	Tokens     *auth.TokenService
	Store      auth.TokenStore
	Users      auth.UserStore
	Evaluator  *auth.Evaluator
	ReadyProbe ReadyProbe
	Version    string
	Production bool
}

func New(opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		tokens:     opts.Tokens,
		store:      opts.Store,
		users:      opts.Users,
		evaluator:  opts.Evaluator,
		readyProbe: opts.ReadyProbe,
		version:    opts.Version,
		production: opts.Production,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)
	a.mux.HandleFunc("/v1/authz/check", a.handleAuthzCheck)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = CORS(h, a.production)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}
