package handlers

import "net/http"

// Middleware wraps a handler
type Middleware = func(http.Handler) http.Handler

// RouterConfig wires handlers to their guards
type RouterConfig struct {
	Auth    *AuthHandler
	Account *AccountHandler
	Billing *BillingHandler
	Webhook *WebhookHandler
	Admin   *AdminHandler
	Health  *HealthHandler

	// Authenticate guards session routes, AdminAuth guards admin routes
	Authenticate Middleware
	AdminAuth    Middleware
}

// NewRouter builds the route table. The webhook route deliberately carries
// neither guard; its signature check is the authentication.
func NewRouter(cfg RouterConfig) *http.ServeMux {
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /api/v1/health", cfg.Health.Health)
	mux.HandleFunc("POST /api/v1/auth/signup", cfg.Auth.Signup)
	mux.HandleFunc("POST /api/v1/auth/login", cfg.Auth.Login)
	mux.HandleFunc("POST /api/v1/auth/refresh", cfg.Auth.Refresh)
	mux.Handle("POST /api/v1/billing/webhook", http.HandlerFunc(cfg.Webhook.Handle))

	// Session-authenticated
	mux.Handle("POST /api/v1/auth/logout", cfg.Authenticate(http.HandlerFunc(cfg.Auth.Logout)))
	mux.Handle("GET /api/v1/account", cfg.Authenticate(http.HandlerFunc(cfg.Account.Me)))
	mux.Handle("POST /api/v1/billing/checkout", cfg.Authenticate(http.HandlerFunc(cfg.Billing.Checkout)))
	mux.Handle("POST /api/v1/billing/portal", cfg.Authenticate(http.HandlerFunc(cfg.Billing.Portal)))

	// Admin
	mux.Handle("GET /api/v1/admin/accounts/{id}", cfg.AdminAuth(http.HandlerFunc(cfg.Admin.GetAccount)))
	mux.Handle("POST /api/v1/admin/reconcile/{subscription_id}", cfg.AdminAuth(http.HandlerFunc(cfg.Admin.Reconcile)))
	mux.Handle("POST /api/v1/admin/tokens/sweep", cfg.AdminAuth(http.HandlerFunc(cfg.Admin.SweepTokens)))
	mux.Handle("GET /api/v1/admin/events", cfg.AdminAuth(http.HandlerFunc(cfg.Admin.Events)))

	return mux
}
