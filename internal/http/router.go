package http

import (
	"github.com/annavaram/storefront/internal/http/handlers"
	"github.com/annavaram/storefront/internal/middleware"
	"github.com/annavaram/storefront/internal/model"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Handlers groups everything the router mounts
type Handlers struct {
	Health   *handlers.HealthHandler
	Auth     *handlers.AuthHandler
	Products *handlers.ProductHandler
	Cart     *handlers.CartHandler
	Orders   *handlers.OrderHandler
	Payments *handlers.PaymentHandler
}

// NewRouter creates a new HTTP router with all routes configured. authLimiter
// may be nil to disable rate limiting of the auth endpoints.
func NewRouter(h Handlers, authenticator middleware.Authenticator, authLimiter middleware.Limiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	requireAuth := middleware.AuthMiddleware(authenticator)

	r.Get("/health", h.Health.ServeHTTP)

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitMiddleware(authLimiter, middleware.GetIPKey))
			r.Post("/signup", h.Auth.HandleSignup)
			r.Post("/resend-otp", h.Auth.HandleResendOTP)
			r.Post("/verify-email", h.Auth.HandleVerifyEmail)
			r.Post("/login", h.Auth.HandleLogin)
			r.Post("/forgot-password", h.Auth.HandleForgotPassword)
			r.Post("/reset-password", h.Auth.HandleResetPassword)
		})
		r.Post("/refresh", h.Auth.HandleRefresh)
		r.Post("/logout", h.Auth.HandleLogout)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/logout-all", h.Auth.HandleLogoutAll)
			r.Get("/me", h.Auth.HandleMe)
		})
	})

	r.Get("/products", h.Products.HandleList)
	r.Get("/products/{slug}", h.Products.HandleGet)

	// Raw body; authenticated by the webhook signature
	r.Post("/payments/webhook", h.Payments.HandleWebhook)

	// Protected routes (require valid JWT and live session)
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)

		r.Get("/cart", h.Cart.HandleGet)
		r.Post("/cart/items", h.Cart.HandleAddItem)
		r.Patch("/cart/items/{itemID}", h.Cart.HandleUpdateItem)
		r.Delete("/cart/items/{itemID}", h.Cart.HandleRemoveItem)

		r.Post("/orders", h.Orders.HandleCreate)
		r.Get("/orders", h.Orders.HandleList)
		r.Get("/orders/{orderID}", h.Orders.HandleGet)

		r.Post("/payments/verify", h.Payments.HandleVerify)

		r.With(middleware.RequireRole(model.RoleAdmin)).Get("/admin/orders", h.Orders.HandleAdminList)
	})

	return r
}
