package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ivankudzin/skillmarket/internal/config"
	authsvc "github.com/ivankudzin/skillmarket/internal/services/auth"
	catalogsvc "github.com/ivankudzin/skillmarket/internal/services/catalog"
	checkoutsvc "github.com/ivankudzin/skillmarket/internal/services/checkout"
	deliverysvc "github.com/ivankudzin/skillmarket/internal/services/delivery"
	purchasesvc "github.com/ivankudzin/skillmarket/internal/services/purchases"
	txsvc "github.com/ivankudzin/skillmarket/internal/services/transactions"
	"github.com/ivankudzin/skillmarket/internal/transport/http/handlers"
)

type Dependencies struct {
	AuthService         *authsvc.Service
	CatalogService      *catalogsvc.Service
	CheckoutService     *checkoutsvc.Service
	DeliveryService     *deliverysvc.Service
	PurchaseService     *purchasesvc.Service
	Finalizer           *purchasesvc.Finalizer
	TransactionsService *txsvc.Service
	Logger              *zap.Logger
	Config              config.Config
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	cookies := handlers.CookieConfig{Secure: deps.Config.Auth.CookieSecure}

	healthHandler := handlers.NewHealthHandler()
	skillsHandler := handlers.NewSkillsHandler(deps.CatalogService, deps.PurchaseService, deps.DeliveryService, deps.Logger)
	checkoutHandler := handlers.NewCheckoutHandler(deps.CheckoutService, deps.Config.Site.URL, deps.Config.Site.AllowedOrigins, deps.Logger)
	purchaseHandler := handlers.NewPurchaseHandler(handlers.PurchaseHandlerDependencies{
		Finalizer: deps.Finalizer,
		Purchases: deps.PurchaseService,
		Auth:      deps.AuthService,
		Cookies:   cookies,
		Logger:    deps.Logger,
	})
	transactionsHandler := handlers.NewTransactionsHandler(deps.TransactionsService, deps.Logger)
	authHandler := handlers.NewAuthHandler(deps.AuthService, cookies, deps.Logger)

	r.Get("/healthz", healthHandler.Get)

	r.Group(func(r chi.Router) {
		if deps.AuthService != nil {
			r.Use(SessionMiddleware(deps.AuthService, deps.Logger))
		}

		r.Get("/skills", skillsHandler.List)
		r.Get("/skills/{id}", skillsHandler.Get)
		r.With(RequireAuth).Get("/skills/{id}/access", skillsHandler.Access)

		r.Post("/checkout", checkoutHandler.Start)
		r.Get("/purchase-success", purchaseHandler.Success)

		r.With(RequireAuth).Get("/customer/transactions", transactionsHandler.List)
		r.With(RequireAuth).Get("/account/purchases", purchaseHandler.AccountPurchases)

		r.Route("/auth", func(r chi.Router) {
			r.Get("/confirm", authHandler.Confirm)
			r.With(RequireAuth).Post("/logout", authHandler.Logout)
		})
	})
}
