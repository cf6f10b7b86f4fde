package routes

import (
	"net/http"

	"github.com/diPencil/altayar-backend-sub000/internal/handlers"
	appmw "github.com/diPencil/altayar-backend-sub000/internal/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

func NewRoutes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Post("/auth/login", handlers.LoginHandler)
	r.With(appmw.Authenticated).Get("/auth/me", handlers.MeHandler)

	r.Group(func(r chi.Router) {
		r.Use(appmw.Authenticated)

		r.Get("/ledger/balances", handlers.BalancesHandler)
		r.Get("/ledger/{kind}/entries", handlers.EntriesHandler)
		r.Post("/ledger/credit", handlers.CreditHandler)
		r.Post("/ledger/debit", handlers.DebitHandler)
		r.Post("/ledger/holds", handlers.HoldHandler)
		r.Post("/ledger/holds/{id}/release", handlers.ReleaseHandler)

		r.Post("/orders", handlers.CreateOrderHandler)
		r.Post("/orders/{id}/cancel", handlers.CancelOrderHandler)

		r.Get("/memberships/plans", handlers.PlansHandler)
		r.Post("/memberships/subscribe", handlers.SubscribeHandler)
		r.Post("/memberships/change", handlers.ChangeSubscriptionHandler)
		r.Post("/memberships/subscriptions/{id}/{action}", handlers.SubscriptionActionHandler)
	})

	r.Get("/swagger/*", httpSwagger.WrapHandler)

	return r
}
