package main

import (
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
)

func (app *application) routes() http.Handler {
	standardMiddleware := alice.New(app.recoverPanic, app.logRequest, secureHeaders, makeResponseJSON)
	adminMiddleware := standardMiddleware.Append(app.adminJWT)

	mux := pat.New()

	mux.Get("/healthz", standardMiddleware.ThenFunc(app.healthz))

	// Client API
	mux.Post("/validate", standardMiddleware.ThenFunc(app.iapHandler.Validate))
	mux.Post("/purchase", standardMiddleware.ThenFunc(app.iapHandler.Purchase))
	mux.Get("/users/:id/purchases", standardMiddleware.ThenFunc(app.iapHandler.UserPurchases))

	// Store notifications
	mux.Post("/notifications/apple", standardMiddleware.ThenFunc(app.iapHandler.AppleNotification))
	mux.Post("/notifications/google", standardMiddleware.ThenFunc(app.googleIAPHandler.GoogleNotifications))

	// Catalog
	mux.Get("/products", adminMiddleware.ThenFunc(app.productHandler.ListProducts))
	mux.Post("/products", adminMiddleware.ThenFunc(app.productHandler.CreateProduct))
	mux.Get("/products/:id", adminMiddleware.ThenFunc(app.productHandler.GetProduct))
	mux.Put("/products/:id", adminMiddleware.ThenFunc(app.productHandler.UpdateProduct))

	return addSecurityHeaders(mux)
}

func (app *application) healthz(w http.ResponseWriter, r *http.Request) {
	if err := app.db.PingContext(r.Context()); err != nil {
		app.serverError(w, err)
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
