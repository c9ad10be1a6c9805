// Package middleware binds the guard chain to net/http and gorilla/mux.
//
// Middleware order, outer to inner:
//
//	router.Use(middleware.Logging(logger, metrics))
//	router.Use(middleware.ClientIP(trustedProxies))
//	router.Handle("/surveys/{id}/responses",
//		middleware.RequireAction(chain, rbac.ActionResponseSubmit,
//			middleware.WithResourceVar("id"))(submitHandler)).Methods(http.MethodPost)
//
// RequireAction does everything for guarded routes: it verifies the token,
// checks role and ownership, reserves quota and applies the submission
// rate limit. Handlers read the results with IdentityFrom, ResourceFrom and
// DecisionFrom. Authenticate and RequireRole cover routes that only need an
// identity, such as GET /me.
//
// Denials are written with httputil.WriteDenial.
package middleware
