// Package denial defines the refusal taxonomy shared by every guard check.
//
// Each check returns a *denial.Error carrying a Kind. The HTTP layer maps
// the Kind to a status code with HTTPStatus and renders PublicMessage, which
// never exposes identifiers or the reason a token failed verification.
//
//	Kind                 Status
//	unauthenticated      401
//	invalid_token        401
//	account_deactivated  403
//	forbidden            403
//	not_found            404
//	quota_exceeded       403 (with quota detail)
//	rate_limited         429 (with Retry-After)
//	invalid_request      400
//	internal             500
//
// Infrastructure failures are wrapped with Internal; their cause is logged
// but never rendered.
package denial
