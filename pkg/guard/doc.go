// Package guard composes token verification, role and ownership checks,
// quota reservation and submission rate limiting into one ordered chain.
//
//	chain, err := guard.NewChain(guard.Dependencies{
//		Verifier:   verifier,
//		Identities: identities,
//		RBAC:       rbacGuard,
//		Quota:      enforcer,
//		Limiter:    limiter,
//	})
//	decision, err := chain.Evaluate(ctx, guard.Request{
//		Credential: token,
//		Action:     rbac.ActionResponseSubmit,
//		ResourceID: surveyID,
//		ClientIP:   ip,
//	})
//	if err != nil {
//		httputil.WriteDenial(w, err)
//		return
//	}
//	if err := saveResponse(); err != nil {
//		decision.Rollback(ctx)
//		return
//	}
//	decision.Commit()
//	decision.RecordSubmission(ctx)
//
// Every check runs in its own span under guard.evaluate and is counted in
// warden_guard_decisions_total. Denials are written to the audit log. A
// quota reservation taken before a rate limit denial is released before
// Evaluate returns.
package guard
