package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/guard"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// settleTimeout bounds the quota rollback and submission recording that
// run after the handler returns. Both finish before the response is
// complete, even when the client has gone away.
const settleTimeout = 5 * time.Second

type actionOptions struct {
	resourceVar string
	increment   func(*http.Request) int64
}

// ActionOption configures RequireAction
type ActionOption func(*actionOptions)

// WithResourceVar names the mux route variable holding the target
// resource ID
func WithResourceVar(name string) ActionOption {
	return func(o *actionOptions) { o.resourceVar = name }
}

// WithIncrement computes the quota amount from the request, such as the
// number of questions in the body or the upload size
func WithIncrement(fn func(*http.Request) int64) ActionOption {
	return func(o *actionOptions) { o.increment = fn }
}

// RequireAction runs the guard chain for action before next. On success
// the identity, resource and decision are stored in the request context.
//
// When next answers with a status of 400 or above, or panics, the quota
// reservation is rolled back. Otherwise it is committed and, for rate
// limited actions, the submission is recorded. Either way the outcome is
// settled before RequireAction returns, so the caller's next request sees
// it.
func RequireAction(chain *guard.Chain, action rbac.Action, opts ...ActionOption) func(http.Handler) http.Handler {
	o := &actionOptions{}
	for _, opt := range opts {
		opt(o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := guard.Request{
				Credential: auth.ExtractBearer(r.Header.Get("Authorization")),
				Action:     action,
				ClientIP:   ClientIPFrom(r),
			}
			if o.resourceVar != "" {
				req.ResourceID = mux.Vars(r)[o.resourceVar]
			}
			if o.increment != nil {
				req.Increment = o.increment(r)
			}

			decision, err := chain.Evaluate(r.Context(), req)
			if err != nil {
				httputil.WriteDenial(w, err)
				return
			}

			ctx := r.Context()
			if decision.Identity != nil {
				ctx = withIdentity(ctx, decision.Identity)
			}
			if decision.Resource != nil {
				ctx = contextkeys.With(ctx, contextkeys.ResourceKey, decision.Resource)
			}
			ctx = contextkeys.With(ctx, contextkeys.DecisionKey, decision)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				if p := recover(); p != nil {
					rollback(ctx, decision)
					panic(p)
				}
			}()

			next.ServeHTTP(rec, r.WithContext(ctx))

			if rec.status >= http.StatusBadRequest {
				rollback(ctx, decision)
				return
			}
			decision.Commit()
			settle(ctx, "record submission", decision.RecordSubmission)
		})
	}
}

func rollback(ctx context.Context, decision *guard.Decision) {
	settle(ctx, "quota rollback", decision.Rollback)
}

// settle runs fn on a context detached from the request's cancellation.
// Failures are logged; the response has already been written.
func settle(parent context.Context, task string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), settleTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		observability.FromContext(ctx).WithError(err).WithField("task", task).Warn("failed to settle guarded request")
	}
}
