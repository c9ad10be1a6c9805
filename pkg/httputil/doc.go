// Package httputil writes JSON responses and turns denial errors into
// HTTP answers.
//
//	if err != nil {
//		httputil.WriteDenial(w, err)
//		return
//	}
//
// WriteDenial picks the status from the denial kind, sets Retry-After for
// rate limited requests and includes the quota detail for exhausted plan
// limits. Internal causes are never written to the body.
package httputil
