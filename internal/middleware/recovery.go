package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/R3E-Network/user_service/internal/errors"
	"github.com/R3E-Network/user_service/internal/httputil"
)

// Recovery converts handler panics into a 500 error envelope
func Recovery(rs *httputil.Responder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				err := errors.Internal("", fmt.Errorf("panic: %v", rec)).
					WithDetails("panic_stack", string(debug.Stack()))
				rs.Error(w, r, err)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
