package middleware

import (
	"net/http"

	"emooti/internal/domain/anomaly"
)

// AnomalyHook feeds every completed request into the detector. Detection is
// strictly observational; it runs after the response is written and can
// never change the outcome of the request.
func AnomalyHook(detector *anomaly.Detector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			userID := ""
			if user, ok := GetUser(r.Context()); ok {
				userID = user.UserID
			}
			detector.OnRequest(r.Context(), anomaly.RequestContext{
				UserID:         userID,
				IPAddress:      clientIPKey(r),
				Method:         r.Method,
				Path:           r.URL.Path,
				ResponseStatus: recorder.status,
			})
		})
	}
}
