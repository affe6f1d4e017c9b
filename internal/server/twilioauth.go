package server

import (
	"fmt"
	"net/http"
	"strings"

	twclient "github.com/twilio/twilio-go/client"
)

// TwilioAuthMiddleware rejects webhook requests whose X-Twilio-Signature
// does not match the account auth token. The signature is computed over
// the public URL Twilio dialed, so publicHost must be the externally
// visible hostname, not the listen address.
//
// With an empty authToken the middleware is a no-op; local development
// drives the webhooks with curl.
func TwilioAuthMiddleware(authToken, publicHost string) func(http.Handler) http.Handler {
	if authToken == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	validator := twclient.NewRequestValidator(authToken)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// The media stream handshake is authenticated by the stream
			// URL itself; only the form webhooks carry signatures.
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}

			if err := r.ParseForm(); err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			params := make(map[string]string, len(r.PostForm))
			for k := range r.PostForm {
				params[k] = r.PostForm.Get(k)
			}

			url := fmt.Sprintf("https://%s%s", publicHost, r.URL.RequestURI())
			if !validator.Validate(url, params, r.Header.Get("X-Twilio-Signature")) {
				AddLogField(r.Context(), "auth_failure", "twilio signature mismatch")
				http.Error(w, "signature validation failed", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
