package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/chatrelay/internal/apperror"
	"github.com/sakif/chatrelay/internal/model"
	"github.com/sakif/chatrelay/internal/response"
)

// CookieName is the name of the HttpOnly cookie carrying the session token.
const CookieName = "session"

// contextKey is unexported so no other package can read or shadow our values.
type contextKey string

const (
	sessionKey    contextKey = "session"
	sessionErrKey contextKey = "sessionErr"
)

// CookieOptions controls the attributes of the session cookie.
// Secure should be true whenever the site is served over HTTPS.
type CookieOptions struct {
	Secure bool
}

// SetSessionCookie stores token in the session cookie for ttl.
func SetSessionCookie(w http.ResponseWriter, token string, ttl time.Duration, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie tells the browser to drop the session cookie.
func ClearSessionCookie(w http.ResponseWriter, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// TokenFromRequest returns the session token sent by the browser, or "".
func TokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// LoadSession resolves the session cookie, if any, and stores the session in
// the request context. It never blocks a request: anonymous and invalid
// tokens simply leave the context empty. A storage failure is kept in the
// context instead, so the Require middleware can answer with an outage
// rather than a login prompt.
//
// Handlers check for the session via SessionFromContext.
func LoadSession(sessions *SessionManager, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			sess, err := sessions.Current(r.Context(), token)
			switch {
			case err == nil:
				r = r.WithContext(WithSession(r.Context(), sess))
			case errors.Is(err, apperror.ErrUnauthorized):
				// stale cookie, treat as anonymous
			default:
				logger.Error("failed to resolve session",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				r = r.WithContext(context.WithValue(r.Context(), sessionErrKey, err))
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession guards HTML pages. Anonymous requests are redirected to
// loginPath with 303 See Other; requests whose session could not be loaded
// get 503. It must run after LoadSession.
func RequireSession(loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sessionError(r.Context()) != nil {
				http.Error(w, "Service temporarily unavailable, please try again.", http.StatusServiceUnavailable)
				return
			}
			if _, ok := SessionFromContext(r.Context()); !ok {
				http.Redirect(w, r, loginPath, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSessionAPI guards JSON endpoints. Anonymous requests get
// 403 {"error": "Unauthorized"} and a failed session lookup gets 503; neither
// reaches the handler. It must run after LoadSession.
func RequireSessionAPI() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := sessionError(r.Context()); err != nil {
				response.Error(w, apperror.Unavailable(err))
				return
			}
			if _, ok := SessionFromContext(r.Context()); !ok {
				response.Error(w, apperror.Unauthorized("Unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithSession returns a copy of ctx carrying sess.
func WithSession(ctx context.Context, sess *model.Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// SessionFromContext returns the authenticated session, if the request has one.
//
//	sess, ok := auth.SessionFromContext(r.Context())
//	if !ok {
//	    // anonymous
//	}
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	sess, ok := ctx.Value(sessionKey).(*model.Session)
	return sess, ok && sess != nil
}

func sessionError(ctx context.Context) error {
	err, _ := ctx.Value(sessionErrKey).(error)
	return err
}
