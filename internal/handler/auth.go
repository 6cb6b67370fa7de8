package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/rs/xid"

	"github.com/sakif/chatrelay/internal/apperror"
	"github.com/sakif/chatrelay/internal/auth"
	"github.com/sakif/chatrelay/internal/response"
	"github.com/sakif/chatrelay/internal/service"
)

const (
	flashSession     = "flash"
	oauthStateCookie = "oauth_state"

	msgRegistered    = "Registration successful. Please log in."
	msgGitHubNoMatch = "No account uses the email of that GitHub account. Register first, then log in with GitHub."
)

// AuthHandler serves registration, login and logout.
type AuthHandler struct {
	auth    *service.AuthService
	pages   *Pages
	flashes sessions.Store
	github  *auth.GitHubProvider // nil when GitHub sign-in is not configured
	cookies auth.CookieOptions
	logger  *slog.Logger
}

// NewAuthHandler wires an AuthHandler. github may be nil.
func NewAuthHandler(
	authService *service.AuthService,
	pages *Pages,
	flashes sessions.Store,
	github *auth.GitHubProvider,
	cookies auth.CookieOptions,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:    authService,
		pages:   pages,
		flashes: flashes,
		github:  github,
		cookies: cookies,
		logger:  logger,
	}
}

// HandleRegisterForm shows the sign-up form.
//
// HTTP: GET /register
func (h *AuthHandler) HandleRegisterForm(w http.ResponseWriter, r *http.Request) {
	h.pages.Render(w, r, http.StatusOK, "register", pageData{Title: "Register"})
}

// HandleRegister creates an account from the posted form and sends the
// browser on to the login page.
//
// HTTP: POST /register   form: name, email, password
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue("name")
	email := r.FormValue("email")

	_, err := h.auth.Register(r.Context(), name, email, r.FormValue("password"))
	if err != nil {
		status, _ := response.StatusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("registration failed", slog.String("error", err.Error()))
		}
		h.pages.Render(w, r, status, "register", pageData{
			Title: "Register",
			Error: response.PublicMessage(err),
			Form:  formValues{Name: name, Email: email},
		})
		return
	}

	h.addFlash(w, r, msgRegistered)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// HandleLoginForm shows the login form with any pending flash message.
//
// HTTP: GET /login
func (h *AuthHandler) HandleLoginForm(w http.ResponseWriter, r *http.Request) {
	h.pages.Render(w, r, http.StatusOK, "login", pageData{
		Title:         "Log in",
		Flash:         h.popFlash(w, r),
		GitHubEnabled: h.github != nil,
	})
}

// HandleLogin checks the credentials, sets the session cookie and redirects
// to the chat page. Unknown emails and wrong passwords get the same message.
//
// HTTP: POST /login   form: email, password
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")

	res, err := h.auth.Login(r.Context(), email, r.FormValue("password"))
	if err != nil {
		status, _ := response.StatusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("login failed", slog.String("error", err.Error()))
		}
		h.pages.Render(w, r, status, "login", pageData{
			Title:         "Log in",
			Error:         response.PublicMessage(err),
			Form:          formValues{Email: email},
			GitHubEnabled: h.github != nil,
		})
		return
	}

	auth.SetSessionCookie(w, res.Token, h.auth.SessionTTL(), h.cookies)
	http.Redirect(w, r, "/chat", http.StatusSeeOther)
}

// HandleLogout ends the session, if any, and clears the cookie.
//
// HTTP: GET /logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), auth.TokenFromRequest(r)); err != nil {
		// The cookie is cleared regardless; the row expires on its own.
		h.logger.Error("logout failed", slog.String("error", err.Error()))
	}
	auth.ClearSessionCookie(w, h.cookies)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleGitHubLogin redirects to GitHub with a single-use state cookie.
//
// HTTP: GET /auth/github/login
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback finishes the OAuth flow and logs the matching local
// account in.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	// single use
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Value: "", Path: "/", MaxAge: -1})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		if errors.Is(err, auth.ErrNoVerifiedEmail) {
			h.addFlash(w, r, msgGitHubNoMatch)
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		h.logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusBadGateway)
		return
	}

	res, err := h.auth.LoginWithGitHub(r.Context(), ghUser)
	if err != nil {
		if errors.Is(err, apperror.ErrUserNotFound) {
			h.addFlash(w, r, msgGitHubNoMatch)
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		h.logger.Error("auth callback: login failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	auth.SetSessionCookie(w, res.Token, h.auth.SessionTTL(), h.cookies)
	http.Redirect(w, r, "/chat", http.StatusSeeOther)
}

// addFlash queues msg for the next page that calls popFlash.
func (h *AuthHandler) addFlash(w http.ResponseWriter, r *http.Request, msg string) {
	sess, err := h.flashes.Get(r, flashSession)
	if err != nil {
		// A cookie signed with an old secret decodes with an error but
		// still yields a fresh session we can use.
		h.logger.Debug("discarding unreadable flash cookie", slog.String("error", err.Error()))
	}
	sess.AddFlash(msg)
	if err := sess.Save(r, w); err != nil {
		h.logger.Error("failed to save flash", slog.String("error", err.Error()))
	}
}

// popFlash returns and clears the oldest pending flash message.
func (h *AuthHandler) popFlash(w http.ResponseWriter, r *http.Request) string {
	sess, err := h.flashes.Get(r, flashSession)
	if err != nil {
		return ""
	}
	flashes := sess.Flashes()
	if len(flashes) == 0 {
		return ""
	}
	if err := sess.Save(r, w); err != nil {
		h.logger.Error("failed to clear flash", slog.String("error", err.Error()))
	}
	msg, _ := flashes[0].(string)
	return msg
}

// NewFlashStore returns the cookie store used for one-shot messages.
func NewFlashStore(secret string, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}
