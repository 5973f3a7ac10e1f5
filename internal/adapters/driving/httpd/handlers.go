package httpd

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/philiph/samlauth/internal/core/domain"
	"github.com/philiph/samlauth/internal/core/sp"
)

// handleLogin always redirects to the IdP with a fresh AuthnRequest. The
// optional next parameter rides along as RelayState.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	built, err := s.builder.BuildAuthnRequest(r.URL.Query().Get("next"))
	if err != nil {
		s.logger.Error("building authn request failed", zap.Error(err))
		s.writeError(w, err)
		return
	}
	http.Redirect(w, r, built.RedirectURL.String(), http.StatusFound)
}

// handleACS consumes the SAMLResponse posted by the IdP. Validation detail
// never reaches the user agent: failures redirect to the login page with a
// bare failure marker and the reason goes to the log.
func (s *Server) handleACS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.failLogin(w, r, domain.ValidationError(domain.ErrCodeMalformedMessage, "unparseable form body", err))
		return
	}

	assertion, err := s.validator.ValidateResponse(r.PostFormValue("SAMLResponse"), sp.BindingPost)
	if err != nil {
		s.failLogin(w, r, err)
		return
	}

	token, session, err := s.binder.Establish(assertion)
	if err != nil {
		s.failLogin(w, r, err)
		return
	}

	s.setSessionCookie(w, token, session)
	s.metrics.RecordLoginAttempt("success")
	s.metrics.RecordSessionCreated()
	s.logger.Info("login completed",
		zap.String("name_id", session.NameID),
		zap.String("idp", session.IdPEntityID),
	)

	target := r.PostFormValue("RelayState")
	if !safeRelayTarget(target) {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) failLogin(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.CodeOf(err)
	s.logger.Warn("login rejected", zap.String("code", code.String()), zap.Error(err))
	s.metrics.RecordLoginAttempt(code.String())
	if code == domain.ErrCodeResponseNotRequested {
		s.metrics.RecordReplayRejected()
	}
	http.Redirect(w, r, "/login?failed=1", http.StatusFound)
}

// handleLogout starts single logout for the current session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := s.sessionToken(r)

	outcome, err := s.coordinator.InitiateLogout(r.Context(), token)
	if err != nil {
		s.logger.Warn("logout rejected", zap.Error(err))
		s.writeError(w, err)
		return
	}

	if outcome.State == domain.LogoutSPInitiatedPending {
		// The session stays until the IdP answers on the SLO endpoint.
		http.Redirect(w, r, outcome.RedirectURL.String(), http.StatusFound)
		return
	}

	s.clearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

// handleSLO is the single-logout endpoint, serving both directions: the
// IdP's LogoutResponse finishing an SP-initiated logout, and an inbound
// IdP-initiated LogoutRequest.
func (s *Server) handleSLO(w http.ResponseWriter, r *http.Request) {
	binding := sp.BindingRedirect
	if r.Method == http.MethodPost {
		binding = sp.BindingPost
		if err := r.ParseForm(); err != nil {
			s.writeError(w, domain.ValidationError(domain.ErrCodeMalformedMessage, "unparseable form body", err))
			return
		}
	}

	message := func(name string) string {
		if r.Method == http.MethodPost {
			return r.PostFormValue(name)
		}
		return r.URL.Query().Get(name)
	}

	if encoded := message("SAMLResponse"); encoded != "" {
		outcome, err := s.coordinator.FinishLogout(s.sessionToken(r), encoded, binding, r.URL.RawQuery)
		if err != nil {
			state := "none"
			if outcome != nil {
				state = outcome.State.String()
			}
			s.logger.Warn("logout finished with error",
				zap.String("state", state),
				zap.Error(err))
		}
		s.clearSessionCookie(w)
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	if encoded := message("SAMLRequest"); encoded != "" {
		outcome, err := s.coordinator.HandleIdPLogout(encoded, binding, r.URL.RawQuery, message("RelayState"))
		if err != nil {
			s.logger.Warn("idp logout rejected", zap.Error(err))
			s.writeError(w, err)
			return
		}
		s.clearSessionCookie(w)
		http.Redirect(w, r, outcome.RedirectURL.String(), http.StatusFound)
		return
	}

	s.writeError(w, domain.ValidationError(domain.ErrCodeMalformedMessage, "no SAML message in request", nil))
}

// handleMetadata publishes SP metadata. The document is a pure function of
// configuration, so IdP operators can diff subsequent fetches.
func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	raw, err := s.metadata.Build()
	if err != nil {
		s.logger.Error("metadata rendering failed", zap.Error(err))
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	_, _ = w.Write(raw)
}

// handleHome returns the authenticated session as JSON, or 401.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	session, err := s.binder.Lookup(s.sessionToken(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"nameID":       session.NameID,
		"nameIDFormat": session.NameIDFormat,
		"mail":         session.Mail,
		"attributes":   session.Attributes,
		"idpEntityID":  session.IdPEntityID,
		"token":        session.Token,
	})
}

func (s *Server) sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(s.opts.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, session *domain.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeError renders the stable error code as JSON. Message and cause stay
// in the logs.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code.String()})
}

// safeRelayTarget accepts only same-site absolute paths as post-login
// redirect targets, closing the open-redirect hole RelayState would
// otherwise be.
func safeRelayTarget(target string) bool {
	if target == "" || target[0] != '/' {
		return false
	}
	return len(target) < 2 || target[1] != '/'
}
