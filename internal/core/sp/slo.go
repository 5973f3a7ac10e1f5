package sp

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/philiph/samlauth/internal/core/domain"
	"github.com/philiph/samlauth/internal/core/ports"
)

type soapEnvelope struct {
	XMLName xml.Name `xml:"http://schemas.xmlsoap.org/soap/envelope/ Envelope"`
	Body    soapBody
}

type soapBody struct {
	XMLName xml.Name `xml:"http://schemas.xmlsoap.org/soap/envelope/ Body"`
	Content []byte   `xml:",innerxml"`
}

// LogoutOutcome is the result of a logout step: the state reached and, for
// front-channel steps, where to send the user agent next.
type LogoutOutcome struct {
	State domain.LogoutState

	// RedirectURL is set for front-channel steps (LogoutRequest to the IdP,
	// LogoutResponse answering the IdP). Nil for back-channel and local-only
	// outcomes.
	RedirectURL *url.URL

	// SessionsRevoked counts local sessions removed by this step.
	SessionsRevoked int
}

// SLOCoordinator drives single logout. Every path through it converges on
// the local session being absent; only the IdP-side session may survive, and
// then only as the soft LocalOnly outcome.
type SLOCoordinator struct {
	sp        *ServiceProviderConfig
	idp       *IdentityProviderConfig
	builder   *RequestBuilder
	validator *ResponseValidator
	binder    *SessionBinder
	metrics   ports.MetricsRecorder
	logger    *zap.Logger
	client    *http.Client
}

// NewSLOCoordinator wires the coordinator. client is used for the SOAP back
// channel; nil means http.DefaultClient with the configured SLO timeout
// applied per call.
func NewSLOCoordinator(sp *ServiceProviderConfig, idp *IdentityProviderConfig, builder *RequestBuilder, validator *ResponseValidator, binder *SessionBinder, metrics ports.MetricsRecorder, logger *zap.Logger, client *http.Client) *SLOCoordinator {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SLOCoordinator{
		sp:        sp,
		idp:       idp,
		builder:   builder,
		validator: validator,
		binder:    binder,
		metrics:   metrics,
		logger:    logger,
		client:    client,
	}
}

// InitiateLogout starts logout for the session behind token. Without an
// active session this is an error, not a no-op. With no IdP SLO endpoint the
// session is revoked locally and the outcome is the soft LocalOnly state.
func (c *SLOCoordinator) InitiateLogout(ctx context.Context, token string) (*LogoutOutcome, error) {
	session, err := c.binder.Lookup(token)
	if err != nil {
		return nil, err
	}

	if c.idp.SLOURL == "" {
		return c.localOnly(token, "idp advertises no SLO endpoint", nil)
	}

	if c.idp.SLOBinding == SLOModeSOAP {
		return c.backchannelLogout(ctx, token, session)
	}

	built, err := c.builder.BuildLogoutRequest(session, "")
	if err != nil {
		return nil, err
	}
	c.logger.Info("logout request issued",
		zap.String("request_id", built.ID),
		zap.String("name_id", session.NameID))
	return &LogoutOutcome{State: domain.LogoutSPInitiatedPending, RedirectURL: built.RedirectURL}, nil
}

// backchannelLogout POSTs the LogoutRequest inside a SOAP envelope with a
// bounded timeout. Transport failure is the soft path: the local session is
// revoked regardless, only the IdP session may linger.
func (c *SLOCoordinator) backchannelLogout(ctx context.Context, token string, session *domain.Session) (*LogoutOutcome, error) {
	request := c.builder.LogoutRequestMessage(session)

	payload, err := xml.Marshal(request)
	if err != nil {
		return nil, domain.ServiceError("encode logout request", err)
	}
	envelope, err := xml.Marshal(soapEnvelope{Body: soapBody{Content: payload}})
	if err != nil {
		return nil, domain.ServiceError("encode soap envelope", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.idp.SLORoundTripTimeout())
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.idp.SLOURL, bytes.NewReader(envelope))
	if err != nil {
		return nil, domain.ServiceError("build soap request", err)
	}
	httpReq.Header.Set("Content-Type", "text/xml; charset=utf-8")
	httpReq.Header.Set("SOAPAction", "http://www.oasis-open.org/committees/security")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return c.localOnly(token, "soap logout transport failed", domain.SLOTransportError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.localOnly(token, "soap logout rejected",
			domain.SLOTransportError(fmt.Errorf("idp answered %s", resp.Status)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return c.localOnly(token, "soap logout response unreadable", domain.SLOTransportError(err))
	}

	status, err := logoutStatusFromSOAP(body)
	if err != nil {
		return c.localOnly(token, "soap logout response unparseable", domain.SLOTransportError(err))
	}
	if status != StatusSuccess {
		return c.localOnly(token, fmt.Sprintf("idp answered logout with status %s", status), nil)
	}

	if err := c.binder.Revoke(token); err != nil {
		return nil, err
	}
	c.metrics.RecordLogout(domain.LogoutCompleted.String())
	return &LogoutOutcome{State: domain.LogoutCompleted, SessionsRevoked: 1}, nil
}

// FinishLogout consumes the IdP's front-channel LogoutResponse. A success
// status completes the logout; a failure status still revokes locally (soft
// failure). Responses that do not verify or do not answer a pending request
// also end with the session revoked, but the error is surfaced.
func (c *SLOCoordinator) FinishLogout(token, encoded string, binding Binding, rawQuery string) (*LogoutOutcome, error) {
	_, err := c.validator.ValidateLogoutResponse(encoded, binding, rawQuery)
	if err == nil {
		if err := c.binder.Revoke(token); err != nil {
			return nil, err
		}
		c.metrics.RecordLogout(domain.LogoutCompleted.String())
		return &LogoutOutcome{State: domain.LogoutCompleted, SessionsRevoked: 1}, nil
	}

	if domain.CodeOf(err) == domain.ErrCodeStatusFailure {
		return c.localOnly(token, "idp reported logout failure", nil)
	}

	if revokeErr := c.binder.Revoke(token); revokeErr != nil {
		return nil, revokeErr
	}
	c.metrics.RecordLogout(domain.LogoutFailed.String())
	return &LogoutOutcome{State: domain.LogoutFailed, SessionsRevoked: 1}, err
}

// HandleIdPLogout processes an inbound IdP-initiated LogoutRequest: validate
// it, revoke every matching local session, and answer success over the front
// channel even when nothing matched.
func (c *SLOCoordinator) HandleIdPLogout(encoded string, binding Binding, rawQuery, relayState string) (*LogoutOutcome, error) {
	request, err := c.validator.ValidateLogoutRequest(encoded, binding, rawQuery)
	if err != nil {
		return nil, err
	}

	sessionIndex := ""
	if len(request.SessionIndexes) > 0 {
		sessionIndex = request.SessionIndexes[0]
	}
	revoked := c.binder.RevokeByIdentity(request.NameID.Value, sessionIndex)

	redirect, err := c.builder.BuildLogoutResponse(request.ID, relayState, StatusSuccess)
	if err != nil {
		return nil, err
	}

	c.logger.Info("idp-initiated logout handled",
		zap.String("request_id", request.ID),
		zap.Int("sessions_revoked", revoked))
	c.metrics.RecordLogout(domain.LogoutIdPInitiated.String())

	return &LogoutOutcome{
		State:           domain.LogoutIdPInitiated,
		RedirectURL:     redirect,
		SessionsRevoked: revoked,
	}, nil
}

// localOnly revokes the local session and reports the soft outcome. cause,
// when non-nil, is logged but not returned: local logout has succeeded.
func (c *SLOCoordinator) localOnly(token, reason string, cause error) (*LogoutOutcome, error) {
	if err := c.binder.Revoke(token); err != nil {
		return nil, err
	}
	if cause != nil {
		c.logger.Warn("falling back to local-only logout", zap.String("reason", reason), zap.Error(cause))
	} else {
		c.logger.Info("local-only logout", zap.String("reason", reason))
	}
	c.metrics.RecordLogout(domain.LogoutLocalOnly.String())
	return &LogoutOutcome{State: domain.LogoutLocalOnly, SessionsRevoked: 1}, nil
}

// logoutStatusFromSOAP digs the LogoutResponse status code out of a SOAP
// envelope.
func logoutStatusFromSOAP(body []byte) (string, error) {
	var envelope soapEnvelope
	if err := xml.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("parse soap envelope: %w", err)
	}
	var response LogoutResponse
	if err := xml.Unmarshal(envelope.Body.Content, &response); err != nil {
		return "", fmt.Errorf("parse logout response: %w", err)
	}
	if response.Status == nil {
		return "", errors.New("logout response has no status")
	}
	return response.Status.StatusCode.Value, nil
}
