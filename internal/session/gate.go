// Package session gates client access to the gateway. Tokens are opaque
// UUIDs used for attribution, not cryptographic proof of anything; the gate
// checks shape, existence, revocation, and user binding, in that order.
package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ianlrsn/livegate/internal/metrics"
	"github.com/ianlrsn/livegate/internal/store"
)

// Error kinds reported by Authorize, in validation order.
const (
	ErrKindMissingSessionID        = "missing_session_id"
	ErrKindInvalidSessionIDFormat  = "invalid_session_id_format"
	ErrKindInvalidUserIDFormat     = "invalid_user_id_format"
	ErrKindUnknownOrRevokedSession = "unknown_or_revoked_session"
	ErrKindSessionUserMismatch     = "session_user_mismatch"
)

// AuthResult is the outcome of validating an inbound session token.
type AuthResult struct {
	OK        bool
	SessionID string
	UserID    string
	ErrorKind string
}

// Issued describes a freshly minted session.
type Issued struct {
	UserID    string
	SessionID string
	IssuedAt  time.Time
}

// Gate validates inbound session tokens and issues new ones. It owns the
// session lifecycle; nothing else writes session or user rows.
type Gate struct {
	sessions store.SessionStore
	logger   *slog.Logger
	metrics  *metrics.Recorder
}

// NewGate wires the gate to its session store.
func NewGate(sessions store.SessionStore, logger *slog.Logger, recorder *metrics.Recorder) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		sessions: sessions,
		logger:   logger.With(slog.String("agent", "session_gate")),
		metrics:  recorder,
	}
}

// Authorize validates the session token and optional user hint. Failures
// perform no store writes; the only side effect of success is a best-effort
// last_seen_at touch that never fails the caller. The returned error is
// non-nil only when the session store itself is unreachable.
func (g *Gate) Authorize(ctx context.Context, sessionToken, userHint string) (AuthResult, error) {
	sessionToken = strings.TrimSpace(sessionToken)
	userHint = strings.TrimSpace(userHint)

	if sessionToken == "" {
		return g.reject(AuthResult{ErrorKind: ErrKindMissingSessionID}), nil
	}
	if !wellFormedToken(sessionToken) {
		return g.reject(AuthResult{SessionID: sessionToken, UserID: userHint, ErrorKind: ErrKindInvalidSessionIDFormat}), nil
	}
	if userHint != "" && !wellFormedToken(userHint) {
		return g.reject(AuthResult{SessionID: sessionToken, UserID: userHint, ErrorKind: ErrKindInvalidUserIDFormat}), nil
	}

	session, ok, err := g.sessions.LookupSession(ctx, sessionToken)
	if err != nil {
		g.metrics.ObserveSessionOperation("authorize", false)
		return AuthResult{}, err
	}
	if !ok || session.RevokedAt != nil {
		return g.reject(AuthResult{SessionID: sessionToken, UserID: userHint, ErrorKind: ErrKindUnknownOrRevokedSession}), nil
	}
	if userHint != "" && userHint != session.UserID {
		return g.reject(AuthResult{SessionID: sessionToken, UserID: userHint, ErrorKind: ErrKindSessionUserMismatch}), nil
	}

	if err := g.sessions.TouchSession(ctx, session.SessionID, time.Now().UTC()); err != nil {
		g.logger.Warn("session touch failed", slog.Any("error", err), slog.String("session_id", session.SessionID))
	}

	g.metrics.ObserveSessionOperation("authorize", true)
	return AuthResult{OK: true, SessionID: session.SessionID, UserID: session.UserID}, nil
}

// IssueOrResume mints a session. A well-formed requested token that resolves
// to an existing user keeps that identity; anything else (absent, malformed,
// unknown) silently gets a new one. Only store failures reach the caller.
func (g *Gate) IssueOrResume(ctx context.Context, requestedUserToken string) (Issued, error) {
	now := time.Now().UTC()
	requestedUserToken = strings.TrimSpace(requestedUserToken)

	userID := ""
	if wellFormedToken(requestedUserToken) {
		exists, err := g.sessions.UserExists(ctx, requestedUserToken)
		if err != nil {
			g.metrics.ObserveSessionOperation("issue", false)
			return Issued{}, err
		}
		if exists {
			userID = requestedUserToken
		}
	}
	if userID == "" {
		userID = uuid.NewString()
	}
	sessionID := uuid.NewString()

	if err := g.sessions.UpsertUser(ctx, store.User{UserID: userID, CreatedAt: now, LastSeenAt: now}); err != nil {
		g.metrics.ObserveSessionOperation("issue", false)
		return Issued{}, err
	}
	if err := g.sessions.InsertSession(ctx, store.Session{
		SessionID:  sessionID,
		UserID:     userID,
		CreatedAt:  now,
		LastSeenAt: now,
	}); err != nil {
		g.metrics.ObserveSessionOperation("issue", false)
		return Issued{}, err
	}

	g.metrics.ObserveSessionOperation("issue", true)
	return Issued{UserID: userID, SessionID: sessionID, IssuedAt: now}, nil
}

func (g *Gate) reject(result AuthResult) AuthResult {
	g.metrics.ObserveSessionOperation("authorize", false)
	return result
}

// wellFormedToken accepts only the canonical hyphenated UUID form; the
// alternate encodings uuid.Parse tolerates (braces, URN prefix, bare hex)
// are not valid client tokens.
func wellFormedToken(value string) bool {
	parsed, err := uuid.Parse(value)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.String(), value)
}
