package identity

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// SessionDuration is how long an ambient participant session cookie stays valid.
const SessionDuration = 365 * 24 * time.Hour

// SessionTokenBytes is the size of the random session cookie value.
const SessionTokenBytes = 32

// CookieName is the ambient session cookie the jam endpoint reads identity from.
const CookieName = "termrelay_session"

// ErrNoSession is returned when a request carries no valid session cookie.
var ErrNoSession = errors.New("no session cookie")

// ParticipantSession is one issued login session, keyed by a random hex ID
// and carrying participant id+login rather than a nostr pubkey.
type ParticipantSession struct {
	ID        string
	Participant
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionStore persists participant sessions in Postgres.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Create(p Participant) (*ParticipantSession, error) {
	tokenBytes := make([]byte, SessionTokenBytes)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, err
	}
	id := hex.EncodeToString(tokenBytes)

	now := time.Now()
	expiresAt := now.Add(SessionDuration)

	_, err := s.db.Exec(`
		INSERT INTO participant_sessions (id, participant_id, login, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, p.ID, p.Login, now, expiresAt)
	if err != nil {
		return nil, err
	}

	return &ParticipantSession{ID: id, Participant: p, CreatedAt: now, ExpiresAt: expiresAt}, nil
}

func (s *SessionStore) Validate(sessionID string) (*ParticipantSession, error) {
	row := s.db.QueryRow(`
		SELECT id, participant_id, login, created_at, expires_at
		FROM participant_sessions WHERE id = $1
	`, sessionID)

	var sess ParticipantSession
	if err := row.Scan(&sess.ID, &sess.Participant.ID, &sess.Participant.Login, &sess.CreatedAt, &sess.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if time.Now().After(sess.ExpiresAt) {
		s.Delete(sessionID)
		return nil, nil
	}
	return &sess, nil
}

func (s *SessionStore) Delete(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM participant_sessions WHERE id = $1`, sessionID)
	return err
}

// CookieAuthenticator resolves a Participant from the ambient session cookie,
// resolving a participant from the ambient session cookie rather than a bearer token.
type CookieAuthenticator struct {
	Sessions *SessionStore
}

func (a *CookieAuthenticator) Authenticate(r *http.Request) (Participant, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return Participant{}, ErrNoSession
	}
	sess, err := a.Sessions.Validate(cookie.Value)
	if err != nil {
		return Participant{}, err
	}
	if sess == nil {
		return Participant{}, ErrNoSession
	}
	return sess.Participant, nil
}

// IssueCookie sets the ambient session cookie on the response for a newly
// authenticated participant.
func IssueCookie(w http.ResponseWriter, sess *ParticipantSession) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.ExpiresAt,
	})
}

func PrincipalToParticipant(p Principal) Participant {
	return Participant{ID: p.Subject, Login: p.Username}
}
