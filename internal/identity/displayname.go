package identity

import (
	"database/sql"
	"errors"
	"time"
)

// DisplayNameCacheDuration is how long a resolved login is trusted before
// being considered stale.
const DisplayNameCacheDuration = 24 * time.Hour

// DisplayNameCache caches participant login names in Postgres, keyed by
// subject. Lookup failures are tolerated: callers fall back to the bare
// subject string.
type DisplayNameCache struct {
	db *sql.DB
}

func NewDisplayNameCache(db *sql.DB) *DisplayNameCache {
	return &DisplayNameCache{db: db}
}

func (c *DisplayNameCache) Get(subject string) (login string, fresh bool, err error) {
	row := c.db.QueryRow(`SELECT login, fetched_at FROM participant_profiles WHERE subject = $1`, subject)
	var fetchedAt time.Time
	if err := row.Scan(&login, &fetchedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return login, time.Since(fetchedAt) < DisplayNameCacheDuration, nil
}

func (c *DisplayNameCache) Put(subject, login string) error {
	_, err := c.db.Exec(`
		INSERT INTO participant_profiles (subject, login, fetched_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (subject) DO UPDATE SET login = $2, fetched_at = $3
	`, subject, login, time.Now())
	return err
}

// Resolve returns the best known display name for subject, falling back to
// subject itself when nothing is cached — callers never block on a remote
// identity provider lookup here; that refresh, if any, happens out of band.
func (c *DisplayNameCache) Resolve(subject string) string {
	login, _, err := c.Get(subject)
	if err != nil || login == "" {
		return subject
	}
	return login
}
