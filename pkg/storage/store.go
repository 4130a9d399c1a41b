package storage

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pacfleet/pacfleet/pkg/errdefs"
	"github.com/pacfleet/pacfleet/pkg/log"
)

// retryBackoff is the pause before the single retry of a transient failure.
const retryBackoff = 100 * time.Millisecond

// Store provides transactional CRUD over the five relational tables. All
// reads and writes go through the engine-neutral Driver; JSON payload
// columns (snapshot packages, repository packages, operation details, pool
// sync policy) are serialized with encoding/json.
type Store struct {
	driver Driver
	logger zerolog.Logger
}

// NewStore wraps an open driver.
func NewStore(d Driver) *Store {
	return &Store{
		driver: d,
		logger: log.WithComponent("storage"),
	}
}

// Driver exposes the underlying driver for health checks and pool stats.
func (s *Store) Driver() Driver { return s.driver }

// Close closes the underlying driver.
func (s *Store) Close() error { return s.driver.Close() }

// HealthPing verifies database connectivity.
func (s *Store) HealthPing(ctx context.Context) error {
	return s.driver.HealthPing(ctx)
}

// withRetry retries fn once after a short backoff when it fails with a
// transient storage error. Validation/not-found/conflict outcomes pass
// through untouched.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !errdefs.Storage.Has(err) {
		return err
	}
	s.logger.Warn().Err(err).Msg("transient storage error, retrying once")
	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		return errdefs.Storage.Wrap(ctx.Err())
	}
	return fn()
}

// now returns the timestamp used for new and updated rows: UTC, millisecond
// precision, monotone within the process for practical purposes.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func marshalJSON(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errdefs.Internal.Wrap(err)
	}
	return b, nil
}

func unmarshalJSON(b []byte, v interface{}) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return errdefs.Internal.Wrap(err)
	}
	return nil
}

// isUniqueViolation sniffs the engine-specific unique constraint errors.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "duplicate key value") // postgres
}
