// Package registry maintains the counterparty trust map. Loan providers and
// venues must be registered and trusted before the coordinator will touch
// them; only the holder of the administrative capability token can flip a
// trust flag.
package registry

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/pbkdf2"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

const (
	// pbkdf2Iterations matches the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	keyLen           = 32
)

// HashCapability derives the stored form of an admin capability token. The
// salt is deployment-wide and kept alongside the hash in configuration.
func HashCapability(token, salt string) string {
	key := pbkdf2.Key([]byte(token), []byte(salt), pbkdf2Iterations, keyLen, sha256.New)
	return hex.EncodeToString(key)
}

// Emitter is the subset of the event emitter the registry needs.
type Emitter interface {
	Emit(ev domain.Event)
}

// Service answers trust queries and applies administrative mutations.
type Service struct {
	store   domain.RegistryStore
	capHash string
	capSalt string
	emitter Emitter
	logger  *slog.Logger
}

// New creates a registry Service. capHash is the pbkdf2 hash of the admin
// capability token (see HashCapability); an empty hash disables mutation
// entirely.
func New(store domain.RegistryStore, capHash, capSalt string, emitter Emitter, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		capHash: capHash,
		capSalt: capSalt,
		emitter: emitter,
		logger:  logger.With(slog.String("component", "registry")),
	}
}

// IsTrusted reports whether the counterparty is registered and trusted.
// Unknown counterparties are untrusted.
func (s *Service) IsTrusted(ctx context.Context, id string) bool {
	entry, err := s.store.Get(ctx, id)
	if err != nil {
		return false
	}
	return entry.Trusted
}

// SetTrusted flips a counterparty's trust flag. The caller must present the
// administrative capability token; anything else fails with
// domain.ErrUnauthorized before any state is touched.
func (s *Service) SetTrusted(ctx context.Context, capToken, id string, trusted bool) error {
	if err := s.authorize(capToken); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("registry: empty counterparty id: %w", domain.ErrNotFound)
	}

	if err := s.store.Set(ctx, id, trusted); err != nil {
		return fmt.Errorf("registry: set %s: %w", id, err)
	}

	s.logger.Info("registry changed",
		slog.String("counterparty", id),
		slog.Bool("trusted", trusted),
	)
	s.emitter.Emit(domain.Event{
		Type:           domain.EventRegistryChanged,
		CounterpartyID: id,
		Trusted:        trusted,
	})
	return nil
}

// List returns all registry entries.
func (s *Service) List(ctx context.Context) ([]domain.RegistryEntry, error) {
	return s.store.List(ctx)
}

// authorize checks the capability token in constant time.
func (s *Service) authorize(capToken string) error {
	if s.capHash == "" || capToken == "" {
		return domain.ErrUnauthorized
	}
	presented := HashCapability(capToken, s.capSalt)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(s.capHash)) != 1 {
		return domain.ErrUnauthorized
	}
	return nil
}
