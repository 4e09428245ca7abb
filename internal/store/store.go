// File: internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/scalpel-sessions/api/schemas"
	"github.com/xkilldash9x/scalpel-sessions/internal/config"
	"github.com/xkilldash9x/scalpel-sessions/internal/observability"
	"github.com/xkilldash9x/scalpel-sessions/internal/security"
)

// MaxNameLength is the longest session name accepted, counted in characters.
const MaxNameLength = 50

// payload is the plaintext that gets encrypted into each session file.
type payload struct {
	SchemaVersion int                         `json:"schemaVersion"`
	State         *schemas.AuthenticatedState `json:"state"`
}

// Store is the encrypted, file-backed session repository. It exclusively owns its
// directory: an index.json document plus one <id>.enc file per session.
type Store struct {
	dir         string
	cipher      *security.Cipher
	log         *zap.Logger
	maxSessions int

	// mu serializes every read-modify-write of the index.
	mu sync.Mutex
	// kdf bounds how many key derivations run at once.
	kdf *semaphore.Weighted
	// decrypts paces Load attempts to slow down online passphrase guessing.
	decrypts *rate.Limiter

	now func() time.Time
}

var _ schemas.SessionRepository = (*Store)(nil)

// New creates a store rooted at the configured directory, creating it owner-only if needed.
func New(cfg config.StoreConfig, cipher *security.Cipher, logger *zap.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store configuration: %w", err)
	}
	if cipher == nil {
		return nil, errors.New("store requires a cipher")
	}
	dir, err := cfg.ResolvedDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store directory: %w", err)
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}
	// MkdirAll leaves existing directories alone.
	if err := os.Chmod(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to restrict store directory %s: %w", dir, err)
	}

	s := &Store{
		dir:         dir,
		cipher:      cipher,
		log:         logger.Named("store"),
		maxSessions: cfg.MaxSessions,
		kdf:         semaphore.NewWeighted(int64(cfg.KDFConcurrency)),
		decrypts:    rate.NewLimiter(rate.Limit(cfg.DecryptRate), cfg.DecryptBurst),
		now:         time.Now,
	}
	s.log.Debug("Session store ready.", zap.String("dir", dir), zap.Int("max_sessions", s.maxSessions))
	return s, nil
}

// Dir returns the resolved directory the store writes to.
func (s *Store) Dir() string {
	return s.dir
}

// Save encrypts state under passphrase and records it under name.
func (s *Store) Save(ctx context.Context, name string, state *schemas.AuthenticatedState, passphrase string, opts schemas.SaveOptions) (*schemas.SessionRecord, error) {
	// 1. Validate input.
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n == 0 || n > MaxNameLength {
		return nil, newError(CodeInvalidName, nil, "name must be 1-%d characters, got %d", MaxNameLength, n)
	}
	if state == nil {
		state = &schemas.AuthenticatedState{}
	}
	if passphrase == "" {
		return nil, newError(CodeEncryptionFailed, nil, "passphrase must not be empty")
	}

	// 2. Fail fast on naming and quota before paying for key derivation.
	if err := s.checkCapacity(name); err != nil {
		return nil, err
	}

	// 3. Serialize and encrypt outside the index lock.
	plaintext, err := json.Marshal(payload{SchemaVersion: schemas.CurrentSchemaVersion, State: state})
	if err != nil {
		return nil, newError(CodeEncryptionFailed, err, "failed to serialize state")
	}
	if err := s.kdf.Acquire(ctx, 1); err != nil {
		return nil, newError(CodeEncryptionFailed, err, "key derivation not started")
	}
	blob, salt, err := s.cipher.Encrypt(plaintext, passphrase)
	s.kdf.Release(1)
	if err != nil {
		return nil, newError(CodeEncryptionFailed, err, "failed to encrypt state")
	}

	// 4. Commit under the lock, repeating the checks another writer may have invalidated.
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	if err := s.admit(idx, name); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	record := schemas.SessionRecord{
		ID:            uuid.NewString(),
		Name:          name,
		Domain:        inferDomain(state),
		AuthType:      inferAuthType(state),
		CreatedAt:     now,
		UpdatedAt:     now,
		AutoDestroy:   opts.AutoDestroy,
		SchemaVersion: schemas.CurrentSchemaVersion,
	}
	if opts.ExpiresAt != nil {
		expires := opts.ExpiresAt.UTC()
		record.ExpiresAt = &expires
	}

	if err := s.writeBlob(record.ID, salt, blob); err != nil {
		return nil, newError(CodeIO, err, "failed to persist session")
	}
	idx.Sessions = append(idx.Sessions, record)
	if err := s.writeIndex(idx); err != nil {
		if rmErr := os.Remove(s.blobPath(record.ID)); rmErr != nil {
			s.log.Warn("Failed to remove session file after index write failure.", zap.String("id", record.ID), zap.Error(rmErr))
		}
		return nil, err
	}

	s.log.Info("Session saved.", observability.Record(&record), observability.StateSummary(state))
	return &record, nil
}

func (s *Store) checkCapacity(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.readIndex()
	if err != nil {
		return err
	}
	return s.admit(idx, name)
}

func (s *Store) admit(idx *sessionIndex, name string) error {
	if idx.hasName(name) {
		return newError(CodeDuplicateName, nil, "a session named %q already exists", name)
	}
	if len(idx.Sessions) >= s.maxSessions {
		return newError(CodeLimitExceeded, nil, "store already holds %d sessions", s.maxSessions)
	}
	return nil
}

// Load decrypts and returns the state stored under id.
func (s *Store) Load(ctx context.Context, id, passphrase string) (*schemas.AuthenticatedState, error) {
	// 1. Resolve the record. Ids that are not canonical UUIDs never name a file.
	if !validID(id) {
		return nil, newError(CodeNotFound, nil, "session %q", id)
	}
	// An unreadable index is structural damage, not an absent session.
	s.mu.Lock()
	idx, err := s.readIndex()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	i := idx.find(id)
	if i < 0 {
		return nil, newError(CodeNotFound, nil, "session %s", id)
	}
	record := &idx.Sessions[i]
	if record.SchemaVersion > schemas.CurrentSchemaVersion {
		return nil, newError(CodeUnsupportedVersion, nil, "session %s has schema version %d", id, record.SchemaVersion)
	}
	if passphrase == "" {
		return nil, newError(CodeDecryptionFailed, nil, "passphrase must not be empty")
	}

	// 2. Read and split the file on the fixed salt boundary.
	data, err := os.ReadFile(s.blobPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, newError(CodeNotFound, err, "session file for %s is missing", id)
	}
	if err != nil {
		return nil, newError(CodeIO, err, "failed to read session %s", id)
	}
	if len(data) < security.SaltSize+security.MinBlobSize {
		return nil, newError(CodeIO, nil, "session file for %s is truncated (%d bytes)", id, len(data))
	}
	salt, blob := data[:security.SaltSize], data[security.SaltSize:]

	// 3. Decrypt, paced and bounded.
	if err := s.decrypts.Wait(ctx); err != nil {
		return nil, newError(CodeIO, err, "decryption not started")
	}
	if err := s.kdf.Acquire(ctx, 1); err != nil {
		return nil, newError(CodeIO, err, "key derivation not started")
	}
	plaintext, err := s.cipher.Decrypt(blob, salt, passphrase)
	s.kdf.Release(1)
	if errors.Is(err, security.ErrCorruptedData) {
		return nil, newError(CodeIO, err, "session file for %s is corrupted", id)
	}
	if err != nil {
		s.log.Warn("Session decryption failed.", zap.String("id", id))
		return nil, newError(CodeDecryptionFailed, err, "session %s", id)
	}

	// 4. Decode the payload.
	var p payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, newError(CodeIO, err, "session %s payload is malformed", id)
	}
	if p.SchemaVersion != schemas.CurrentSchemaVersion {
		return nil, newError(CodeUnsupportedVersion, nil, "session %s payload has schema version %d", id, p.SchemaVersion)
	}
	if p.State == nil {
		p.State = &schemas.AuthenticatedState{}
	}

	s.log.Debug("Session loaded.", observability.Record(record), observability.StateSummary(p.State))
	return p.State, nil
}

// List returns every record in insertion order. A missing or unreadable index is an
// empty store.
func (s *Store) List(ctx context.Context) []schemas.SessionRecord {
	s.mu.Lock()
	idx, err := s.readIndex()
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("Session index unreadable; reporting an empty store.", zap.Error(err))
		return []schemas.SessionRecord{}
	}
	out := make([]schemas.SessionRecord, len(idx.Sessions))
	copy(out, idx.Sessions)
	return out
}

// Delete removes the record from the index and then removes its file. A file that is
// already gone is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return newError(CodeNotFound, nil, "session %q", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.readIndex()
	if err != nil {
		return err
	}
	i := idx.find(id)
	if i < 0 {
		return newError(CodeNotFound, nil, "session %s", id)
	}
	record := idx.Sessions[i]
	idx.Sessions = append(idx.Sessions[:i], idx.Sessions[i+1:]...)
	if err := s.writeIndex(idx); err != nil {
		return err
	}

	if err := os.Remove(s.blobPath(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Debug("Session file already absent.", zap.String("id", id))
		} else {
			s.log.Warn("Failed to remove session file.", zap.String("id", id), zap.Error(err))
		}
	}
	s.log.Info("Session deleted.", observability.Record(&record))
	return nil
}

// GetMetadata returns the record for id, if any.
func (s *Store) GetMetadata(ctx context.Context, id string) (*schemas.SessionRecord, bool) {
	if !validID(id) {
		return nil, false
	}
	s.mu.Lock()
	idx, err := s.readIndex()
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("Session index unreadable.", zap.Error(err))
		return nil, false
	}
	if i := idx.find(id); i >= 0 {
		record := idx.Sessions[i]
		return &record, true
	}
	return nil, false
}

// validID accepts only the canonical lower-case UUID form the store generates, which
// also keeps ids from escaping the store directory.
func validID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.String() == id
}
