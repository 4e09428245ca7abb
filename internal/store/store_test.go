// File: internal/store/store_test.go
package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-sessions/api/schemas"
	"github.com/xkilldash9x/scalpel-sessions/internal/config"
	"github.com/xkilldash9x/scalpel-sessions/internal/security"
)

const passphrase = "correct horse battery staple"

// setupStore creates a store in a fresh temp directory with a relaxed decrypt throttle.
func setupStore(t *testing.T, mutate ...func(*config.StoreConfig)) *Store {
	t.Helper()
	cfg := config.NewDefaultConfig().Store
	cfg.Dir = filepath.Join(t.TempDir(), "sessions")
	cfg.DecryptRate = 1000
	cfg.DecryptBurst = 1000
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg, security.New(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func sampleState() *schemas.AuthenticatedState {
	return &schemas.AuthenticatedState{
		Cookies: []schemas.Cookie{
			{Name: "sid", Value: "s3cr3t", Domain: ".example.com", Path: "/", Expires: -1, HTTPOnly: true, Secure: true, SameSite: "Lax"},
			{Name: "pref", Value: "dark", Domain: "example.com", Path: "/", Expires: 1924992000},
		},
		Origins: []schemas.OriginStorage{{
			Origin:       "https://example.com",
			LocalStorage: []schemas.StorageEntry{{Name: "authToken", Value: "eyJ..."}},
		}},
	}
}

// seedIndex writes records directly, bypassing encryption.
func seedIndex(t *testing.T, s *Store, records ...schemas.SessionRecord) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NoError(t, s.writeIndex(&sessionIndex{Sessions: records}))
}

func fakeRecord(name string) schemas.SessionRecord {
	return schemas.SessionRecord{
		ID:            uuid.NewString(),
		Name:          name,
		Domain:        "example.com",
		AuthType:      schemas.AuthTypeForm,
		SchemaVersion: schemas.CurrentSchemaVersion,
	}
}

func TestNew(t *testing.T) {
	t.Run("creates the directory owner-only", func(t *testing.T) {
		s := setupStore(t)
		info, err := os.Stat(s.Dir())
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
	})

	t.Run("tightens an existing directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "loose")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		s := setupStore(t, func(c *config.StoreConfig) { c.Dir = dir })
		info, err := os.Stat(s.Dir())
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
	})

	t.Run("rejects invalid configuration", func(t *testing.T) {
		cfg := config.NewDefaultConfig().Store
		cfg.MaxSessions = 0
		_, err := New(cfg, security.New(), zaptest.NewLogger(t))
		assert.Error(t, err)
	})
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	state := sampleState()

	record, err := s.Save(ctx, "admin-session", state, passphrase, schemas.SaveOptions{})
	require.NoError(t, err)

	t.Run("record metadata is inferred", func(t *testing.T) {
		assert.Equal(t, "admin-session", record.Name)
		assert.Equal(t, "example.com", record.Domain)
		assert.Equal(t, schemas.AuthTypeForm, record.AuthType)
		assert.Equal(t, schemas.CurrentSchemaVersion, record.SchemaVersion)
		assert.True(t, validID(record.ID))
		assert.False(t, record.CreatedAt.IsZero())
		assert.Equal(t, record.CreatedAt, record.UpdatedAt)
		assert.Nil(t, record.ExpiresAt)
	})

	t.Run("files are owner-only and laid out as salt then blob", func(t *testing.T) {
		for _, name := range []string{indexFileName, record.ID + blobExt} {
			info, err := os.Stat(filepath.Join(s.Dir(), name))
			require.NoError(t, err, name)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), name)
		}
		data, err := os.ReadFile(s.blobPath(record.ID))
		require.NoError(t, err)
		assert.Greater(t, len(data), security.SaltSize+security.MinBlobSize)
		assert.NotContains(t, string(data), "s3cr3t")

		// No temp files left behind by the atomic index write.
		matches, err := filepath.Glob(filepath.Join(s.Dir(), "*.tmp"))
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("load returns the exact state", func(t *testing.T) {
		got, err := s.Load(ctx, record.ID, passphrase)
		require.NoError(t, err)
		if diff := cmp.Diff(state, got); diff != "" {
			t.Errorf("loaded state mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("wrong passphrase is decryption_failed", func(t *testing.T) {
		_, err := s.Load(ctx, record.ID, "wrong")
		assert.ErrorIs(t, err, ErrDecryptionFailed)
		assert.Equal(t, CodeDecryptionFailed, CodeOf(err))
	})

	t.Run("empty passphrase is decryption_failed", func(t *testing.T) {
		_, err := s.Load(ctx, record.ID, "")
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("metadata and list agree", func(t *testing.T) {
		meta, ok := s.GetMetadata(ctx, record.ID)
		require.True(t, ok)
		assert.Equal(t, *record, *meta)

		list := s.List(ctx)
		require.Len(t, list, 1)
		assert.Equal(t, record.ID, list[0].ID)
	})
}

func TestSaveOptions(t *testing.T) {
	s := setupStore(t)
	expires := time.Date(2031, 6, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))

	record, err := s.Save(context.Background(), "expiring", sampleState(), passphrase,
		schemas.SaveOptions{AutoDestroy: true, ExpiresAt: &expires})
	require.NoError(t, err)

	assert.True(t, record.AutoDestroy)
	require.NotNil(t, record.ExpiresAt)
	assert.True(t, record.ExpiresAt.Equal(expires))
	assert.Equal(t, time.UTC, record.ExpiresAt.Location())

	meta, ok := s.GetMetadata(context.Background(), record.ID)
	require.True(t, ok)
	assert.True(t, meta.AutoDestroy)
	assert.True(t, meta.ExpiresAt.Equal(expires))
}

func TestSaveValidation(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	t.Run("name rules", func(t *testing.T) {
		for _, name := range []string{"", "   ", strings.Repeat("a", MaxNameLength+1)} {
			_, err := s.Save(ctx, name, sampleState(), passphrase, schemas.SaveOptions{})
			assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
		}
	})

	t.Run("length is counted in characters", func(t *testing.T) {
		name := strings.Repeat("é", MaxNameLength)
		record, err := s.Save(ctx, name, sampleState(), passphrase, schemas.SaveOptions{})
		require.NoError(t, err)
		assert.Equal(t, name, record.Name)
	})

	t.Run("surrounding whitespace is trimmed", func(t *testing.T) {
		record, err := s.Save(ctx, "  padded  ", sampleState(), passphrase, schemas.SaveOptions{})
		require.NoError(t, err)
		assert.Equal(t, "padded", record.Name)
	})

	t.Run("empty passphrase is encryption_failed", func(t *testing.T) {
		_, err := s.Save(ctx, "no-pass", sampleState(), "", schemas.SaveOptions{})
		assert.ErrorIs(t, err, ErrEncryptionFailed)
	})

	t.Run("duplicate name", func(t *testing.T) {
		_, err := s.Save(ctx, "dup", sampleState(), passphrase, schemas.SaveOptions{})
		require.NoError(t, err)
		_, err = s.Save(ctx, "dup", sampleState(), passphrase, schemas.SaveOptions{})
		assert.ErrorIs(t, err, ErrDuplicateName)
		assert.Equal(t, 409, CodeOf(err).HTTPStatus())
	})

	t.Run("nil state is stored as empty", func(t *testing.T) {
		record, err := s.Save(ctx, "empty", nil, passphrase, schemas.SaveOptions{})
		require.NoError(t, err)
		assert.Equal(t, unknownDomain, record.Domain)
		assert.Equal(t, schemas.AuthTypeNone, record.AuthType)

		got, err := s.Load(ctx, record.ID, passphrase)
		require.NoError(t, err)
		assert.True(t, got.IsEmpty())
	})
}

func TestQuota(t *testing.T) {
	ctx := context.Background()

	t.Run("default quota of twenty", func(t *testing.T) {
		s := setupStore(t)
		records := make([]schemas.SessionRecord, 0, config.DefaultMaxSessions)
		for i := 0; i < config.DefaultMaxSessions; i++ {
			records = append(records, fakeRecord("seed-"+uuid.NewString()[:8]))
		}
		seedIndex(t, s, records...)

		_, err := s.Save(ctx, "one-too-many", sampleState(), passphrase, schemas.SaveOptions{})
		assert.ErrorIs(t, err, ErrLimitExceeded)
	})

	t.Run("deleting frees a slot", func(t *testing.T) {
		s := setupStore(t, func(c *config.StoreConfig) { c.MaxSessions = 2 })
		first, err := s.Save(ctx, "a", sampleState(), passphrase, schemas.SaveOptions{})
		require.NoError(t, err)
		_, err = s.Save(ctx, "b", sampleState(), passphrase, schemas.SaveOptions{})
		require.NoError(t, err)

		_, err = s.Save(ctx, "c", sampleState(), passphrase, schemas.SaveOptions{})
		require.ErrorIs(t, err, ErrLimitExceeded)

		require.NoError(t, s.Delete(ctx, first.ID))
		_, err = s.Save(ctx, "c", sampleState(), passphrase, schemas.SaveOptions{})
		assert.NoError(t, err)
	})
}

func TestConcurrentSaves(t *testing.T) {
	ctx := context.Background()

	t.Run("same name admits exactly one", func(t *testing.T) {
		s := setupStore(t)
		const writers = 4

		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = s.Save(ctx, "shared", sampleState(), passphrase, schemas.SaveOptions{})
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, ErrDuplicateName)
		}
		assert.Equal(t, 1, succeeded)
		assert.Len(t, s.List(ctx), 1)
	})

	t.Run("quota holds under contention", func(t *testing.T) {
		s := setupStore(t, func(c *config.StoreConfig) { c.MaxSessions = 2 })
		const writers = 4

		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = s.Save(ctx, "writer-"+string(rune('a'+i)), sampleState(), passphrase, schemas.SaveOptions{})
			}(i)
		}
		wg.Wait()

		limited := 0
		for _, err := range errs {
			if err != nil {
				assert.ErrorIs(t, err, ErrLimitExceeded)
				limited++
			}
		}
		assert.Equal(t, writers-2, limited)
		assert.Len(t, s.List(ctx), 2)

		report, err := s.Check(ctx)
		require.NoError(t, err)
		assert.True(t, report.Consistent(), "no encrypted file may outlive a rejected save")
	})
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	record, err := s.Save(ctx, "victim", sampleState(), passphrase, schemas.SaveOptions{})
	require.NoError(t, err)

	t.Run("unknown id", func(t *testing.T) {
		_, err := s.Load(ctx, uuid.NewString(), passphrase)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("non-uuid ids never touch the filesystem", func(t *testing.T) {
		for _, id := range []string{"", "../index", "../../etc/passwd", strings.ToUpper(record.ID)} {
			_, err := s.Load(ctx, id, passphrase)
			assert.ErrorIs(t, err, ErrNotFound, "id %q", id)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := s.Load(cctx, record.ID, passphrase)
		assert.ErrorIs(t, err, ErrIO)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("truncated file is io_error", func(t *testing.T) {
		other, err := s.Save(ctx, "truncated", sampleState(), passphrase, schemas.SaveOptions{})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(s.blobPath(other.ID), make([]byte, security.SaltSize+10), 0o600))

		_, err = s.Load(ctx, other.ID, passphrase)
		assert.ErrorIs(t, err, ErrIO)
	})

	t.Run("tampered file is decryption_failed", func(t *testing.T) {
		other, err := s.Save(ctx, "tampered", sampleState(), passphrase, schemas.SaveOptions{})
		require.NoError(t, err)
		data, err := os.ReadFile(s.blobPath(other.ID))
		require.NoError(t, err)
		data[len(data)-1] ^= 0xff
		require.NoError(t, os.WriteFile(s.blobPath(other.ID), data, 0o600))

		_, err = s.Load(ctx, other.ID, passphrase)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("missing file is not_found", func(t *testing.T) {
		other, err := s.Save(ctx, "vanished", sampleState(), passphrase, schemas.SaveOptions{})
		require.NoError(t, err)
		require.NoError(t, os.Remove(s.blobPath(other.ID)))

		_, err = s.Load(ctx, other.ID, passphrase)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("corrupt index is io_error, not not_found", func(t *testing.T) {
		good, err := os.ReadFile(s.indexPath())
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, os.WriteFile(s.indexPath(), good, 0o600)) })

		require.NoError(t, os.WriteFile(s.indexPath(), []byte("{not json"), 0o600))
		_, err = s.Load(ctx, record.ID, passphrase)
		assert.ErrorIs(t, err, ErrIO)
		assert.Equal(t, 500, CodeOf(err).HTTPStatus())

		require.NoError(t, os.WriteFile(s.indexPath(), []byte(`{"version":99,"sessions":[]}`), 0o600))
		_, err = s.Load(ctx, record.ID, passphrase)
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("newer schema version is rejected", func(t *testing.T) {
		future := fakeRecord("from-the-future")
		future.SchemaVersion = schemas.CurrentSchemaVersion + 1
		existing := s.List(ctx)
		seedIndex(t, s, append(existing, future)...)

		_, err := s.Load(ctx, future.ID, passphrase)
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
		assert.Equal(t, 422, CodeOf(err).HTTPStatus())
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()

	t.Run("first run is empty, not an error", func(t *testing.T) {
		s := setupStore(t)
		list := s.List(ctx)
		assert.NotNil(t, list)
		assert.Empty(t, list)
	})

	t.Run("corrupt index lists as empty", func(t *testing.T) {
		s := setupStore(t)
		require.NoError(t, os.WriteFile(s.indexPath(), []byte("{not json"), 0o600))
		assert.Empty(t, s.List(ctx))

		_, err := s.Save(ctx, "blocked", sampleState(), passphrase, schemas.SaveOptions{})
		assert.ErrorIs(t, err, ErrIO, "a corrupt index must not be silently overwritten")
	})

	t.Run("keeps insertion order", func(t *testing.T) {
		s := setupStore(t)
		a, b, c := fakeRecord("a"), fakeRecord("b"), fakeRecord("c")
		seedIndex(t, s, a, b, c)

		list := s.List(ctx)
		require.Len(t, list, 3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{list[0].Name, list[1].Name, list[2].Name})
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	record, err := s.Save(ctx, "short-lived", sampleState(), passphrase, schemas.SaveOptions{})
	require.NoError(t, err)

	t.Run("removes index entry and file", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, record.ID))

		_, ok := s.GetMetadata(ctx, record.ID)
		assert.False(t, ok)
		_, err := os.Stat(s.blobPath(record.ID))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("second delete is not_found", func(t *testing.T) {
		assert.ErrorIs(t, s.Delete(ctx, record.ID), ErrNotFound)
	})

	t.Run("missing file is tolerated", func(t *testing.T) {
		orphan := fakeRecord("no-file")
		seedIndex(t, s, orphan)
		assert.NoError(t, s.Delete(ctx, orphan.ID))
		assert.Empty(t, s.List(ctx))
	})

	t.Run("invalid id is not_found", func(t *testing.T) {
		assert.ErrorIs(t, s.Delete(ctx, "../index"), ErrNotFound)
	})
}

func TestGetMetadata(t *testing.T) {
	s := setupStore(t)
	_, ok := s.GetMetadata(context.Background(), uuid.NewString())
	assert.False(t, ok)
	_, ok = s.GetMetadata(context.Background(), "not-a-uuid")
	assert.False(t, ok)
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	record, err := s.Save(ctx, "healthy", sampleState(), passphrase, schemas.SaveOptions{})
	require.NoError(t, err)

	report, err := s.Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, 1, report.Sessions)

	dangling := fakeRecord("dangling")
	seedIndex(t, s, append(s.List(ctx), dangling)...)
	orphanID := uuid.NewString()
	require.NoError(t, os.WriteFile(s.blobPath(orphanID), []byte("x"), 0o600))

	report, err = s.Check(ctx)
	require.NoError(t, err)
	assert.False(t, report.Consistent())
	assert.Equal(t, 2, report.Sessions)
	assert.Equal(t, []string{dangling.ID}, report.MissingFiles)
	assert.Equal(t, []string{orphanID + blobExt}, report.OrphanFiles)
	assert.NotContains(t, report.MissingFiles, record.ID)
}

func TestInference(t *testing.T) {
	tests := []struct {
		name       string
		state      schemas.AuthenticatedState
		wantDomain string
		wantAuth   schemas.AuthType
	}{
		{
			name:       "cookie domain with leading dot",
			state:      schemas.AuthenticatedState{Cookies: []schemas.Cookie{{Name: "a", Domain: ".app.example.org"}}},
			wantDomain: "app.example.org",
			wantAuth:   schemas.AuthTypeForm,
		},
		{
			name: "origin host when no cookies",
			state: schemas.AuthenticatedState{Origins: []schemas.OriginStorage{{
				Origin:       "https://api.example.net:8443",
				LocalStorage: []schemas.StorageEntry{{Name: "ACCESS_TOKEN", Value: "x"}},
			}}},
			wantDomain: "api.example.net",
			wantAuth:   schemas.AuthTypeBearer,
		},
		{
			name: "jwt key hint",
			state: schemas.AuthenticatedState{Origins: []schemas.OriginStorage{{
				Origin:       "https://a.test",
				LocalStorage: []schemas.StorageEntry{{Name: "theme", Value: "x"}, {Name: "userJwt", Value: "y"}},
			}}},
			wantDomain: "a.test",
			wantAuth:   schemas.AuthTypeBearer,
		},
		{
			name: "storage without token keys",
			state: schemas.AuthenticatedState{Origins: []schemas.OriginStorage{{
				Origin:       "https://a.test",
				LocalStorage: []schemas.StorageEntry{{Name: "theme", Value: "dark"}},
			}}},
			wantDomain: "a.test",
			wantAuth:   schemas.AuthTypeNone,
		},
		{
			name:       "nothing captured",
			wantDomain: unknownDomain,
			wantAuth:   schemas.AuthTypeNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantDomain, inferDomain(&tt.state))
			assert.Equal(t, tt.wantAuth, inferAuthType(&tt.state))
		})
	}
}

func TestErrorCodes(t *testing.T) {
	statuses := map[ErrorCode]int{
		CodeNotFound:           404,
		CodeDuplicateName:      409,
		CodeLimitExceeded:      409,
		CodeDecryptionFailed:   401,
		CodeInvalidName:        400,
		CodeIO:                 500,
		CodeEncryptionFailed:   500,
		CodeUnsupportedVersion: 422,
	}
	for code, want := range statuses {
		assert.Equal(t, want, code.HTTPStatus(), string(code))
	}

	err := newError(CodeNotFound, os.ErrNotExist, "session %s", "x")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, "not_found: session x: file does not exist", err.Error())
	assert.Equal(t, ErrorCode(""), CodeOf(os.ErrNotExist))
}
