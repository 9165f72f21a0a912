package session

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repositories(t *testing.T) map[string]Repository {
	t.Helper()

	file, err := NewFileRepository(t.TempDir())
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := NewRedisRepositoryFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "", 0)

	repos := map[string]Repository{
		"memory": NewMemoryRepository(),
		"file":   file,
		"redis":  rdb,
	}
	t.Cleanup(func() {
		for _, r := range repos {
			_ = r.Close()
		}
	})
	return repos
}

func TestRepository_Contract(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			s, err := repo.Get(ctx, "1001")
			require.NoError(t, err)
			assert.True(t, s.IsIdle())
			assert.Empty(t, s.Fields)

			_, err = repo.Lookup(ctx, "1001")
			assert.ErrorIs(t, err, ErrSessionNotFound)

			s.Enter("awaiting_register_email")
			s.SetField("name", "Ana Souza")
			s.SetPreamble("sinus tachycardia")
			s.Principal = &Principal{ID: "op-1", Name: "Ana Souza"}
			require.NoError(t, repo.Save(ctx, s))

			loaded, err := repo.Get(ctx, "1001")
			require.NoError(t, err)
			if diff := cmp.Diff(s, loaded, cmpopts.EquateApproxTime(time.Second)); diff != "" {
				t.Errorf("loaded session mismatch (-want +got):\n%s", diff)
			}

			loaded.SetField("name", "changed")
			again, err := repo.Get(ctx, "1001")
			require.NoError(t, err)
			assert.Equal(t, "Ana Souza", again.Field("name"))

			require.NoError(t, repo.Save(ctx, New("1002")))
			list, err := repo.List(ctx)
			require.NoError(t, err)
			ids := make([]string, 0, len(list))
			for _, l := range list {
				ids = append(ids, l.UserID)
			}
			sort.Strings(ids)
			assert.Equal(t, []string{"1001", "1002"}, ids)

			require.NoError(t, repo.Delete(ctx, "1001"))
			require.NoError(t, repo.Delete(ctx, "1001"))
			_, err = repo.Lookup(ctx, "1001")
			assert.ErrorIs(t, err, ErrSessionNotFound)
		})
	}
}

func TestFileRepository_RejectsTraversal(t *testing.T) {
	repo, err := NewFileRepository(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	assert.ErrorIs(t, repo.Save(ctx, New("../etc")), ErrInvalidPathComponent)
	_, err = repo.Lookup(ctx, "a/b")
	assert.ErrorIs(t, err, ErrInvalidPathComponent)
	_, err = repo.Lookup(ctx, "")
	assert.Error(t, err)
}

func TestSession_Helpers(t *testing.T) {
	s := New("u")
	s.Enter("awaiting_case_text")
	s.SetField("a", "1")
	s.SetPreamble("ecg")

	fields := s.TakeFields()
	assert.Equal(t, map[string]string{"a": "1"}, fields)
	assert.True(t, s.IsIdle())
	assert.Empty(t, s.Fields)

	p, ok := s.TakePreamble()
	assert.True(t, ok)
	assert.Equal(t, "ecg", p)
	_, ok = s.TakePreamble()
	assert.False(t, ok)

	assert.Equal(t, "idle", Idle.String())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	r, err := Open(ctx, DefaultConfig())
	require.NoError(t, err)
	assert.IsType(t, &MemoryRepository{}, r)

	r, err = Open(ctx, Config{Store: StoreFile, BaseDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileRepository{}, r)

	_, err = Open(ctx, Config{Store: "postgres"})
	assert.Error(t, err)
}
