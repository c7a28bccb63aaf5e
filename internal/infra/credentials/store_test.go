package credentials

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSQL records the last statement and answers every row lookup with
// stored (or rowErr).
type fakeSQL struct {
	stored  string
	rowErr  error
	lastSQL string
	args    []any
}

func (f *fakeSQL) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	f.lastSQL, f.args = query, args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeSQL) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	f.lastSQL, f.args = query, args
	return tokenRow{value: f.stored, err: f.rowErr}
}

func (f *fakeSQL) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("unused")
}

type tokenRow struct {
	value string
	err   error
}

func (r tokenRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.value
	return nil
}

func TestStoredKeysAreTrimmed(t *testing.T) {
	ctx := context.Background()
	db := &fakeSQL{stored: "\tsk-123 \n"}
	store := NewStore(db)

	gemini, err := store.GeminiAPIKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-123", gemini)
	assert.Equal(t, []any{ProviderGemini}, db.args)

	qwen, err := store.QwenAPIKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-123", qwen)
	assert.Equal(t, []any{ProviderQwen}, db.args)
}

func TestMissingKeyIsEmpty(t *testing.T) {
	key, err := NewStore(&fakeSQL{rowErr: pgx.ErrNoRows}).Token(context.Background(), ProviderGemini)
	require.NoError(t, err)
	assert.Empty(t, key)
}

func TestLookupErrorsPropagate(t *testing.T) {
	boom := errors.New("conn reset")
	_, err := NewStore(&fakeSQL{rowErr: boom}).QwenAPIKey(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestSetToken(t *testing.T) {
	cases := []struct {
		name     string
		set      func(*Store) error
		provider string
		wantErr  bool
	}{
		{"gemini", func(s *Store) error { return s.SetGeminiAPIKey(context.Background(), " g-key ") }, ProviderGemini, false},
		{"qwen", func(s *Store) error { return s.SetQwenAPIKey(context.Background(), "q-key") }, ProviderQwen, false},
		{"provider normalised", func(s *Store) error { return s.SetToken(context.Background(), " Qwen ", "q-key") }, ProviderQwen, false},
		{"blank key", func(s *Store) error { return s.SetGeminiAPIKey(context.Background(), "  ") }, "", true},
		{"blank provider", func(s *Store) error { return s.SetToken(context.Background(), "", "k") }, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := &fakeSQL{}
			err := tc.set(NewStore(db))
			if tc.wantErr {
				require.Error(t, err)
				assert.Empty(t, db.lastSQL)
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(db.lastSQL, "--sql "), "statement must carry its marker")
			require.Len(t, db.args, 3)
			assert.Equal(t, tc.provider, db.args[0])
			assert.NotContains(t, db.args[1], " ")
			assert.JSONEq(t, `{}`, string(db.args[2].([]byte)))
		})
	}
}
