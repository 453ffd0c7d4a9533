package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingKV struct {
	err error
}

func (f *failingKV) Get(context.Context, string) (string, error) { return "", f.err }
func (f *failingKV) Set(context.Context, string, string) error   { return f.err }
func (f *failingKV) Remove(context.Context, string) error        { return f.err }

func TestStoreLoad(t *testing.T) {
	ctx := context.Background()

	kv := NewMemoryKV()
	s := NewStore(kv, "", nil)
	present, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, present)

	require.NoError(t, kv.Set(ctx, DefaultKey, "persisted"))
	present, err = s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, present)
	cred, ok := s.Credential()
	assert.True(t, ok)
	assert.Equal(t, "persisted", cred)
}

func TestStoreLoadBackendFailure(t *testing.T) {
	boom := errors.New("disk on fire")
	s := NewStore(&failingKV{err: boom}, "token", nil)

	present, err := s.Load(context.Background())
	assert.False(t, present)
	assert.ErrorIs(t, err, boom)
	_, ok := s.Credential()
	assert.False(t, ok)
}

func TestStoreSetOverwritesAndClear(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	s := NewStore(kv, "token", nil)

	require.NoError(t, s.Set(ctx, "first"))
	require.NoError(t, s.Set(ctx, "second"))
	cred, _ := s.Credential()
	assert.Equal(t, "second", cred)
	stored, err := kv.Get(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, "second", stored)

	require.NoError(t, s.Clear(ctx))
	_, ok := s.Credential()
	assert.False(t, ok)
	_, err = kv.Get(ctx, "token")
	assert.ErrorIs(t, err, ErrMiss)

	// A fresh store over the same backend starts absent
	present, err := NewStore(kv, "token", nil).Load(ctx)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestStoreSetEmpty(t *testing.T) {
	s := NewStore(nil, "", nil)
	assert.ErrorIs(t, s.Set(context.Background(), "  "), ErrEmptyCredential)
}

func TestStorePersistFailureKeepsCredential(t *testing.T) {
	boom := errors.New("read-only")
	s := NewStore(&failingKV{err: boom}, "token", nil)

	err := s.Set(context.Background(), "abc")
	assert.ErrorIs(t, err, boom)
	cred, ok := s.Credential()
	assert.True(t, ok)
	assert.Equal(t, "abc", cred)

	assert.ErrorIs(t, s.Clear(context.Background()), boom)
	_, ok = s.Credential()
	assert.False(t, ok)
}

func TestStoreSubscribe(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryKV(), "token", nil)

	var first, second []Event
	unsub := s.Subscribe(func(ev Event) { first = append(first, ev) })
	s.Subscribe(func(ev Event) {
		// Listeners may read the store without deadlocking
		_, _ = s.Credential()
		second = append(second, ev)
	})

	_, _ = s.Load(ctx)
	require.NoError(t, s.Set(ctx, "abc"))
	unsub()
	unsub()
	require.NoError(t, s.Clear(ctx))

	assert.Equal(t, []Event{{}, {Credential: "abc", Present: true}}, first)
	assert.Equal(t, []Event{{}, {Credential: "abc", Present: true}, {}}, second)
}
