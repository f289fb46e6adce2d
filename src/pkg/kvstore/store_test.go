package kvstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Get(ctx, NamespaceAuth, KeyUserToken)
	require.NoError(t, err)
	assert.Equal(t, "", v, "不存在的键返回空字符串")

	require.NoError(t, s.Set(ctx, NamespaceAuth, KeyUserToken, "tok-1"))
	require.NoError(t, s.Set(ctx, NamespaceAuth, KeyUserToken, "tok-2"))
	v, err = s.Get(ctx, NamespaceAuth, KeyUserToken)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", v)

	// 不同命名空间互不影响
	require.NoError(t, s.Set(ctx, NamespaceSelection, KeyUserToken, "other"))
	all, err := s.GetAll(ctx, NamespaceAuth)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{KeyUserToken: "tok-2"}, all)

	require.NoError(t, s.Delete(ctx, NamespaceAuth, KeyUserToken))
	require.NoError(t, s.Delete(ctx, NamespaceAuth, KeyUserToken))
	v, err = s.Get(ctx, NamespaceAuth, KeyUserToken)
	require.NoError(t, err)
	assert.Equal(t, "", v)
}

func TestStore_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, DBFileName), s.Path())
	require.NoError(t, s.Set(ctx, NamespaceSelection, KeyBeachID, "beach-42"))
	id, err := s.DeviceID(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Get(ctx, NamespaceSelection, KeyBeachID)
	assert.ErrorIs(t, err, ErrClosed)

	// 再次打开时迁移是 no-op，数据仍在
	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	v, err := s.Get(ctx, NamespaceSelection, KeyBeachID)
	require.NoError(t, err)
	assert.Equal(t, "beach-42", v)

	again, err := s.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestGlobalStore(t *testing.T) {
	require.Nil(t, GetStore())
	require.NoError(t, Init(t.TempDir()))
	t.Cleanup(func() { _ = Close() })
	require.NotNil(t, GetStore())
	// 重复初始化无副作用
	require.NoError(t, Init(t.TempDir()))
	require.NoError(t, Close())
	assert.Nil(t, GetStore())
}
