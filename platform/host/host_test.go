package host

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adbtoolkit/agent/api"
)

func newFiles(t *testing.T) (*Files, string) {
	t.Helper()
	root := t.TempDir()
	f, err := NewFiles(root)
	require.NoError(t, err)
	return f, root
}

func TestResolveConfinesToRoot(t *testing.T) {
	f, root := newFiles(t)

	abs, err := f.Resolve("/sub/file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "sub", "file.txt"), abs)

	abs, err = f.Resolve("relative.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "relative.txt"), abs)

	for _, p := range []string{"/../etc/passwd", "a/../../b", "..", "/sub/../../x"} {
		_, err := f.Resolve(p)
		assert.ErrorIs(t, err, ErrPathEscape, p)
	}

	_, err = f.Resolve("")
	assert.Error(t, err)
}

func TestFilesCRUD(t *testing.T) {
	f, root := newFiles(t)

	path, err := f.Resolve("/a/b/c.txt")
	require.NoError(t, err)

	wc, err := f.Create(path)
	require.NoError(t, err)
	_, err = wc.Write([]byte("content"))
	require.NoError(t, err)
	require.NoError(t, wc.Close())

	entry, err := f.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(7), entry.Size)
	assert.False(t, entry.Dir)
	assert.True(t, entry.Readable)

	rc, entry, err := f.Open(path)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, "content", string(data))
	assert.Equal(t, "c.txt", entry.Name)

	entries, err := f.List(filepath.Join(root, "a"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Dir)

	require.NoError(t, f.Remove(filepath.Join(root, "a")))
	_, err = f.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveRootRefused(t *testing.T) {
	f, root := newFiles(t)
	assert.Error(t, f.Remove(root))
}

func TestOpenDirectoryFails(t *testing.T) {
	f, root := newFiles(t)
	_, _, err := f.Open(root)
	assert.Error(t, err)
}

func TestStorage(t *testing.T) {
	f, _ := newFiles(t)
	info, err := f.Storage()
	require.NoError(t, err)
	assert.Greater(t, info.Internal.TotalBytes, int64(0))
	assert.GreaterOrEqual(t, info.Internal.UsedBytes, int64(0))
	assert.Nil(t, info.External)
}

func TestShellExec(t *testing.T) {
	s := NewShell()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := s.Exec(ctx, "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Zero(t, res.ExitCode)

	res, err = s.Exec(ctx, "exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
}

func TestShellExecDeadline(t *testing.T) {
	s := NewShell()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := s.Exec(ctx, "sleep 30")
	require.Less(t, time.Since(start), 5*time.Second)
	// CommandContext kills the process; the result reports the kill.
	if err == nil {
		assert.NotZero(t, res.ExitCode)
	}
}

func TestShellStream(t *testing.T) {
	s := NewShell()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rc, err := s.Stream(ctx, "printf 'a\\nb\\n'")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(data))
}

func TestShellSettings(t *testing.T) {
	s := NewShell()
	require.NoError(t, s.PutSetting("system", "volume", "7"))
	v, err := s.GetSetting("system", "volume")
	require.NoError(t, err)
	assert.Equal(t, "7", v)

	v, err = s.GetSetting("system", "unset")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestDeviceProvider(t *testing.T) {
	d := NewDevice()

	info, err := d.Info()
	require.NoError(t, err)
	assert.NotEmpty(t, info["os"])

	b, err := d.Battery()
	require.NoError(t, err)
	assert.Equal(t, 100, b.Level)

	_, err = d.Screenshot()
	assert.ErrorIs(t, err, api.ErrUnsupported)

	props, err := d.Properties()
	require.NoError(t, err)
	assert.NotEmpty(t, props)
}

func TestMemoryContacts(t *testing.T) {
	c := NewMemoryContacts()
	require.NoError(t, c.Insert(api.Contact{Name: "A"}))
	require.NoError(t, c.Insert(api.Contact{Name: "B"}))

	list, err := c.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "1", list[0].ID)
	assert.Equal(t, "2", list[1].ID)
}

func TestMemorySMSThreading(t *testing.T) {
	s := NewMemorySMS()
	require.NoError(t, s.Insert(api.SMSMessage{Address: "+1", Body: "a", DateMs: 1}))
	require.NoError(t, s.Insert(api.SMSMessage{Address: "+2", Body: "b", DateMs: 2}))
	require.NoError(t, s.Insert(api.SMSMessage{Address: "+1", Body: "c", DateMs: 3}))

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	msgs, err := s.List(0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	// newest first
	assert.Equal(t, "c", msgs[0].Body)
	// same address, same thread
	assert.Equal(t, msgs[0].ThreadID, msgs[2].ThreadID)
	assert.NotEqual(t, msgs[0].ThreadID, msgs[1].ThreadID)

	msgs, err = s.List(1, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "b", msgs[0].Body)
}

func TestAppsUnsupported(t *testing.T) {
	a := NewApps()
	_, err := a.List(false)
	assert.ErrorIs(t, err, api.ErrUnsupported)
	assert.ErrorIs(t, a.Install("/x.apk"), api.ErrUnsupported)
}
