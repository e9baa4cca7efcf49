package listing

import (
	"context"
	"errors"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prepdocs-go/internal/model"
)

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func collectPaths(t *testing.T, seq iter.Seq2[string, error]) []string {
	t.Helper()
	var out []string
	for p, err := range seq {
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func TestLocalListPathsSortedAndRecursive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.pdf"), "b")
	writeFile(t, filepath.Join(dir, "a.pdf"), "a")
	writeFile(t, filepath.Join(dir, "sub", "c.txt"), "c")

	s := NewLocalListFileStrategy([]string{filepath.Join(dir, "*")})
	paths := collectPaths(t, s.ListPaths(context.Background()))

	assert.Equal(t, []string{
		filepath.Join(dir, "a.pdf"),
		filepath.Join(dir, "b.pdf"),
		filepath.Join(dir, "sub", "c.txt"),
	}, paths)

	again := collectPaths(t, s.ListPaths(context.Background()))
	assert.Equal(t, paths, again)
}

func TestLocalListSkipsMD5Sidecars(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.pdf"), "a")
	writeFile(t, filepath.Join(dir, "a.pdf.md5"), "whatever")

	s := NewLocalListFileStrategy([]string{filepath.Join(dir, "*")})
	var names []string
	for f, err := range s.List(context.Background()) {
		require.NoError(t, err)
		names = append(names, f.Filename())
		require.NoError(t, f.Close())
	}
	assert.Equal(t, []string{"a.pdf"}, names)
}

func TestLocalListSkipUnchanged(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	writeFile(t, p, "hello")

	s := NewLocalListFileStrategy([]string{p}, WithSkipUnchanged())
	count := func() int {
		n := 0
		for f, err := range s.List(context.Background()) {
			require.NoError(t, err)
			require.NoError(t, f.Close())
			n++
		}
		return n
	}

	assert.Equal(t, 1, count())
	assert.FileExists(t, p+".md5")
	assert.Equal(t, 0, count())

	writeFile(t, p, "changed")
	assert.Equal(t, 1, count())
}

func TestLocalListNoMatchesIsEmpty(t *testing.T) {
	s := NewLocalListFileStrategy([]string{filepath.Join(t.TempDir(), "*.pdf")})
	for _, err := range s.List(context.Background()) {
		t.Fatalf("unexpected element, err=%v", err)
	}
}

func TestFileCloseIsIdempotent(t *testing.T) {
	calls := 0
	f := NewFile("docs/a%20b.pdf", "", io.NopCloser(strings.NewReader("")), model.ACLs{}, func() error {
		calls++
		return nil
	})
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.Equal(t, 1, calls)
	assert.Equal(t, "a b.pdf", f.Filename())
	assert.Equal(t, ".pdf", f.FileExtension())
}

type fakeStore struct {
	objects    []Object
	contents   map[string]string
	downloaded []string
	listErr    error
}

func (s *fakeStore) ListObjects(ctx context.Context, prefix string) iter.Seq2[Object, error] {
	return func(yield func(Object, error) bool) {
		if s.listErr != nil {
			yield(Object{}, s.listErr)
			return
		}
		for _, o := range s.objects {
			if !yield(o, nil) {
				return
			}
		}
	}
}

func (s *fakeStore) DownloadFile(ctx context.Context, key, dst string) error {
	s.downloaded = append(s.downloaded, key)
	return os.WriteFile(dst, []byte(s.contents[key]), 0o644)
}

func TestBlobListStagesAndCleansUp(t *testing.T) {
	store := &fakeStore{
		objects: []Object{
			{Key: "folder/"},
			{Key: "folder/a.pdf", Metadata: map[string]string{"X-Amz-Meta-Oids": "u1, u2", "groups": "g1"}},
			{Key: "folder/a.pdf.md5"},
			{Key: "folder/b.txt"},
		},
		contents: map[string]string{"folder/a.pdf": "AAA", "folder/b.txt": "BBB"},
	}
	base := t.TempDir()
	s := NewBlobListFileStrategy(store, "folder/", base)

	assert.Equal(t, []string{"folder/a.pdf", "folder/b.txt"}, collectPaths(t, s.ListPaths(context.Background())))

	var staged []string
	for f, err := range s.List(context.Background()) {
		require.NoError(t, err)
		data, err := io.ReadAll(f.Content)
		require.NoError(t, err)
		assert.Equal(t, store.contents[f.Path], string(data))
		if f.Path == "folder/a.pdf" {
			assert.Equal(t, []string{"u1", "u2"}, f.ACLs.Oids)
			assert.Equal(t, []string{"g1"}, f.ACLs.Groups)
		}
		staged = append(staged, f.LocalPath)
		require.NoError(t, f.Close())
		assert.NoFileExists(t, f.LocalPath)
	}
	assert.Len(t, staged, 2)
	assert.Equal(t, []string{"folder/a.pdf", "folder/b.txt"}, store.downloaded)

	require.NoError(t, s.Cleanup())
	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBlobListPropagatesListError(t *testing.T) {
	boom := errors.New("boom")
	s := NewBlobListFileStrategy(&fakeStore{listErr: boom}, "", t.TempDir())
	for _, err := range s.List(context.Background()) {
		assert.ErrorIs(t, err, boom)
	}
}

func TestStaticPathStrategy(t *testing.T) {
	s := NewStaticPathStrategy("a.pdf", "b.pdf")
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, collectPaths(t, s.ListPaths(context.Background())))
}

func TestStagedListFileStrategy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "0", "a.pdf"), "A")
	s := NewStagedListFileStrategy(StagedFile{Key: "folder/a.pdf", LocalPath: filepath.Join(dir, "0", "a.pdf")})

	n := 0
	for f, err := range s.List(context.Background()) {
		require.NoError(t, err)
		assert.Equal(t, "a.pdf", f.Filename())
		data, err := io.ReadAll(f.Content)
		require.NoError(t, err)
		assert.Equal(t, "A", string(data))
		require.NoError(t, f.Close())
		n++
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"folder/a.pdf"}, collectPaths(t, s.ListPaths(context.Background())))
}
