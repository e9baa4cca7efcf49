package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner 模拟 pdftoppm：在输出前缀旁写出若干页图。
type fakeRunner struct {
	pages int
	err   error
	args  []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.args = append([]string{name}, args...)
	if f.err != nil {
		return []byte("Syntax Error: broken file"), f.err
	}
	prefix := args[len(args)-1]
	for i := 1; i <= f.pages; i++ {
		name := fmt.Sprintf("%s-%0*d.png", prefix, len(strconv.Itoa(f.pages)), i)
		if err := os.WriteFile(name, []byte("png"), 0o644); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func TestRenderPagesSortsNumerically(t *testing.T) {
	runner := &fakeRunner{pages: 11}
	out := filepath.Join(t.TempDir(), "pages")

	files, err := NewWithRunner(runner).RenderPages(context.Background(), "doc.pdf", out)
	require.NoError(t, err)
	require.Len(t, files, 11)
	assert.Equal(t, filepath.Join(out, "page-01.png"), files[0])
	assert.Equal(t, filepath.Join(out, "page-02.png"), files[1])
	assert.Equal(t, filepath.Join(out, "page-11.png"), files[10])
	assert.Equal(t, []string{"pdftoppm", "-png", "-r", "100", "doc.pdf", filepath.Join(out, "page")}, runner.args)
}

func TestRenderPagesRunnerError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("exit status 1")}
	_, err := NewWithRunner(runner).RenderPages(context.Background(), "doc.pdf", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Syntax Error")
}
