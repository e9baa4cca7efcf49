package pipeline

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prepdocs-go/internal/listing"
	"prepdocs-go/internal/model"
)

// calls 记录协作者被调用的顺序。
type calls []string

func (c *calls) add(s string) { *c = append(*c, s) }

type trackedReader struct {
	io.Reader
	closed int
}

func (r *trackedReader) Close() error {
	r.closed++
	return nil
}

type fakeLister struct {
	files   []*listing.File
	paths   []string
	listErr error
}

func (l *fakeLister) List(ctx context.Context) iter.Seq2[*listing.File, error] {
	return func(yield func(*listing.File, error) bool) {
		for _, f := range l.files {
			if !yield(f, nil) {
				return
			}
		}
		if l.listErr != nil {
			yield(nil, l.listErr)
		}
	}
}

func (l *fakeLister) ListPaths(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, p := range l.paths {
			if !yield(p, nil) {
				return
			}
		}
	}
}

// fakeParser 把整个内容当作一页；failOn 中的文件解析失败。
type fakeParser struct {
	log    *calls
	failOn string
}

func (p *fakeParser) Parse(ctx context.Context, content io.Reader, filename string) iter.Seq2[model.Page, error] {
	return func(yield func(model.Page, error) bool) {
		p.log.add("parse:" + filename)
		if filename == p.failOn {
			yield(model.Page{}, errors.New("corrupt pdf"))
			return
		}
		data, err := io.ReadAll(content)
		if err != nil {
			yield(model.Page{}, err)
			return
		}
		yield(model.Page{PageNum: 0, Offset: 0, Text: string(data)}, nil)
	}
}

type fakeBlobs struct {
	log  *calls
	uris []string
}

func (b *fakeBlobs) UploadBlob(ctx context.Context, file *listing.File) ([]string, error) {
	b.log.add("upload:" + file.Filename())
	return b.uris, nil
}

func (b *fakeBlobs) RemoveBlob(ctx context.Context, path string) error {
	b.log.add("removeblob:" + path)
	return nil
}

func (b *fakeBlobs) RemoveAllBlobs(ctx context.Context) error {
	b.log.add("removeallblobs")
	return nil
}

type fakeImages struct {
	log *calls
}

func (e *fakeImages) CreateEmbeddings(ctx context.Context, uris []string) ([][]float32, error) {
	e.log.add("images:" + strings.Join(uris, ","))
	out := make([][]float32, len(uris))
	for i := range uris {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

type fakeSearch struct {
	log       *calls
	returnNil bool
	images    [][]float32
}

func (s *fakeSearch) EnsureIndex(ctx context.Context) error {
	s.log.add("ensureindex")
	return nil
}

func (s *fakeSearch) UpdateContent(ctx context.Context, sections []model.Section, imageEmbeddings [][]float32) ([]model.IndexDocument, error) {
	s.log.add("update")
	s.images = imageEmbeddings
	if s.returnNil {
		return nil, nil
	}
	docs := make([]model.IndexDocument, 0, len(sections))
	for i, sec := range sections {
		docs = append(docs, model.IndexDocument{
			ID:         model.DocumentID(sec.Content.FilenameToID(), sec.SplitPage.PageNum, i),
			Content:    sec.SplitPage.Text,
			Category:   sec.Category,
			SourcePage: model.SourcePage(sec.Content.Filename(), sec.SplitPage.PageNum),
			SourceFile: sec.Content.Filename(),
		})
	}
	return docs, nil
}

func (s *fakeSearch) RemoveContent(ctx context.Context, path string) error {
	s.log.add("removecontent:" + path)
	return nil
}

type fakeRecorder struct {
	indexed []string
	removed []string
	all     int
}

func (r *fakeRecorder) RecordIndexed(ctx context.Context, filename string, docs []model.IndexDocument) error {
	r.indexed = append(r.indexed, filename)
	return nil
}

func (r *fakeRecorder) RecordRemoved(ctx context.Context, path string) error {
	r.removed = append(r.removed, path)
	return nil
}

func (r *fakeRecorder) RecordRemovedAll(ctx context.Context) error {
	r.all++
	return errors.New("ledger unavailable")
}

func newTestFile(path, content string) (*listing.File, *trackedReader) {
	r := &trackedReader{Reader: strings.NewReader(content)}
	return listing.NewFile(path, path, r, model.ACLs{}, nil), r
}

func TestAddProcessesFilesInOrder(t *testing.T) {
	log := &calls{}
	a, ra := newTestFile("docs/a.pdf", "alpha text")
	b, rb := newTestFile("docs/b.txt", "beta text")
	rec := &fakeRecorder{}

	s, err := NewFileStrategy(&fakeLister{files: []*listing.File{a, b}}, &fakeBlobs{log: log},
		&fakeParser{log: log}, NewTextSplitter(), &fakeSearch{log: log}, nil, rec,
		Options{Action: model.Add, Category: "benefits"})
	require.NoError(t, err)

	require.NoError(t, s.Setup(context.Background()))
	results, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, calls{
		"ensureindex",
		"parse:a.pdf", "upload:a.pdf", "update",
		"parse:b.txt", "upload:b.txt", "update",
	}, *log)
	require.Len(t, results, 2)
	require.Len(t, results[0], 1)
	assert.Equal(t, "alpha text", results[0][0].Content)
	assert.Equal(t, "benefits", results[0][0].Category)
	assert.Equal(t, "a.pdf#page=1", results[0][0].SourcePage)
	assert.Equal(t, "b.txt", results[1][0].SourcePage)
	assert.Equal(t, 1, ra.closed)
	assert.Equal(t, 1, rb.closed)
	assert.Equal(t, []string{"a.pdf", "b.txt"}, rec.indexed)
}

func TestAddSkipBlobsDoesNotUpload(t *testing.T) {
	log := &calls{}
	a, _ := newTestFile("a.pdf", "alpha")
	s, err := NewFileStrategy(&fakeLister{files: []*listing.File{a}}, &fakeBlobs{log: log},
		&fakeParser{log: log}, NewTextSplitter(), &fakeSearch{log: log}, nil, nil,
		Options{Action: model.Add, SkipBlobs: true})
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, calls{"parse:a.pdf", "update"}, *log)
}

func TestAddWithImageEmbeddings(t *testing.T) {
	log := &calls{}
	a, _ := newTestFile("a.pdf", "alpha")
	search := &fakeSearch{log: log}
	s, err := NewFileStrategy(&fakeLister{files: []*listing.File{a}},
		&fakeBlobs{log: log, uris: []string{"u0", "u1"}},
		&fakeParser{log: log}, NewTextSplitter(WithPageBounded(true)), search, &fakeImages{log: log}, nil,
		Options{Action: model.Add, SkipBlobs: true})
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, calls{"parse:a.pdf", "upload:a.pdf", "images:u0,u1", "update"}, *log)
	assert.Equal(t, [][]float32{{0}, {1}}, search.images)
}

func TestAddNilUpdateResultBecomesEmpty(t *testing.T) {
	log := &calls{}
	a, _ := newTestFile("a.pdf", "   ")
	s, err := NewFileStrategy(&fakeLister{files: []*listing.File{a}}, &fakeBlobs{log: log},
		&fakeParser{log: log}, NewTextSplitter(), &fakeSearch{log: log, returnNil: true}, nil, nil,
		Options{Action: model.Add})
	require.NoError(t, err)

	results, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotNil(t, results[0])
	assert.Empty(t, results[0])
}

func TestAddAbortsOnFirstErrorAndClosesFile(t *testing.T) {
	log := &calls{}
	a, ra := newTestFile("a.pdf", "alpha")
	b, rb := newTestFile("b.pdf", "beta")
	c, rc := newTestFile("c.pdf", "gamma")
	s, err := NewFileStrategy(&fakeLister{files: []*listing.File{a, b, c}}, &fakeBlobs{log: log},
		&fakeParser{log: log, failOn: "b.pdf"}, NewTextSplitter(), &fakeSearch{log: log}, nil, nil,
		Options{Action: model.Add})
	require.NoError(t, err)

	results, err := s.Run(context.Background())
	require.Error(t, err)

	var fileErr *FileError
	require.ErrorAs(t, err, &fileErr)
	assert.Equal(t, "b.pdf", fileErr.Filename)
	assert.Contains(t, err.Error(), "corrupt pdf")
	assert.Len(t, results, 1)
	assert.Equal(t, 1, ra.closed)
	assert.Equal(t, 1, rb.closed)
	assert.Equal(t, 0, rc.closed)
	assert.NotContains(t, *log, "parse:c.pdf")
}

func TestAddListingErrorAborts(t *testing.T) {
	log := &calls{}
	boom := errors.New("listing failed")
	s, err := NewFileStrategy(&fakeLister{listErr: boom}, &fakeBlobs{log: log},
		&fakeParser{log: log}, NewTextSplitter(), &fakeSearch{log: log}, nil, nil,
		Options{Action: model.Add})
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestAddIsIdempotentOnIDs(t *testing.T) {
	run := func() []model.IndexDocument {
		log := &calls{}
		a, _ := newTestFile("a.pdf", strings.Repeat("word ", 500))
		s, err := NewFileStrategy(&fakeLister{files: []*listing.File{a}}, &fakeBlobs{log: log},
			&fakeParser{log: log}, NewTextSplitter(), &fakeSearch{log: log}, nil, nil,
			Options{Action: model.Add})
		require.NoError(t, err)
		results, err := s.Run(context.Background())
		require.NoError(t, err)
		return results[0]
	}
	first, second := run(), run()
	require.Greater(t, len(first), 1)
	assert.Equal(t, first, second)
}

func TestRemoveDeletesBlobBeforeContent(t *testing.T) {
	log := &calls{}
	rec := &fakeRecorder{}
	s, err := NewFileStrategy(&fakeLister{paths: []string{"docs/a.pdf", "docs/b.pdf"}}, &fakeBlobs{log: log},
		nil, nil, &fakeSearch{log: log}, nil, rec, Options{Action: model.Remove})
	require.NoError(t, err)

	require.NoError(t, s.Setup(context.Background()))
	results, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, results)
	assert.Equal(t, calls{
		"removeblob:docs/a.pdf", "removecontent:docs/a.pdf",
		"removeblob:docs/b.pdf", "removecontent:docs/b.pdf",
	}, *log)
	assert.Equal(t, []string{"docs/a.pdf", "docs/b.pdf"}, rec.removed)
}

func TestRemoveAll(t *testing.T) {
	log := &calls{}
	rec := &fakeRecorder{}
	s, err := NewFileStrategy(nil, &fakeBlobs{log: log}, nil, nil, &fakeSearch{log: log}, nil, rec,
		Options{Action: model.RemoveAll})
	require.NoError(t, err)

	require.NoError(t, s.Setup(context.Background()))
	results, err := s.Run(context.Background())
	require.NoError(t, err, "ledger failures are not fatal")
	assert.Nil(t, results)
	assert.Equal(t, calls{"removeallblobs", "removecontent:"}, *log)
	assert.Equal(t, 1, rec.all)
}

func TestNewFileStrategyRejectsInvalidCombinations(t *testing.T) {
	log := &calls{}
	_, err := NewFileStrategy(&fakeLister{}, &fakeBlobs{log: log}, nil, NewTextSplitter(), &fakeSearch{log: log}, nil, nil,
		Options{Action: model.Add})
	assert.ErrorIs(t, err, ErrInvalidStrategy)

	_, err = NewFileStrategy(&fakeLister{}, nil, nil, nil, &fakeSearch{log: log}, nil, nil,
		Options{Action: model.Remove})
	assert.ErrorIs(t, err, ErrInvalidStrategy)

	_, err = NewFileStrategy(nil, &fakeBlobs{log: log}, nil, nil, nil, nil, nil,
		Options{Action: model.RemoveAll})
	assert.ErrorIs(t, err, ErrInvalidStrategy)
}
