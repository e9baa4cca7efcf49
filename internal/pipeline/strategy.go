// Package pipeline 定义了文档入库的核心流程：列举、解析、切分、上传、向量化与索引同步。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"prepdocs-go/internal/listing"
	"prepdocs-go/internal/model"
	"prepdocs-go/pkg/log"
)

// ErrInvalidStrategy 表示 FileStrategy 的协作者组合与所选动作不匹配。
var ErrInvalidStrategy = errors.New("invalid file strategy")

// PdfParser 把文件内容解析为有序的页。
type PdfParser interface {
	Parse(ctx context.Context, content io.Reader, filename string) iter.Seq2[model.Page, error]
}

// BlobManager 管理原文件及页图在对象存储中的副本。
type BlobManager interface {
	// UploadBlob 上传文件；启用页图时返回按页序排列的页图 URI，否则返回 nil。
	UploadBlob(ctx context.Context, file *listing.File) ([]string, error)
	RemoveBlob(ctx context.Context, path string) error
	RemoveAllBlobs(ctx context.Context) error
}

// ImageEmbeddings 为页图 URI 生成向量。
type ImageEmbeddings interface {
	CreateEmbeddings(ctx context.Context, uris []string) ([][]float32, error)
}

// SearchManager 负责索引结构与索引内容的同步。
type SearchManager interface {
	EnsureIndex(ctx context.Context) error
	UpdateContent(ctx context.Context, sections []model.Section, imageEmbeddings [][]float32) ([]model.IndexDocument, error)
	RemoveContent(ctx context.Context, path string) error
}

// Recorder 接收每个文件的处理结果，用于维护入库台账。记录失败只会打印日志。
type Recorder interface {
	RecordIndexed(ctx context.Context, filename string, docs []model.IndexDocument) error
	RecordRemoved(ctx context.Context, path string) error
	RecordRemovedAll(ctx context.Context) error
}

// Options 是一次运行中不变的参数。
type Options struct {
	Action    model.DocumentAction
	Category  string
	SkipBlobs bool
}

// FileError 记录导致运行中止的文件。
type FileError struct {
	Filename string
	Err      error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("process %s: %v", e.Filename, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// FileStrategy 按所选动作驱动一次入库运行。文件严格按顺序逐个处理。
type FileStrategy struct {
	lister          listing.ListFileStrategy
	blobs           BlobManager
	parser          PdfParser
	splitter        *TextSplitter
	search          SearchManager
	imageEmbeddings ImageEmbeddings
	recorder        Recorder
	opts            Options
}

// NewFileStrategy 创建 FileStrategy，并拒绝与动作不匹配的协作者组合。
// imageEmbeddings 和 recorder 可以为 nil。
func NewFileStrategy(
	lister listing.ListFileStrategy,
	blobs BlobManager,
	parser PdfParser,
	splitter *TextSplitter,
	search SearchManager,
	imageEmbeddings ImageEmbeddings,
	recorder Recorder,
	opts Options,
) (*FileStrategy, error) {
	switch opts.Action {
	case model.Add:
		if lister == nil || parser == nil || splitter == nil || search == nil {
			return nil, fmt.Errorf("%w: add requires a list strategy, parser, splitter and search manager", ErrInvalidStrategy)
		}
		if blobs == nil && (!opts.SkipBlobs || imageEmbeddings != nil) {
			return nil, fmt.Errorf("%w: add with blob upload requires a blob manager", ErrInvalidStrategy)
		}
	case model.Remove:
		if lister == nil || blobs == nil || search == nil {
			return nil, fmt.Errorf("%w: remove requires a list strategy, blob manager and search manager", ErrInvalidStrategy)
		}
	case model.RemoveAll:
		if blobs == nil || search == nil {
			return nil, fmt.Errorf("%w: removeall requires a blob manager and search manager", ErrInvalidStrategy)
		}
	default:
		return nil, fmt.Errorf("%w: unknown action %v", ErrInvalidStrategy, opts.Action)
	}
	return &FileStrategy{
		lister:          lister,
		blobs:           blobs,
		parser:          parser,
		splitter:        splitter,
		search:          search,
		imageEmbeddings: imageEmbeddings,
		recorder:        recorder,
		opts:            opts,
	}, nil
}

// Setup 在 Add 模式下确保索引存在；Remove 与 RemoveAll 不需要准备工作。
func (s *FileStrategy) Setup(ctx context.Context) error {
	if s.opts.Action != model.Add {
		return nil
	}
	log.Info("[FileStrategy] 检查搜索索引")
	if err := s.search.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("ensure index: %w", err)
	}
	return nil
}

// Run 执行所选动作。Add 返回每个文件对应的索引文档列表（顺序与列举顺序一致）；
// 出错时立即中止，并连同已完成文件的结果一起返回。
func (s *FileStrategy) Run(ctx context.Context) ([][]model.IndexDocument, error) {
	switch s.opts.Action {
	case model.Add:
		return s.runAdd(ctx)
	case model.Remove:
		return nil, s.runRemove(ctx)
	case model.RemoveAll:
		return nil, s.runRemoveAll(ctx)
	}
	return nil, fmt.Errorf("%w: unknown action %v", ErrInvalidStrategy, s.opts.Action)
}

func (s *FileStrategy) runAdd(ctx context.Context) ([][]model.IndexDocument, error) {
	results := make([][]model.IndexDocument, 0)
	for file, err := range s.lister.List(ctx) {
		if err != nil {
			return results, fmt.Errorf("list files: %w", err)
		}
		docs, err := s.processFile(ctx, file)
		if err != nil {
			return results, &FileError{Filename: file.Filename(), Err: err}
		}
		results = append(results, docs)
		s.record(func() error { return s.recorder.RecordIndexed(ctx, file.Filename(), docs) })
	}
	log.Infof("[FileStrategy] 入库完成, 共处理 %d 个文件", len(results))
	return results, nil
}

// processFile 处理单个文件，文件在任何路径上都会被关闭一次。
func (s *FileStrategy) processFile(ctx context.Context, file *listing.File) ([]model.IndexDocument, error) {
	defer func() {
		if err := file.Close(); err != nil {
			log.Warnf("[FileStrategy] 关闭文件 %s 失败: %v", file.Filename(), err)
		}
	}()
	name := file.Filename()

	log.Infof("[FileStrategy] 步骤1: 解析文件 %s", name)
	var pages []model.Page
	for page, err := range s.parser.Parse(ctx, file.Content, name) {
		if err != nil {
			return nil, fmt.Errorf("parse: %w", err)
		}
		pages = append(pages, page)
	}
	log.Debugf("[FileStrategy] 步骤1: %s 共解析出 %d 页", name, len(pages))

	log.Infof("[FileStrategy] 步骤2: 切分文件 %s", name)
	var sections []model.Section
	for sp := range s.splitter.SplitPages(pages) {
		sections = append(sections, model.Section{SplitPage: sp, Content: file, Category: s.opts.Category})
	}
	log.Debugf("[FileStrategy] 步骤2: %s 共切分出 %d 段", name, len(sections))

	var imageEmbeddings [][]float32
	if !s.opts.SkipBlobs || s.imageEmbeddings != nil {
		log.Infof("[FileStrategy] 步骤3: 上传文件 %s", name)
		uris, err := s.blobs.UploadBlob(ctx, file)
		if err != nil {
			return nil, fmt.Errorf("upload blob: %w", err)
		}
		if s.imageEmbeddings != nil && len(uris) > 0 {
			log.Infof("[FileStrategy] 步骤3: 为 %d 张页图生成向量", len(uris))
			imageEmbeddings, err = s.imageEmbeddings.CreateEmbeddings(ctx, uris)
			if err != nil {
				return nil, fmt.Errorf("image embeddings: %w", err)
			}
		}
	}

	log.Infof("[FileStrategy] 步骤4: 同步 %d 段到索引", len(sections))
	docs, err := s.search.UpdateContent(ctx, sections, imageEmbeddings)
	if err != nil {
		return nil, fmt.Errorf("update content: %w", err)
	}
	if docs == nil {
		docs = []model.IndexDocument{}
	}
	return docs, nil
}

func (s *FileStrategy) runRemove(ctx context.Context) error {
	for path, err := range s.lister.ListPaths(ctx) {
		if err != nil {
			return fmt.Errorf("list paths: %w", err)
		}
		log.Infof("[FileStrategy] 删除 %s 的存储副本和索引内容", path)
		if err := s.blobs.RemoveBlob(ctx, path); err != nil {
			return &FileError{Filename: path, Err: fmt.Errorf("remove blob: %w", err)}
		}
		if err := s.search.RemoveContent(ctx, path); err != nil {
			return &FileError{Filename: path, Err: fmt.Errorf("remove content: %w", err)}
		}
		s.record(func() error { return s.recorder.RecordRemoved(ctx, path) })
	}
	return nil
}

func (s *FileStrategy) runRemoveAll(ctx context.Context) error {
	log.Info("[FileStrategy] 删除全部存储副本和索引内容")
	if err := s.blobs.RemoveAllBlobs(ctx); err != nil {
		return fmt.Errorf("remove all blobs: %w", err)
	}
	if err := s.search.RemoveContent(ctx, ""); err != nil {
		return fmt.Errorf("remove all content: %w", err)
	}
	s.record(func() error { return s.recorder.RecordRemovedAll(ctx) })
	return nil
}

func (s *FileStrategy) record(fn func() error) {
	if s.recorder == nil {
		return
	}
	if err := fn(); err != nil {
		log.Warnf("[FileStrategy] 写入入库台账失败: %v", err)
	}
}
