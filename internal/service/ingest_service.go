// Package service 包含了应用的业务逻辑层：根据配置组装并执行入库流水线。
package service

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"prepdocs-go/internal/config"
	"prepdocs-go/internal/listing"
	"prepdocs-go/internal/model"
	"prepdocs-go/internal/pipeline"
	"prepdocs-go/pkg/log"
	"prepdocs-go/pkg/tasks"
)

// BlobStore 是容器（存储桶）需要提供的全部能力：流水线中的上传删除以及列举下载。
type BlobStore interface {
	pipeline.BlobManager
	listing.BlobLister
}

// Collaborators 汇集一次运行所需的外部依赖。Images、Lake、Recorder 可以为 nil。
type Collaborators struct {
	Blobs    BlobStore
	Lake     listing.BlobLister
	Parser   pipeline.PdfParser
	Search   pipeline.SearchManager
	Images   pipeline.ImageEmbeddings
	Recorder pipeline.Recorder
}

// IngestService 接口定义了入库相关的业务操作。
type IngestService interface {
	// RunBatch 按配置执行一次批处理运行（本地 glob 或存储前缀列举）。
	RunBatch(ctx context.Context) ([][]model.IndexDocument, error)
	// IngestBlobs 下载容器中的对象并执行一次 Add 运行，结果与 names 一一对应。
	IngestBlobs(ctx context.Context, names []string) ([][]model.IndexDocument, error)
	// ListBlobPaths 列举容器中 prefix 下的对象路径。
	ListBlobPaths(ctx context.Context, prefix string) iter.Seq2[string, error]
	// Process 执行一个队列任务。
	Process(ctx context.Context, task tasks.IngestTask) error
}

type ingestService struct {
	cfg *config.Config
	c   Collaborators
}

// NewIngestService 创建一个新的 IngestService 实例。
func NewIngestService(cfg *config.Config, c Collaborators) IngestService {
	return &ingestService{cfg: cfg, c: c}
}

func (s *ingestService) splitter() *pipeline.TextSplitter {
	in := s.cfg.Ingest
	return pipeline.NewTextSplitter(
		pipeline.WithMaxSectionLength(in.MaxSectionLength),
		pipeline.WithOverlap(in.SectionOverlap),
		pipeline.WithSearchLimit(in.SentenceSearchLimit),
		pipeline.WithPageBounded(in.SearchImages),
	)
}

// newStrategy 根据动作和列举策略创建 FileStrategy。
func (s *ingestService) newStrategy(action model.DocumentAction, lister listing.ListFileStrategy, skipBlobs bool) (*pipeline.FileStrategy, error) {
	var images pipeline.ImageEmbeddings
	if s.cfg.Ingest.SearchImages && s.c.Images != nil {
		images = s.c.Images
	}
	return pipeline.NewFileStrategy(
		lister,
		s.c.Blobs,
		s.c.Parser,
		s.splitter(),
		s.c.Search,
		images,
		s.c.Recorder,
		pipeline.Options{Action: action, Category: s.cfg.Ingest.Category, SkipBlobs: skipBlobs},
	)
}

func (s *ingestService) execute(ctx context.Context, strategy *pipeline.FileStrategy) ([][]model.IndexDocument, error) {
	if err := strategy.Setup(ctx); err != nil {
		return nil, err
	}
	return strategy.Run(ctx)
}

// RunBatch 选择列举策略并执行配置中的动作。
func (s *ingestService) RunBatch(ctx context.Context) ([][]model.IndexDocument, error) {
	action := s.cfg.Action()
	log.Infof("[IngestService] 开始批处理, action: %s", action)

	var lister listing.ListFileStrategy
	if s.cfg.DataLake.StorageAccount != "" && s.c.Lake != nil {
		blobLister := listing.NewBlobListFileStrategy(s.c.Lake, s.cfg.DataLake.Path, s.cfg.Ingest.TempDir)
		defer func() {
			if err := blobLister.Cleanup(); err != nil {
				log.Warnf("[IngestService] 清理暂存目录失败: %v", err)
			}
		}()
		lister = blobLister
		log.Infof("[IngestService] 从存储 %s/%s 列举文件", s.cfg.DataLake.Filesystem, s.cfg.DataLake.Path)
	} else if action != model.RemoveAll {
		var patterns []string
		for _, p := range s.cfg.Ingest.Files {
			if p = strings.TrimSpace(p); p != "" {
				patterns = append(patterns, p)
			}
		}
		if len(patterns) == 0 {
			return nil, fmt.Errorf("%w: no files to process", config.ErrInvalidConfig)
		}
		var opts []listing.LocalOption
		if action == model.Add && s.cfg.Ingest.SkipUnchanged {
			opts = append(opts, listing.WithSkipUnchanged())
		}
		lister = listing.NewLocalListFileStrategy(patterns, opts...)
		log.Infof("[IngestService] 从本地路径列举文件: %v", patterns)
	}

	strategy, err := s.newStrategy(action, lister, s.cfg.Ingest.SkipBlobs)
	if err != nil {
		return nil, err
	}
	results, err := s.execute(ctx, strategy)
	if err != nil {
		return results, err
	}
	log.Infof("[IngestService] 批处理完成, action: %s, 文件数: %d", action, len(results))
	return results, nil
}

// IngestBlobs 把每个对象下载到本次请求独占的临时目录后执行 Add。
// 对象已经位于容器中，因此不会重新上传原文件；启用页图时仍会上传页图。
func (s *ingestService) IngestBlobs(ctx context.Context, names []string) ([][]model.IndexDocument, error) {
	runDir := filepath.Join(s.tempBase(), "skill-"+uuid.NewString())
	defer func() {
		if err := os.RemoveAll(runDir); err != nil {
			log.Warnf("[IngestService] 清理临时目录 %s 失败: %v", runDir, err)
		}
	}()

	staged := make([]listing.StagedFile, 0, len(names))
	for i, name := range names {
		// 每个对象一个子目录，同名对象不会互相覆盖。
		dst := filepath.Join(runDir, strconv.Itoa(i), path.Base(name))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, err
		}
		log.Infof("[IngestService] 步骤1: 下载 %s", name)
		if err := s.c.Blobs.DownloadFile(ctx, name, dst); err != nil {
			return nil, err
		}
		staged = append(staged, listing.StagedFile{Key: name, LocalPath: dst})
	}

	strategy, err := s.newStrategy(model.Add, listing.NewStagedListFileStrategy(staged...), true)
	if err != nil {
		return nil, err
	}
	log.Infof("[IngestService] 步骤2: 对 %d 个对象执行入库", len(staged))
	return s.execute(ctx, strategy)
}

func (s *ingestService) tempBase() string {
	if s.cfg.Ingest.TempDir != "" {
		return s.cfg.Ingest.TempDir
	}
	return filepath.Join(os.TempDir(), s.cfg.Storage.Container)
}

// ListBlobPaths 列举容器中的对象路径。
func (s *ingestService) ListBlobPaths(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for obj, err := range s.c.Blobs.ListObjects(ctx, prefix) {
			if err != nil {
				yield("", err)
				return
			}
			if strings.HasSuffix(obj.Key, "/") {
				continue
			}
			if !yield(obj.Key, nil) {
				return
			}
		}
	}
}

// Process 执行一个队列任务：add 入库单个对象，remove 删除单个路径，removeall 清空。
func (s *ingestService) Process(ctx context.Context, task tasks.IngestTask) error {
	action, err := task.DocumentAction()
	if err != nil {
		return err
	}
	switch action {
	case model.Add:
		_, err = s.IngestBlobs(ctx, []string{task.BlobName})
		return err
	default:
		strategy, err := s.newStrategy(action, listing.NewStaticPathStrategy(task.BlobName), s.cfg.Ingest.SkipBlobs)
		if err != nil {
			return err
		}
		_, err = s.execute(ctx, strategy)
		return err
	}
}
