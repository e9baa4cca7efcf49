package listing

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"prepdocs-go/internal/model"
	"prepdocs-go/pkg/log"
)

// Object 是对象存储中一个对象的列举结果。
type Object struct {
	Key      string
	Size     int64
	Metadata map[string]string
}

// ACLs 从对象元数据中读取 oids / groups（逗号分隔）。
// 元数据键大小写不敏感，并兼容带 x-amz-meta- 前缀的形式。
func (o Object) ACLs() model.ACLs {
	var acls model.ACLs
	for k, v := range o.Metadata {
		key := strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-")
		switch key {
		case "oids":
			acls.Oids = splitList(v)
		case "groups":
			acls.Groups = splitList(v)
		}
	}
	return acls
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// BlobLister 是 BlobListFileStrategy 依赖的对象存储能力。
type BlobLister interface {
	ListObjects(ctx context.Context, prefix string) iter.Seq2[Object, error]
	DownloadFile(ctx context.Context, key, dst string) error
}

// BlobListFileStrategy 列举对象存储中某个前缀下的对象，
// 逐个下载到本次运行独占的临时目录后再交给流水线。
type BlobListFileStrategy struct {
	store   BlobLister
	prefix  string
	baseDir string

	mu      sync.Mutex
	tempDir string
}

// NewBlobListFileStrategy 创建对象存储列举策略。baseDir 为空时使用系统临时目录。
func NewBlobListFileStrategy(store BlobLister, prefix, baseDir string) *BlobListFileStrategy {
	return &BlobListFileStrategy{store: store, prefix: prefix, baseDir: baseDir}
}

// ListPaths 按 key 的字典序输出对象 key，跳过目录占位对象和 .md5 文件。
func (s *BlobListFileStrategy) ListPaths(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for obj, err := range s.store.ListObjects(ctx, s.prefix) {
			if err != nil {
				yield("", err)
				return
			}
			if skipObject(obj.Key) {
				continue
			}
			if !yield(obj.Key, nil) {
				return
			}
		}
	}
}

// List 下载并打开每个对象。File 关闭时删除暂存副本。
func (s *BlobListFileStrategy) List(ctx context.Context) iter.Seq2[*File, error] {
	return func(yield func(*File, error) bool) {
		for obj, err := range s.store.ListObjects(ctx, s.prefix) {
			if err != nil {
				yield(nil, err)
				return
			}
			if skipObject(obj.Key) {
				continue
			}
			f, err := s.stage(ctx, obj)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

func (s *BlobListFileStrategy) stage(ctx context.Context, obj Object) (*File, error) {
	dir, err := s.runDir()
	if err != nil {
		return nil, err
	}
	dst := filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(obj.Key, "/")))
	if !strings.HasPrefix(dst, dir+string(os.PathSeparator)) {
		return nil, fmt.Errorf("object key %q escapes staging directory", obj.Key)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, err
	}
	log.Debugf("[BlobListFileStrategy] 下载 %s 到 %s", obj.Key, dst)
	if err := s.store.DownloadFile(ctx, obj.Key, dst); err != nil {
		return nil, fmt.Errorf("download %s: %w", obj.Key, err)
	}
	content, err := os.Open(dst)
	if err != nil {
		return nil, err
	}
	return NewFile(obj.Key, dst, content, obj.ACLs(), func() error {
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}), nil
}

// runDir 惰性创建本次运行的暂存目录。
func (s *BlobListFileStrategy) runDir() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tempDir != "" {
		return s.tempDir, nil
	}
	if s.baseDir != "" {
		if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
			return "", err
		}
	}
	dir, err := os.MkdirTemp(s.baseDir, "prepdocs-")
	if err != nil {
		return "", err
	}
	s.tempDir = dir
	return dir, nil
}

// Cleanup 删除本次运行的暂存目录，可重复调用。
func (s *BlobListFileStrategy) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tempDir == "" {
		return nil
	}
	err := os.RemoveAll(s.tempDir)
	s.tempDir = ""
	return err
}

func skipObject(key string) bool {
	return key == "" || strings.HasSuffix(key, "/") || strings.HasSuffix(strings.ToLower(key), md5Suffix)
}
