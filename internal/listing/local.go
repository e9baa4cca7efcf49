package listing

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"prepdocs-go/internal/model"
	"prepdocs-go/pkg/log"
)

const md5Suffix = ".md5"

// LocalListFileStrategy 按 glob 模式列举本地文件。
// 多个模式按给定顺序处理，每个模式的匹配结果按字典序排序，匹配到目录时递归展开。
type LocalListFileStrategy struct {
	patterns      []string
	skipUnchanged bool
}

// LocalOption 配置 LocalListFileStrategy。
type LocalOption func(*LocalListFileStrategy)

// WithSkipUnchanged 启用 md5 旁路文件比对：内容未变化的文件不再输出。
func WithSkipUnchanged() LocalOption {
	return func(s *LocalListFileStrategy) {
		s.skipUnchanged = true
	}
}

// NewLocalListFileStrategy 创建本地列举策略。
func NewLocalListFileStrategy(patterns []string, opts ...LocalOption) *LocalListFileStrategy {
	s := &LocalListFileStrategy{patterns: patterns}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListPaths 输出所有匹配到的文件路径，不打开文件。
func (s *LocalListFileStrategy) ListPaths(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, pattern := range s.patterns {
			matches, err := filepath.Glob(pattern)
			if err != nil {
				yield("", fmt.Errorf("invalid pattern %q: %w", pattern, err))
				return
			}
			sort.Strings(matches)
			for _, match := range matches {
				if err := ctx.Err(); err != nil {
					yield("", err)
					return
				}
				if !walkPath(match, yield) {
					return
				}
			}
		}
	}
}

// walkPath 输出单个匹配项；目录按字典序递归。返回 false 表示应当停止。
func walkPath(root string, yield func(string, error) bool) bool {
	info, err := os.Stat(root)
	if err != nil {
		return yield("", err)
	}
	if !info.IsDir() {
		return yield(root, nil)
	}
	stopped := false
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !yield(p, nil) {
			stopped = true
			return fs.SkipAll
		}
		return nil
	})
	if stopped {
		return false
	}
	if err != nil {
		return yield("", err)
	}
	return true
}

// List 打开并输出每个待处理文件。.md5 旁路文件会被跳过。
// 文件一旦输出，所有权即转交给调用方。
func (s *LocalListFileStrategy) List(ctx context.Context) iter.Seq2[*File, error] {
	return func(yield func(*File, error) bool) {
		for p, err := range s.ListPaths(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			if strings.HasSuffix(strings.ToLower(p), md5Suffix) {
				continue
			}
			if s.skipUnchanged {
				changed, err := checkMD5(p)
				if err != nil {
					yield(nil, err)
					return
				}
				if !changed {
					log.Infof("[LocalListFileStrategy] 跳过 %s，内容未变化", p)
					continue
				}
			}
			f, err := os.Open(p)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(NewFile(p, p, f, model.ACLs{}, nil), nil) {
				return
			}
		}
	}
}

// checkMD5 比对文件与 <path>.md5 中记录的摘要，变化时写回新摘要。
func checkMD5(p string) (bool, error) {
	f, err := os.Open(p)
	if err != nil {
		return false, err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	sum := hex.EncodeToString(h.Sum(nil))

	sidecar := p + md5Suffix
	stored, err := os.ReadFile(sidecar)
	switch {
	case err == nil && strings.TrimSpace(string(stored)) == sum:
		return false, nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return false, err
	}
	if err := os.WriteFile(sidecar, []byte(sum), 0o644); err != nil {
		return false, err
	}
	return true, nil
}
