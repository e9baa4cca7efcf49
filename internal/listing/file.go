// Package listing 负责产出待处理的源文件序列。
//
// 两种实现：LocalListFileStrategy 对本地路径做 glob；BlobListFileStrategy 列举对象存储中
// 某个前缀下的对象并暂存到本次运行所属的临时目录。两者都按确定的顺序输出，
// 保证同一来源的 Add 与 Remove 作用于同一组文件。
package listing

import (
	"context"
	"io"
	"iter"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"prepdocs-go/internal/model"
)

// ListFileStrategy 产出惰性的文件序列和路径序列。
type ListFileStrategy interface {
	List(ctx context.Context) iter.Seq2[*File, error]
	ListPaths(ctx context.Context) iter.Seq2[string, error]
}

// File 是一个可入库的源文件。
// Content 在列举时打开，处理结束后必须调用且只调用一次 Close。
type File struct {
	// Path 是存储中的路径：本地文件路径或对象 key。
	Path string
	// LocalPath 是可以重新打开的本地副本路径，上传原文件和渲染页图时使用。
	LocalPath string
	Content   io.ReadCloser
	ACLs      model.ACLs

	closeOnce sync.Once
	closeErr  error
	onClose   func() error
}

// NewFile 用已打开的内容创建 File，onClose 在内容关闭后执行（可为 nil）。
func NewFile(p, localPath string, content io.ReadCloser, acls model.ACLs, onClose func() error) *File {
	return &File{Path: p, LocalPath: localPath, Content: content, ACLs: acls, onClose: onClose}
}

// Filename 返回由存储路径推导出的展示名（已做 URL 解码）。
func (f *File) Filename() string {
	return DisplayName(f.Path)
}

// DisplayName 返回存储路径的文件名部分并做 URL 解码，与索引中的 sourcefile 一致。
func DisplayName(p string) string {
	name := path.Base(filepath.ToSlash(p))
	if decoded, err := url.PathUnescape(name); err == nil {
		return decoded
	}
	return name
}

// FileExtension 返回小写的扩展名，包含前导点。
func (f *File) FileExtension() string {
	return strings.ToLower(filepath.Ext(f.Filename()))
}

// FilenameToID 返回用作索引文档 ID 前缀的字符串。
func (f *File) FilenameToID() string {
	return model.FilenameToID(f.Filename())
}

// ACL 返回文件的访问控制列表。
func (f *File) ACL() model.ACLs {
	return f.ACLs
}

// Close 释放底层句柄。重复调用只会真正关闭一次，并返回第一次的结果。
func (f *File) Close() error {
	f.closeOnce.Do(func() {
		if f.Content != nil {
			f.closeErr = f.Content.Close()
		}
		if f.onClose != nil {
			if err := f.onClose(); err != nil && f.closeErr == nil {
				f.closeErr = err
			}
		}
	})
	return f.closeErr
}

// StaticPathStrategy 只输出给定的路径，用于删除单个已知路径（例如 Kafka 任务）。
type StaticPathStrategy struct {
	paths []string
}

// NewStaticPathStrategy 创建一个固定路径列表的策略。
func NewStaticPathStrategy(paths ...string) *StaticPathStrategy {
	return &StaticPathStrategy{paths: paths}
}

// List 不产出任何文件：静态路径策略只服务于删除。
func (s *StaticPathStrategy) List(ctx context.Context) iter.Seq2[*File, error] {
	return func(yield func(*File, error) bool) {}
}

// ListPaths 按给定顺序输出路径。
func (s *StaticPathStrategy) ListPaths(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, p := range s.paths {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

// StagedFile 是已经下载到本地的对象：Key 为存储路径，LocalPath 为本地副本。
type StagedFile struct {
	Key       string
	LocalPath string
}

// StagedListFileStrategy 按给定顺序输出已暂存的文件，用于 skill 请求和队列任务。
type StagedListFileStrategy struct {
	files []StagedFile
}

// NewStagedListFileStrategy 创建暂存文件列举策略。
func NewStagedListFileStrategy(files ...StagedFile) *StagedListFileStrategy {
	return &StagedListFileStrategy{files: files}
}

// List 依次打开暂存文件。
func (s *StagedListFileStrategy) List(ctx context.Context) iter.Seq2[*File, error] {
	return func(yield func(*File, error) bool) {
		for _, sf := range s.files {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			content, err := os.Open(sf.LocalPath)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(NewFile(sf.Key, sf.LocalPath, content, model.ACLs{}, nil), nil) {
				return
			}
		}
	}
}

// ListPaths 依次输出存储路径。
func (s *StagedListFileStrategy) ListPaths(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, sf := range s.files {
			if !yield(sf.Key, nil) {
				return
			}
		}
	}
}
