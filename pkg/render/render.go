// Package render 把 PDF 的每一页渲染为 PNG，用于页图检索。
// 渲染依赖系统中安装的 pdftoppm（poppler-utils）。
package render

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// CommandRunner 执行外部命令，测试中可以替换。
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// PageRenderer 调用 pdftoppm 渲染页图。
type PageRenderer struct {
	runner CommandRunner
	dpi    int
}

// New 创建使用系统 pdftoppm 的渲染器。
func New() *PageRenderer {
	return NewWithRunner(execRunner{})
}

// NewWithRunner 使用指定的 CommandRunner 创建渲染器。
func NewWithRunner(runner CommandRunner) *PageRenderer {
	return &PageRenderer{runner: runner, dpi: 100}
}

// RenderPages 把 pdfPath 的每一页渲染为 outDir 下的 PNG，按页序返回文件路径。
func (r *PageRenderer) RenderPages(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	prefix := filepath.Join(outDir, "page")
	out, err := r.runner.Run(ctx, "pdftoppm", "-png", "-r", strconv.Itoa(r.dpi), pdfPath, prefix)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(string(out)))
	}

	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	// pdftoppm 按总页数补零（page-01.png），这里按数字排序而不是字典序。
	sort.Slice(matches, func(i, j int) bool {
		return pageNumber(matches[i]) < pageNumber(matches[j])
	})
	return matches, nil
}

func pageNumber(p string) int {
	base := strings.TrimSuffix(filepath.Base(p), ".png")
	idx := strings.LastIndex(base, "-")
	n, err := strconv.Atoi(base[idx+1:])
	if err != nil {
		return 0
	}
	return n
}

// Available 报告 pdftoppm 是否在 PATH 中。
func Available() bool {
	_, err := exec.LookPath("pdftoppm")
	return err == nil
}
