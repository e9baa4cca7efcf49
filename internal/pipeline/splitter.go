package pipeline

import (
	"iter"
	"sort"
	"strings"
	"unicode"

	"prepdocs-go/internal/model"
)

const (
	DefaultMaxSectionLength    = 1000
	DefaultSectionOverlap      = 100
	DefaultSentenceSearchLimit = 100
)

var sentenceEndings = map[rune]bool{
	'.': true, '!': true, '?': true,
	'。': true, '！': true, '？': true,
}

// TextSplitter 把解析出的页切分为长度有上限、相邻段带重叠的文本段。
// 所有长度都以 rune 计。
type TextSplitter struct {
	maxSectionLength    int
	sectionOverlap      int
	sentenceSearchLimit int
	pageBounded         bool
}

// SplitterOption 配置 TextSplitter。
type SplitterOption func(*TextSplitter)

// WithMaxSectionLength 设置每段的最大长度。
func WithMaxSectionLength(n int) SplitterOption {
	return func(s *TextSplitter) {
		if n > 0 {
			s.maxSectionLength = n
		}
	}
}

// WithOverlap 设置相邻两段之间的重叠长度。
func WithOverlap(n int) SplitterOption {
	return func(s *TextSplitter) {
		s.sectionOverlap = n
	}
}

// WithSearchLimit 设置寻找切分点时向前回看的窗口大小。
func WithSearchLimit(n int) SplitterOption {
	return func(s *TextSplitter) {
		if n >= 0 {
			s.sentenceSearchLimit = n
		}
	}
}

// WithPageBounded 让每一页单独切分，任何一段都不会跨页。
// 启用页图检索时需要这种模式，保证段与页图一一对应。
func WithPageBounded(enabled bool) SplitterOption {
	return func(s *TextSplitter) {
		s.pageBounded = enabled
	}
}

// NewTextSplitter 创建切分器。重叠长度不小于最大长度时被收紧为最大长度的四分之一。
func NewTextSplitter(opts ...SplitterOption) *TextSplitter {
	s := &TextSplitter{
		maxSectionLength:    DefaultMaxSectionLength,
		sectionOverlap:      DefaultSectionOverlap,
		sentenceSearchLimit: DefaultSentenceSearchLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sectionOverlap < 0 {
		s.sectionOverlap = 0
	}
	if s.sectionOverlap >= s.maxSectionLength {
		s.sectionOverlap = s.maxSectionLength / 4
	}
	return s
}

// SplitPages 返回惰性的切分序列。每次遍历都会从头重新切分，可以安全地多次遍历。
func (s *TextSplitter) SplitPages(pages []model.Page) iter.Seq[model.SplitPage] {
	return func(yield func(model.SplitPage) bool) {
		if s.pageBounded {
			for _, page := range pages {
				runes := []rune(page.Text)
				pageNum := page.PageNum
				ok := s.split(runes, func(int) int { return pageNum }, yield)
				if !ok {
					return
				}
			}
			return
		}

		var b strings.Builder
		for _, page := range pages {
			b.WriteString(page.Text)
		}
		s.split([]rune(b.String()), pageLocator(pages), yield)
	}
}

// split 对一段连续文本做切分，pageOf 把段起始偏移映射为页码。返回 false 表示调用方已停止遍历。
func (s *TextSplitter) split(runes []rune, pageOf func(int) int, yield func(model.SplitPage) bool) bool {
	n := len(runes)
	emit := func(start, end int) bool {
		text := string(runes[start:end])
		if strings.TrimSpace(text) == "" {
			return true
		}
		return yield(model.SplitPage{PageNum: pageOf(start), Text: text})
	}

	start := 0
	for start < n {
		if n-start <= s.maxSectionLength {
			return emit(start, n)
		}
		end := start + s.maxSectionLength
		cut := s.findSplit(runes, start, end)
		if !emit(start, cut) {
			return false
		}
		next := cut - s.sectionOverlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return true
}

// findSplit 在 (start, end] 内、以 end 结尾的回看窗口中寻找切分点。
// 优先级：段落边界、句末标点、空白；都找不到时在 end 处硬切。
func (s *TextSplitter) findSplit(runes []rune, start, end int) int {
	lo := end - s.sentenceSearchLimit
	if lo <= start {
		lo = start + 1
	}

	for i := end - 2; i >= lo; i-- {
		if runes[i] == '\n' && runes[i+1] == '\n' {
			return i + 2
		}
	}
	for i := end - 1; i >= lo-1 && i > start; i-- {
		if sentenceEndings[runes[i]] && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
			return i + 1
		}
	}
	for i := end - 1; i >= lo; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return end
}

// pageLocator 返回一个函数，把拼接文本中的偏移映射到包含该偏移的页。
func pageLocator(pages []model.Page) func(int) int {
	return func(offset int) int {
		if len(pages) == 0 {
			return 0
		}
		i := sort.Search(len(pages), func(i int) bool { return pages[i].Offset > offset })
		if i == 0 {
			return pages[0].PageNum
		}
		return pages[i-1].PageNum
	}
}
