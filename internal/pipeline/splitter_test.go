package pipeline

import (
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prepdocs-go/internal/model"
)

func pagesOf(texts ...string) []model.Page {
	pages := make([]model.Page, 0, len(texts))
	offset := 0
	for i, text := range texts {
		pages = append(pages, model.Page{PageNum: i, Offset: offset, Text: text})
		offset += len([]rune(text))
	}
	return pages
}

func TestSplitSingleShortPage(t *testing.T) {
	s := NewTextSplitter()
	got := slices.Collect(s.SplitPages(pagesOf("Hello world. This is a short page.")))
	require.Len(t, got, 1)
	assert.Equal(t, model.SplitPage{PageNum: 0, Text: "Hello world. This is a short page."}, got[0])
}

func TestSplitExactlyMaxIsOneSection(t *testing.T) {
	s := NewTextSplitter(WithMaxSectionLength(50), WithOverlap(10))
	text := strings.Repeat("a", 50)
	got := slices.Collect(s.SplitPages(pagesOf(text)))
	require.Len(t, got, 1)
	assert.Equal(t, text, got[0].Text)
}

func TestSplitMaxPlusOneWithoutBreaks(t *testing.T) {
	s := NewTextSplitter(WithMaxSectionLength(50), WithOverlap(10))
	text := strings.Repeat("x", 49) + "y" + "z"
	got := slices.Collect(s.SplitPages(pagesOf(text)))
	require.Len(t, got, 2)

	first := []rune(got[0].Text)
	assert.Len(t, first, 50)
	assert.True(t, strings.HasPrefix(got[1].Text, string(first[len(first)-10:])))
	assert.True(t, strings.HasSuffix(got[1].Text, "z"))
}

func TestSplitPrefersSentenceBoundary(t *testing.T) {
	s := NewTextSplitter(WithMaxSectionLength(40), WithOverlap(0), WithSearchLimit(20))
	text := "The first sentence is here. Second one follows and goes on."
	got := slices.Collect(s.SplitPages(pagesOf(text)))
	require.Len(t, got, 2)
	assert.Equal(t, "The first sentence is here.", got[0].Text)
	assert.Equal(t, " Second one follows and goes on.", got[1].Text)
}

func TestSplitPrefersParagraphOverSentence(t *testing.T) {
	s := NewTextSplitter(WithMaxSectionLength(30), WithOverlap(0), WithSearchLimit(25))
	text := "Alpha beta.\n\nGamma. Delta epsilon zeta eta theta."
	got := slices.Collect(s.SplitPages(pagesOf(text)))
	require.NotEmpty(t, got)
	assert.Equal(t, "Alpha beta.\n\n", got[0].Text)
}

func TestSplitRoundTripWithoutOverlap(t *testing.T) {
	s := NewTextSplitter(WithMaxSectionLength(64), WithOverlap(0))
	text := strings.Repeat("Lorem ipsum dolor sit amet, consectetur adipiscing elit. ", 20)
	var b strings.Builder
	for sp := range s.SplitPages(pagesOf(text)) {
		assert.LessOrEqual(t, len([]rune(sp.Text)), 64)
		b.WriteString(sp.Text)
	}
	assert.Equal(t, text, b.String())
}

func TestSplitOverlapClamped(t *testing.T) {
	s := NewTextSplitter(WithMaxSectionLength(40), WithOverlap(100))
	assert.Equal(t, 10, s.sectionOverlap)
}

func TestSplitAttributesSectionToStartPage(t *testing.T) {
	s := NewTextSplitter(WithMaxSectionLength(30), WithOverlap(0), WithSearchLimit(0))
	pages := pagesOf(strings.Repeat("a", 25), strings.Repeat("b", 25), strings.Repeat("c", 25))
	got := slices.Collect(s.SplitPages(pages))
	require.Len(t, got, 3)
	assert.Equal(t, 0, got[0].PageNum)
	assert.Equal(t, 1, got[1].PageNum) // 起始偏移 30 落在第二页
	assert.Equal(t, 2, got[2].PageNum)
}

func TestSplitPageBoundedNeverCrossesPages(t *testing.T) {
	s := NewTextSplitter(WithMaxSectionLength(30), WithOverlap(5), WithPageBounded(true))
	pages := pagesOf(strings.Repeat("a", 25), strings.Repeat("b", 40))
	got := slices.Collect(s.SplitPages(pages))
	require.Len(t, got, 3)
	assert.Equal(t, model.SplitPage{PageNum: 0, Text: strings.Repeat("a", 25)}, got[0])
	for _, sp := range got[1:] {
		assert.Equal(t, 1, sp.PageNum)
		assert.NotContains(t, sp.Text, "a")
	}
}

func TestSplitDropsWhitespaceOnlySections(t *testing.T) {
	s := NewTextSplitter(WithPageBounded(true))
	got := slices.Collect(s.SplitPages(pagesOf("   \n\t", "content")))
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].PageNum)
}

func TestSplitIsRestartable(t *testing.T) {
	s := NewTextSplitter(WithMaxSectionLength(20), WithOverlap(4))
	seq := s.SplitPages(pagesOf(strings.Repeat("word ", 30)))
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestSplitEmptyInput(t *testing.T) {
	s := NewTextSplitter()
	assert.Empty(t, slices.Collect(s.SplitPages(nil)))
}
