// Package parser 提供无需外部服务的本地文档解析器。
package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv/v2"
	"github.com/ledongthuc/pdf"

	"prepdocs-go/internal/model"
	"prepdocs-go/pkg/log"
)

// LocalParser 在本地解析文件：PDF 按页提取文本，其它格式交给 docconv 整体转换为一页。
type LocalParser struct{}

// NewLocalParser 创建本地解析器。
func NewLocalParser() *LocalParser {
	return &LocalParser{}
}

// Parse 读取全部内容后按扩展名选择解析方式。
func (p *LocalParser) Parse(ctx context.Context, content io.Reader, filename string) iter.Seq2[model.Page, error] {
	return func(yield func(model.Page, error) bool) {
		data, err := io.ReadAll(content)
		if err != nil {
			yield(model.Page{}, fmt.Errorf("read %s: %w", filename, err))
			return
		}
		if strings.EqualFold(filepath.Ext(filename), ".pdf") {
			parsePDF(ctx, data, filename, yield)
			return
		}
		parseDocument(data, filename, yield)
	}
}

func parsePDF(ctx context.Context, data []byte, filename string, yield func(model.Page, error) bool) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		yield(model.Page{}, fmt.Errorf("open pdf %s: %w", filename, err))
		return
	}

	numPages := r.NumPage()
	log.Debugf("[LocalParser] %s 共 %d 页", filename, numPages)
	offset := 0
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			yield(model.Page{}, err)
			return
		}
		page := r.Page(i)
		text := ""
		if !page.V.IsNull() {
			text, err = page.GetPlainText(nil)
			if err != nil {
				yield(model.Page{}, fmt.Errorf("extract page %d of %s: %w", i, filename, err))
				return
			}
		}
		if !yield(model.Page{PageNum: i - 1, Offset: offset, Text: text}, nil) {
			return
		}
		offset += utf8.RuneCountInString(text)
	}
}

func parseDocument(data []byte, filename string, yield func(model.Page, error) bool) {
	mimeType := docconv.MimeTypeByExtension(filename)
	res, err := docconv.Convert(bytes.NewReader(data), mimeType, false)
	if err != nil {
		yield(model.Page{}, fmt.Errorf("convert %s (%s): %w", filename, mimeType, err))
		return
	}
	yield(model.Page{PageNum: 0, Offset: 0, Text: res.Body}, nil)
}
