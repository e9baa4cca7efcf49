// Package tika 提供了一个与 Apache Tika 服务器交互的客户端，作为云端文档解析服务使用。
package tika

import (
	"context"
	"fmt"
	"io"
	"iter"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"prepdocs-go/internal/model"
	"prepdocs-go/pkg/log"
)

// Client 是 Tika 服务器的客户端。
type Client struct {
	serverURL  string
	httpClient *http.Client
}

// NewClient 创建一个新的 Tika 客户端实例。
func NewClient(serverURL string) *Client {
	return &Client{serverURL: strings.TrimSuffix(serverURL, "/"), httpClient: &http.Client{}}
}

// Parse 调用 Tika 把文件转换为 XHTML，并按 <div class="page"> 拆分为页。
// 非分页格式（例如纯文本、Word）整体作为第 0 页返回。
func (c *Client) Parse(ctx context.Context, content io.Reader, filename string) iter.Seq2[model.Page, error] {
	return func(yield func(model.Page, error) bool) {
		log.Infof("[TikaClient] 调用 Tika 解析文件: %s", filename)
		body, err := c.extract(ctx, content, filename)
		if err != nil {
			yield(model.Page{}, err)
			return
		}
		defer body.Close()

		texts, err := splitPages(body)
		if err != nil {
			yield(model.Page{}, fmt.Errorf("解析 Tika 响应失败: %w", err))
			return
		}
		log.Debugf("[TikaClient] %s 共解析出 %d 页", filename, len(texts))

		offset := 0
		for i, text := range texts {
			if !yield(model.Page{PageNum: i, Offset: offset, Text: text}, nil) {
				return
			}
			offset += utf8.RuneCountInString(text)
		}
	}
}

func (c *Client) extract(ctx context.Context, content io.Reader, filename string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.serverURL+"/tika", content)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "text/html")
	req.Header.Set("Content-Type", detectMimeType(filename))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用 Tika 失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Tika 返回错误 [%d]: %s", resp.StatusCode, string(body))
	}
	return resp.Body, nil
}

// splitPages 从 Tika 的 XHTML 输出中提取每页文本。
func splitPages(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var pages []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "page") {
			var b strings.Builder
			collectText(n, &b)
			pages = append(pages, b.String())
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	if len(pages) == 0 {
		body := findElement(doc, "body")
		if body == nil {
			body = doc
		}
		var b strings.Builder
		collectText(body, &b)
		if text := b.String(); strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}
	return pages, nil
}

// collectText 按文档顺序拼接文本节点，块级元素结束时补一个换行。
func collectText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if n.Data == "br" {
			b.WriteString("\n")
			return
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, b)
	}
	if n.Type == html.ElementNode && isBlock(n.Data) {
		b.WriteString("\n")
	}
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "h1", "h2", "h3", "h4", "h5", "h6", "li", "tr", "table", "div":
		return true
	}
	return false
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key == "class" {
			for _, c := range strings.Fields(attr.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, tag); found != nil {
			return found
		}
	}
	return nil
}

// detectMimeType 根据文件扩展名判断 Content-Type
func detectMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		// fallback 默认
		return "application/octet-stream"
	}
	return mimeType
}
