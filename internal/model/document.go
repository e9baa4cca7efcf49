// Package model 定义了入库流水线中流转的数据结构。
package model

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// DocumentAction 表示一次运行的文档动作，在整个运行期间不可变。
type DocumentAction int

const (
	Add DocumentAction = iota
	Remove
	RemoveAll
)

func (a DocumentAction) String() string {
	switch a {
	case Add:
		return "add"
	case Remove:
		return "remove"
	case RemoveAll:
		return "removeall"
	default:
		return fmt.Sprintf("DocumentAction(%d)", int(a))
	}
}

// ParseDocumentAction 解析 Kafka 任务或命令行中的动作名称，空字符串视为 add。
func ParseDocumentAction(s string) (DocumentAction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "add":
		return Add, nil
	case "remove":
		return Remove, nil
	case "removeall", "remove_all":
		return RemoveAll, nil
	default:
		return Add, fmt.Errorf("unknown document action %q", s)
	}
}

// Page 是解析器产出的一页文本。
// Offset 是该页首字符在整篇文档拼接文本中的 rune 偏移，同一文件内严格递增。
type Page struct {
	PageNum int
	Offset  int
	Text    string
}

// SplitPage 是切分器产出的一段文本，PageNum 为该段起始位置所在的页。
type SplitPage struct {
	PageNum int
	Text    string
}

// ACLs 是文件级的访问控制列表，只有启用 useacls 时才写入索引。
type ACLs struct {
	Oids   []string
	Groups []string
}

// SourceRef 是 Section 对来源文件的只读引用，不持有文件句柄。
type SourceRef interface {
	Filename() string
	FileExtension() string
	FilenameToID() string
	ACL() ACLs
}

// Section 是提交到索引的最小单位。
type Section struct {
	SplitPage SplitPage
	Content   SourceRef
	Category  string
}

// IndexDocument 是写入搜索索引的文档结构。
type IndexDocument struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	Category       string    `json:"category"`
	SourcePage     string    `json:"sourcepage"`
	SourceFile     string    `json:"sourcefile"`
	Embedding      []float32 `json:"embedding,omitempty"`
	ImageEmbedding []float32 `json:"imageEmbedding,omitempty"`
	Oids           []string  `json:"oids,omitempty"`
	Groups         []string  `json:"groups,omitempty"`
}

var idUnsafe = regexp.MustCompile(`[^0-9a-zA-Z_-]`)

// maxIDPrefix 限制 ID 中可读部分的长度，Elasticsearch 的 _id 最长 512 字节。
const maxIDPrefix = 200

// FilenameToID 把文件名转换为可用作文档 ID 前缀的字符串。
// SHA-1 后缀保证不同文件名在替换非法字符或截断后仍然不会冲突。
func FilenameToID(filename string) string {
	safe := idUnsafe.ReplaceAllString(filename, "_")
	if len(safe) > maxIDPrefix {
		safe = safe[:maxIDPrefix]
	}
	sum := sha1.Sum([]byte(filename))
	return fmt.Sprintf("file-%s-%s", safe, hex.EncodeToString(sum[:]))
}

// DocumentID 由文件、页码和段序号组成，重复入库同一文件会覆盖而不是追加。
func DocumentID(fileID string, pageNum, chunk int) string {
	return fmt.Sprintf("%s-page-%d-chunk-%d", fileID, pageNum, chunk)
}

// SourcePage 返回带页锚点的来源页，页码从 1 开始；非 PDF 文件没有页锚点。
func SourcePage(filename string, pageNum int) string {
	if strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return fmt.Sprintf("%s#page=%d", filename, pageNum+1)
	}
	return filename
}
