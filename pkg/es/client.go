// Package es 提供了与 Elasticsearch 交互的客户端功能，负责索引结构与索引内容的同步。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"prepdocs-go/internal/config"
	"prepdocs-go/internal/listing"
	"prepdocs-go/internal/model"
	"prepdocs-go/pkg/log"
)

// bulkBatchSize 是单次 _bulk 请求写入的最大文档数。
const bulkBatchSize = 1000

// NewClient 初始化 Elasticsearch 客户端
func NewClient(cfg config.SearchConfig) (*elasticsearch.Client, error) {
	var addresses []string
	for _, addr := range strings.Split(cfg.Addresses, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			addresses = append(addresses, addr)
		}
	}
	return elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
}

// Embedder 为一组文本生成向量，返回顺序与输入一致。
type Embedder interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// Options 描述索引结构和写入行为。
type Options struct {
	Index    string
	Analyzer string
	UseACLs  bool
	// Embeddings 为 nil 时不计算文本向量，索引中也没有 embedding 字段。
	Embeddings      Embedder
	TextDimensions  int
	SearchImages    bool
	ImageDimensions int
}

// SearchManager 管理一个 Elasticsearch 索引。
type SearchManager struct {
	client *elasticsearch.Client
	opts   Options
}

// NewSearchManager 创建 SearchManager。
func NewSearchManager(client *elasticsearch.Client, opts Options) *SearchManager {
	if opts.Analyzer == "" {
		opts.Analyzer = "standard"
	}
	return &SearchManager{client: client, opts: opts}
}

// EnsureIndex 检查索引是否存在，如果不存在则按当前配置创建它
func (m *SearchManager) EnsureIndex(ctx context.Context) error {
	index := m.opts.Index
	res, err := m.client.Indices.Exists([]string{index}, m.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", index)
		return nil
	}
	// 如果 res.StatusCode 是 404，说明索引不存在，需要创建
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", index, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	body, err := json.Marshal(m.indexDefinition())
	if err != nil {
		return err
	}
	res, err = m.client.Indices.Create(
		index,
		m.client.Indices.Create.WithBody(bytes.NewReader(body)),
		m.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", index, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", index, res.String())
		return fmt.Errorf("创建索引时 Elasticsearch 返回错误: %s", res.Status())
	}

	log.Infof("索引 '%s' 创建成功", index)
	return nil
}

type mapping map[string]any

// indexDefinition 返回索引的 mappings：向量字段与 ACL 字段只在对应功能启用时出现。
func (m *SearchManager) indexDefinition() mapping {
	props := mapping{
		"id":         mapping{"type": "keyword"},
		"content":    mapping{"type": "text", "analyzer": m.opts.Analyzer},
		"category":   mapping{"type": "keyword"},
		"sourcepage": mapping{"type": "keyword"},
		"sourcefile": mapping{"type": "keyword"},
	}
	if m.opts.Embeddings != nil {
		props["embedding"] = denseVector(m.opts.TextDimensions)
	}
	if m.opts.SearchImages {
		props["imageEmbedding"] = denseVector(m.opts.ImageDimensions)
	}
	if m.opts.UseACLs {
		props["oids"] = mapping{"type": "keyword"}
		props["groups"] = mapping{"type": "keyword"}
	}
	return mapping{"mappings": mapping{"properties": props}}
}

func denseVector(dims int) mapping {
	return mapping{"type": "dense_vector", "dims": dims, "index": true, "similarity": "cosine"}
}

// UpdateContent 把 sections 转换为索引文档并批量写入，返回写入的文档。
// imageEmbeddings 按页码索引，为 nil 时不写入页图向量。
func (m *SearchManager) UpdateContent(ctx context.Context, sections []model.Section, imageEmbeddings [][]float32) ([]model.IndexDocument, error) {
	if len(sections) == 0 {
		return nil, nil
	}

	var all []model.IndexDocument
	for start := 0; start < len(sections); start += bulkBatchSize {
		end := min(start+bulkBatchSize, len(sections))
		docs := make([]model.IndexDocument, 0, end-start)
		for i := start; i < end; i++ {
			docs = append(docs, m.buildDocument(sections[i], i, imageEmbeddings))
		}

		if m.opts.Embeddings != nil {
			texts := make([]string, len(docs))
			for i, d := range docs {
				texts[i] = d.Content
			}
			vectors, err := m.opts.Embeddings.CreateEmbeddings(ctx, texts)
			if err != nil {
				return nil, fmt.Errorf("计算文本向量失败: %w", err)
			}
			if len(vectors) != len(docs) {
				return nil, fmt.Errorf("向量数量 %d 与文档数量 %d 不一致", len(vectors), len(docs))
			}
			for i := range docs {
				docs[i].Embedding = vectors[i]
			}
		}

		if err := m.bulkIndex(ctx, docs); err != nil {
			return nil, err
		}
		all = append(all, docs...)
	}
	log.Infof("[SearchManager] 已写入 %d 个文档到索引 '%s'", len(all), m.opts.Index)
	return all, nil
}

func (m *SearchManager) buildDocument(section model.Section, ordinal int, imageEmbeddings [][]float32) model.IndexDocument {
	src := section.Content
	pageNum := section.SplitPage.PageNum
	doc := model.IndexDocument{
		ID:         model.DocumentID(src.FilenameToID(), pageNum, ordinal),
		Content:    section.SplitPage.Text,
		Category:   section.Category,
		SourcePage: model.SourcePage(src.Filename(), pageNum),
		SourceFile: src.Filename(),
	}
	if m.opts.UseACLs {
		acls := src.ACL()
		doc.Oids = nonNil(acls.Oids)
		doc.Groups = nonNil(acls.Groups)
	}
	if imageEmbeddings != nil && pageNum >= 0 && pageNum < len(imageEmbeddings) {
		doc.ImageEmbedding = imageEmbeddings[pageNum]
	}
	return doc
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

func (m *SearchManager) bulkIndex(ctx context.Context, docs []model.IndexDocument) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		meta := map[string]any{"index": map[string]any{"_index": m.opts.Index, "_id": doc.ID}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{
		Index:   m.opts.Index,
		Body:    &buf,
		Refresh: "true",
	}
	res, err := req.Do(ctx, m.client)
	if err != nil {
		return fmt.Errorf("批量写入 Elasticsearch 失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("批量写入 Elasticsearch 出错: %s", res.String())
		return fmt.Errorf("批量写入 Elasticsearch 出错: %s", res.Status())
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("解析 _bulk 响应失败: %w", err)
	}
	if br.Errors {
		for _, item := range br.Items {
			for _, result := range item {
				if result.Error != nil {
					return fmt.Errorf("文档 %s 写入失败: %s: %s", result.ID, result.Error.Type, result.Error.Reason)
				}
			}
		}
		return fmt.Errorf("批量写入 Elasticsearch 存在失败的文档")
	}
	return nil
}

type deleteByQueryResponse struct {
	Deleted int `json:"deleted"`
}

// RemoveContent 删除 sourcefile 等于 path 文件名的所有文档；path 为空时删除索引中的全部文档。
func (m *SearchManager) RemoveContent(ctx context.Context, p string) error {
	query := mapping{"query": mapping{"match_all": mapping{}}}
	if p != "" {
		query = mapping{"query": mapping{"term": mapping{"sourcefile": listing.DisplayName(p)}}}
	}
	body, err := json.Marshal(query)
	if err != nil {
		return err
	}

	refresh := true
	total := 0
	for {
		req := esapi.DeleteByQueryRequest{
			Index:     []string{m.opts.Index},
			Body:      bytes.NewReader(body),
			Refresh:   &refresh,
			Conflicts: "proceed",
		}
		res, err := req.Do(ctx, m.client)
		if err != nil {
			return fmt.Errorf("删除索引内容失败: %w", err)
		}
		deleted, status, err := readDeleted(res)
		if err != nil {
			return err
		}
		if status == http.StatusNotFound {
			log.Warnf("[SearchManager] 索引 '%s' 不存在, 无需删除", m.opts.Index)
			return nil
		}
		if deleted == 0 {
			break
		}
		total += deleted
	}
	log.Infof("[SearchManager] 从索引 '%s' 删除了 %d 个文档 (path=%q)", m.opts.Index, total, p)
	return nil
}

func readDeleted(res *esapi.Response) (int, int, error) {
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, res.Body)
		return 0, res.StatusCode, nil
	}
	if res.IsError() {
		return 0, res.StatusCode, fmt.Errorf("删除索引内容时 Elasticsearch 返回错误: %s", res.String())
	}
	var dr deleteByQueryResponse
	if err := json.NewDecoder(res.Body).Decode(&dr); err != nil {
		return 0, res.StatusCode, fmt.Errorf("解析 _delete_by_query 响应失败: %w", err)
	}
	return dr.Deleted, res.StatusCode, nil
}

