// Package handler 包含了 HTTP 请求处理器。
package handler

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"prepdocs-go/internal/config"
	"prepdocs-go/internal/model"
	"prepdocs-go/internal/service"
	"prepdocs-go/pkg/log"
)

// ErrStorageMismatch 表示 blob_url 指向的账号或容器与配置不一致。
var ErrStorageMismatch = errors.New("storage mismatch")

// SkillRequest 是 skill 接口的请求体。
type SkillRequest struct {
	Values []SkillRecord `json:"values" binding:"required,min=1,dive"`
}

// SkillRecord 是请求中的一条记录。
type SkillRecord struct {
	RecordID string    `json:"recordId" binding:"required"`
	Data     SkillData `json:"data" binding:"required"`
}

// SkillData 是记录携带的数据。
type SkillData struct {
	BlobURL string `json:"blob_url" binding:"required"`
}

// SkillResponse 是 skill 接口的响应体，values 与请求一一对应。
type SkillResponse struct {
	Values []SkillResult `json:"values"`
}

// SkillResult 是单条记录的处理结果。
type SkillResult struct {
	RecordID string          `json:"recordId"`
	Data     SkillResultData `json:"data"`
	Errors   []string        `json:"errors"`
	Warnings []string        `json:"warnings"`
}

// SkillResultData 携带该记录产生的全部索引文档。
type SkillResultData struct {
	Chunks []Chunk `json:"chunks"`
}

// Chunk 是响应中的索引文档，向量保留 6 位小数。
type Chunk struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	Category       string    `json:"category"`
	SourcePage     string    `json:"sourcepage"`
	SourceFile     string    `json:"sourcefile"`
	Embedding      []float64 `json:"embedding,omitempty"`
	ImageEmbedding []float64 `json:"imageEmbedding,omitempty"`
	Oids           []string  `json:"oids,omitempty"`
	Groups         []string  `json:"groups,omitempty"`
}

// SkillHandler 处理索引管道回调的 skill 请求。
type SkillHandler struct {
	ingestService service.IngestService
	account       string
	container     string
}

// NewSkillHandler 创建一个新的 SkillHandler 实例。
func NewSkillHandler(ingestService service.IngestService, storage config.StorageConfig) *SkillHandler {
	return &SkillHandler{
		ingestService: ingestService,
		account:       storage.Account,
		container:     storage.Container,
	}
}

// Embed 下载请求中的每个对象，执行一次入库运行并返回每条记录对应的文档。
func (h *SkillHandler) Embed(c *gin.Context) {
	var req SkillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[SkillHandler] 请求参数绑定失败: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request: %v", err)})
		return
	}
	log.Infof("[SkillHandler] 收到 skill 请求, 记录数: %d", len(req.Values))

	// 1. 先校验全部记录，任何一条不合法都不下载
	names := make([]string, 0, len(req.Values))
	for _, record := range req.Values {
		name, err := h.blobName(record.Data.BlobURL)
		if err != nil {
			log.Warnf("[SkillHandler] 记录 %s 校验失败: %v", record.RecordID, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": errorMessage(err)})
			return
		}
		names = append(names, name)
	}

	// 2. 执行入库
	results, err := h.ingestService.IngestBlobs(c.Request.Context(), names)
	if err != nil {
		log.Errorf("[SkillHandler] 入库失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// 3. 按输入顺序组装响应
	resp := SkillResponse{Values: make([]SkillResult, len(req.Values))}
	for i, record := range req.Values {
		var docs []model.IndexDocument
		if i < len(results) {
			docs = results[i]
		}
		resp.Values[i] = SkillResult{
			RecordID: record.RecordID,
			Data:     SkillResultData{Chunks: toChunks(docs)},
		}
	}
	log.Infof("[SkillHandler] skill 请求处理完成, 记录数: %d", len(resp.Values))
	c.JSON(http.StatusOK, resp)
}

// Healthz 用于存活探测。
func (h *SkillHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type mismatchError struct {
	message string
}

func (e *mismatchError) Error() string { return e.message }

func (e *mismatchError) Unwrap() error { return ErrStorageMismatch }

func errorMessage(err error) string {
	var me *mismatchError
	if errors.As(err, &me) {
		return me.message
	}
	return err.Error()
}

// blobName 校验 blob_url 的账号（主机名第一段）和容器（路径第一段），返回容器内的对象名。
func (h *SkillHandler) blobName(blobURL string) (string, error) {
	u, err := url.Parse(blobURL)
	if err != nil {
		return "", fmt.Errorf("无效的 blob_url: %w", err)
	}
	account, _, _ := strings.Cut(u.Hostname(), ".")
	if account != h.account {
		return "", &mismatchError{message: "Invalid storage account"}
	}
	container, name, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if container != h.container {
		return "", &mismatchError{message: "Invalid container"}
	}
	if name == "" {
		return "", fmt.Errorf("blob_url 缺少对象名")
	}
	return name, nil
}

func toChunks(docs []model.IndexDocument) []Chunk {
	chunks := make([]Chunk, 0, len(docs))
	for _, d := range docs {
		chunks = append(chunks, Chunk{
			ID:             d.ID,
			Content:        d.Content,
			Category:       d.Category,
			SourcePage:     d.SourcePage,
			SourceFile:     d.SourceFile,
			Embedding:      roundVector(d.Embedding),
			ImageEmbedding: roundVector(d.ImageEmbedding),
			Oids:           d.Oids,
			Groups:         d.Groups,
		})
	}
	return chunks
}

func roundVector(v []float32) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = math.Round(float64(x)*1e6) / 1e6
	}
	return out
}

// RegisterRoutes 注册 skill 相关路由，middlewares 只作用于 embed 接口。
func (h *SkillHandler) RegisterRoutes(r gin.IRouter, middlewares ...gin.HandlerFunc) {
	r.GET("/healthz", h.Healthz)

	embed := append(append([]gin.HandlerFunc{}, middlewares...), h.Embed)
	r.POST("/api/v1/embed", embed...)
	r.POST("/api/embed", embed...)
}
