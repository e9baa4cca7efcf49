// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"iter"
	"mime"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"prepdocs-go/internal/config"
	"prepdocs-go/internal/listing"
	"prepdocs-go/pkg/log"
)

const defaultPresignExpiry = 24 * time.Hour

// NewClient 初始化 MinIO 客户端。
func NewClient(cfg config.StorageConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")
	return client, nil
}

// PageRenderer 把 PDF 渲染为按页排列的 PNG 文件。
type PageRenderer interface {
	RenderPages(ctx context.Context, pdfPath, outDir string) ([]string, error)
}

// BlobManager 管理某个存储桶中的原文件和页图。
type BlobManager struct {
	client        *minio.Client
	bucket        string
	renderer      PageRenderer
	tempDir       string
	presignExpiry time.Duration
}

// Option 配置 BlobManager。
type Option func(*BlobManager)

// WithPageImages 启用页图：上传 PDF 时同时渲染并上传每一页的 PNG。
func WithPageImages(renderer PageRenderer, tempDir string) Option {
	return func(m *BlobManager) {
		m.renderer = renderer
		m.tempDir = tempDir
	}
}

// WithPresignExpiry 设置页图预签名 URL 的有效期。
func WithPresignExpiry(d time.Duration) Option {
	return func(m *BlobManager) {
		m.presignExpiry = d
	}
}

// NewBlobManager 创建指定存储桶的 BlobManager。
func NewBlobManager(client *minio.Client, bucket string, opts ...Option) *BlobManager {
	m := &BlobManager{client: client, bucket: bucket, presignExpiry: defaultPresignExpiry}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureBucket 检查存储桶 (Bucket) 是否存在，如果不存在则创建。
func (m *BlobManager) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if exists {
		log.Infof("存储桶 '%s' 已存在", m.bucket)
		return nil
	}
	log.Infof("存储桶 '%s' 不存在，正在创建...", m.bucket)
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
	}
	log.Infof("存储桶 '%s' 创建成功", m.bucket)
	return nil
}

// ListObjects 按 key 的字典序列举前缀下的所有对象，包含用户元数据。
func (m *BlobManager) ListObjects(ctx context.Context, prefix string) iter.Seq2[listing.Object, error] {
	return func(yield func(listing.Object, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		for info := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
			Prefix:       prefix,
			Recursive:    true,
			WithMetadata: true,
		}) {
			if info.Err != nil {
				yield(listing.Object{}, fmt.Errorf("列举存储桶 %s 失败: %w", m.bucket, info.Err))
				return
			}
			if !yield(listing.Object{Key: info.Key, Size: info.Size, Metadata: info.UserMetadata}, nil) {
				return
			}
		}
	}
}

// DownloadFile 把对象下载到本地路径。
func (m *BlobManager) DownloadFile(ctx context.Context, key, dst string) error {
	if err := m.client.FGetObject(ctx, m.bucket, key, dst, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("从 MinIO 下载 %s 失败: %w", key, err)
	}
	return nil
}

// UploadBlob 上传原文件；启用页图且文件为 PDF 时，渲染并上传每一页，返回按页序排列的预签名 URL。
func (m *BlobManager) UploadBlob(ctx context.Context, file *listing.File) ([]string, error) {
	name := file.Filename()
	log.Infof("[BlobManager] 上传 %s 到存储桶 %s", name, m.bucket)
	_, err := m.client.FPutObject(ctx, m.bucket, name, file.LocalPath, minio.PutObjectOptions{
		ContentType:  contentType(name),
		UserMetadata: aclMetadata(file),
	})
	if err != nil {
		return nil, fmt.Errorf("上传 %s 失败: %w", name, err)
	}

	if m.renderer == nil || file.FileExtension() != ".pdf" {
		return nil, nil
	}
	return m.uploadPageImages(ctx, file)
}

func (m *BlobManager) uploadPageImages(ctx context.Context, file *listing.File) ([]string, error) {
	name := file.Filename()
	outDir, err := os.MkdirTemp(m.tempDir, "pages-")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(outDir); err != nil {
			log.Warnf("[BlobManager] 清理页图目录 %s 失败: %v", outDir, err)
		}
	}()

	images, err := m.renderer.RenderPages(ctx, file.LocalPath, outDir)
	if err != nil {
		return nil, fmt.Errorf("渲染 %s 页图失败: %w", name, err)
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	uris := make([]string, 0, len(images))
	for i, img := range images {
		key := pageImageName(stem, i)
		if _, err := m.client.FPutObject(ctx, m.bucket, key, img, minio.PutObjectOptions{ContentType: "image/png"}); err != nil {
			return nil, fmt.Errorf("上传页图 %s 失败: %w", key, err)
		}
		u, err := m.GetPresignedURL(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("生成页图 %s 的预签名 URL 失败: %w", key, err)
		}
		uris = append(uris, u)
	}
	log.Debugf("[BlobManager] %s 上传了 %d 张页图", name, len(uris))
	return uris, nil
}

// RemoveBlob 删除 path 对应的原文件及其页图。
func (m *BlobManager) RemoveBlob(ctx context.Context, p string) error {
	name := path.Base(filepath.ToSlash(p))
	stem := strings.TrimSuffix(name, path.Ext(name))
	for obj, err := range m.ListObjects(ctx, stem) {
		if err != nil {
			return err
		}
		if obj.Key != name && !isPageImage(stem, obj.Key) {
			continue
		}
		log.Infof("[BlobManager] 删除对象 %s", obj.Key)
		if err := m.client.RemoveObject(ctx, m.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("删除对象 %s 失败: %w", obj.Key, err)
		}
	}
	return nil
}

// RemoveAllBlobs 删除存储桶中的所有对象。
func (m *BlobManager) RemoveAllBlobs(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Recursive: true})
	for rerr := range m.client.RemoveObjects(ctx, m.bucket, objects, minio.RemoveObjectsOptions{}) {
		return fmt.Errorf("删除对象 %s 失败: %w", rerr.ObjectName, rerr.Err)
	}
	log.Infof("[BlobManager] 已清空存储桶 %s", m.bucket)
	return nil
}

// GetPresignedURL 生成对象的预签名下载 URL，页图 URI 交给图像向量服务读取。
func (m *BlobManager) GetPresignedURL(ctx context.Context, objectName string) (string, error) {
	presignedURL, err := m.client.PresignedGetObject(ctx, m.bucket, objectName, m.presignExpiry, nil)
	if err != nil {
		log.Errorf("Error generating presigned URL: %s", err)
		return "", err
	}
	return presignedURL.String(), nil
}

func pageImageName(stem string, page int) string {
	return fmt.Sprintf("%s-%d.png", stem, page)
}

func isPageImage(stem, key string) bool {
	re := regexp.MustCompile("^" + regexp.QuoteMeta(stem) + `-\d+\.png$`)
	return re.MatchString(key)
}

func contentType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func aclMetadata(file *listing.File) map[string]string {
	meta := map[string]string{}
	if len(file.ACLs.Oids) > 0 {
		meta["oids"] = strings.Join(file.ACLs.Oids, ",")
	}
	if len(file.ACLs.Groups) > 0 {
		meta["groups"] = strings.Join(file.ACLs.Groups, ",")
	}
	return meta
}
