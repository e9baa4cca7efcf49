package service

import (
	"context"
	"fmt"

	"prepdocs-go/internal/config"
	"prepdocs-go/internal/model"
	"prepdocs-go/internal/repository"
	"prepdocs-go/pkg/database"
	"prepdocs-go/pkg/embedding"
	"prepdocs-go/pkg/es"
	"prepdocs-go/pkg/log"
	"prepdocs-go/pkg/parser"
	"prepdocs-go/pkg/render"
	"prepdocs-go/pkg/storage"
	"prepdocs-go/pkg/tika"
)

// BuildCollaborators 根据已校验的配置初始化所有外部依赖。
func BuildCollaborators(ctx context.Context, cfg *config.Config) (Collaborators, error) {
	var c Collaborators

	// 1. 对象存储
	minioClient, err := storage.NewClient(cfg.Storage)
	if err != nil {
		return c, err
	}
	var blobOpts []storage.Option
	if cfg.Ingest.SearchImages {
		if !render.Available() {
			log.Warnf("未找到 pdftoppm，页图渲染将会失败")
		}
		blobOpts = append(blobOpts, storage.WithPageImages(render.New(), cfg.Ingest.TempDir))
	}
	blobs := storage.NewBlobManager(minioClient, cfg.Storage.Container, blobOpts...)
	if cfg.Action() == model.Add && (!cfg.Ingest.SkipBlobs || cfg.Ingest.SearchImages) {
		if err := blobs.EnsureBucket(ctx); err != nil {
			return c, err
		}
	}
	c.Blobs = blobs

	// 2. 分层存储列举
	if cfg.DataLake.StorageAccount != "" {
		// 分层存储使用账号名与密钥作为访问凭据
		lakeCfg := cfg.Storage
		if cfg.DataLake.Key != "" {
			lakeCfg.AccessKeyID = cfg.DataLake.StorageAccount
			lakeCfg.SecretAccessKey = cfg.DataLake.Key
		}
		lakeClient, err := storage.NewClient(lakeCfg)
		if err != nil {
			return c, err
		}
		c.Lake = storage.NewBlobManager(lakeClient, cfg.DataLake.Filesystem)
	}

	// 3. 文档解析
	if cfg.Ingest.LocalPDFParser {
		c.Parser = parser.NewLocalParser()
	} else {
		c.Parser = tika.NewClient(cfg.DocumentAnalysisURL())
	}

	// 4. 向量服务
	var embedder es.Embedder
	if cfg.UseVectors() {
		embedder = embedding.NewClient(cfg.OpenAI, cfg.Ingest.DisableBatchVectors)
	}
	if cfg.Ingest.SearchImages && cfg.Vision.Endpoint != "" {
		c.Images = embedding.NewImageClient(cfg.Vision)
	}

	// 5. 搜索索引
	esClient, err := es.NewClient(cfg.Search)
	if err != nil {
		return c, fmt.Errorf("初始化 Elasticsearch 客户端失败: %w", err)
	}
	c.Search = es.NewSearchManager(esClient, es.Options{
		Index:           cfg.Search.Index,
		Analyzer:        cfg.Search.AnalyzerName,
		UseACLs:         cfg.Ingest.UseACLs,
		Embeddings:      embedder,
		TextDimensions:  cfg.OpenAI.Dimensions,
		SearchImages:    c.Images != nil,
		ImageDimensions: cfg.Vision.Dimensions,
	})

	// 6. 入库台账
	if cfg.Database.MySQL.DSN != "" {
		db, err := database.InitMySQL(cfg.Database.MySQL.DSN)
		if err != nil {
			return c, err
		}
		if err := repository.AutoMigrate(db); err != nil {
			return c, fmt.Errorf("迁移 ingest_records 表失败: %w", err)
		}
		c.Recorder = NewLedgerRecorder(repository.NewIngestRecordRepository(db), cfg.Ingest.Category)
	}

	log.Info("[IngestService] 依赖初始化完成")
	return c, nil
}
