package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"prepdocs-go/internal/model"
)

// IngestRecordRepository 定义了对 ingest_records 表的数据操作接口。
type IngestRecordRepository interface {
	Upsert(ctx context.Context, record *model.IngestRecord) error
	FindBySourceFile(ctx context.Context, sourceFile string) (*model.IngestRecord, error)
	DeleteBySourceFile(ctx context.Context, sourceFile string) error
	DeleteAll(ctx context.Context) error
}

type ingestRecordRepository struct {
	db *gorm.DB
}

// NewIngestRecordRepository 创建一个新的 IngestRecordRepository 实例。
func NewIngestRecordRepository(db *gorm.DB) IngestRecordRepository {
	return &ingestRecordRepository{db: db}
}

// AutoMigrate 创建或更新 ingest_records 表结构。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.IngestRecord{})
}

// Upsert 按 source_file 插入或覆盖一条记录。
func (r *ingestRecordRepository) Upsert(ctx context.Context, record *model.IngestRecord) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_file"}},
		DoUpdates: clause.AssignmentColumns([]string{"category", "sections", "first_doc_id", "updated_at"}),
	}).Create(record).Error
}

// FindBySourceFile 根据来源文件名查找记录，不存在时返回 nil, nil。
func (r *ingestRecordRepository) FindBySourceFile(ctx context.Context, sourceFile string) (*model.IngestRecord, error) {
	var record model.IngestRecord
	err := r.db.WithContext(ctx).Where("source_file = ?", sourceFile).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteBySourceFile 根据来源文件名删除记录。
func (r *ingestRecordRepository) DeleteBySourceFile(ctx context.Context, sourceFile string) error {
	return r.db.WithContext(ctx).Where("source_file = ?", sourceFile).Delete(&model.IngestRecord{}).Error
}

// DeleteAll 删除全部记录。
func (r *ingestRecordRepository) DeleteAll(ctx context.Context) error {
	return r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.IngestRecord{}).Error
}
