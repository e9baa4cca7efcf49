package model

import "time"

// IngestRecord 对应于数据库中的 ingest_records 表，记录每个来源文件最近一次入库的结果。
type IngestRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement;column:id"`
	SourceFile string    `gorm:"type:varchar(255);not null;uniqueIndex;column:source_file"`
	Category   string    `gorm:"type:varchar(100);column:category"`
	Sections   int       `gorm:"not null;default:0;column:sections"`
	FirstDocID string    `gorm:"type:varchar(512);column:first_doc_id"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (IngestRecord) TableName() string {
	return "ingest_records"
}
