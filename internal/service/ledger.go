package service

import (
	"context"

	"prepdocs-go/internal/listing"
	"prepdocs-go/internal/model"
	"prepdocs-go/internal/pipeline"
	"prepdocs-go/internal/repository"
	"prepdocs-go/pkg/log"
)

// ledgerRecorder 把 FileStrategy 的结果写入 ingest_records 表。
type ledgerRecorder struct {
	repo     repository.IngestRecordRepository
	category string
}

// NewLedgerRecorder 创建基于 IngestRecordRepository 的入库台账记录器。
func NewLedgerRecorder(repo repository.IngestRecordRepository, category string) pipeline.Recorder {
	return &ledgerRecorder{repo: repo, category: category}
}

func (r *ledgerRecorder) RecordIndexed(ctx context.Context, filename string, docs []model.IndexDocument) error {
	prev, err := r.repo.FindBySourceFile(ctx, filename)
	if err != nil {
		return err
	}
	if prev != nil && prev.Sections != len(docs) {
		log.Infof("[Ledger] %s 的段数由 %d 变为 %d", filename, prev.Sections, len(docs))
	}
	record := &model.IngestRecord{
		SourceFile: filename,
		Category:   r.category,
		Sections:   len(docs),
	}
	if len(docs) > 0 {
		record.FirstDocID = docs[0].ID
	}
	return r.repo.Upsert(ctx, record)
}

func (r *ledgerRecorder) RecordRemoved(ctx context.Context, p string) error {
	return r.repo.DeleteBySourceFile(ctx, listing.DisplayName(p))
}

func (r *ledgerRecorder) RecordRemovedAll(ctx context.Context) error {
	return r.repo.DeleteAll(ctx)
}
