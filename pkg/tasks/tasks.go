// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import (
	"fmt"

	"prepdocs-go/internal/model"
)

// IngestTask asks a worker to add or remove a single blob.
type IngestTask struct {
	BlobName string `json:"blob_name"`
	Action   string `json:"action"`
}

// DocumentAction parses the task's action; an empty action means add.
func (t IngestTask) DocumentAction() (model.DocumentAction, error) {
	return model.ParseDocumentAction(t.Action)
}

// Key identifies the task for retry bookkeeping.
func (t IngestTask) Key() string {
	return fmt.Sprintf("%s:%s", t.Action, t.BlobName)
}
