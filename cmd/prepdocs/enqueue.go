package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"prepdocs-go/internal/model"
	"prepdocs-go/internal/service"
	"prepdocs-go/pkg/kafka"
	"prepdocs-go/pkg/log"
	"prepdocs-go/pkg/tasks"
)

var (
	enqueuePrefix string
	enqueueAction string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Publish one ingestion task per blob to Kafka",
	Long: `列举容器中 --prefix 下的对象，为每个对象发送一个入库任务。
--action removeall 时只发送一个清空任务。`,
	RunE: runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueuePrefix, "prefix", "", "对象前缀")
	enqueueCmd.Flags().StringVar(&enqueueAction, "action", "add", "任务动作: add, remove, removeall")
	enqueueCmd.Flags().String("brokers", "", "Kafka broker 地址，多个地址用逗号分隔")
	enqueueCmd.Flags().String("topic", "", "Kafka 主题")
	_ = v.BindPFlag("kafka.brokers", enqueueCmd.Flags().Lookup("brokers"))
	_ = v.BindPFlag("kafka.topic", enqueueCmd.Flags().Lookup("topic"))
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	action, err := model.ParseDocumentAction(enqueueAction)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()
	if cfg.Kafka.Brokers == "" {
		return fmt.Errorf("kafka brokers are required")
	}

	ctx := context.Background()
	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()

	if action == model.RemoveAll {
		if err := producer.ProduceIngestTask(ctx, tasks.IngestTask{Action: action.String()}); err != nil {
			return err
		}
		cmd.Println("removeall task enqueued")
		return nil
	}

	collaborators, err := service.BuildCollaborators(ctx, cfg)
	if err != nil {
		return err
	}
	svc := service.NewIngestService(cfg, collaborators)

	count := 0
	for p, err := range svc.ListBlobPaths(ctx, enqueuePrefix) {
		if err != nil {
			return err
		}
		if err := producer.ProduceIngestTask(ctx, tasks.IngestTask{BlobName: p, Action: action.String()}); err != nil {
			return fmt.Errorf("发送任务 %s 失败: %w", p, err)
		}
		count++
	}
	log.Infof("[Enqueue] 已发送 %d 个任务到主题 '%s'", count, cfg.Kafka.Topic)
	cmd.Printf("%d tasks enqueued\n", count)
	return nil
}
