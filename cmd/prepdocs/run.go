package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"prepdocs-go/internal/pipeline"
	"prepdocs-go/internal/service"
	"prepdocs-go/pkg/log"
)

var runCmd = &cobra.Command{
	Use:   "run [files...]",
	Short: "Add or remove documents",
	Long: `对给定的本地文件（glob 模式）或分层存储中的路径执行一次入库运行。
默认写入内容；--remove 删除给定文件对应的内容，--removeall 清空全部内容。`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		v.Set("ingest.files", args)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collaborators, err := service.BuildCollaborators(ctx, cfg)
	if err != nil {
		return err
	}
	results, err := service.NewIngestService(cfg, collaborators).RunBatch(ctx)
	if err != nil {
		var fileErr *pipeline.FileError
		if errors.As(err, &fileErr) {
			log.Errorf("处理文件 %s 失败: %v", fileErr.Filename, fileErr.Err)
		}
		return err
	}

	docs := 0
	for _, r := range results {
		docs += len(r)
	}
	printSummary(cmd, cfg.Action(), len(results), docs)
	return nil
}
