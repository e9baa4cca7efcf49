package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"prepdocs-go/internal/config"
	"prepdocs-go/pkg/log"
)

var (
	v          = viper.New()
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "prepdocs",
	Short: "Ingest documents into a search index",
	Long: `prepdocs 把本地文件或对象存储中的文档解析、切分、计算向量后写入搜索索引，
也可以按相同的来源删除已经写入的内容。`,
	SilenceUsage: true,
}

// stringFlags 与 boolFlags 把命令行参数映射到配置键。
var stringFlags = []struct{ name, key, usage string }{
	{"storageaccount", "storage.account", "存储账号名"},
	{"container", "storage.container", "存储容器"},
	{"storageendpoint", "storage.endpoint", "对象存储地址"},
	{"datalakestorageaccount", "datalake.storage_account", "分层存储账号名，设置后从存储列举文件"},
	{"datalakefilesystem", "datalake.filesystem", "分层存储文件系统"},
	{"datalakepath", "datalake.path", "分层存储中的路径前缀"},
	{"datalakekey", "datalake.key", "分层存储访问密钥"},
	{"searchservice", "search.addresses", "Elasticsearch 地址，多个地址用逗号分隔"},
	{"index", "search.index", "索引名"},
	{"searchanalyzername", "search.analyzer_name", "content 字段使用的分析器"},
	{"openaihost", "openai.host", "Embedding 服务类型: azure 或 openai"},
	{"openaiservice", "openai.service", "Azure OpenAI 服务名"},
	{"openaideployment", "openai.deployment", "Azure OpenAI Embedding 部署名"},
	{"openaimodelname", "openai.model_name", "Embedding 模型名"},
	{"openaikey", "openai.key", "OpenAI 或 Azure OpenAI 的密钥"},
	{"openaiorg", "openai.organization", "OpenAI 组织"},
	{"visionendpoint", "vision.endpoint", "图像 Embedding 服务地址"},
	{"visionkey", "vision.key", "图像 Embedding 服务密钥"},
	{"formrecognizerservice", "documentintelligence.service", "文档解析服务 (Tika) 地址"},
	{"category", "ingest.category", "写入文档的 category 字段"},
	{"tempdir", "ingest.temp_dir", "暂存目录"},
}

var boolFlags = []struct{ name, key, usage string }{
	{"useacls", "ingest.use_acls", "写入 oids/groups 访问控制字段"},
	{"skipblobs", "ingest.skip_blobs", "不上传原文件"},
	{"novectors", "ingest.no_vectors", "不计算文本向量"},
	{"disablebatchvectors", "ingest.disable_batch_vectors", "逐条计算文本向量"},
	{"remove", "ingest.remove", "删除给定文件对应的内容"},
	{"removeall", "ingest.remove_all", "删除全部内容"},
	{"localpdfparser", "ingest.local_pdf_parser", "使用本地解析器"},
	{"searchimages", "ingest.search_images", "上传页图并计算图像向量"},
	{"verbose", "ingest.verbose", "输出 debug 日志"},
	{"skipunchanged", "ingest.skip_unchanged", "跳过 md5 未变化的本地文件"},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML 配置文件路径")
	for _, f := range stringFlags {
		pf.String(f.name, "", f.usage)
	}
	for _, f := range boolFlags {
		pf.Bool(f.name, false, f.usage)
	}
	pf.VisitAll(func(flag *pflag.Flag) {
		if key := flagKey(flag.Name); key != "" {
			_ = v.BindPFlag(key, flag)
		}
	})
}

func flagKey(name string) string {
	for _, f := range stringFlags {
		if f.name == name {
			return f.key
		}
	}
	for _, f := range boolFlags {
		if f.name == name {
			return f.key
		}
	}
	return ""
}

// loadConfig 合并配置来源、校验并初始化日志。
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Init(cfg.LogLevel(), cfg.Log.Format, cfg.Log.OutputPath)
	log.Debugf("配置加载完成, action: %s", cfg.Action())
	return cfg, nil
}

func printSummary(cmd *cobra.Command, action fmt.Stringer, files, docs int) {
	cmd.Printf("%s: %d files, %d documents\n", action, files, docs)
}
