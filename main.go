package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imagehub/internal/config"
	"github.com/any-hub/imagehub/internal/logging"
	"github.com/any-hub/imagehub/internal/server"
	"github.com/any-hub/imagehub/internal/server/routes"
	"github.com/any-hub/imagehub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath   string
	checkOnly    bool
	showVersion  bool
	prefetchPath string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		if fe, ok := config.AsFieldError(err); ok {
			fmt.Fprintf(stdErr, "配置项 %s 无效: %s\n", fe.Field, fe.Reason)
			return 1
		}
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := configSummary(cfg, "check_config", opts.configPath)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// CLI 启动遵循“配置 → 磁盘缓存 → 两级缓存 → 下载器 → Loader”顺序，
	// HTTP 服务与预取共享同一组实例。
	svc, err := buildServices(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存服务失败: %v\n", err)
		return 1
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.prefetchPath != "" {
		if err := runPrefetch(ctx, cfg, svc, opts.prefetchPath, logger); err != nil {
			fmt.Fprintf(stdErr, "预取失败: %v\n", err)
			return 1
		}
		return 0
	}

	fields := configSummary(cfg, "startup", opts.configPath)
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	go runSweeper(ctx, svc.images, cfg.Global.SweepInterval.DurationValue(), logger)

	if err := startHTTPServer(ctx, cfg, svc, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("imagehub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag   string
		checkOnly    bool
		showVer      bool
		prefetchPath string
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 IMAGEHUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.StringVar(&prefetchPath, "prefetch", "", "预取 URL 列表文件（每行一个 URL），完成后退出")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("IMAGEHUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:   path,
		checkOnly:    checkOnly,
		showVersion:  showVer,
		prefetchPath: prefetchPath,
	}, nil
}

func configSummary(cfg *config.Config, action, configPath string) logrus.Fields {
	fields := logging.BaseFields(action, configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_path"] = cfg.Global.StoragePath
	fields["namespace"] = cfg.Global.Namespace
	fields["memory_cache"] = cfg.Global.ShouldCacheImagesInMemory
	fields["max_concurrent_downloads"] = cfg.Global.MaxConcurrentDownloads
	fields["execution_order"] = cfg.Global.ExecutionOrder
	fields["credentials"] = cfg.Global.AuthMode()
	return fields
}

func startHTTPServer(ctx context.Context, cfg *config.Config, svc *services, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Loader:     svc.loader,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterCacheRoutes(app, svc.images)
	routes.RegisterDownloaderRoutes(app, svc.coordinator)
	routes.RegisterMetricsRoute(app, nil)

	go func() {
		<-ctx.Done()
		logger.WithField("action", "shutdown").Info("Fiber 服务关闭")
		_ = app.Shutdown()
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
