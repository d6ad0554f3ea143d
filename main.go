package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-cache/internal/auth"
	"github.com/any-hub/any-cache/internal/cache"
	"github.com/any-hub/any-cache/internal/config"
	"github.com/any-hub/any-cache/internal/filesrv"
	"github.com/any-hub/any-cache/internal/logging"
	"github.com/any-hub/any-cache/internal/protocol"
	"github.com/any-hub/any-cache/internal/proxy"
	"github.com/any-hub/any-cache/internal/remote"
	"github.com/any-hub/any-cache/internal/server"
	"github.com/any-hub/any-cache/internal/server/routes"
	"github.com/any-hub/any-cache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	role        string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

const proxyBodyLimit = 16 * 1024 * 1024

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
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}
	if opts.role != "" {
		role, err := config.ParseRole(opts.role)
		if err != nil {
			fmt.Fprintf(stdErr, "解析角色失败: %v\n", err)
			return 1
		}
		cfg.Global.Role = string(role)
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["role"] = cfg.Global.Role
		fields["backend"] = cfg.Server.Backend
		fields["auth"] = config.AuthMode(authSecret(cfg))
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序为“配置 → 存储（缓存目录或导出后端）→ Fiber 路由 → 监听”，
	// 缓存目录初始化失败直接退出。
	var (
		app  *fiber.App
		port int
	)
	switch cfg.RoleValue() {
	case config.RoleServer:
		app, err = buildServerApp(context.Background(), cfg, logger)
		port = cfg.Server.ListenPort
	default:
		app, err = buildProxyApp(cfg, logger)
		port = cfg.Proxy.ListenPort
	}
	if err != nil {
		fmt.Fprintf(stdErr, "初始化 %s 失败: %v\n", cfg.Global.Role, err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["role"] = cfg.Global.Role
	fields["listen_port"] = port
	fields["auth"] = config.AuthMode(authSecret(cfg))
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(app, port, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("any-cache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		roleFlag   string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 ANY_CACHE_CONFIG 覆盖）")
	fs.StringVar(&roleFlag, "role", "", "覆盖配置中的角色：proxy|server")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("ANY_CACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		role:        roleFlag,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// buildProxyApp 初始化缓存目录、远程客户端与句柄表，并挂载客户端接口。
func buildProxyApp(cfg *config.Config, logger *logrus.Logger) (*fiber.App, error) {
	store, err := cache.NewManager(cache.Options{
		Dir:      cfg.Proxy.CacheDir,
		Capacity: cfg.Proxy.CacheCapacity,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	hostname, _ := os.Hostname()
	client, err := remote.New(remote.Options{
		BaseURL:    cfg.Proxy.ServerURL,
		HTTPClient: server.NewRemoteHTTPClient(cfg.Proxy),
		Signer:     auth.NewSigner(cfg.Proxy.AuthSecret, hostname, cfg.Proxy.TokenTTL.DurationValue()),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	handler, err := proxy.NewHandler(proxy.Options{
		Cache:     store,
		Remote:    client,
		Logger:    logger,
		ChunkSize: protocol.DefaultMaxBlockSize,
	})
	if err != nil {
		return nil, err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:    logger,
		Role:      string(config.RoleProxy),
		BodyLimit: proxyBodyLimit,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterFileRoutes(app, handler)
	routes.RegisterProxyDiagnostics(app, handler)
	return app, nil
}

// buildServerApp 按配置选择导出后端，并挂载 /rpc 与诊断接口。
func buildServerApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*fiber.App, error) {
	backend, err := newBackend(ctx, cfg.Server)
	if err != nil {
		return nil, err
	}
	mgr, err := filesrv.NewManager(filesrv.Options{
		Backend:      backend,
		MaxBlockSize: cfg.Server.MaxBlockSize,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:    logger,
		Role:      string(config.RoleServer),
		BodyLimit: int(2 * max(cfg.Server.MaxBlockSize, protocol.DefaultMaxBlockSize)),
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterRPCRoutes(app, mgr, server.RequireToken(auth.NewVerifier(cfg.Server.AuthSecret), logger))
	routes.RegisterServerDiagnostics(app, mgr)
	return app, nil
}

func newBackend(ctx context.Context, cfg config.ServerConfig) (filesrv.Backend, error) {
	if cfg.Backend == config.BackendS3 {
		backend, err := filesrv.NewS3Backend(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("初始化 S3 后端失败: %w", err)
		}
		return backend, nil
	}
	backend, err := filesrv.NewLocalBackend(cfg.RootDir)
	if err != nil {
		return nil, fmt.Errorf("初始化导出目录失败: %w", err)
	}
	return backend, nil
}

func authSecret(cfg *config.Config) string {
	if cfg.RoleValue() == config.RoleServer {
		return cfg.Server.AuthSecret
	}
	return cfg.Proxy.AuthSecret
}

func startHTTPServer(app *fiber.App, port int, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
}
