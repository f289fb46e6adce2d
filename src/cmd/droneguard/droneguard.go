package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/droneguard/droneguard-go/src/cmd/droneguard/internal/flag"
	"github.com/droneguard/droneguard-go/src/configs"
	"github.com/droneguard/droneguard-go/src/consts"
	"github.com/droneguard/droneguard-go/src/coordinator"
	"github.com/droneguard/droneguard-go/src/instance"
	"github.com/droneguard/droneguard-go/src/log"
	"github.com/droneguard/droneguard-go/src/pkg/beaches"
	"github.com/droneguard/droneguard-go/src/pkg/kvstore"
	dgsentry "github.com/droneguard/droneguard-go/src/pkg/sentry"
	"github.com/droneguard/droneguard-go/src/pkg/sourcelogger"
	"github.com/droneguard/droneguard-go/src/pkg/streamprobe"
	"github.com/droneguard/droneguard-go/src/servers"
)

func getConfig() (*configs.Config, error) {
	var config *configs.Config
	if *flag.Conf != "" {
		c, err := configs.NewConfigWithFile(*flag.Conf)
		if err != nil {
			return nil, err
		}
		config = c
	} else {
		if *flag.Source == "" {
			// 没有指定任何源时，尝试使用可执行文件旁边的 config.yml
			if c, err := getConfigBesidesExecutable(); err == nil {
				return c, c.Verify()
			}
		}
		config = flag.GenConfigFromFlags()
	}
	return config, config.Verify()
}

func getConfigBesidesExecutable() (*configs.Config, error) {
	exePath, err := os.Executable()
	if err != nil {
		return nil, err
	}
	configPath := filepath.Join(filepath.Dir(exePath), "config.yml")
	return configs.NewConfigWithFile(configPath)
}

// probeTimeout 配置中 0 表示不限制，对应协调器的负数
func probeTimeout(cfg *configs.Config) time.Duration {
	if cfg.Source.ProbeTimeout <= 0 {
		return -1
	}
	return cfg.Source.ProbeTimeout
}

var (
	// SentryDSN 使用 -ldflags="-X main.SentryDSN=your_dsn" 在编译时注入，或设置环境变量 SENTRY_DSN
	SentryDSN = ""
	// SentryEnv Sentry Environment (编译时注入)
	SentryEnv = "production"
)

func main() {
	defer dgsentry.Flush(2 * time.Second)
	defer dgsentry.Recover()

	// .env 不存在时忽略
	_ = godotenv.Load()

	if err := flag.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	config, err := getConfig()
	if err != nil {
		fmt.Fprint(os.Stderr, err.Error())
		os.Exit(1)
	}
	configs.SetCurrentConfig(config)

	inst := new(instance.Instance)

	if err := kvstore.Init(config.DbPath()); err != nil {
		fmt.Fprintf(os.Stderr, "警告: 本地存储初始化失败: %v\n", err)
	} else {
		inst.Store = kvstore.GetStore()
	}
	defer kvstore.Close()

	sentryDSN := SentryDSN
	if sentryDSN == "" {
		sentryDSN = os.Getenv("SENTRY_DSN")
	}
	if config.Sentry.Enable && sentryDSN != "" {
		environment := SentryEnv
		if config.Debug {
			environment = "development"
		}
		deviceID := ""
		if inst.Store != nil {
			deviceID, _ = inst.Store.DeviceID(context.Background())
		}
		if err := dgsentry.Init(sentryDSN, environment, consts.AppVersion, deviceID); err != nil {
			fmt.Fprintf(os.Stderr, "警告: Sentry 初始化失败: %v\n", err)
		} else {
			fmt.Println("Sentry 初始化成功")
		}
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	ctx := instance.WithInstance(rootCtx, inst)

	logger, err := log.New(config)
	if err != nil {
		fmt.Fprint(os.Stderr, err.Error())
		os.Exit(1)
	}
	logger.Infof("%s Version: %s Link Start", consts.AppName, consts.AppVersion)
	if config.File != "" {
		logger.Debugf("config path: %s.", config.File)
		logger.Debugf("other flags have been ignored.")
	} else {
		logger.Debugf("config file is not used.")
		logger.Debugf("flag: %s used.", os.Args)
	}
	logger.Debugf("%+v", consts.GetAppInfo())
	logger.Debugf("%+v", configs.GetCurrentConfig())

	inst.Registry = prometheus.NewRegistry()
	inst.Registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	bufferSize, _ := config.Log.ProbeBufferBytes()
	inst.ProbeLogger = sourcelogger.New(bufferSize, config.Source.Address)
	inst.Coordinator = coordinator.New[string](ctx, coordinator.Options{
		Source:   config.Source.Address,
		Prober:   streamprobe.NewFromConfig(config, inst.ProbeLogger),
		Reporter: coordinator.NewLogReporter(inst.ProbeLogger, dgsentry.IsInitialized()),
		Timeout:  probeTimeout(config),
		Logger:   inst.ProbeLogger,
		Metrics:  coordinator.NewMetrics(inst.Registry),
	})
	inst.Beaches = beaches.NewClient(beaches.Options{
		URL:      config.Remote.BeachesURL,
		CacheTTL: config.Remote.CacheTTL,
		Timeout:  config.Remote.Timeout,
	})

	var server *servers.Server
	if config.RPC.Enable {
		server = servers.NewServer(inst, config.RPC.Bind)
		if err := server.Start(ctx); err != nil {
			logger.WithError(err).Fatalf("failed to init server")
		}
	}

	// 启动后立即探测一次
	inst.Coordinator.OnTriggerChanged(instance.StartupTrigger())

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-c:
		logger.Infof("收到信号 %s，正在退出", sig)
	case <-rootCtx.Done():
	}

	inst.Coordinator.Close()
	if server != nil {
		if err := server.Close(context.Background()); err != nil {
			logger.WithError(err).Warn("关闭 HTTP 服务失败")
		}
	}
	rootCancel()
	inst.WaitGroup.Wait()
	logger.Info("Bye~")
}
