package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bluele/gcache"
	"github.com/joho/godotenv"

	"github.com/bililive-tools/bililive-tools/src/capture"
	"github.com/bililive-tools/bililive-tools/src/cmd/blt/internal/flag"
	"github.com/bililive-tools/bililive-tools/src/configs"
	"github.com/bililive-tools/bililive-tools/src/consts"
	"github.com/bililive-tools/bililive-tools/src/instance"
	"github.com/bililive-tools/bililive-tools/src/live"
	_ "github.com/bililive-tools/bililive-tools/src/live/douyu"
	_ "github.com/bililive-tools/bililive-tools/src/live/huya"
	"github.com/bililive-tools/bililive-tools/src/log"
	"github.com/bililive-tools/bililive-tools/src/notify"
	"github.com/bililive-tools/bililive-tools/src/pkg/events"
	bilisentry "github.com/bililive-tools/bililive-tools/src/pkg/sentry"
	"github.com/bililive-tools/bililive-tools/src/recorders"
	"github.com/bililive-tools/bililive-tools/src/servers"
	"github.com/bililive-tools/bililive-tools/src/tasks"
	"github.com/bililive-tools/bililive-tools/src/tools"
	"github.com/bililive-tools/bililive-tools/src/webhook"
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
		config = flag.GenConfigFromFlags()
	}
	if !config.RPC.Enable && len(config.LiveRooms) == 0 {
		// 兜底：尝试可执行文件旁边的 config.yml
		if c, err := getConfigBesidesExecutable(); err == nil {
			return c, c.Verify()
		}
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

func main() {
	// 程序退出时刷新 Sentry 事件队列
	defer bilisentry.Flush(2 * time.Second)
	defer bilisentry.Recover()

	_ = godotenv.Load()

	config, err := getConfig()
	if err != nil {
		fmt.Fprint(os.Stderr, err.Error())
		os.Exit(1)
	}
	configs.SetCurrentConfig(config)

	// DSN 来源优先级：配置文件 > 环境变量 SENTRY_DSN
	sentryDSN := config.SentryDsn
	if sentryDSN == "" {
		sentryDSN = os.Getenv("SENTRY_DSN")
	}
	if sentryDSN != "" {
		environment := "production"
		if config.Debug {
			environment = "development"
		}
		if err := bilisentry.Init(sentryDSN, environment, consts.AppVersion); err != nil {
			// Sentry 初始化失败不影响程序运行
			fmt.Fprintf(os.Stderr, "警告: Sentry 初始化失败: %v\n", err)
		}
	}

	inst := new(instance.Instance)
	inst.Config = config
	inst.Cache = gcache.New(4096).LRU().Build()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	ctx := context.WithValue(rootCtx, instance.Key, inst)

	logger := log.New(ctx)
	logger.Infof("%s Version: %s Link Start", consts.AppName, consts.AppVersion)
	if config.File != "" {
		logger.Debugf("config path: %s.", config.File)
	} else {
		logger.Debugf("config file is not used, flag: %s used.", os.Args)
	}
	logger.Debugf("%+v", consts.GetAppInfo())

	if err := tools.VerifyFFmpeg(); err != nil {
		if config.FfmpegPath == "" {
			logger.Fatalln("FFmpeg binary not found, Please Check.")
		}
		logger.WithError(err).Warn("ffmpeg verification failed, continuing with the configured path")
	}

	events.NewDispatcher(ctx)
	tasks.NewRegistry(ctx, config.TaskQueue.MaxConcurrent)
	rm := recorders.NewManager(ctx)

	var reconciler *webhook.Reconciler
	if config.Webhook.Open {
		store, err := webhook.NewStore(filepath.Join(config.AppDataPath, "db", "webhook.db"))
		if err != nil {
			logger.WithError(err).Warn("打开 webhook 数据库失败，场次持久化不可用")
		}
		whLogger := logger.WithField("module", "webhook")
		opts := webhook.ReconcilerOptions{
			MinSizeMB:  config.Webhook.MinSize,
			StaleAfter: time.Duration(config.Webhook.PartMergeSeconds) * time.Second,
			Store:      store,
			// 与本地录制路径同一套生命周期日志
			Hooks: capture.Hooks{
				OnRecordStart: func() {
					whLogger.Info("Record Start")
				},
				OnFileCreated: func(path string) {
					whLogger.WithField("file", path).Info("video file created")
				},
				OnFileCompleted: func(path string) {
					whLogger.WithField("file", path).Info("video file completed")
				},
				OnRecordStop: func(reason string) {
					whLogger.WithField("reason", reason).Info("Record End")
				},
				OnDebugLog: func(text string) {
					whLogger.Debug(text)
				},
			},
		}
		reconciler = webhook.NewReconciler(ctx, opts)
		if err := reconciler.Start(ctx); err != nil {
			logger.WithError(err).Warn("启动 webhook 归一化服务失败")
		}
	}

	notifier := notify.NewNotifier(ctx)
	if err := notifier.Start(ctx); err != nil {
		logger.WithError(err).Warn("启动通知服务失败")
	}

	// 尽早启动 HTTP 服务器，直播间还在初始化时接口就已可用
	if config.RPC.Enable {
		if err := servers.NewServer(ctx).Start(ctx); err != nil {
			logger.WithError(err).Fatalf("failed to init server")
		}
	}

	for index := range config.LiveRooms {
		room := &config.LiveRooms[index]
		l, err := live.New(ctx, room, inst.Cache)
		if err != nil {
			logger.WithField("url", room.Url).Error(err)
			continue
		}
		if _, ok := inst.Lives.Get(l.GetLiveId()); ok {
			logger.Errorf("%s is exist!", room.Url)
			continue
		}
		inst.Lives.Set(l.GetLiveId(), l)
		room.LiveId = l.GetLiveId()
	}

	if err := rm.Start(ctx); err != nil {
		logger.Fatalf("failed to init recorder manager, error: %s", err)
	}
	logger.Infof("Created %d live rooms", len(config.LiveRooms))

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	bilisentry.Go(func() {
		<-c
		logger.Info("Received shutdown signal, closing...")
		rootCancel()
		if config.RPC.Enable {
			inst.Server.Close(ctx)
		}
		inst.RecorderManager.Close(ctx)
		if reconciler != nil {
			reconciler.Close(ctx)
		}
		notifier.Close(ctx)
		inst.TaskRegistry.Close(ctx)
		for _, l := range inst.Lives.Snapshot() {
			l.Close()
		}
	})
	inst.WaitGroup.Wait()
	logger.Info(consts.AppName + " stopped")
}
