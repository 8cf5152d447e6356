package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingcap-incubator/txqueue/kv/config"
	"github.com/pingcap-incubator/txqueue/kv/server"
	"github.com/pingcap-incubator/txqueue/kv/server/api"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configPath = flag.String("config", "", "config file path")
	storeAddr  = flag.String("addr", "", "admin api listen address")
	dbPath     = flag.String("db", "", "directory to store the data in")
	logLevel   = flag.String("loglevel", "", "the level of log")
)

const shutdownTimeout = 10 * time.Second

func main() {
	flag.Parse()
	conf := loadConfig()
	if *storeAddr != "" {
		conf.StoreAddr = *storeAddr
	}
	if *dbPath != "" {
		conf.DBPath = *dbPath
	}
	if *logLevel != "" {
		conf.Log.Level = *logLevel
	}
	if err := setupLogger(conf); err != nil {
		log.Fatal("initialize logger error", zap.Error(err))
	}
	defer log.Sync()
	if err := conf.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}
	log.Info("txq-server", zap.String("version", api.ReleaseVersion), zap.String("git-hash", api.GitHash))
	log.Info("config", zap.Any("conf", conf))

	st := server.NewStorage(conf)
	if err := st.Start(); err != nil {
		log.Fatal("start storage failed", zap.Error(err))
	}
	svr, err := server.NewServer(context.Background(), conf, st, nil)
	if err != nil {
		log.Fatal("create server failed", zap.Error(err))
	}
	svr.Start()

	httpServer := &http.Server{Addr: conf.StoreAddr, Handler: api.NewHandler(svr)}
	go func() {
		log.Info("listening", zap.String("addr", conf.StoreAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("serve admin api failed", zap.Error(err))
		}
	}()

	sig := waitSignal()
	log.Info("got signal to exit", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("shutdown admin api failed", zap.Error(err))
	}
	if err := svr.Stop(); err != nil {
		log.Error("stop server failed", zap.Error(err))
		exit(1)
	}
	log.Info("server stopped")
	if sig == syscall.SIGTERM {
		exit(0)
	}
	exit(1)
}

func loadConfig() *config.Config {
	if *configPath == "" {
		return config.NewDefaultConfig()
	}
	conf, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatal("load config failed", zap.String("path", *configPath), zap.Error(err))
	}
	return conf
}

func setupLogger(conf *config.Config) error {
	logConf := &log.Config{
		Level:  conf.Log.Level,
		Format: conf.Log.Format,
		File:   log.FileLogConfig{Filename: conf.Log.File},
	}
	lg, props, err := log.InitLogger(logConf, zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		return err
	}
	log.ReplaceGlobals(lg, props)
	return nil
}

func waitSignal() os.Signal {
	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	return <-sc
}

func exit(code int) {
	log.Sync()
	os.Exit(code)
}
