package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/omeyang/xkclient/pkg/config/xconf"
	"github.com/omeyang/xkclient/pkg/lifecycle/xrun"
	"github.com/omeyang/xkclient/pkg/mq/xkafka"
	"github.com/omeyang/xkclient/pkg/observability/xlog"
	"github.com/omeyang/xkclient/pkg/observability/xmetrics"
	"github.com/omeyang/xkclient/pkg/observability/xpromstats"
)

const (
	// envPrefix 覆盖配置文件的环境变量前缀。
	envPrefix = "XKCLIENT_"
	// configRoot 配置文件中客户端属性所在的节点。
	configRoot = "kafka"
	// defaultStatsInterval 暴露指标时未配置 statistics.interval.ms 的默认值。
	defaultStatsInterval = 5000
	shutdownTimeout      = 5 * time.Second
)

// session 一次命令执行的公共状态：客户端属性、选项、日志与指标。
type session struct {
	conf    xkafka.ConfigMap
	opts    []xkafka.Option
	timeout time.Duration

	logger   xlog.LoggerWithLevel
	closeLog func() error

	cfg         xconf.Config
	metricsAddr string
	registry    *prometheus.Registry
}

// newSession 按 配置文件 < 环境变量 < 命令行 合成客户端配置。
func newSession(cmd *cli.Command) (*session, error) {
	s := &session{
		conf:        make(xkafka.ConfigMap),
		timeout:     cmd.Duration("timeout"),
		metricsAddr: cmd.String("metrics-addr"),
	}
	if s.timeout <= 0 {
		return nil, usagef("--timeout must be positive")
	}

	if path := cmd.String("config"); path != "" {
		cfg, err := xconf.New(path, xconf.WithEnvPrefix(envPrefix))
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		s.cfg = cfg
		if cfg.Client().Exists(configRoot) {
			conf, err := xkafka.ConfigFromXconf(cfg, configRoot)
			if err != nil {
				return nil, err
			}
			s.conf = conf
		}
	}

	level := cmd.String("log-level")
	if !cmd.IsSet("log-level") && s.cfg != nil {
		if v := s.cfg.Client().String("log.level"); v != "" {
			level = v
		}
	}
	b := xlog.New().
		SetOutput(cmd.Root().ErrWriter).
		SetLevelString(level).
		SetFormat(cmd.String("log-format")).
		SetEnrich(true)
	if file := cmd.String("log-file"); file != "" {
		b.SetRotation(file)
	}
	logger, closeLog, err := b.Build()
	if err != nil {
		return nil, usagef("logger: %v", err)
	}
	s.logger, s.closeLog = logger, closeLog
	xlog.SetDefault(logger)

	if brokers := cmd.String("brokers"); brokers != "" {
		s.conf["bootstrap.servers"] = brokers
	}
	for _, kv := range cmd.StringSlice("property") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			s.close()
			return nil, usagef("invalid property %q, want key=value", kv)
		}
		s.conf[k] = v
	}

	tr, err := resolveTransport(cmd.String("transport"), s.conf)
	if err != nil {
		s.close()
		return nil, err
	}
	observer, err := xmetrics.NewOTelObserver(xmetrics.WithInstrumentationName("xkcat"))
	if err != nil {
		s.close()
		return nil, err
	}
	// 全局 provider 未安装导出器时 span 与指标为空操作，消息头仍携带上游追踪信息
	s.opts = append(s.opts, tr,
		xkafka.WithLogger(logger),
		xkafka.WithTracer(xkafka.NewOTelTracer()),
		xkafka.WithObserver(observer),
	)

	if s.metricsAddr != "" {
		collector := xpromstats.NewCollector("xkcat")
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(collector, collectors.NewGoCollector())
		s.opts = append(s.opts, xkafka.WithEventSink(xpromstats.NewSink(collector, xkafka.NewLogSink(logger))))
		if _, ok := s.conf["statistics.interval.ms"]; !ok {
			s.conf["statistics.interval.ms"] = defaultStatsInterval
		}
	}
	return s, nil
}

// clientConf 返回叠加了 extra 的配置副本。
func (s *session) clientConf(extra xkafka.ConfigMap) xkafka.ConfigMap {
	conf := s.conf.Clone()
	for k, v := range extra {
		if _, set := conf[k]; !set {
			conf[k] = v
		}
	}
	return conf
}

// ctx 返回带请求超时的 context。
func (s *session) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

// serve 运行长期任务，同时提供指标服务与配置热更新，收到信号时正常结束。
func (s *session) serve(ctx context.Context, tasks ...func(ctx context.Context) error) error {
	if s.registry != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: s.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		tasks = append(tasks, xrun.HTTPServer(srv, shutdownTimeout))
	}
	if s.cfg != nil && s.cfg.Path() != "" {
		w, err := xconf.Watch(s.cfg, s.onConfigChange)
		if err != nil {
			s.logger.Warn(ctx, "config watch disabled", xlog.Err(err))
		} else {
			w.StartAsync()
			defer func() { _ = w.Stop() }()
		}
	}
	err := xrun.Run(ctx, []xrun.Option{xrun.WithLogger(s.logger), xrun.WithName("xkcat")}, tasks...)
	if errors.Is(err, xrun.ErrSignal) {
		return nil
	}
	return err
}

// onConfigChange 运行期只重新应用日志级别，客户端属性需要重启生效。
func (s *session) onConfigChange(cfg xconf.Config, err error) {
	ctx := context.Background()
	if err != nil {
		s.logger.Warn(ctx, "config reload failed", xlog.Err(err))
		return
	}
	v := cfg.Client().String("log.level")
	if v == "" {
		return
	}
	level, err := xlog.ParseLevel(v)
	if err != nil {
		s.logger.Warn(ctx, "config reload: invalid log.level", xlog.Err(err))
		return
	}
	s.logger.SetLevel(level)
	s.logger.Info(ctx, "log level changed", xlog.Operation(level.String()))
}

func (s *session) close() {
	if s.closeLog != nil {
		_ = s.closeLog()
	}
}

// withSession 为命令动作创建 session 并在返回前释放。
func withSession(fn func(ctx context.Context, cmd *cli.Command, s *session) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.close()
		return fn(ctx, cmd, s)
	}
}
