package xkafka

import (
	"errors"
	"fmt"
	"strings"

	"github.com/omeyang/xkclient/internal/testhooks"
	"github.com/omeyang/xkclient/pkg/config/xconf"
)

// UseProducer 创建生产者并执行 fn，返回前关闭生产者。
// fn 的错误与关闭错误合并返回。
func UseProducer(conf ConfigMap, fn func(p *Producer) error, opts ...Option) (err error) {
	p, err := NewProducer(conf, opts...)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, p.Close()) }()
	return fn(p)
}

// UseConsumer 创建消费者并执行 fn，返回前关闭消费者。
func UseConsumer(conf ConfigMap, fn func(c *Consumer) error, opts ...Option) (err error) {
	c, err := NewConsumer(conf, opts...)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, c.Close()) }()
	return fn(c)
}

// UseAdmin 创建管理客户端并执行 fn，返回前关闭它。
func UseAdmin(conf ConfigMap, fn func(a *Admin) error, opts ...Option) (err error) {
	a, err := NewAdmin(conf, opts...)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, a.Close()) }()
	return fn(a)
}

// ConfigFromXconf 把 cfg 中 path 子树展平为 ConfigMap。
//
// 嵌套键以 "." 连接，因此 YAML 中的 bootstrap: {servers: ...} 对应
// bootstrap.servers；列表值以逗号连接。path 为空时使用整个配置。
func ConfigFromXconf(cfg xconf.Config, path string) (ConfigMap, error) {
	if cfg == nil {
		return nil, newConfigError("(xconf)", "nil config")
	}
	k := cfg.Client()
	if path != "" {
		if !k.Exists(path) {
			return nil, newConfigError(path, "config path not found")
		}
		k = k.Cut(path)
	}
	out := make(ConfigMap)
	for key, v := range k.All() {
		switch x := v.(type) {
		case []any:
			parts := make([]string, len(x))
			for i, p := range x {
				parts[i] = fmt.Sprint(p)
			}
			out[key] = strings.Join(parts, ",")
		default:
			out[key] = v
		}
	}
	return out, nil
}

func init() {
	testhooks.InjectFatal = func(client any, code int, reason string) error {
		var h *handle
		switch c := client.(type) {
		case *Producer:
			h = c.h
		case *Consumer:
			h = c.h
		case *Admin:
			h = c.h
		default:
			return fmt.Errorf("xkafka: cannot inject fatal error into %T", client)
		}
		h.setFatal(ErrorCode(code), reason)
		return nil
	}
}
