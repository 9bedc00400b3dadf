package xconf

import "github.com/knadh/koanf/v2"

// Format 配置文件格式。
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Config 是一份客户端配置的快照视图。
//
// 文件内容先加载，随后叠加环境变量（见 WithEnvPrefix）。Reload 原子替换
// 整个快照，已取得的 *koanf.Koanf 继续指向旧数据。
type Config interface {
	// Client 返回当前快照。调用方不应修改它。
	Client() *koanf.Koanf

	// Unmarshal 把 path 子树解码到 target，path 为空时解码全部。
	Unmarshal(path string, target any) error

	// Reload 重新读取文件并重放环境变量。从字节创建的配置返回 ErrNotReloadable。
	Reload() error

	// Path 返回文件路径，从字节创建时为空。
	Path() string

	Format() Format
}

// Option 调整加载行为。
type Option func(*options)

type options struct {
	delim     string
	tag       string
	envPrefix string
}

func defaultOptions() *options {
	return &options{delim: ".", tag: "koanf"}
}

// WithDelim 设置键分隔符，默认 "."。
func WithDelim(delim string) Option {
	return func(o *options) {
		if delim != "" {
			o.delim = delim
		}
	}
}

// WithTag 设置 Unmarshal 使用的结构体标签，默认 "koanf"。
func WithTag(tag string) Option {
	return func(o *options) {
		if tag != "" {
			o.tag = tag
		}
	}
}

// WithEnvPrefix 在文件之上叠加以 prefix 开头的环境变量。
//
// 去掉前缀后转小写，"_" 替换为分隔符：XKCLIENT_KAFKA_BOOTSTRAP_SERVERS
// 对应 kafka.bootstrap.servers。librdkafka 的属性名不含下划线，所以这种
// 映射对 Kafka 属性是无歧义的。
func WithEnvPrefix(prefix string) Option {
	return func(o *options) {
		o.envPrefix = prefix
	}
}
