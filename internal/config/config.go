// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"time"

	"github.com/raj-pulapakura/idea-maestro/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// Maestro 后端
	APIBaseURL           string `env:"MAESTRO_API_BASE_URL" default:"http://localhost:8000"`
	StreamReadTimeoutSec int    `env:"STREAM_READ_TIMEOUT_SEC" default:"120" min:"1"`
	RequestTimeoutSec    int    `env:"REQUEST_TIMEOUT_SEC" default:"30" min:"1"`

	// Watch (websocket 实时事件)
	WatchEnabled         bool `env:"WATCH_ENABLED" default:"true"`
	WatchPingIntervalSec int  `env:"WATCH_PING_INTERVAL_SEC" default:"20" min:"1"`

	// Stub server
	StubPort             int `env:"STUB_PORT" default:"8000" min:"1"`
	StubKeepaliveSec     int `env:"STUB_KEEPALIVE_SEC" default:"8" min:"1"`
	StubDeltaIntervalMS  int `env:"STUB_DELTA_INTERVAL_MS" default:"40" min:"0"`
	StubThreadListLimit  int `env:"STUB_THREAD_LIST_LIMIT" default:"100" min:"1"`
	StubPreviewMaxLength int `env:"STUB_PREVIEW_MAX_LENGTH" default:"120" min:"10"`

	// 日志
	LogLevel string `env:"LOG_LEVEL" default:"production"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}

// StreamReadTimeout 单次流读取等待上限。
func (c *Config) StreamReadTimeout() time.Duration {
	return time.Duration(c.StreamReadTimeoutSec) * time.Second
}

// RequestTimeout 非流式请求整体超时。
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// WatchPingInterval watch 通道的 ping 周期。
func (c *Config) WatchPingInterval() time.Duration {
	return time.Duration(c.WatchPingIntervalSec) * time.Second
}

// StubKeepalive 替身后端流式响应的 keepalive 周期。
func (c *Config) StubKeepalive() time.Duration {
	return time.Duration(c.StubKeepaliveSec) * time.Second
}

// StubDeltaInterval 替身后端相邻 delta 的间隔。
func (c *Config) StubDeltaInterval() time.Duration {
	return time.Duration(c.StubDeltaIntervalMS) * time.Millisecond
}
