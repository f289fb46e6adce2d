package configs

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	units "github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// RPC info.
type RPC struct {
	Enable bool   `yaml:"enable" json:"enable"`
	Bind   string `yaml:"bind" json:"bind"`
}

var defaultRPC = RPC{
	Enable: true,
	Bind:   ":8080",
}

func (r *RPC) verify() error {
	if r == nil {
		return nil
	}
	if !r.Enable {
		return nil
	}
	if _, err := net.ResolveTCPAddr("tcp", r.Bind); err != nil {
		return fmt.Errorf("无效的RPC绑定地址: %w", err)
	}
	return nil
}

// Source 被探测的直播流配置
type Source struct {
	// Address 流地址，如 rtp://host:port、rtmp://host/live/xxx 或 http(s)://.../xxx.flv
	Address string `yaml:"address" json:"address"`
	// Prober 探测器类型
	Prober ProberType `yaml:"prober" json:"prober"`
	// ProbeTimeout 单次探测的超时时间，<=0 表示不限制
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout"`
	// Headers 内置探测器请求上游时附带的 HTTP headers
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

var defaultSource = Source{
	Address:      "rtp://10.100.102.12:1234",
	Prober:       ProberAuto,
	ProbeTimeout: 15 * time.Second,
}

func (s *Source) verify() error {
	if strings.TrimSpace(s.Address) == "" {
		return fmt.Errorf("流地址不能为空")
	}
	u, err := url.Parse(s.Address)
	if err != nil {
		return fmt.Errorf("无效的流地址: %w", err)
	}
	if u.Scheme == "" {
		return fmt.Errorf(`流地址 "%s" 缺少协议头`, s.Address)
	}
	if s.Prober != "" && !s.Prober.IsValid() {
		return fmt.Errorf("未知的探测器类型: %s", s.Prober)
	}
	return nil
}

type Log struct {
	OutPutFolder string `yaml:"out_put_folder" json:"out_put_folder"`
	SaveLastLog  bool   `yaml:"save_last_log" json:"save_last_log"`
	// RotateDays 指定按"天"为单位滚动日志时，最多保留的天数（<=0 表示不清理）
	RotateDays int `yaml:"rotate_days" json:"rotate_days"`
	// ProbeBufferSize 内存中保留的探测日志大小，如 64KB、1MB
	ProbeBufferSize string `yaml:"probe_buffer_size" json:"probe_buffer_size"`
}

const defaultProbeBufferSize = "64KB"

// ProbeBufferBytes 解析 ProbeBufferSize，为空时使用默认值
func (l Log) ProbeBufferBytes() (int, error) {
	size := strings.TrimSpace(l.ProbeBufferSize)
	if size == "" {
		size = defaultProbeBufferSize
	}
	n, err := units.RAMInBytes(size)
	if err != nil {
		return 0, fmt.Errorf("无效的日志缓冲区大小 %q: %w", l.ProbeBufferSize, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("日志缓冲区大小必须为正数: %q", l.ProbeBufferSize)
	}
	return int(n), nil
}

// Proxy 代理配置
type Proxy struct {
	// Enable 是否启用配置的代理（false 时使用系统环境变量 HTTP_PROXY 等）
	Enable bool `yaml:"enable" json:"enable"`
	// URL 代理地址，支持 http://host:port 或 socks5://host:port
	URL string `yaml:"url" json:"url"`
}

// Remote 远程海滩列表服务配置
type Remote struct {
	BeachesURL string        `yaml:"beaches_url" json:"beaches_url"`
	CacheTTL   time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

var defaultRemote = Remote{
	BeachesURL: "https://drone-guard-debriefing-server.herokuapp.com/beaches",
	CacheTTL:   time.Minute,
	Timeout:    10 * time.Second,
}

// Sentry 错误监控配置
type Sentry struct {
	Enable bool `yaml:"enable" json:"enable"`
}

type Config struct {
	// 核心配置
	File    string `yaml:"-" json:"-"`
	RPC     RPC    `yaml:"rpc" json:"rpc"`
	Debug   bool   `yaml:"debug" json:"debug"`
	Version int64  `yaml:"-" json:"-"` // 内部版本号：不参与 YAML/JSON 序列化，仅用于乐观并发控制

	Source      Source   `yaml:"source" json:"source"`
	FfprobePath string   `yaml:"ffprobe_path" json:"ffprobe_path"`
	FfprobeArgs []string `yaml:"ffprobe_args,omitempty" json:"ffprobe_args,omitempty"`
	Log         Log      `yaml:"log" json:"log"`
	Proxy       Proxy    `yaml:"proxy" json:"proxy"`
	Remote      Remote   `yaml:"remote" json:"remote"`
	Sentry      Sentry   `yaml:"sentry" json:"sentry"`

	// 数据目录配置
	AppDataPath string `yaml:"app_data_path" json:"app_data_path"`
}

// 使用 atomic.Value 存放当前配置指针，避免并发读写造成 data race
var config atomic.Value // stores *Config

// 单独的 Debug 原子标志，便于高频读取
var currentDebug atomic.Bool

// 序列化所有 Update 操作，避免并发更新造成的丢写问题
var updateMu sync.Mutex

func SetCurrentConfig(cfg *Config) {
	if cfg == nil {
		config.Store((*Config)(nil))
		currentDebug.Store(false)
		return
	}
	config.Store(cfg)
	currentDebug.Store(cfg.Debug)
}

func GetCurrentConfig() *Config {
	v := config.Load()
	if v == nil {
		return nil
	}
	return v.(*Config)
}

// IsDebug 提供并发安全、低开销的 Debug 值读取
func IsDebug() bool {
	return currentDebug.Load()
}

// Update 采用“复制-更新-原子替换”模式安全更新全局配置，配置来自文件时同时持久化。
// 传入的 mutator 只能对函数参数 c 进行修改，不要持有 c 的指针做异步修改。
func Update(mutator func(c *Config) error) (*Config, error) {
	updateMu.Lock()
	defer updateMu.Unlock()
	old := GetCurrentConfig()
	var base *Config
	if old == nil {
		base = NewConfig()
	} else {
		base = CloneConfig(old)
	}
	if err := mutator(base); err != nil {
		return nil, err
	}
	if old == nil {
		base.Version = 1
	} else {
		base.Version = old.Version + 1
	}

	if base.File != "" {
		if err := base.Marshal(); err != nil {
			return nil, fmt.Errorf("failed to save config: %w", err)
		}
	}

	SetCurrentConfig(base)
	return base, nil
}

// SetDebug 更新 Debug 标志。
func SetDebug(v bool) (*Config, error) {
	return Update(func(c *Config) error { c.Debug = v; return nil })
}

var defaultConfig = Config{
	RPC:         defaultRPC,
	Debug:       false,
	Source:      defaultSource,
	FfprobePath: "",
	Log: Log{
		OutPutFolder:    "./",
		SaveLastLog:     true,
		RotateDays:      7,
		ProbeBufferSize: defaultProbeBufferSize,
	},
	Proxy:       Proxy{},
	Remote:      defaultRemote,
	Sentry:      Sentry{Enable: false},
	AppDataPath: "",
}

func NewConfig() *Config {
	config := defaultConfig
	config.Source.Headers = map[string]string{}
	newConfigPostProcess(&config)
	return &config
}

func newConfigPostProcess(c *Config) {
	if c.AppDataPath == "" {
		c.AppDataPath = filepath.Join(c.Log.OutPutFolder, ".appdata")
	}
	if c.Source.Prober == "" {
		c.Source.Prober = ProberAuto
	}
	if c.Source.Headers == nil {
		c.Source.Headers = map[string]string{}
	}
}

// Verify will return an error when this config has problem.
func (c *Config) Verify() error {
	if c == nil {
		return fmt.Errorf("配置不存在")
	}
	if err := c.RPC.verify(); err != nil {
		return err
	}
	if err := c.Source.verify(); err != nil {
		return err
	}
	if c.Source.ProbeTimeout < 0 {
		return fmt.Errorf("探测超时时间不能为负数")
	}
	if _, err := os.Stat(c.Log.OutPutFolder); err != nil {
		return fmt.Errorf(`日志输出路径 "%s" 不存在`, c.Log.OutPutFolder)
	}
	if _, err := c.Log.ProbeBufferBytes(); err != nil {
		return err
	}
	if c.Proxy.Enable {
		if _, err := url.Parse(c.Proxy.URL); err != nil || c.Proxy.URL == "" {
			return fmt.Errorf("无效的代理地址: %s", c.Proxy.URL)
		}
	}
	return nil
}

// DbPath 返回本地数据库目录
func (c *Config) DbPath() string {
	return filepath.Join(c.AppDataPath, "db")
}

func NewConfigWithBytes(b []byte) (*Config, error) {
	config := defaultConfig
	if err := yaml.Unmarshal(b, &config); err != nil {
		return nil, err
	}
	newConfigPostProcess(&config)
	return &config, nil
}

func NewConfigWithFile(file string) (*Config, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("can`t open file: %s", file)
	}
	config, err := NewConfigWithBytes(b)
	if err != nil {
		return nil, err
	}
	config.File = file
	// 可能会修改配置文件（添加缺失字段等），保存回去
	if err := config.Marshal(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Marshal() error {
	if c.File == "" {
		return errors.New("config path not set")
	}

	// 先序列化为字节再反序列化为 Node，便于注入注释
	var newNode yaml.Node
	tempBytes, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(tempBytes, &newNode); err != nil {
		return err
	}

	DecorateConfigNode(&newNode)

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&newNode); err != nil {
		return err
	}

	return os.WriteFile(c.File, buf.Bytes(), 0644)
}

func (c Config) GetFilePath() (string, error) {
	if c.File == "" {
		return "", errors.New("config path not set")
	}
	return c.File, nil
}

// CloneConfig 返回 Config 的拷贝，对 map 与切片字段做深拷贝，便于进行“复制-更新-原子替换”。
func CloneConfig(src *Config) *Config {
	if src == nil {
		return nil
	}
	dst := *src
	if src.Source.Headers != nil {
		dst.Source.Headers = make(map[string]string, len(src.Source.Headers))
		for k, v := range src.Source.Headers {
			dst.Source.Headers[k] = v
		}
	}
	if src.FfprobeArgs != nil {
		dst.FfprobeArgs = append([]string(nil), src.FfprobeArgs...)
	}
	return &dst
}
