package configs

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/bililive-tools/bililive-tools/src/types"
)

// RPC info.
type RPC struct {
	Enable bool   `yaml:"enable" json:"enable"`
	Bind   string `yaml:"bind" json:"bind"`
}

var defaultRPC = RPC{
	Enable: true,
	Bind:   ":18010",
}

func (r *RPC) verify() error {
	if r == nil || !r.Enable {
		return nil
	}
	if _, err := net.ResolveTCPAddr("tcp", r.Bind); err != nil {
		return fmt.Errorf("无效的RPC绑定地址: %w", err)
	}
	return nil
}

type Log struct {
	OutPutFolder string `yaml:"out_put_folder" json:"out_put_folder"`
	SaveLastLog  bool   `yaml:"save_last_log" json:"save_last_log"`
	SaveEveryLog bool   `yaml:"save_every_log" json:"save_every_log"`
	// RotateDays 按"天"滚动日志时最多保留的天数（<=0 表示不清理）
	RotateDays int `yaml:"rotate_days" json:"rotate_days"`
}

// 通知服务所需配置
type Notify struct {
	Email Email `yaml:"email" json:"email"`
}

type Email struct {
	Enable         bool   `yaml:"enable" json:"enable"`
	SMTPHost       string `yaml:"smtpHost" json:"smtpHost"`
	SMTPPort       int    `yaml:"smtpPort" json:"smtpPort"`
	SenderEmail    string `yaml:"senderEmail" json:"senderEmail"`
	SenderPassword string `yaml:"senderPassword" json:"senderPassword"`
	RecipientEmail string `yaml:"recipientEmail" json:"recipientEmail"`
}

// Webhook 归一化服务配置
type Webhook struct {
	// Open 总开关，关闭时所有 webhook 请求只回 ok 不做处理
	Open bool `yaml:"open" json:"open"`
	// RecoderFolder 录播姬工作目录，用于把事件中的相对路径还原为绝对路径
	RecoderFolder string `yaml:"recoder_folder" json:"recoder_folder"`
	// BlrecSource blrec 服务地址，用于反查房间标题与主播信息
	BlrecSource string `yaml:"blrec_source" json:"blrec_source"`
	// MinSize 低于该大小（MB）的文件在收尾时被忽略
	MinSize float64 `yaml:"min_size" json:"min_size"`
	// PartMergeSeconds 分段归并窗口：距上一文件关闭不超过该秒数的新文件
	// 视为同一场直播的续段（<=0 使用默认 600）
	PartMergeSeconds int `yaml:"part_merge_seconds" json:"part_merge_seconds"`
}

var defaultWebhook = Webhook{
	Open:             false,
	RecoderFolder:    "",
	BlrecSource:      "http://127.0.0.1:2233",
	MinSize:          20,
	PartMergeSeconds: 600,
}

// TaskQueue 转码任务队列配置
type TaskQueue struct {
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`
}

var defaultTaskQueue = TaskQueue{
	MaxConcurrent: 3,
}

// OverridableConfig 包含可以在房间级被覆盖的设置
type OverridableConfig struct {
	Interval    *int    `yaml:"interval,omitempty" json:"interval,omitempty"`           // 检测间隔(秒)
	OutPutPath  *string `yaml:"out_put_path,omitempty" json:"out_put_path,omitempty"`   // 输出路径
	OutputTmpl  *string `yaml:"out_put_tmpl,omitempty" json:"out_put_tmpl,omitempty"`   // 输出文件名模板
	SegmentTime *int    `yaml:"segment_time,omitempty" json:"segment_time,omitempty"`   // 分段时长(秒)
	TimeoutInUs *int    `yaml:"timeout_in_us,omitempty" json:"timeout_in_us,omitempty"` // 拉流超时(微秒)
}

type LiveRoom struct {
	Url         string       `yaml:"url" json:"url"`
	IsListening bool         `yaml:"is_listening" json:"is_listening"`
	LiveId      types.LiveID `yaml:"-" json:"live_id,omitempty"`
	NickName    string       `yaml:"nick_name,omitempty" json:"nick_name,omitempty"`

	// Quality 清晰度档位: lowest low medium high highest，留空取 highest
	Quality string `yaml:"quality,omitempty" json:"quality,omitempty"`
	// StreamPriorities 流名称优先级，靠前者优先
	StreamPriorities []string `yaml:"stream_priorities,omitempty" json:"stream_priorities,omitempty"`
	// SourcePriorities 线路(CDN)优先级，靠前者优先
	SourcePriorities []string `yaml:"source_priorities,omitempty" json:"source_priorities,omitempty"`
	// Danmaku 是否同时录制弹幕
	Danmaku bool `yaml:"danmaku,omitempty" json:"danmaku,omitempty"`

	OverridableConfig `yaml:",inline" json:",inline"`
}

type liveRoomAlias LiveRoom

// allow both string and LiveRoom format in config
func (l *LiveRoom) UnmarshalYAML(unmarshal func(any) error) error {
	alias := liveRoomAlias{
		IsListening: true,
	}
	if err := unmarshal(&alias); err != nil {
		var url string
		if err = unmarshal(&url); err != nil {
			return err
		}
		alias.Url = url
	}
	*l = LiveRoom(alias)
	return nil
}

func NewLiveRoomsWithStrings(urls []string) []LiveRoom {
	if len(urls) == 0 {
		return make([]LiveRoom, 0, 4)
	}
	rooms := make([]LiveRoom, len(urls))
	for i, url := range urls {
		rooms[i].Url = url
		rooms[i].IsListening = true
	}
	return rooms
}

// Config content all config info.
type Config struct {
	File    string `yaml:"-" json:"-"`
	RPC     RPC    `yaml:"rpc" json:"rpc"`
	Debug   bool   `yaml:"debug" json:"debug"`
	Version int64  `yaml:"-" json:"-"` // 乐观并发控制用的内部版本号

	Interval    int    `yaml:"interval" json:"interval"`
	OutPutPath  string `yaml:"out_put_path" json:"out_put_path"`
	FfmpegPath  string `yaml:"ffmpeg_path" json:"ffmpeg_path"`
	OutputTmpl  string `yaml:"out_put_tmpl" json:"out_put_tmpl"`
	SegmentTime int    `yaml:"segment_time" json:"segment_time"`
	TimeoutInUs int    `yaml:"timeout_in_us" json:"timeout_in_us"`
	Log         Log    `yaml:"log" json:"log"`

	LiveRooms []LiveRoom `yaml:"live_rooms" json:"live_rooms"`

	Cookies map[string]string `yaml:"cookies" json:"cookies"`

	Notify    Notify    `yaml:"notify" json:"notify"`
	Webhook   Webhook   `yaml:"webhook" json:"webhook"`
	TaskQueue TaskQueue `yaml:"task_queue" json:"task_queue"`

	// SentryDsn 为空时禁用错误上报
	SentryDsn string `yaml:"sentry_dsn,omitempty" json:"sentry_dsn,omitempty"`

	AppDataPath string `yaml:"app_data_path" json:"app_data_path"`

	liveRoomIndexCache map[string]int `json:"-"`
}

// 使用 atomic.Value 存放当前配置指针，避免并发读写造成 data race
var config atomic.Value // stores *Config

// 单独的 Debug 原子标志，便于高频读取（例如子进程输出过滤）
var currentDebug atomic.Bool

// 序列化所有 Update 操作，避免并发更新造成的丢写问题
var updateMu sync.Mutex

// 当期望版本与实际版本不一致时返回的错误
var ErrConfigVersionConflict = errors.New("config version conflict")

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

// Update 采用"复制-更新-原子替换"模式安全更新全局配置，并持久化到文件。
// mutator 只能修改函数参数 c，不要持有 c 的指针做异步修改。
func Update(mutator func(c *Config) error) (*Config, error) {
	return updateImpl(mutator, true)
}

// UpdateTransient 与 Update 类似，但不落盘，仅更新内存配置。
func UpdateTransient(mutator func(c *Config) error) (*Config, error) {
	return updateImpl(mutator, false)
}

func updateImpl(mutator func(c *Config) error, persist bool) (*Config, error) {
	updateMu.Lock()
	defer updateMu.Unlock()

	old := GetCurrentConfig()
	if old == nil {
		return nil, errors.New("config not initialized")
	}

	next := old.Clone()
	if err := mutator(next); err != nil {
		return nil, err
	}
	next.Version = old.Version + 1
	next.RefreshLiveRoomIndexCache()

	if persist && next.File != "" {
		if err := next.Marshal(); err != nil {
			return nil, err
		}
	}
	SetCurrentConfig(next)
	return next, nil
}

// Clone 深拷贝配置，供复制-更新-替换使用
func (c *Config) Clone() *Config {
	next := *c
	next.LiveRooms = make([]LiveRoom, len(c.LiveRooms))
	copy(next.LiveRooms, c.LiveRooms)
	next.Cookies = make(map[string]string, len(c.Cookies))
	for k, v := range c.Cookies {
		next.Cookies[k] = v
	}
	next.liveRoomIndexCache = map[string]int{}
	return &next
}

var defaultConfig = Config{
	RPC:         defaultRPC,
	Debug:       false,
	Interval:    30,
	OutPutPath:  "./",
	FfmpegPath:  "",
	OutputTmpl:  "",
	SegmentTime: 0,
	TimeoutInUs: 60000000,
	Log: Log{
		OutPutFolder: "./",
		SaveLastLog:  true,
		SaveEveryLog: false,
		RotateDays:   7,
	},
	LiveRooms: []LiveRoom{},
	Cookies:   map[string]string{},
	Notify: Notify{
		Email: Email{
			Enable:   false,
			SMTPHost: "smtp.qq.com",
			SMTPPort: 465,
		},
	},
	Webhook:   defaultWebhook,
	TaskQueue: defaultTaskQueue,
}

func NewConfig() *Config {
	config := defaultConfig
	config.liveRoomIndexCache = map[string]int{}
	newConfigPostProcess(&config)
	return &config
}

func newConfigPostProcess(c *Config) {
	if c.AppDataPath == "" {
		c.AppDataPath = filepath.Join(c.OutPutPath, ".appdata")
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
	if c.Interval <= 0 {
		return fmt.Errorf("检测间隔必须大于 0")
	}
	if _, err := os.Stat(c.OutPutPath); err != nil {
		return fmt.Errorf(`输出路径 "%s" 不存在`, c.OutPutPath)
	}
	if c.Webhook.Open && c.Webhook.RecoderFolder == "" {
		return fmt.Errorf("webhook 已开启但未配置 recoder_folder")
	}
	if !c.RPC.Enable && len(c.LiveRooms) == 0 && !c.Webhook.Open {
		return fmt.Errorf("RPC 服务已禁用且未配置直播间，程序无任务可执行")
	}
	return nil
}

func (c *Config) RefreshLiveRoomIndexCache() {
	if c.liveRoomIndexCache == nil {
		c.liveRoomIndexCache = map[string]int{}
	}
	for index, room := range c.LiveRooms {
		c.liveRoomIndexCache[room.Url] = index
	}
}

func (c *Config) RemoveLiveRoomByUrl(url string) error {
	c.RefreshLiveRoomIndexCache()
	if index, ok := c.liveRoomIndexCache[url]; ok {
		if index >= 0 && index < len(c.LiveRooms) && c.LiveRooms[index].Url == url {
			c.LiveRooms = append(c.LiveRooms[:index], c.LiveRooms[index+1:]...)
			delete(c.liveRoomIndexCache, url)
			return nil
		}
	}
	return errors.New("failed removing room: " + url)
}

func (c *Config) GetLiveRoomByUrl(url string) (*LiveRoom, error) {
	room, err := c.getLiveRoomByUrlImpl(url)
	if err != nil {
		c.RefreshLiveRoomIndexCache()
		if room, err = c.getLiveRoomByUrlImpl(url); err != nil {
			return nil, err
		}
	}
	return room, nil
}

func (c *Config) getLiveRoomByUrlImpl(url string) (*LiveRoom, error) {
	if index, ok := c.liveRoomIndexCache[url]; ok {
		if index >= 0 && index < len(c.LiveRooms) && c.LiveRooms[index].Url == url {
			return &c.LiveRooms[index], nil
		}
	}
	return nil, errors.New("room " + url + " doesn't exist.")
}

func NewConfigWithBytes(b []byte) (*Config, error) {
	config := defaultConfig
	config.liveRoomIndexCache = map[string]int{}
	if err := yaml.Unmarshal(b, &config); err != nil {
		return nil, err
	}
	if config.Cookies == nil {
		config.Cookies = map[string]string{}
	}
	config.RefreshLiveRoomIndexCache()
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
	return config, nil
}

// Marshal 把配置写回文件
func (c *Config) Marshal() error {
	if c.File == "" {
		return errors.New("config path not set")
	}
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(c); err != nil {
		return err
	}
	if err := encoder.Close(); err != nil {
		return err
	}
	return os.WriteFile(c.File, buf.Bytes(), 0644)
}

// GetFilePath 返回配置文件路径，未通过文件加载时报错
func (c *Config) GetFilePath() (string, error) {
	if c.File == "" {
		return "", errors.New("config path not set")
	}
	return c.File, nil
}

// 房间级取值辅助，room 为 nil 或字段未设置时回退到全局配置

func (c *Config) IntervalForRoom(room *LiveRoom) int {
	if room != nil && room.Interval != nil && *room.Interval > 0 {
		return *room.Interval
	}
	return c.Interval
}

func (c *Config) OutPutPathForRoom(room *LiveRoom) string {
	if room != nil && room.OutPutPath != nil && *room.OutPutPath != "" {
		return *room.OutPutPath
	}
	return c.OutPutPath
}

func (c *Config) OutputTmplForRoom(room *LiveRoom) string {
	if room != nil && room.OutputTmpl != nil && *room.OutputTmpl != "" {
		return *room.OutputTmpl
	}
	return c.OutputTmpl
}

func (c *Config) SegmentTimeForRoom(room *LiveRoom) int {
	if room != nil && room.SegmentTime != nil && *room.SegmentTime > 0 {
		return *room.SegmentTime
	}
	return c.SegmentTime
}

func (c *Config) TimeoutInUsForRoom(room *LiveRoom) int {
	if room != nil && room.TimeoutInUs != nil && *room.TimeoutInUs > 0 {
		return *room.TimeoutInUs
	}
	return c.TimeoutInUs
}
