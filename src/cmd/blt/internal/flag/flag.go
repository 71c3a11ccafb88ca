package flag

import (
	"os"

	"github.com/alecthomas/kingpin"

	"github.com/bililive-tools/bililive-tools/src/configs"
	"github.com/bililive-tools/bililive-tools/src/consts"
)

var (
	app = kingpin.New(consts.AppName, "A command-line live stream record tools.").Version(consts.AppVersion)

	Debug       = app.Flag("debug", "Enable debug mode.").Default("false").Bool()
	Interval    = app.Flag("interval", "Interval of query live status").Default("30").Short('t').Int()
	Output      = app.Flag("output", "Output file path.").Short('o').Default("./").String()
	Input       = app.Flag("input", "Live room urls").Short('i').Strings()
	Conf        = app.Flag("config", "Config file.").Short('c').String()
	RPCBind     = app.Flag("rpc-bind", "RPC bind address").Default(":18010").String()
	EnableRPC   = app.Flag("enable-rpc", "Enable RPC server").Default("true").Bool()
	FfmpegPath  = app.Flag("ffmpeg-path", "Path of ffmpeg binary, auto detected when empty").String()
	SegmentTime = app.Flag("segment-time", "Segment time in seconds, 0 to disable").Default("0").Int()
)

func init() {
	kingpin.MustParse(app.Parse(os.Args[1:]))
}

// GenConfigFromFlags 在不使用配置文件时由命令行参数拼装配置
func GenConfigFromFlags() *configs.Config {
	cfg := configs.NewConfig()
	cfg.RPC = configs.RPC{
		Enable: *EnableRPC,
		Bind:   *RPCBind,
	}
	cfg.Debug = *Debug
	cfg.Interval = *Interval
	cfg.OutPutPath = *Output
	cfg.FfmpegPath = *FfmpegPath
	cfg.SegmentTime = *SegmentTime
	cfg.LiveRooms = configs.NewLiveRoomsWithStrings(*Input)
	return cfg
}
