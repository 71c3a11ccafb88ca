package consts

import (
	"fmt"
	"os"
	"runtime"
)

const (
	AppName = "biliLive-tools"
)

const (
	LiveStatusStart = "start"
	LiveStatusStop  = "stop"
)

type Info struct {
	AppName    string `json:"app_name"`
	AppVersion string `json:"app_version"`
	BuildTime  string `json:"build_time"`
	GitHash    string `json:"git_hash"`
	Pid        int    `json:"pid"`
	Platform   string `json:"platform"`
	GoVersion  string `json:"go_version"`
	IsDocker   string `json:"is_docker"`
}

// 以下变量通过 -ldflags 在链接阶段注入
var (
	BuildTime  string
	AppVersion string
	GitHash    string
)

// GetAppInfo 返回应用信息
// 注意：必须使用函数而非变量，因为 AppVersion 等字段是链接时注入的
func GetAppInfo() Info {
	return Info{
		AppName:    AppName,
		AppVersion: AppVersion,
		BuildTime:  BuildTime,
		GitHash:    GitHash,
		Pid:        os.Getpid(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		GoVersion:  runtime.Version(),
		IsDocker:   os.Getenv("IS_DOCKER"),
	}
}

// IsDocker 判断是否运行在容器内
func IsDocker() bool {
	return os.Getenv("IS_DOCKER") != ""
}
