package live

import (
	"errors"

	"github.com/hr3lxphr6j/requests"
)

var (
	ErrRoomNotExist     = errors.New("room not exists")
	ErrRoomUrlIncorrect = errors.New("room url is incorrect")
	ErrInternalError    = errors.New("internal error")
	ErrNotImplemented   = errors.New("not implemented")

	// ErrNotLive 房间未开播，轮播(录像循环)也算未开播
	ErrNotLive = errors.New("room is not live")
	// ErrNoStreamMatch 优先级策略筛选后没有可用的流
	ErrNoStreamMatch = errors.New("no stream matches the policy")
	// ErrSwitchUnsupported 平台不支持在线切换清晰度/线路，
	// 调用方应据此决定是否重启录制，不属于失败
	ErrSwitchUnsupported = errors.New("rate switch is not supported")
)

var CommonUserAgent = requests.UserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
