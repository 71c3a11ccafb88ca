package types

// LiveID 直播间的唯一标识，由平台域名和房间路径生成
type LiveID string

// TaskID 子进程任务的唯一标识
type TaskID string

// Platform 平台标识，如 "douyu"、"huya"
type Platform string
