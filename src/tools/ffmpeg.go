// Package tools 负责外部工具（ffmpeg）的定位与版本校验。
package tools

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// 低于该版本的 ffmpeg 不支持 -min_frag_duration 等参数
const minFFmpegVersion = "4.1.0"

var (
	ErrFFmpegNotFound = errors.New("tools: ffmpeg binary not found")

	ffmpegOnce sync.Once
	ffmpegPath string
	ffmpegErr  error
)

// GetFFmpegPath 解析 ffmpeg 可执行文件路径。
// 优先级：FFMPEG_PATH 环境变量 > PATH 查找。结果进程内缓存。
func GetFFmpegPath() (string, error) {
	ffmpegOnce.Do(func() {
		if p := os.Getenv("FFMPEG_PATH"); p != "" {
			if _, err := os.Stat(p); err == nil {
				ffmpegPath = p
				return
			}
			ffmpegErr = fmt.Errorf("tools: FFMPEG_PATH %q is not accessible", p)
			return
		}
		p, err := exec.LookPath("ffmpeg")
		if err != nil {
			ffmpegErr = ErrFFmpegNotFound
			return
		}
		ffmpegPath = p
	})
	return ffmpegPath, ffmpegErr
}

var ffmpegVersionRegexp = regexp.MustCompile(`ffmpeg version n?v?(\d+\.\d+(?:\.\d+)?)`)

// parseFFmpegVersion 从 `ffmpeg -version` 的首行提取版本号。
// 发行版自带的 git 构建（如 "ffmpeg version N-xxx-gxxxx"）解析不出
// 语义版本，返回空串表示跳过校验。
func parseFFmpegVersion(output string) string {
	match := ffmpegVersionRegexp.FindStringSubmatch(output)
	if match == nil {
		return ""
	}
	return match[1]
}

// checkVersion 校验版本号不低于 minFFmpegVersion
func checkVersion(version string) error {
	if version == "" {
		return nil
	}
	// semver 要求完整的三段式版本号
	if strings.Count(version, ".") == 1 {
		version += ".0"
	}
	current, err := semver.NewVersion(version)
	if err != nil {
		return nil
	}
	min := semver.MustParse(minFFmpegVersion)
	if current.LessThan(min) {
		return fmt.Errorf("tools: ffmpeg %s is too old, need >= %s", version, minFFmpegVersion)
	}
	return nil
}

// VerifyFFmpeg 确认 ffmpeg 可用且版本满足要求
func VerifyFFmpeg() error {
	path, err := GetFFmpegPath()
	if err != nil {
		return err
	}
	out, err := exec.Command(path, "-version").CombinedOutput()
	if err != nil {
		return fmt.Errorf("tools: failed to run %s -version: %w", path, err)
	}
	return checkVersion(parseFFmpegVersion(string(out)))
}
