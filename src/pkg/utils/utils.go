package utils

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
)

// GetMd5String 计算字符串的 md5 十六进制值，用于生成稳定的 LiveID
func GetMd5String(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

var filenameReplacer = strings.NewReplacer(
	"/", " ",
	"\\", " ",
	":", " ",
	"*", " ",
	"?", " ",
	"\"", " ",
	"<", " ",
	">", " ",
	"|", " ",
	"\x00", " ",
)

// ReplaceIllegalChar 替换文件名中的非法字符
// 直播标题经常带有 emoji 和全角符号，这里只处理会导致创建文件失败的那部分
func ReplaceIllegalChar(name string) string {
	return strings.TrimSpace(filenameReplacer.Replace(name))
}

// GetFuncMap 返回录制文件名模板可用的函数集合
// 基于 sprig 并补充文件名安全相关的函数
func GetFuncMap() template.FuncMap {
	fm := sprig.TxtFuncMap()
	fm["filenameFilter"] = ReplaceIllegalChar
	return fm
}

// FileExists 判断路径是否存在且不是目录
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// MkdirAll 确保目录存在
func MkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}
