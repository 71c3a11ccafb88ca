package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFFmpegVersion(t *testing.T) {
	cases := []struct {
		output  string
		version string
	}{
		{"ffmpeg version 6.1.1 Copyright (c) 2000-2023 the FFmpeg developers", "6.1.1"},
		{"ffmpeg version 4.4 Copyright (c) 2000-2021", "4.4"},
		{"ffmpeg version n5.1.2 Copyright", "5.1.2"},
		{"ffmpeg version N-109344-g1bebcd43e1 Copyright", ""},
		{"", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.version, parseFFmpegVersion(c.output), c.output)
	}
}

func TestCheckVersion(t *testing.T) {
	assert.NoError(t, checkVersion("6.1.1"))
	assert.NoError(t, checkVersion("4.1.0"))
	assert.NoError(t, checkVersion("4.4"))
	assert.Error(t, checkVersion("4.0.2"))
	assert.Error(t, checkVersion("3.4"))
	// 解析不出版本时跳过校验
	assert.NoError(t, checkVersion(""))
}
