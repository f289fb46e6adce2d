package streamprobe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/droneguard/droneguard-go/src/pkg/utils"
)

// ProberNameFFprobe FFprobe 的名字，写入 StreamDescriptor.Prober
const ProberNameFFprobe = "ffprobe"

// 这些字段已映射到 StreamEntry 的固定字段，不再放入 Extra
var ffprobeMappedFields = map[string]struct{}{
	"index":        {},
	"codec_type":   {},
	"codec_name":   {},
	"width":        {},
	"height":       {},
	"r_frame_rate": {},
}

// FFprobe 调用外部 ffprobe 进程探测流信息
type FFprobe struct {
	// Path ffprobe 可执行文件，为空时在 PATH 中查找
	Path string
	// Args 放在源地址前的额外参数，例如 -rw_timeout 5000000
	Args []string
	// Env 返回追加给子进程的环境变量（代理等），可为 nil
	Env func() []string
	// Logger 不为 nil 时，ffprobe 的 stderr 会逐行写入
	Logger logrus.FieldLogger
}

// NewFFprobe 创建 FFprobe
func NewFFprobe(path string, args []string, env func() []string) *FFprobe {
	return &FFprobe{Path: path, Args: args, Env: env}
}

func (f *FFprobe) binary() string {
	if f.Path != "" {
		return f.Path
	}
	return "ffprobe"
}

func (f *FFprobe) buildArgs(source string) []string {
	args := []string{"-v", "error", "-print_format", "json", "-show_format", "-show_streams", "-show_error"}
	args = append(args, f.Args...)
	return append(args, source)
}

// Probe 运行 ffprobe 并解析其 JSON 输出
func (f *FFprobe) Probe(ctx context.Context, source string) (*StreamDescriptor, error) {
	if strings.TrimSpace(source) == "" {
		return nil, &ProbeError{Source: source, Err: ErrEmptySource}
	}

	cmd := exec.CommandContext(ctx, f.binary(), f.buildArgs(source)...)
	if f.Env != nil {
		if extra := f.Env(); len(extra) > 0 {
			cmd.Env = append(os.Environ(), extra...)
		}
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if f.Logger != nil {
		lw := utils.NewLoggerWriter(f.Logger.WithField("prober", ProberNameFFprobe))
		defer lw.Flush()
		cmd.Stderr = io.MultiWriter(&stderr, lw)
	}

	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &ProbeError{Source: source, Message: "probe canceled", Err: ctxErr}
	}

	out := stdout.Bytes()
	if msg, ok := ffprobeErrorMessage(out); ok {
		return nil, &ProbeError{Source: source, Message: msg, Err: runErr}
	}
	if runErr != nil {
		if errors.Is(runErr, exec.ErrNotFound) || errors.Is(runErr, fs.ErrNotExist) {
			return nil, &ProbeError{Source: source, Message: "ffprobe 不可用", Err: runErr}
		}
		msg := strings.TrimSpace(stderr.String())
		return nil, &ProbeError{Source: source, Message: msg, Err: runErr}
	}

	desc, err := parseFFprobeOutput(out)
	if err != nil {
		return nil, &ProbeError{Source: source, Message: "无法解析 ffprobe 输出", Err: err}
	}
	return desc, nil
}

// ffprobeErrorMessage 提取 -show_error 输出的 error.string
func ffprobeErrorMessage(out []byte) (string, bool) {
	if len(out) == 0 || !gjson.ValidBytes(out) {
		return "", false
	}
	e := gjson.GetBytes(out, "error")
	if !e.Exists() {
		return "", false
	}
	if msg := e.Get("string").String(); msg != "" {
		return msg, true
	}
	return fmt.Sprintf("ffprobe error code %d", e.Get("code").Int()), true
}

// parseFFprobeOutput 解析 ffprobe 的 JSON 输出，宽高只在字段存在时设置
func parseFFprobeOutput(out []byte) (*StreamDescriptor, error) {
	if !gjson.ValidBytes(out) {
		return nil, errors.New("invalid json")
	}
	root := gjson.ParseBytes(out)
	desc := &StreamDescriptor{
		FormatName: root.Get("format.format_name").String(),
		Prober:     ProberNameFFprobe,
	}

	streams := root.Get("streams")
	if !streams.Exists() {
		return desc, nil
	}
	streams.ForEach(func(_, s gjson.Result) bool {
		entry := StreamEntry{
			Index: int(s.Get("index").Int()),
			Kind:  s.Get("codec_type").String(),
			Codec: s.Get("codec_name").String(),
		}
		if w := s.Get("width"); w.Exists() && w.Type == gjson.Number {
			entry.Width = intPtr(int(w.Int()))
		}
		if h := s.Get("height"); h.Exists() && h.Type == gjson.Number {
			entry.Height = intPtr(int(h.Int()))
		}
		entry.FrameRate = parseRational(s.Get("r_frame_rate").String())

		s.ForEach(func(k, v gjson.Result) bool {
			if _, mapped := ffprobeMappedFields[k.String()]; mapped {
				return true
			}
			switch v.Type {
			case gjson.String, gjson.Number, gjson.True, gjson.False:
				if entry.Extra == nil {
					entry.Extra = make(map[string]string)
				}
				entry.Extra[k.String()] = v.String()
			}
			return true
		})
		desc.Streams = append(desc.Streams, entry)
		return true
	})
	return desc, nil
}

// parseRational 解析 "30000/1001" 形式的帧率，无法解析或分母为 0 时返回 0
func parseRational(s string) float64 {
	if s == "" {
		return 0
	}
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
