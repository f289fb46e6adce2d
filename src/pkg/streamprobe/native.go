package streamprobe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ProberNameNative 内置解析器的名字
const ProberNameNative = "native"

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	hlsSegmentProbeBytes = 64 * 1024
	hlsMaxPlaylistBytes  = 1 << 20
)

// ErrFMP4NotSupported fMP4 形式的 HLS（带 #EXT-X-MAP）
var ErrFMP4NotSupported = errors.New("暂不支持 fMP4 分段的 HLS 流")

type httpFetcher struct {
	client  *http.Client
	headers map[string]string
}

func (f *httpFetcher) get(ctx context.Context, rawURL string, extra map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", defaultUserAgent)
	}
	client := f.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, fmt.Errorf("上游返回 HTTP %d", resp.StatusCode)
	}
	return resp, nil
}

func httpSource(source string) (*url.URL, error) {
	if strings.TrimSpace(source) == "" {
		return nil, ErrEmptySource
	}
	u, err := url.Parse(source)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, u.Scheme)
	}
	return u, nil
}

// NativeFLV 直接读取 HTTP-FLV 流头部，不依赖 ffprobe
type NativeFLV struct {
	Client  *http.Client
	Headers map[string]string
	// MaxTags 最多读取的 tag 数
	MaxTags int
}

func (p *NativeFLV) Probe(ctx context.Context, source string) (*StreamDescriptor, error) {
	if _, err := httpSource(source); err != nil {
		return nil, &ProbeError{Source: source, Err: err}
	}
	fetcher := &httpFetcher{client: p.Client, headers: p.Headers}
	resp, err := fetcher.get(ctx, source, nil)
	if err != nil {
		return nil, &ProbeError{Source: source, Message: "连接直播流失败", Err: err}
	}
	defer resp.Body.Close()

	desc, err := scanFLV(bufio.NewReaderSize(resp.Body, 64*1024), p.MaxTags)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, &ProbeError{Source: source, Message: "FLV 流头解析失败", Err: err}
	}
	return desc, nil
}

// NativeHLS 下载 m3u8 与第一个 TS 分段的开头部分解析流信息
type NativeHLS struct {
	Client  *http.Client
	Headers map[string]string
}

func (p *NativeHLS) Probe(ctx context.Context, source string) (*StreamDescriptor, error) {
	playlistURL, err := httpSource(source)
	if err != nil {
		return nil, &ProbeError{Source: source, Err: err}
	}
	fetcher := &httpFetcher{client: p.Client, headers: p.Headers}

	// master playlist 只跟随一层
	var segmentURL string
	for depth := 0; depth < 2 && segmentURL == ""; depth++ {
		content, err := fetchPlaylist(ctx, fetcher, playlistURL.String())
		if err != nil {
			return nil, &ProbeError{Source: source, Message: "下载 m3u8 失败", Err: err}
		}
		pl, err := parsePlaylist(content, playlistURL)
		if err != nil {
			return nil, &ProbeError{Source: source, Message: "解析 m3u8 失败", Err: err}
		}
		switch {
		case pl.hasMap:
			return nil, &ProbeError{Source: source, Err: ErrFMP4NotSupported}
		case pl.variant != nil:
			playlistURL = pl.variant
		case pl.segment != nil:
			segmentURL = pl.segment.String()
		default:
			return nil, &ProbeError{Source: source, Message: "m3u8 中未找到分段"}
		}
	}
	if segmentURL == "" {
		return nil, &ProbeError{Source: source, Message: "m3u8 中未找到分段"}
	}

	resp, err := fetcher.get(ctx, segmentURL, map[string]string{
		"Range": fmt.Sprintf("bytes=0-%d", hlsSegmentProbeBytes-1),
	})
	if err != nil {
		return nil, &ProbeError{Source: source, Message: "下载 TS 分段失败", Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, hlsSegmentProbeBytes))
	if err != nil {
		return nil, &ProbeError{Source: source, Message: "下载 TS 分段失败", Err: err}
	}

	desc, err := parseTS(data)
	if err != nil {
		return nil, &ProbeError{Source: source, Message: "解析 TS 数据失败", Err: err}
	}
	desc.FormatName = "hls"
	return desc, nil
}

func fetchPlaylist(ctx context.Context, fetcher *httpFetcher, rawURL string) (string, error) {
	resp, err := fetcher.get(ctx, rawURL, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, hlsMaxPlaylistBytes))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type playlist struct {
	variant *url.URL // master playlist 中的第一个子列表
	segment *url.URL // media playlist 中的第一个分段
	hasMap  bool
}

func parsePlaylist(content string, base *url.URL) (*playlist, error) {
	if !strings.HasPrefix(strings.TrimSpace(strings.TrimPrefix(content, "\ufeff")), "#EXTM3U") {
		return nil, errors.New("缺少 #EXTM3U")
	}
	pl := &playlist{}
	expectVariant := false
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF"):
			expectVariant = true
		case strings.HasPrefix(line, "#EXT-X-MAP"):
			pl.hasMap = true
		case strings.HasPrefix(line, "#"):
			continue
		default:
			ref, err := base.Parse(line)
			if err != nil {
				return nil, fmt.Errorf("解析相对 URL 失败: %w", err)
			}
			if expectVariant {
				pl.variant = ref
			} else {
				pl.segment = ref
			}
			return pl, nil
		}
	}
	return pl, nil
}
