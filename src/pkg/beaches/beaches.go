// Package beaches 远程海滩列表服务的客户端
package beaches

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bluele/gcache"
	"github.com/hr3lxphr6j/requests"
	"github.com/tidwall/gjson"

	"github.com/droneguard/droneguard-go/src/pkg/proxy"
)

// UnknownErrorMessage 服务端返回 HTML 等不可展示内容时使用的信息
const UnknownErrorMessage = "unknown error"

var (
	// ErrNoToken 没有登录 token
	ErrNoToken = errors.New("beaches: 缺少用户 token")
	// ErrBadResponse 响应不是 JSON 数组
	ErrBadResponse = errors.New("beaches: 响应格式错误")
)

// Beach 列表中的一项
type Beach struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// FetchError 服务端返回了非 200 状态码
type FetchError struct {
	Status  int
	Message string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("beaches fetch failed with status = %d: %s", e.Status, e.Message)
}

// Options 构造 Client 的参数
type Options struct {
	URL string
	// CacheTTL <=0 时不缓存
	CacheTTL time.Duration
	// Timeout 单次请求超时，0 表示不限制
	Timeout time.Duration
	// Client 为 nil 时使用走代理配置的 http.Client
	Client *http.Client
}

// Client 带 token 鉴权与按 token 缓存的列表客户端
type Client struct {
	url     string
	session *requests.Session
	cache   gcache.Cache
}

func NewClient(opts Options) *Client {
	httpClient := opts.Client
	if httpClient == nil {
		httpClient = proxy.NewHTTPClient(opts.Timeout)
	}
	c := &Client{
		url:     opts.URL,
		session: requests.NewSession(httpClient),
	}
	if opts.CacheTTL > 0 {
		c.cache = gcache.New(64).LRU().Expiration(opts.CacheTTL).Build()
	}
	return c
}

// List 用 token 拉取海滩列表
func (c *Client) List(ctx context.Context, token string) ([]Beach, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrNoToken
	}
	if c.cache != nil {
		if v, err := c.cache.Get(token); err == nil {
			return cloneBeaches(v.([]Beach)), nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := c.session.Get(c.url,
		requests.Header("Accept", "application/json, text/plain, */*"),
		requests.Header("Content-Type", "application/json"),
		requests.Header("authorization", "Bearer "+token),
	)
	if err != nil {
		return nil, err
	}
	body, err := resp.Bytes()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Status: resp.StatusCode, Message: errorMessage(body)}
	}

	list, err := parseBeaches(body)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		_ = c.cache.Set(token, cloneBeaches(list))
	}
	return list, nil
}

// Invalidate 清空缓存，token 变化时调用
func (c *Client) Invalidate() {
	if c.cache != nil {
		c.cache.Purge()
	}
}

func parseBeaches(body []byte) ([]Beach, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrBadResponse
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, ErrBadResponse
	}
	list := make([]Beach, 0)
	root.ForEach(func(_, item gjson.Result) bool {
		list = append(list, Beach{
			ID:   item.Get("_id").String(),
			Name: item.Get("name").String(),
		})
		return true
	})
	return list, nil
}

// errorMessage 看起来像 HTML 的内容统一为 unknown error
func errorMessage(body []byte) string {
	text := string(body)
	if strings.Contains(text, "<") {
		return UnknownErrorMessage
	}
	return text
}

func cloneBeaches(src []Beach) []Beach {
	return append([]Beach(nil), src...)
}
