// Package proxy 根据配置为探测器与远程接口选择代理
package proxy

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"github.com/droneguard/droneguard-go/src/configs"
)

var proxyEnvVars = []string{"ALL_PROXY", "all_proxy", "HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy"}

// GetProxyURL 获取当前生效的代理 URL
// 优先级：配置文件 > 环境变量 (ALL_PROXY > HTTPS_PROXY > HTTP_PROXY)
func GetProxyURL() string {
	cfg := configs.GetCurrentConfig()
	if cfg != nil && cfg.Proxy.Enable && cfg.Proxy.URL != "" {
		return cfg.Proxy.URL
	}
	for _, envVar := range proxyEnvVars {
		if proxyURL := os.Getenv(envVar); proxyURL != "" {
			return proxyURL
		}
	}
	return ""
}

func isSocks5(proxyURL string) bool {
	return strings.HasPrefix(proxyURL, "socks5://") || strings.HasPrefix(proxyURL, "socks5h://")
}

// createSocks5DialContext 为 SOCKS5 代理创建 DialContext
func createSocks5DialContext(proxyURL string) (func(ctx context.Context, network, addr string) (net.Conn, error), error) {
	parsedURL, err := url.Parse(proxyURL)
	if err != nil {
		return nil, err
	}
	var auth *proxy.Auth
	if parsedURL.User != nil {
		auth = &proxy.Auth{User: parsedURL.User.Username()}
		if password, ok := parsedURL.User.Password(); ok {
			auth.Password = password
		}
	}
	dialer, err := proxy.SOCKS5("tcp", parsedURL.Host, auth, proxy.Direct)
	if err != nil {
		return nil, err
	}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}, nil
}

// ApplyToTransport 将当前代理设置应用到 http.Transport
func ApplyToTransport(transport *http.Transport) {
	proxyURL := GetProxyURL()
	if proxyURL == "" {
		transport.Proxy = http.ProxyFromEnvironment
		return
	}
	if isSocks5(proxyURL) {
		dial, err := createSocks5DialContext(proxyURL)
		if err == nil {
			transport.Proxy = nil
			transport.DialContext = dial
		}
		return
	}
	if parsedURL, err := url.Parse(proxyURL); err == nil {
		transport.Proxy = http.ProxyURL(parsedURL)
	}
}

// NewHTTPClient 返回应用了代理设置的 http.Client
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
	}
	ApplyToTransport(transport)
	return &http.Client{Transport: transport, Timeout: timeout}
}

// GetProxyEnvVars 返回传给子进程（ffprobe）的代理环境变量
func GetProxyEnvVars() []string {
	proxyURL := GetProxyURL()
	if proxyURL == "" {
		return nil
	}
	return []string{
		"HTTP_PROXY=" + proxyURL,
		"HTTPS_PROXY=" + proxyURL,
		"http_proxy=" + proxyURL,
		"https_proxy=" + proxyURL,
	}
}
