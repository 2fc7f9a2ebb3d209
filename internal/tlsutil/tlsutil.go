package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"slices"
	"time"
)

// aeadSuites TLS 1.2 协商时允许的密码套件；TLS 1.3 套件不可配置
var aeadSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// Options 客户端 TLS 选项
type Options struct {
	// ServerName 证书校验使用的主机名，为空时由客户端按拨号地址推断
	ServerName string
	// CAFile PEM 格式的根证书文件，为空时使用系统根证书
	CAFile string
}

// ClientConfig 按选项构造客户端 TLS 配置：TLS 1.2+，仅 AEAD 密码套件
func ClientConfig(opts Options) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		ServerName:   opts.ServerName,
		CipherSuites: slices.Clone(aeadSuites),
	}
	if opts.CAFile == "" {
		return cfg, nil
	}

	pool, err := loadCertPool(opts.CAFile)
	if err != nil {
		return nil, err
	}
	cfg.RootCAs = pool
	return cfg, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("ca file %s contains no PEM certificates", path)
	}
	return pool, nil
}

// =============================================================================
// 🌐 api_call 客户端
// =============================================================================

// 动作目标通常是少量内部服务，连接池按此收紧
const (
	actionDialTimeout     = 10 * time.Second
	actionMaxIdleConns    = 50
	actionMaxIdlePerHost  = 10
	actionIdleConnTimeout = 90 * time.Second
)

// ActionClient 构造 api_call 动作的 HTTP 客户端。tlsCfg 为空时使用默认加固配置。
func ActionClient(timeout time.Duration, tlsCfg *tls.Config) *http.Client {
	if tlsCfg == nil {
		tlsCfg, _ = ClientConfig(Options{})
	}
	dialer := &net.Dialer{Timeout: actionDialTimeout, KeepAlive: 30 * time.Second}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSClientConfig:       tlsCfg,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          actionMaxIdleConns,
			MaxIdleConnsPerHost:   actionMaxIdlePerHost,
			IdleConnTimeout:       actionIdleConnTimeout,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	}
}
