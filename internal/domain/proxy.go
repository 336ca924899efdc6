package domain

import "strings"

type ProxyKind string

const (
	ProxySOCKS4 ProxyKind = "socks4"
	ProxySOCKS5 ProxyKind = "socks5"
	ProxyHTTP   ProxyKind = "http"
)

type ProxyConfig struct {
	Enabled  bool      `json:"enabled"`
	Kind     ProxyKind `json:"type"`
	Host     string    `json:"host"`
	Port     int       `json:"port"`
	Username string    `json:"username,omitempty"`
	Password string    `json:"password,omitempty"`
}

// ProxyDescriptor: прокси в том виде, в котором его принимает транспортный слой.
type ProxyDescriptor struct {
	Kind     ProxyKind
	Host     string
	Port     int32
	Username string
	Password string
}

// ResolveProxy превращает настройки прокси в дескриптор.
// nil без ошибки означает "без прокси".
func ResolveProxy(cfg *ProxyConfig) (*ProxyDescriptor, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	kind := ProxyKind(strings.ToLower(strings.TrimSpace(string(cfg.Kind))))
	switch kind {
	case ProxySOCKS4, ProxySOCKS5, ProxyHTTP:
	case "":
		kind = ProxySOCKS5
	default:
		return nil, InvalidConfig("unknown proxy type %q", cfg.Kind)
	}

	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, InvalidConfig("proxy host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, InvalidConfig("proxy port %d out of range", cfg.Port)
	}

	d := &ProxyDescriptor{
		Kind: kind,
		Host: host,
		Port: int32(cfg.Port),
	}
	// socks4 не умеет логин/пароль
	if kind != ProxySOCKS4 {
		d.Username = cfg.Username
		d.Password = cfg.Password
	}
	return d, nil
}
