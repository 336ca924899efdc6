package tg

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/zelenin/go-tdlib/client"

	"github.com/larriantoniy/tg_promo_bot/internal/domain"
	"github.com/larriantoniy/tg_promo_bot/internal/ports"
)

type FactoryConfig struct {
	BaseDir        string
	LogVerbosity   int32
	Device         DeviceConfig
	SimulateTyping bool
}

// Factory создаёт TDLib-подключения. Каждое подключение живёт в своём
// каталоге baseDir/<session token>.
type Factory struct {
	cfg    FactoryConfig
	logger *slog.Logger
}

func NewFactory(cfg FactoryConfig, log *slog.Logger) *Factory {
	if _, err := client.SetLogVerbosityLevel(&client.SetLogVerbosityLevelRequest{
		NewVerbosityLevel: cfg.LogVerbosity,
	}); err != nil {
		log.Error("TDLib SetLogVerbosityLevel", "error", err)
	}
	return &Factory{cfg: cfg, logger: log}
}

var _ ports.ConnectionFactory = (*Factory)(nil)

func (f *Factory) Create(cred domain.AccountCredential, token domain.SessionToken, proxy *domain.ProxyDescriptor) (ports.Connection, error) {
	apiID, err := validateCredential(cred)
	if err != nil {
		return nil, err
	}

	if token.Empty() {
		token = newSessionToken()
	} else if err := validateSessionToken(token); err != nil {
		return nil, err
	}

	var opts []client.Option
	if proxy != nil {
		req, err := proxyRequest(proxy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithProxy(req))
	}

	dbDir, filesDir := sessionDirs(f.cfg.BaseDir, token)
	params := f.cfg.Device.toTdParams(apiID, cred.APISecret, dbDir, filesDir)

	return &TelegramClient{
		token:    token,
		dbDir:    dbDir,
		filesDir: filesDir,
		proxy:    proxy,
		opts:     opts,
		typing:   f.cfg.SimulateTyping,
		logger:   f.logger.With("account", cred.AccountID, "session", string(token)),
		auth:     newAuthorizer(params),
		chats:    make(map[domain.Destination]int64),
	}, nil
}

func validateCredential(cred domain.AccountCredential) (int32, error) {
	if strings.TrimSpace(cred.AccountID) == "" {
		return 0, domain.InvalidConfig("account id is required")
	}
	apiID, err := strconv.ParseInt(strings.TrimSpace(cred.APIKey), 10, 32)
	if err != nil || apiID <= 0 {
		return 0, domain.InvalidConfig("invalid api_id %q", cred.APIKey)
	}
	if strings.TrimSpace(cred.APISecret) == "" {
		return 0, domain.InvalidConfig("api_hash is required")
	}
	return int32(apiID), nil
}

func proxyRequest(proxy *domain.ProxyDescriptor) (*client.AddProxyRequest, error) {
	req := &client.AddProxyRequest{
		Server: proxy.Host,
		Port:   proxy.Port,
		Enable: true,
	}
	switch proxy.Kind {
	case domain.ProxySOCKS5:
		req.Type = &client.ProxyTypeSocks5{
			Username: proxy.Username,
			Password: proxy.Password,
		}
	case domain.ProxyHTTP:
		req.Type = &client.ProxyTypeHttp{
			Username: proxy.Username,
			Password: proxy.Password,
		}
	default:
		// в TDLib нет SOCKS4
		return nil, domain.InvalidConfig("proxy type %q is not supported by TDLib", proxy.Kind)
	}
	return req, nil
}
