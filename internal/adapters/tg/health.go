package tg

import (
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/larriantoniy/tg_promo_bot/internal/domain"
)

const (
	probeTimeout      = 3 * time.Second
	proxyProbeTimeout = 5 * time.Second
)

// ProbeConnectivity пишет в лог, работают ли IPv4 и IPv6. Только диагностика.
func ProbeConnectivity(logger *slog.Logger) {
	probe(logger, "tcp4", "8.8.8.8:53", probeTimeout)
	probe(logger, "tcp6", "[2606:4700:4700::1111]:53", probeTimeout)
}

func probe(logger *slog.Logger, network, addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout(network, addr, timeout)
	if err != nil {
		logger.Warn("network probe failed", "network", network, "addr", addr, "error", err)
		return false
	}
	_ = conn.Close()
	logger.Debug("network probe ok", "network", network, "addr", addr)
	return true
}

// checkProxy только логирует доступность прокси: решение о подключении
// всё равно принимает TDLib.
func checkProxy(logger *slog.Logger, proxy *domain.ProxyDescriptor) {
	if proxy == nil {
		logger.Debug("proxy disabled, skipping check")
		return
	}

	addr := net.JoinHostPort(proxy.Host, strconv.Itoa(int(proxy.Port)))
	ip := net.ParseIP(proxy.Host)

	var networks []string
	switch {
	case ip != nil && ip.To4() != nil:
		networks = []string{"tcp4"}
	case ip != nil:
		networks = []string{"tcp6"}
	default:
		// hostname: сначала IPv6, потом IPv4
		networks = []string{"tcp6", "tcp4"}
	}

	for _, network := range networks {
		if probe(logger, network, addr, proxyProbeTimeout) {
			logger.Info("proxy reachable", "addr", addr, "network", network, "type", proxy.Kind)
			return
		}
	}
	logger.Error("proxy unreachable", "addr", addr, "type", proxy.Kind)
}
