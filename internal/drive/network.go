package drive

import (
	"context"
	"net"

	"go.uber.org/zap"

	"github.com/caamer20/Telegram-Drive/internal/logging"
)

// IsNetworkAvailable reports whether a TCP connection to the probe address
// can be opened within the probe timeout.
func (s *Service) IsNetworkAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.cfg.ProbeAddr)
	if err != nil {
		logging.Debug("network probe failed", zap.String("addr", s.cfg.ProbeAddr), zap.Error(err))
		return false
	}
	conn.Close()
	return true
}
