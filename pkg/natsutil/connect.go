package natsutil

import (
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/carverauto/rclink/pkg/logger"
)

// ConnectOptions returns the connection options shared by rclink NATS
// clients: mTLS when files is set, and connection state logging.
func ConnectOptions(name string, files *TLSFiles, log logger.Logger) ([]nats.Option, error) {
	if log == nil {
		log = logger.NewTestLogger()
	}

	opts := []nats.Option{nats.Name(name)}

	if files != nil {
		tlsConf, err := TLSConfig(files)
		if err != nil {
			return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts, nats.Secure(tlsConf))
	}

	opts = append(opts,
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)

	return opts, nil
}
