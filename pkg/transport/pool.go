package transport

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	// DialerData is the name of the dialer used for data connections.
	DialerData = "data"
	// DialerControl is the name of the dialer used for management connections.
	DialerControl = "control"
	// DialerDefault is the dialer used when a name has no configuration.
	DialerDefault = "default"
)

// DialerPool creates websocket.Dialers as required, using the provided viper.Viper for configuration.
type DialerPool struct {
	config *viper.Viper
	logger logrus.FieldLogger

	mu      sync.Mutex
	dialers map[string]*websocket.Dialer
}

func NewDialerPool(logger logrus.FieldLogger, config *viper.Viper) *DialerPool {
	config.SetDefault("transport."+DialerDefault, map[string]interface{}{})
	return &DialerPool{
		logger:  logger,
		dialers: map[string]*websocket.Dialer{},
		config:  config,
	}
}

func (dp *DialerPool) Get(name string) (*websocket.Dialer, error) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if d, ok := dp.dialers[name]; ok {
		return d, nil
	}

	d, err := dp.newDialer(name)
	if err != nil {
		return nil, err
	}
	dp.dialers[name] = d
	return d, nil
}

func (dp *DialerPool) newDialer(name string) (*websocket.Dialer, error) {
	sub := dp.config.Sub("transport." + name)
	if sub == nil {
		dp.logger.WithField("name", name).Debug("request for non-configured dialer, using transport.default")
		sub = dp.config.Sub("transport." + DialerDefault)
	}
	if sub == nil {
		sub = viper.New()
	}
	return dp.newWebsocketDialer(name, sub)
}
