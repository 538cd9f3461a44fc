package transport

import (
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const paramWebsocketHandshakeTimeout = "handshake-timeout"
const paramWebsocketReadBufferSize = "read-buffer-size"
const paramWebsocketWriteBufferSize = "write-buffer-size"
const paramWebsocketEnableCompression = "enable-compression"
const paramWebsocketTLSInsecureSkipVerify = "tls-insecure-skip-verify"

// A zero handshake timeout leaves the limit to the connect timeout of the connection.
const defaultWebsocketHandshakeTimeout = time.Duration(0)
const defaultWebsocketReadBufferSize = 0
const defaultWebsocketWriteBufferSize = 0
const defaultWebsocketEnableCompression = false
const defaultWebsocketTLSInsecureSkipVerify = false

func (dp *DialerPool) newWebsocketDialer(name string, v *viper.Viper) (*websocket.Dialer, error) {
	v.SetDefault(paramWebsocketHandshakeTimeout, defaultWebsocketHandshakeTimeout)
	v.SetDefault(paramWebsocketReadBufferSize, defaultWebsocketReadBufferSize)
	v.SetDefault(paramWebsocketWriteBufferSize, defaultWebsocketWriteBufferSize)
	v.SetDefault(paramWebsocketEnableCompression, defaultWebsocketEnableCompression)
	v.SetDefault(paramWebsocketTLSInsecureSkipVerify, defaultWebsocketTLSInsecureSkipVerify)

	handshakeTimeout := v.GetDuration(paramWebsocketHandshakeTimeout)
	readBufferSize := v.GetInt(paramWebsocketReadBufferSize)
	writeBufferSize := v.GetInt(paramWebsocketWriteBufferSize)
	enableCompression := v.GetBool(paramWebsocketEnableCompression)
	insecureSkipVerify := v.GetBool(paramWebsocketTLSInsecureSkipVerify)

	if handshakeTimeout < 0 {
		return nil, errors.New(paramWebsocketHandshakeTimeout + " must not be negative") // 0 = bounded by the connect timeout only
	}
	if readBufferSize < 0 {
		return nil, errors.New(paramWebsocketReadBufferSize + " must not be negative") // 0 = library default
	}
	if writeBufferSize < 0 {
		return nil, errors.New(paramWebsocketWriteBufferSize + " must not be negative") // 0 = library default
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		ReadBufferSize:   readBufferSize,
		WriteBufferSize:  writeBufferSize,
		TLSClientConfig: &tls.Config{
			// Can't use SSLv3 because of POODLE and BEAST
			// Can't use TLSv1.0 because of POODLE and BEAST using CBC cipher
			// Can't use TLSv1.1 because of RC4 cipher usage
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: insecureSkipVerify, // nolint:gosec
		},
		EnableCompression: enableCompression,
	}

	dp.logger.WithFields(logrus.Fields{
		"name":                              name,
		paramWebsocketHandshakeTimeout:      handshakeTimeout,
		paramWebsocketReadBufferSize:        readBufferSize,
		paramWebsocketWriteBufferSize:       writeBufferSize,
		paramWebsocketEnableCompression:     enableCompression,
		paramWebsocketTLSInsecureSkipVerify: insecureSkipVerify,
	}).Info("created dialer")

	return dialer, nil
}
