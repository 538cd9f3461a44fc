package hasocket

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// DefaultManagementPath is the default path of the management endpoint, appended to a server uri.
	DefaultManagementPath = "/ws/management"
	// DefaultDataPath is the default path of the data endpoint, appended to a server uri.
	DefaultDataPath = "/ws/data"
	// DefaultBinary selects binary frames by default.
	DefaultBinary = true
	// DefaultLanguage is the language tag sent with requests when none is given.
	DefaultLanguage = "en"
	// DefaultDataConnectTimeout is the handshake timeout of data connections.
	DefaultDataConnectTimeout = 600 * time.Second
	// DefaultDataRequestTimeout is how long a data request waits for its reply.
	DefaultDataRequestTimeout = 600 * time.Second
	// DefaultControlConnectTimeout is the handshake timeout of management connections.
	DefaultControlConnectTimeout = 15 * time.Second
	// DefaultControlReconnectDelay is how long a dropped management connection waits before reconnecting.
	DefaultControlReconnectDelay = 15 * time.Second
	// DefaultControlReconnectTimeout is the handshake timeout of a management reconnect attempt.
	DefaultControlReconnectTimeout = 45 * time.Second
	// DefaultControlReconnectAttempts is the number of reconnect attempts after a drop or failed connect.  0 is unlimited.
	DefaultControlReconnectAttempts = 0
	// DefaultRegisterTimeout is how long registration waits for its reply.
	DefaultRegisterTimeout = 5 * time.Second
	// DefaultMaxIdleAge is the maximum time a data connection may sit idle and still be reused.
	DefaultMaxIdleAge = 10 * time.Minute
)

const (
	// ParamServers is the name of parameter with the list of node base uris.
	ParamServers = "servers"
	// ParamManagementPath is the name of parameter with the management endpoint path.
	ParamManagementPath = "management-path"
	// ParamDataPath is the name of parameter with the data endpoint path.
	ParamDataPath = "data-path"
	// ParamBinary is the name of parameter selecting binary or text frames.
	ParamBinary = "binary"
	// ParamLanguage is the name of parameter with the default language tag.
	ParamLanguage = "language"
	// ParamDataConnectTimeout is the name of parameter with the data connection handshake timeout.
	ParamDataConnectTimeout = "data-connect-timeout"
	// ParamDataRequestTimeout is the name of parameter with the data request timeout.
	ParamDataRequestTimeout = "data-request-timeout"
	// ParamControlConnectTimeout is the name of parameter with the management connection handshake timeout.
	ParamControlConnectTimeout = "control-connect-timeout"
	// ParamControlReconnectDelay is the name of parameter with the delay before reconnecting a management connection.
	ParamControlReconnectDelay = "control-reconnect-delay"
	// ParamControlReconnectTimeout is the name of parameter with the management reconnect handshake timeout.
	ParamControlReconnectTimeout = "control-reconnect-timeout"
	// ParamControlReconnectAttempts is the name of parameter with the number of management reconnect attempts.
	ParamControlReconnectAttempts = "control-reconnect-attempts"
	// ParamRegisterTimeout is the name of parameter with the registration timeout.
	ParamRegisterTimeout = "register-timeout"
	// ParamMaxIdleAge is the name of parameter with the maximum idle age of pooled data connections.
	ParamMaxIdleAge = "max-idle-age"
)

// ClientSettings is the configuration consumed by the cluster manager and its connections.
type ClientSettings struct {
	Servers                  []string
	ManagementPath           string
	DataPath                 string
	Binary                   bool
	Language                 string
	DataConnectTimeout       time.Duration
	DataRequestTimeout       time.Duration
	ControlConnectTimeout    time.Duration
	ControlReconnectDelay    time.Duration
	ControlReconnectTimeout  time.Duration
	ControlReconnectAttempts int
	RegisterTimeout          time.Duration
	MaxIdleAge               time.Duration
}

// DefaultClientSettings returns ClientSettings with every default applied and no servers.
func DefaultClientSettings() ClientSettings {
	return ClientSettings{
		ManagementPath:           DefaultManagementPath,
		DataPath:                 DefaultDataPath,
		Binary:                   DefaultBinary,
		Language:                 DefaultLanguage,
		DataConnectTimeout:       DefaultDataConnectTimeout,
		DataRequestTimeout:       DefaultDataRequestTimeout,
		ControlConnectTimeout:    DefaultControlConnectTimeout,
		ControlReconnectDelay:    DefaultControlReconnectDelay,
		ControlReconnectTimeout:  DefaultControlReconnectTimeout,
		ControlReconnectAttempts: DefaultControlReconnectAttempts,
		RegisterTimeout:          DefaultRegisterTimeout,
		MaxIdleAge:               DefaultMaxIdleAge,
	}
}

// ManagementURI returns the management endpoint of the server at base.
func (cs ClientSettings) ManagementURI(base string) string {
	return strings.TrimSuffix(base, "/") + SanitizePath(cs.ManagementPath)
}

// DataURI returns the data endpoint of the server at base.
func (cs ClientSettings) DataURI(base string) string {
	return strings.TrimSuffix(base, "/") + SanitizePath(cs.DataPath)
}

// Validate checks the settings for values that can not work.
func (cs ClientSettings) Validate() error {
	if len(cs.Servers) == 0 {
		return errors.New(ParamServers + " must not be empty")
	}
	for name, d := range map[string]time.Duration{
		ParamDataConnectTimeout:      cs.DataConnectTimeout,
		ParamDataRequestTimeout:      cs.DataRequestTimeout,
		ParamControlConnectTimeout:   cs.ControlConnectTimeout,
		ParamControlReconnectTimeout: cs.ControlReconnectTimeout,
		ParamRegisterTimeout:         cs.RegisterTimeout,
		ParamMaxIdleAge:              cs.MaxIdleAge,
	} {
		if d <= 0 {
			return errors.New(name + " must be positive")
		}
	}
	if cs.ControlReconnectDelay < 0 {
		return errors.New(ParamControlReconnectDelay + " must not be negative")
	}
	if cs.ControlReconnectAttempts < 0 {
		return errors.New(ParamControlReconnectAttempts + " must be zero or positive")
	}
	return nil
}

// NewClientSettingsFromViper reads ClientSettings from v, falling back to defaults.
func NewClientSettingsFromViper(v *viper.Viper) (ClientSettings, error) {
	cs := DefaultClientSettings()
	v.SetDefault(ParamManagementPath, cs.ManagementPath)
	v.SetDefault(ParamDataPath, cs.DataPath)
	v.SetDefault(ParamBinary, cs.Binary)
	v.SetDefault(ParamLanguage, cs.Language)
	v.SetDefault(ParamDataConnectTimeout, cs.DataConnectTimeout)
	v.SetDefault(ParamDataRequestTimeout, cs.DataRequestTimeout)
	v.SetDefault(ParamControlConnectTimeout, cs.ControlConnectTimeout)
	v.SetDefault(ParamControlReconnectDelay, cs.ControlReconnectDelay)
	v.SetDefault(ParamControlReconnectTimeout, cs.ControlReconnectTimeout)
	v.SetDefault(ParamControlReconnectAttempts, cs.ControlReconnectAttempts)
	v.SetDefault(ParamRegisterTimeout, cs.RegisterTimeout)
	v.SetDefault(ParamMaxIdleAge, cs.MaxIdleAge)

	cs = ClientSettings{
		Servers:                  toSlice(v.GetStringSlice(ParamServers)),
		ManagementPath:           SanitizePath(v.GetString(ParamManagementPath)),
		DataPath:                 SanitizePath(v.GetString(ParamDataPath)),
		Binary:                   v.GetBool(ParamBinary),
		Language:                 v.GetString(ParamLanguage),
		DataConnectTimeout:       v.GetDuration(ParamDataConnectTimeout),
		DataRequestTimeout:       v.GetDuration(ParamDataRequestTimeout),
		ControlConnectTimeout:    v.GetDuration(ParamControlConnectTimeout),
		ControlReconnectDelay:    v.GetDuration(ParamControlReconnectDelay),
		ControlReconnectTimeout:  v.GetDuration(ParamControlReconnectTimeout),
		ControlReconnectAttempts: v.GetInt(ParamControlReconnectAttempts),
		RegisterTimeout:          v.GetDuration(ParamRegisterTimeout),
		MaxIdleAge:               v.GetDuration(ParamMaxIdleAge),
	}
	return cs, cs.Validate()
}

// SanitizePath makes sure path starts with a slash and does not end with one.
func SanitizePath(path string) string {
	path = strings.TrimSuffix(path, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// toSlice splits comma separated entries, as environment variables arrive as a single string.
func toSlice(s []string) []string {
	var result []string
	for _, entry := range s {
		for _, part := range strings.Split(entry, ",") {
			if part = strings.TrimSpace(part); part != "" {
				result = append(result, part)
			}
		}
	}
	return result
}

// AddFlags adds the client flags to the specified FlagSet.
func AddFlags(fs *pflag.FlagSet) {
	fs.StringSlice(ParamServers, nil, "Comma-separated list of node base uris, eg ws://10.0.0.1:7474")
	fs.String(ParamManagementPath, DefaultManagementPath, "Path of the management endpoint")
	fs.String(ParamDataPath, DefaultDataPath, "Path of the data endpoint")
	fs.Bool(ParamBinary, DefaultBinary, "Use binary frames instead of text frames")
	fs.String(ParamLanguage, DefaultLanguage, "Default language tag sent with requests")
	fs.Duration(ParamDataConnectTimeout, DefaultDataConnectTimeout, "Handshake timeout of data connections")
	fs.Duration(ParamDataRequestTimeout, DefaultDataRequestTimeout, "How long a data request waits for its reply")
	fs.Duration(ParamControlConnectTimeout, DefaultControlConnectTimeout, "Handshake timeout of management connections")
	fs.Duration(ParamControlReconnectDelay, DefaultControlReconnectDelay, "Delay before reconnecting a dropped management connection")
	fs.Duration(ParamControlReconnectTimeout, DefaultControlReconnectTimeout, "Handshake timeout of a management reconnect attempt")
	fs.Int(ParamControlReconnectAttempts, DefaultControlReconnectAttempts, "Reconnect attempts after a management connection drops or fails to open (0 for unlimited)")
	fs.Duration(ParamRegisterTimeout, DefaultRegisterTimeout, "How long registration waits for its reply")
	fs.Duration(ParamMaxIdleAge, DefaultMaxIdleAge, "Maximum idle age of a pooled data connection")
}
