package config

import (
	"sync"

	"gatelink/pkg/logger"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env    string        `yaml:"env" env:"APP_ENV" env-default:"production" env-description:"Environment [production, local]"`
	Logger logger.Config `yaml:"logger"`
	Debug  bool          `yaml:"debug" env:"APP_DEBUG" env-default:"false" env-description:"Enables debug mode"`

	Reconnect Reconnect `yaml:"reconnect"`
	Verify    Verify    `yaml:"verify"`
	Vless     Vless     `yaml:"vless"`
	Tun       Tun       `yaml:"tun"`
	Netmon    Netmon    `yaml:"netmon"`
	Creds     Creds     `yaml:"credentials"`
}

type Reconnect struct {
	MaxAttempts     int `yaml:"max_attempts" env:"RECONNECT_MAX_ATTEMPTS" env-default:"8" env-description:"Reconnect attempts before giving up"`
	InitialDelaySec int `yaml:"initial_delay_sec" env:"RECONNECT_INITIAL_DELAY_SEC" env-default:"1" env-description:"First backoff delay in seconds"`
	MaxDelaySec     int `yaml:"max_delay_sec" env:"RECONNECT_MAX_DELAY_SEC" env-default:"60" env-description:"Backoff delay ceiling in seconds"`
}

type Verify struct {
	WindowSec           int `yaml:"window_sec" env:"VERIFY_WINDOW_SEC" env-default:"15" env-description:"Handshake verification window in seconds"`
	MonitorIntervalSec  int `yaml:"monitor_interval_sec" env:"VERIFY_MONITOR_INTERVAL_SEC" env-default:"5" env-description:"Background peer poll interval in seconds"`
	LostAfterPolls      int `yaml:"lost_after_polls" env:"VERIFY_LOST_AFTER_POLLS" env-default:"6" env-description:"Consecutive empty polls before reporting loss"`
	MinUptimeForLostSec int `yaml:"min_uptime_sec" env:"VERIFY_MIN_UPTIME_SEC" env-default:"120" env-description:"Minimum uptime before loss can be reported"`
}

type Vless struct {
	ProbeHost        string `yaml:"probe_host" env:"VLESS_PROBE_HOST" env-default:"www.gstatic.com" env-description:"Connect target used for verification probes"`
	ProbePort        int    `yaml:"probe_port" env:"VLESS_PROBE_PORT" env-default:"80" env-description:"Connect target port"`
	ProbeIntervalSec int    `yaml:"probe_interval_sec" env:"VLESS_PROBE_INTERVAL_SEC" env-default:"10" env-description:"Latency probe interval in seconds"`
}

type Tun struct {
	Enabled    bool   `yaml:"enabled" env:"TUN_ENABLED" env-default:"false" env-description:"Bring up a virtual interface around proxy sessions"`
	DeviceName string `yaml:"device_name" env:"TUN_DEVICE" env-default:"gatelink0" env-description:"Virtual interface name"`
	Address    string `yaml:"address" env:"TUN_ADDRESS" env-default:"10.8.0.2/24" env-description:"Interface address in CIDR form"`
	Gateway    string `yaml:"gateway" env:"TUN_GATEWAY" env-description:"Default route gateway, empty for none"`
	MTU        int    `yaml:"mtu" env:"TUN_MTU" env-default:"1400" env-description:"Interface MTU"`
}

type Netmon struct {
	PollIntervalSec int `yaml:"poll_interval_sec" env:"NETMON_POLL_INTERVAL_SEC" env-default:"3" env-description:"Interface poll interval in seconds"`
}

type Creds struct {
	Backend    string `yaml:"backend" env:"CREDS_BACKEND" env-default:"keyring" env-description:"Credential backend [keyring, file]"`
	Passphrase string `yaml:"passphrase" env:"CREDS_PASSPHRASE" env-description:"Passphrase for the file backend vault"`
}

var (
	once   = sync.Once{}
	cfg    = &Config{}
	errCfg error
)

func New(configPath string, skipConfig bool) (*Config, error) {
	once.Do(func() {
		cfg = &Config{}

		if skipConfig {
			errCfg = cleanenv.ReadEnv(cfg)
			return
		}

		errCfg = cleanenv.ReadConfig(configPath, cfg)
	})

	return cfg, errCfg
}
