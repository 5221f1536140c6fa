package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

const DefaultSTUNServer = "stun.jitsi.net:3478"

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Log          LogConfig          `mapstructure:"log"`
	Account      AccountConfig      `mapstructure:"account"`
	ICE          ICEConfig          `mapstructure:"ice"`
	STUN         STUNConfig         `mapstructure:"stun"`
	TURN         TURNConfig         `mapstructure:"turn"`
	UPnP         UPnPConfig         `mapstructure:"upnp"`
	RelayNodes   RelayNodesConfig   `mapstructure:"relay_nodes"`
	RelayService RelayServiceConfig `mapstructure:"relay_service"`
	Switchboard  SwitchboardConfig  `mapstructure:"switchboard"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type AccountConfig struct {
	JID      string `mapstructure:"jid"`
	Resource string `mapstructure:"resource"`
	Priority int    `mapstructure:"priority"`
	// VoiceDomain is the gateway domain bare numbers are routed to on
	// voice-gateway accounts.
	VoiceDomain         string `mapstructure:"voice_domain"`
	VoiceGatewayAccount bool   `mapstructure:"voice_gateway_account"`
	PhoneSuffix         string `mapstructure:"phone_suffix"`
	BypassCapsDomain    string `mapstructure:"bypass_caps_domain"`
	Paranoia            bool   `mapstructure:"paranoia"`
	AutoAnswer          bool   `mapstructure:"auto_answer"`
	// ControlAddr is where the agent serves its local control API.
	ControlAddr string `mapstructure:"control_addr"`
}

type ICEConfig struct {
	Transport        string        `mapstructure:"transport"`
	PortMin          uint16        `mapstructure:"port_min"`
	PortMax          uint16        `mapstructure:"port_max"`
	Nomination       string        `mapstructure:"nomination"`
	RelayAcceptDelay time.Duration `mapstructure:"relay_accept_delay"`
	CheckTimeout     time.Duration `mapstructure:"check_timeout"`
	HarvestTimeout   time.Duration `mapstructure:"harvest_timeout"`
	IncludeLoopback  bool          `mapstructure:"include_loopback"`
}

type STUNConfig struct {
	Servers      []string `mapstructure:"servers"`
	UseDefault   bool     `mapstructure:"use_default"`
	AutoDiscover bool     `mapstructure:"auto_discover"`
}

type TURNServer struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type TURNConfig struct {
	Servers []TURNServer `mapstructure:"servers"`
	Probe   bool         `mapstructure:"probe"`
}

type UPnPConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Lease   time.Duration `mapstructure:"lease"`
}

type TrackerConfig struct {
	JID      string `mapstructure:"jid"`
	Kind     string `mapstructure:"kind"`
	Policy   string `mapstructure:"policy"`
	Protocol string `mapstructure:"protocol"`
}

type RelayNodesConfig struct {
	Enabled        bool            `mapstructure:"enabled"`
	AutoDiscover   bool            `mapstructure:"auto_discover"`
	SearchBuddies  bool            `mapstructure:"search_buddies"`
	Trackers       []TrackerConfig `mapstructure:"trackers"`
	Prefixes       []string        `mapstructure:"prefixes"`
	StopOnFirst    bool            `mapstructure:"stop_on_first"`
	MaxDepth       int             `mapstructure:"max_depth"`
	MaxEntries     int             `mapstructure:"max_entries"`
	MaxSearchNodes int             `mapstructure:"max_search_nodes"`
	Timeout        time.Duration   `mapstructure:"timeout"`
	MDNS           bool            `mapstructure:"mdns"`
}

type RelayServiceConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Host       string        `mapstructure:"host"`
	PortMin    int           `mapstructure:"port_min"`
	PortMax    int           `mapstructure:"port_max"`
	ChannelTTL time.Duration `mapstructure:"channel_ttl"`
	Advertise  bool          `mapstructure:"advertise"`
}

type SwitchboardConfig struct {
	URL        string        `mapstructure:"url"`
	Domain     string        `mapstructure:"domain"`
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
	IQTimeout  time.Duration `mapstructure:"iq_timeout"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Account: %s | Transport: %s\n", cfg.Mode, cfg.Port, cfg.Account.JID, cfg.ICE.Transport)
	return &cfg, nil
}

// Default returns the configuration Load yields with no file present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 1)

	v.SetDefault("account.resource", "jingled")
	v.SetDefault("account.voice_domain", "voice.google.com")
	v.SetDefault("account.control_addr", "127.0.0.1:8081")

	v.SetDefault("ice.transport", "ice-udp")
	v.SetDefault("ice.nomination", "prefer-direct")
	v.SetDefault("ice.relay_accept_delay", "2s")
	v.SetDefault("ice.check_timeout", "30s")
	v.SetDefault("ice.harvest_timeout", "10s")

	v.SetDefault("stun.use_default", true)

	v.SetDefault("upnp.lease", "1h")

	v.SetDefault("relay_nodes.prefixes", []string{"relay"})
	v.SetDefault("relay_nodes.stop_on_first", true)
	v.SetDefault("relay_nodes.max_depth", 3)
	v.SetDefault("relay_nodes.max_entries", 6)
	v.SetDefault("relay_nodes.max_search_nodes", 20)
	v.SetDefault("relay_nodes.timeout", "60s")

	v.SetDefault("relay_service.host", "127.0.0.1")
	v.SetDefault("relay_service.port_min", 40000)
	v.SetDefault("relay_service.port_max", 41000)
	v.SetDefault("relay_service.channel_ttl", "60s")

	v.SetDefault("switchboard.url", "ws://127.0.0.1:8080/api/ws/signal")
	v.SetDefault("switchboard.domain", "localhost")
	v.SetDefault("switchboard.rate_limit", 50)
	v.SetDefault("switchboard.rate_window", "1s")
	v.SetDefault("switchboard.iq_timeout", "10s")
}
