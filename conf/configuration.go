package conf

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rosschurchill/upnpav/log"
	"github.com/spf13/viper"
)

type configOptions struct {
	Address  string
	Port     int
	BaseURL  string
	LogLevel string

	Scanner struct {
		SearchTimeout time.Duration
		SweepInterval time.Duration
		FetchTimeout  time.Duration
	}

	Client struct {
		ActionTimeout       time.Duration
		SubscriptionTimeout int
		RenewalMargin       time.Duration
	}

	Browse struct {
		RequestSize uint32
	}

	Webserver struct {
		VirtualDir string
	}
}

// Server holds the process-wide configuration, read once by Load.
var Server = &configOptions{}

var loadOnce sync.Once

// Load reads configuration from file (upnpav.toml, optional) and the
// environment (UPNPAV_ prefix) into Server. Safe to call more than once.
func Load() {
	loadOnce.Do(load)
}

func load() {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("upnpav")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("UPNPAV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Error("Error reading config file", err)
		}
	}

	if err := v.Unmarshal(Server); err != nil {
		log.Error("Error parsing config", err)
	}

	log.SetLevelString(Server.LogLevel)
	log.Debug("Configuration loaded", "address", Server.Address, "port", Server.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("address", "0.0.0.0")
	v.SetDefault("port", 49200)
	v.SetDefault("baseurl", "")
	v.SetDefault("loglevel", "info")

	v.SetDefault("scanner.searchtimeout", 3*time.Second)
	v.SetDefault("scanner.sweepinterval", 60*time.Second)
	v.SetDefault("scanner.fetchtimeout", 10*time.Second)

	v.SetDefault("client.actiontimeout", 30*time.Second)
	v.SetDefault("client.subscriptiontimeout", 1801)
	v.SetDefault("client.renewalmargin", 30*time.Second)

	v.SetDefault("browse.requestsize", 32)

	v.SetDefault("webserver.virtualdir", "playlists")
}

// ListenAddr returns the host:port the webserver binds to.
func (c *configOptions) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}
