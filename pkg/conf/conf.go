package conf

import (
	"fmt"

	"github.com/pion/ion-mt/pkg/log"
	"github.com/spf13/viper"
)

// Engine holds the transceiver tunables
type Engine struct {
	QueueSize      int `mapstructure:"queuesize"`
	PollTimeoutMs  int `mapstructure:"polltimeout"`
	RRCycleMs      int `mapstructure:"rrcycle"`
	NackDelayMs    int `mapstructure:"nackdelay"`
	NackMaxRetries int `mapstructure:"nackmaxretries"`
	TccCycleMs     int `mapstructure:"tcccycle"`
	SnapshotRing   int `mapstructure:"snapshotring"`
	StatCycleS     int `mapstructure:"statcycle"`
}

// Config is the top level configuration
type Config struct {
	Engine Engine     `mapstructure:"engine"`
	Log    log.Config `mapstructure:"log"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Engine: Engine{
			QueueSize:      1024,
			PollTimeoutMs:  100,
			RRCycleMs:      1000,
			NackDelayMs:    20,
			NackMaxRetries: 10,
			TccCycleMs:     20,
			SnapshotRing:   16,
			StatCycleS:     3,
		},
		Log: log.Config{Level: "info"},
	}
}

// Load reads a toml file, falling back to defaults for unset keys
func Load(file string) (Config, error) {
	c := Default()
	viper.SetConfigFile(file)
	viper.SetConfigType("toml")
	if err := viper.ReadInConfig(); err != nil {
		return c, fmt.Errorf("config file %s read failed. %v", file, err)
	}
	if err := viper.GetViper().Unmarshal(&c); err != nil {
		return c, fmt.Errorf("config file %s loaded failed. %v", file, err)
	}
	log.Init(c.Log.Level)
	return c, nil
}
