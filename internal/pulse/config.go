package pulse

import "time"

// Config tunes the monitoring engine. It is read from the "pulse" section.
type Config struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxHistorySize int           `mapstructure:"max_history_size"`
	StartupStagger time.Duration `mapstructure:"startup_stagger"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
	NotifyTimeout  time.Duration `mapstructure:"notify_timeout"`
	NotifyRate     time.Duration `mapstructure:"notify_rate"`
	NotifyBurst    int           `mapstructure:"notify_burst"`
	ProductName    string        `mapstructure:"product_name"`
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   60 * time.Second,
		Timeout:        10 * time.Second,
		MaxHistorySize: 100,
		StartupStagger: 250 * time.Millisecond,
		ShutdownGrace:  15 * time.Second,
		NotifyTimeout:  10 * time.Second,
		NotifyRate:     time.Second,
		NotifyBurst:    5,
		ProductName:    "Pulsewatch",
	}
}

// withDefaults fills every zero field from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxHistorySize <= 0 {
		c.MaxHistorySize = d.MaxHistorySize
	}
	if c.StartupStagger < 0 {
		c.StartupStagger = 0
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = d.ShutdownGrace
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = d.NotifyTimeout
	}
	if c.NotifyRate <= 0 {
		c.NotifyRate = d.NotifyRate
	}
	if c.NotifyBurst <= 0 {
		c.NotifyBurst = d.NotifyBurst
	}
	if c.ProductName == "" {
		c.ProductName = d.ProductName
	}
	return c
}
