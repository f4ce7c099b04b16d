package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DispatchConfig tunes the send queue without a redeploy.
type DispatchConfig struct {
	RunInterval     time.Duration `mapstructure:"runInterval"`
	BatchSize       int           `mapstructure:"batchSize"`
	PassiveDelay    time.Duration `mapstructure:"passiveDelay"`
	ReceiptInterval time.Duration `mapstructure:"receiptInterval"`
	ReceiptWindow   time.Duration `mapstructure:"receiptWindow"`
	EnvelopeLimit   int           `mapstructure:"envelopeLimit"`
}

func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		RunInterval:     time.Minute,
		BatchSize:       20,
		PassiveDelay:    time.Hour,
		ReceiptInterval: 24 * time.Hour,
		ReceiptWindow:   8 * 24 * time.Hour,
		EnvelopeLimit:   50,
	}
}

// DispatchConfigHolder exposes the current dispatch tuning, hot-reloaded
// when dispatch.yml changes on disk.
type DispatchConfigHolder struct {
	current atomic.Value // holds DispatchConfig
}

func NewDispatchConfigHolder() (*DispatchConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("dispatch")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/dte")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultDispatchConfig()
		v.SetDefault("dispatch.runInterval", defaults.RunInterval)
		v.SetDefault("dispatch.batchSize", defaults.BatchSize)
		v.SetDefault("dispatch.passiveDelay", defaults.PassiveDelay)
		v.SetDefault("dispatch.receiptInterval", defaults.ReceiptInterval)
		v.SetDefault("dispatch.receiptWindow", defaults.ReceiptWindow)
		v.SetDefault("dispatch.envelopeLimit", defaults.EnvelopeLimit)
	}

	var cfg DispatchConfig
	if err := v.UnmarshalKey("dispatch", &cfg); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := validateDispatchConfig(cfg); err != nil {
		return nil, err
	}

	holder := &DispatchConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated DispatchConfig
		if err := v.UnmarshalKey("dispatch", &updated); err != nil {
			log.Printf("[dispatch-config] reload failed: %v", err)
			return
		}
		updated = updated.withDefaults()
		if err := validateDispatchConfig(updated); err != nil {
			log.Printf("[dispatch-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[dispatch-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticDispatchConfigHolder wraps a fixed config, bypassing file
// watching. Intended for tests and embedded use.
func NewStaticDispatchConfigHolder(cfg DispatchConfig) *DispatchConfigHolder {
	holder := &DispatchConfigHolder{}
	holder.current.Store(cfg.withDefaults())
	return holder
}

func (h *DispatchConfigHolder) Get() DispatchConfig {
	return h.current.Load().(DispatchConfig)
}

func (c DispatchConfig) withDefaults() DispatchConfig {
	defaults := DefaultDispatchConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.PassiveDelay <= 0 {
		c.PassiveDelay = defaults.PassiveDelay
	}
	if c.ReceiptInterval <= 0 {
		c.ReceiptInterval = defaults.ReceiptInterval
	}
	if c.ReceiptWindow <= 0 {
		c.ReceiptWindow = defaults.ReceiptWindow
	}
	if c.EnvelopeLimit <= 0 {
		c.EnvelopeLimit = defaults.EnvelopeLimit
	}
	return c
}

func validateDispatchConfig(cfg DispatchConfig) error {
	if cfg.ReceiptInterval > cfg.ReceiptWindow {
		return errors.New("dispatch.receiptInterval cannot exceed dispatch.receiptWindow")
	}
	return nil
}
