package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BillingConfig holds invoice and GST settings for the issuing business.
type BillingConfig struct {
	InvoicePrefix         string `mapstructure:"invoicePrefix"`
	InvoiceNumberTemplate string `mapstructure:"invoiceNumberTemplate"`
	BusinessName          string `mapstructure:"businessName"`
	BusinessAddress       string `mapstructure:"businessAddress"`
	BusinessEmail         string `mapstructure:"businessEmail"`
	BusinessState         string `mapstructure:"businessState"`
	BusinessGSTIN         string `mapstructure:"businessGstin"`
	CGSTRateBps           int64  `mapstructure:"cgstRateBps"`
	SGSTRateBps           int64  `mapstructure:"sgstRateBps"`
	IGSTRateBps           int64  `mapstructure:"igstRateBps"`
	PaymentTermDays       int    `mapstructure:"paymentTermDays"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		InvoicePrefix:         "INV",
		InvoiceNumberTemplate: "{PREFIX}/{FY}/{SEQ5}",
		BusinessName:          "billsync",
		BusinessState:         "Maharashtra",
		CGSTRateBps:           900,
		SGSTRateBps:           900,
		IGSTRateBps:           1800,
		PaymentTermDays:       0,
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder(log *zap.Logger) (*BillingConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("billing.config")

	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/billsync/config") // Volume-mounted config
	v.AddConfigPath("/etc/billsync")            // System config
	v.AddConfigPath(".")                        // Current directory (dev mode)

	v.SetEnvPrefix("BILLSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.invoicePrefix", defaults.InvoicePrefix)
	v.SetDefault("billing.invoiceNumberTemplate", defaults.InvoiceNumberTemplate)
	v.SetDefault("billing.businessName", defaults.BusinessName)
	v.SetDefault("billing.businessAddress", defaults.BusinessAddress)
	v.SetDefault("billing.businessEmail", defaults.BusinessEmail)
	v.SetDefault("billing.businessState", defaults.BusinessState)
	v.SetDefault("billing.businessGstin", defaults.BusinessGSTIN)
	v.SetDefault("billing.cgstRateBps", defaults.CGSTRateBps)
	v.SetDefault("billing.sgstRateBps", defaults.SGSTRateBps)
	v.SetDefault("billing.igstRateBps", defaults.IGSTRateBps)
	v.SetDefault("billing.paymentTermDays", defaults.PaymentTermDays)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticBillingConfigHolder wraps a fixed config without file watching.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func validateBillingConfig(cfg BillingConfig) error {
	if strings.TrimSpace(cfg.InvoicePrefix) == "" {
		return errors.New("billing.invoicePrefix cannot be empty")
	}
	if strings.Contains(cfg.InvoicePrefix, "/") {
		return errors.New("billing.invoicePrefix cannot contain '/'")
	}
	if !strings.Contains(cfg.InvoiceNumberTemplate, "{SEQ") {
		return errors.New("billing.invoiceNumberTemplate needs a {SEQ} or {SEQn} token")
	}
	if strings.TrimSpace(cfg.BusinessState) == "" {
		return errors.New("billing.businessState cannot be empty")
	}
	for key, rate := range map[string]int64{
		"cgstRateBps": cfg.CGSTRateBps,
		"sgstRateBps": cfg.SGSTRateBps,
		"igstRateBps": cfg.IGSTRateBps,
	} {
		if rate < 0 || rate > 10000 {
			return fmt.Errorf("billing.%s out of range: %d", key, rate)
		}
	}
	if cfg.PaymentTermDays < 0 {
		return errors.New("billing.paymentTermDays cannot be negative")
	}
	return nil
}
