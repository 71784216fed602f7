package config

import (
	"context"
	"github.com/sirupsen/logrus"
)

type Config struct {
	log            *logrus.Logger
	listenerConfig *ListenerConfig
	storeConfig    *StoreConfig
	cacheConfig    *CacheConfig
	pollerConfig   *PollerConfig
	smsConfig      *SmsConfig
	influxConfig   *InfluxConfig
	metricsConfig  *MetricsConfig
}

func NewConfig(log *logrus.Logger, listenerConfig *ListenerConfig, storeConfig *StoreConfig, cacheConfig *CacheConfig, pollerConfig *PollerConfig, smsConfig *SmsConfig, influxConfig *InfluxConfig, metricsConfig *MetricsConfig) *Config {
	return &Config{
		log:            log,
		listenerConfig: listenerConfig,
		storeConfig:    storeConfig,
		cacheConfig:    cacheConfig,
		pollerConfig:   pollerConfig,
		smsConfig:      smsConfig,
		influxConfig:   influxConfig,
		metricsConfig:  metricsConfig,
	}
}

func (c *Config) GetListenerConfig() *ListenerConfig {
	return c.listenerConfig
}

func (c *Config) GetStoreConfig() *StoreConfig {
	return c.storeConfig
}

func (c *Config) GetCacheConfig() *CacheConfig {
	return c.cacheConfig
}

func (c *Config) GetPollerConfig() *PollerConfig {
	return c.pollerConfig
}

func (c *Config) GetSmsConfig() *SmsConfig {
	return c.smsConfig
}

func (c *Config) GetInfluxConfig() *InfluxConfig {
	return c.influxConfig
}

func (c *Config) GetMetricsConfig() *MetricsConfig {
	return c.metricsConfig
}

func (c *Config) GetLogger() *logrus.Logger {
	return c.log
}

func GetLogger(ctx context.Context) *logrus.Logger {
	config := ctx.Value(ContextConfigKey).(*Config)
	return config.GetLogger()
}
