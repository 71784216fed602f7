package config

import "time"

type ListenerConfig struct {
	Host          string
	TcpPort       int
	UdpPort       int
	ProtocolOrder []string
	UdpQueueSize  int
	UdpWorkers    int
}

type StoreConfig struct {
	Dsn string
}

type CacheConfig struct {
	RedisUrl    string
	SnapshotTtl time.Duration
}

type PollerConfig struct {
	Url      string
	Username string
	Password string
	Interval time.Duration
}

type SmsConfig struct {
	GatewayUrl   string
	ReplyTimeout time.Duration
}

type InfluxConfig struct {
	Url         string
	Username    string
	Password    string
	Database    string
	Measurement string
}

type MetricsConfig struct {
	Host          string
	Port          int
	StateFileName string
}
