package config

type MyKey struct {
	KeyName string
}

var (
	ContextConfigKey = MyKey{
		KeyName: "config",
	}
)

const (
	AppName        = "fleetgate"
	ViperEnvPrefix = AppName

	Verbose = "verbose"
	Debug   = "debug"
	LogFile = "logfile"

	ListenerIp            = "listenip"
	ListenerTcpPort       = "tcpport"
	ListenerUdpPort       = "udpport"
	ListenerProtocolOrder = "protocolorder"
	ListenerUdpQueueSize  = "udpqueuesize"
	ListenerUdpWorkers    = "udpworkers"

	StoreDsn = "dsn"

	CacheRedisUrl    = "redisurl"
	CacheSnapshotTtl = "snapshotttl"

	PollerUrl      = "pollurl"
	PollerUsername = "pollusername"
	PollerPassword = "pollpassword"
	PollerInterval = "pollinterval"

	SmsGatewayUrl   = "smsurl"
	SmsReplyTimeout = "smstimeout"

	InfluxConfigUrl         = "url"
	InfluxConfigUsername    = "username"
	InfluxConfigPassword    = "password"
	InfluxConfigDatabase    = "database"
	InfluxConfigMeasurement = "measurement"

	MetricsListeningIp   = "metricsip"
	MetricsListeningPort = "metricsport"
	MetricsStateFileName = "mp"

	DefaultDebug   = false
	DefaultVerbose = false
	DefaultLogFile = ""

	DefaultListenerIP      = "0.0.0.0"
	DefaultListenerTcpPort = 5023
	DefaultListenerUdpPort = 5027
	// Prefix detectable formats first, generic CSV scan last.
	DefaultProtocolOrder = "gt06,nmea,tk103,teltonika,json,generic"
	DefaultUdpQueueSize  = 1024
	DefaultUdpWorkers    = 8

	DefaultStoreDsn = "host=localhost user=fleetgate password=fleetgate dbname=fleetgate port=5432 sslmode=disable"

	DefaultCacheRedisUrl    = ""
	DefaultCacheSnapshotTtl = "5m"

	DefaultPollerUrl      = ""
	DefaultPollerUsername = AppName
	DefaultPollerPassword = ""
	DefaultPollerInterval = "60s"

	DefaultSmsGatewayUrl   = ""
	DefaultSmsReplyTimeout = "120s"

	DefaultInfluxDbUrl             = "http://localhost:8086"
	DefaultInfluxDbDatabaseName    = AppName
	DefaultInfluxDbMeasurementName = "vehiclelocation"
	DefaultInfluxDbUserName        = AppName
	DefaultInfluxDbPassword        = "123"

	DefaultMetricsListeningIP   = "0.0.0.0"
	DefaultMetricsListeningPort = 9161
	DefaultMetricsStateFileName = AppName + ".met"
)
