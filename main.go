package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fleetgate/fleetgate/cache"
	"github.com/fleetgate/fleetgate/config"
	"github.com/fleetgate/fleetgate/feed"
	"github.com/fleetgate/fleetgate/influxdb"
	"github.com/fleetgate/fleetgate/ingest"
	"github.com/fleetgate/fleetgate/listener"
	m "github.com/fleetgate/fleetgate/metrics"
	mi "github.com/fleetgate/fleetgate/metrics/impl"
	"github.com/fleetgate/fleetgate/poller"
	"github.com/fleetgate/fleetgate/protocol"
	"github.com/fleetgate/fleetgate/smscmd"
	"github.com/fleetgate/fleetgate/store"
)

func parseConfig() *config.Config {
	// Initialize logger
	log := config.NewLogger()

	// Read configuration
	viper.SetConfigName("cfg")                                     // Name of cfg file (without extension)
	viper.SetConfigType("yaml")                                    // REQUIRED if the cfg file does not have the extension in the name
	viper.AddConfigPath(fmt.Sprintf("/etc/%s/", config.AppName))   // path to look for the cfg file in
	viper.AddConfigPath(fmt.Sprintf("$HOME/.%s/", config.AppName)) // call multiple times to add many search paths
	viper.AddConfigPath(".")                                       // Optionally look for cfg in the working directory
	viper.SetEnvPrefix(config.ViperEnvPrefix)
	viper.AutomaticEnv() // Use environment variables if defined

	err := viper.ReadInConfig() // Find and read the cfg file
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		log.Infof("Config file was not found. Using defaults.")
	} else if err != nil {
		log.Fatalf("Failed to parse cfg file. %v", err)
	}

	// General configs
	flag.Bool(config.Debug, config.DefaultDebug, "Set log level to debug")
	flag.Bool(config.Verbose, config.DefaultVerbose, "Set log level to verbose")
	flag.String(config.LogFile, config.DefaultLogFile, "Rotating log file path. Empty means stdout only")
	// Listener configs
	flag.String(config.ListenerIp, config.DefaultListenerIP, "Listener IP address (IPv4 or IPv6)")
	flag.Int(config.ListenerTcpPort, config.DefaultListenerTcpPort, "TCP port for direct device connections")
	flag.Int(config.ListenerUdpPort, config.DefaultListenerUdpPort, "UDP port for datagram reporting devices")
	flag.String(config.ListenerProtocolOrder, config.DefaultProtocolOrder, "Protocol decode priority order. Separated by comma")
	flag.Int(config.ListenerUdpQueueSize, config.DefaultUdpQueueSize, "UDP work queue size; packets beyond it are dropped")
	flag.Int(config.ListenerUdpWorkers, config.DefaultUdpWorkers, "Number of UDP worker goroutines")
	// Store configs
	flag.String(config.StoreDsn, config.DefaultStoreDsn, "Postgres DSN of the fleet database")
	// Cache configs
	flag.String(config.CacheRedisUrl, config.DefaultCacheRedisUrl, "Redis URL for the current position cache. Empty disables the cache")
	flag.String(config.CacheSnapshotTtl, config.DefaultCacheSnapshotTtl, "TTL of cached vehicle snapshots")
	// Polling adapter configs
	flag.String(config.PollerUrl, config.DefaultPollerUrl, "Base URL of the third party tracking console. Empty disables polling")
	flag.String(config.PollerUsername, config.DefaultPollerUsername, "Tracking console username")
	flag.String(config.PollerPassword, config.DefaultPollerPassword, "Tracking console password")
	flag.String(config.PollerInterval, config.DefaultPollerInterval, "Polling interval")
	// SMS channel configs
	flag.String(config.SmsGatewayUrl, config.DefaultSmsGatewayUrl, "HTTP SMS gateway URL. Empty disables the SMS command channel")
	flag.String(config.SmsReplyTimeout, config.DefaultSmsReplyTimeout, "How long to wait for a device SMS reply")
	// InfluxDB client configs
	flag.String(config.InfluxConfigUrl, config.DefaultInfluxDbUrl, "URL of InfluxDB server")
	flag.String(config.InfluxConfigUsername, config.DefaultInfluxDbUserName, "InfluxDB username")
	flag.String(config.InfluxConfigPassword, config.DefaultInfluxDbPassword, "InfluxDB password")
	flag.String(config.InfluxConfigDatabase, config.DefaultInfluxDbDatabaseName, "InfluxDB database name")
	flag.String(config.InfluxConfigMeasurement, config.DefaultInfluxDbMeasurementName, "Name of the InfluxDB measurement")
	// Metrics server configs
	flag.String(config.MetricsListeningIp, config.DefaultMetricsListeningIP, "Metrics server listening IP address (IPv4 or IPv6)")
	flag.Int(config.MetricsListeningPort, config.DefaultMetricsListeningPort, "Metrics server listening port")
	flag.String(config.MetricsStateFileName, config.DefaultMetricsStateFileName, "File where metrics are written")

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()
	err = viper.BindPFlags(pflag.CommandLine)
	if err != nil {
		log.Errorf("Failed to bindPFlags. %v", err)
	}

	verbose := viper.GetBool(config.Verbose)
	debug := viper.GetBool(config.Debug)
	if verbose {
		log.SetLevel(logrus.TraceLevel)
		log.Warningf("Active log level: %s", log.GetLevel())
	} else if debug {
		log.SetLevel(logrus.DebugLevel)
		log.Warningf("Active log level: %s", log.GetLevel())
	}

	if logFile := viper.GetString(config.LogFile); logFile != "" {
		config.EnableFileLogging(log, logFile)
	}

	listenerConfig := &config.ListenerConfig{
		Host:          viper.GetString(config.ListenerIp),
		TcpPort:       viper.GetInt(config.ListenerTcpPort),
		UdpPort:       viper.GetInt(config.ListenerUdpPort),
		ProtocolOrder: strings.Split(viper.GetString(config.ListenerProtocolOrder), ","),
		UdpQueueSize:  viper.GetInt(config.ListenerUdpQueueSize),
		UdpWorkers:    viper.GetInt(config.ListenerUdpWorkers),
	}

	storeConfig := &config.StoreConfig{
		Dsn: viper.GetString(config.StoreDsn),
	}

	cacheConfig := &config.CacheConfig{
		RedisUrl:    viper.GetString(config.CacheRedisUrl),
		SnapshotTtl: parseDurationOrDie(log, viper.GetString(config.CacheSnapshotTtl)),
	}

	pollerConfig := &config.PollerConfig{
		Url:      viper.GetString(config.PollerUrl),
		Username: viper.GetString(config.PollerUsername),
		Password: viper.GetString(config.PollerPassword),
		Interval: parseDurationOrDie(log, viper.GetString(config.PollerInterval)),
	}

	smsConfig := &config.SmsConfig{
		GatewayUrl:   viper.GetString(config.SmsGatewayUrl),
		ReplyTimeout: parseDurationOrDie(log, viper.GetString(config.SmsReplyTimeout)),
	}

	influxConfig := &config.InfluxConfig{
		Url:         viper.GetString(config.InfluxConfigUrl),
		Username:    viper.GetString(config.InfluxConfigUsername),
		Password:    viper.GetString(config.InfluxConfigPassword),
		Database:    viper.GetString(config.InfluxConfigDatabase),
		Measurement: viper.GetString(config.InfluxConfigMeasurement),
	}

	metricsConfig := &config.MetricsConfig{
		Host:          viper.GetString(config.MetricsListeningIp),
		Port:          viper.GetInt(config.MetricsListeningPort),
		StateFileName: viper.GetString(config.MetricsStateFileName),
	}

	cfg := config.NewConfig(log, listenerConfig, storeConfig, cacheConfig, pollerConfig, smsConfig, influxConfig, metricsConfig)
	return cfg
}

func parseDurationOrDie(log *logrus.Logger, value string) time.Duration {
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("Invalid duration %q. %v", value, err)
	}
	return duration
}

func main() {
	var wg sync.WaitGroup

	cfg := parseConfig()

	log := cfg.GetLogger()
	log.Tracef("Used listener configuration: %+v", cfg.GetListenerConfig())
	log.Tracef("Used poller configuration: %+v", cfg.GetPollerConfig())
	log.Tracef("Used metrics configuration: %+v", cfg.GetMetricsConfig())

	// Initialize context
	ctxSignals, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx := context.WithValue(ctxSignals, config.ContextConfigKey, cfg)

	// Open the fleet database
	db, err := store.OpenPostgres(cfg.GetStoreConfig().Dsn, log)
	if err != nil {
		log.Fatalf("Failed to open database connection. %v", err)
	}

	fleetStore, err := store.NewGormStore(db)
	if err != nil {
		log.Fatalf("Failed to initialize store. %v", err)
	}

	// Initialize metrics collector
	metrics := mi.NewMetrics(ctx, &wg, cfg.GetMetricsConfig().StateFileName)
	defer func() {
		err := metrics.Close()
		if err != nil {
			log.Errorf("Failed to close metrics. %v", err)
		}
	}()

	hostname, err := os.Hostname()
	if err != nil {
		log.Errorf("Failed to get hostname. %v", err)
	}
	tags := []string{
		fmt.Sprintf("host=%s", hostname),
	}

	// Started below, once the operator routes of the SMS channel are
	// mounted next to /metrics.
	metricsServer := m.NewServer(ctx, &wg, cfg.GetMetricsConfig(), tags, []m.MetricProvider{
		metrics,
	})

	// Applied fix feed with its side sinks
	appliedFeed := feed.NewFeed(ctx)

	influx := influxdb.NewConnection(ctx, cfg.GetInfluxConfig())
	err = influx.Connect()
	if err != nil {
		log.Fatalf("Failed to open influxdb connection. %v", err)
	}
	defer func() {
		err := influx.Close()
		if err != nil {
			log.Errorf("Failed to close influxdb connection. %v", err)
		}
	}()

	appliedFeed.Subscribe(func(data interface{}) error {
		applied, ok := data.(ingest.AppliedFix)
		if !ok {
			return fmt.Errorf("unexpected feed payload %T", data)
		}

		return influx.InsertFix(applied, map[string]string{influxdb.SourceTag: hostname})
	})

	if redisUrl := cfg.GetCacheConfig().RedisUrl; redisUrl != "" {
		snapshotCache, err := cache.NewSnapshotCache(redisUrl, cfg.GetCacheConfig().SnapshotTtl)
		if err != nil {
			log.Fatalf("Failed to initialize snapshot cache. %v", err)
		}
		defer func() {
			err := snapshotCache.Close()
			if err != nil {
				log.Errorf("Failed to close snapshot cache. %v", err)
			}
		}()

		appliedFeed.Subscribe(func(data interface{}) error {
			applied, ok := data.(ingest.AppliedFix)
			if !ok {
				return fmt.Errorf("unexpected feed payload %T", data)
			}
			if !applied.SnapshotUpdated {
				return nil
			}

			return snapshotCache.SetSnapshot(ctx, cache.Snapshot{
				VehicleID: applied.VehicleID,
				Latitude:  applied.Fix.Latitude,
				Longitude: applied.Fix.Longitude,
				Speed:     applied.Fix.Speed,
				Heading:   applied.Fix.Heading,
				Protocol:  applied.Fix.SourceProtocol,
				FixAt:     applied.Fix.Timestamp,
				UpdatedAt: time.Now().UTC(),
			})
		})
	} else {
		log.Infof("Redis URL not configured, snapshot cache disabled.")
	}

	// Ingest pipeline shared by all ingestion paths
	dispatcher, err := protocol.NewDispatcher(cfg.GetListenerConfig().ProtocolOrder)
	if err != nil {
		log.Fatalf("Failed to build protocol dispatcher. %v", err)
	}
	log.Infof("Protocol decode order: %s", strings.Join(dispatcher.Names(), ","))

	registry := ingest.NewRegistry(fleetStore)
	applier := ingest.NewApplier(ctx, fleetStore, appliedFeed)
	pipeline := ingest.NewPipeline(ctx, registry, applier, metrics)

	// Socket listeners
	listenerManager := listener.NewManager(ctx, &wg, cfg.GetListenerConfig().Host, dispatcher, pipeline, metrics, cfg.GetListenerConfig().UdpQueueSize, cfg.GetListenerConfig().UdpWorkers)
	defer func() {
		err := listenerManager.Stop()
		if err != nil {
			log.Errorf("Failed to stop listener manager. %v", err)
		}
	}()

	err = listenerManager.StartTCP(cfg.GetListenerConfig().TcpPort)
	if err != nil {
		log.Fatalf("Failed to start TCP listener. %v", err)
	}

	err = listenerManager.StartUDP(cfg.GetListenerConfig().UdpPort)
	if err != nil {
		log.Fatalf("Failed to start UDP listener. %v", err)
	}

	// Polling adapter for console only devices
	if cfg.GetPollerConfig().Url != "" {
		consolePoller := poller.NewPoller(ctx, &wg, cfg.GetPollerConfig(), pipeline, metrics)
		defer func() {
			err := consolePoller.Stop()
			if err != nil {
				log.Errorf("Failed to stop polling adapter. %v", err)
			}
		}()

		err = consolePoller.Start()
		if err != nil {
			log.Errorf("Failed to start polling adapter. %v", err)
		}
	} else {
		log.Infof("Console URL not configured, polling adapter disabled.")
	}

	// SMS command channel for devices without a socket link. The gateway
	// delivers inbound device replies to /sms/inbound; operators trigger
	// commands on /sms/location and /sms/provision.
	if cfg.GetSmsConfig().GatewayUrl != "" {
		sender := smscmd.NewHTTPSender(cfg.GetSmsConfig().GatewayUrl)
		smsChannel := smscmd.NewChannel(ctx, &wg, sender, dispatcher, pipeline, metrics, cfg.GetSmsConfig().ReplyTimeout)
		smscmd.NewHTTPHandlers(smsChannel, fleetStore).Register(metricsServer)
		log.Infof("SMS command channel enabled via %s", cfg.GetSmsConfig().GatewayUrl)
	} else {
		log.Infof("SMS gateway not configured, command channel disabled.")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		metricsServer.Start()
	}()

	<-ctxSignals.Done()
	log.Infof("Exiting")
	wg.Wait()
}
