package influxdb

import (
	"context"
	"fmt"
	"strconv"

	_ "github.com/influxdata/influxdb1-client" // this is important because of the bug in go mod
	client "github.com/influxdata/influxdb1-client/v2"

	"github.com/fleetgate/fleetgate/config"
	"github.com/fleetgate/fleetgate/ingest"
)

const SourceTag = "source"

/*
Connection writes the applied fix trail into InfluxDB as a side sink next
to the relational history, for dashboards fed by Telegraf/Grafana. Failures
here never fail the ingest path.
*/
type Connection struct {
	ctx                context.Context
	url                string
	username           string
	password           string
	insecureSkipVerify bool
	measurement        string
	database           string

	client client.Client
}

func NewConnection(ctx context.Context, cfg *config.InfluxConfig) *Connection {
	return &Connection{
		ctx:                ctx,
		url:                cfg.Url,
		username:           cfg.Username,
		password:           cfg.Password,
		insecureSkipVerify: false,
		measurement:        cfg.Measurement,
		database:           cfg.Database,
	}
}

func (c *Connection) Connect() error {
	var err error

	c.client, err = client.NewHTTPClient(client.HTTPConfig{
		Addr:               c.url,
		Username:           c.username,
		Password:           c.password,
		InsecureSkipVerify: c.insecureSkipVerify,
	})

	if err != nil {
		return fmt.Errorf("error creating InfluxDB Client. %v", err)
	}

	return nil
}

func (c *Connection) Close() error {
	err := c.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close influxdb connection. %v", err)
	}
	return nil
}

func (c *Connection) renderTags(applied ingest.AppliedFix) map[string]string {
	return map[string]string{
		"vehicleId": strconv.FormatUint(uint64(applied.VehicleID), 10),
		"deviceId":  strconv.FormatUint(uint64(applied.DeviceID), 10),
		"protocol":  applied.Fix.SourceProtocol,
	}
}

func (c *Connection) renderFields(applied ingest.AppliedFix) map[string]interface{} {
	return map[string]interface{}{
		"latitude":        applied.Fix.Latitude,
		"longitude":       applied.Fix.Longitude,
		"speed":           applied.Fix.Speed,
		"heading":         applied.Fix.Heading,
		"altitude":        applied.Fix.Altitude,
		"snapshotUpdated": applied.SnapshotUpdated,
	}
}

/*
InsertFix writes one applied fix as a point. Extra tags (the ingest source
address, say) are merged in without overriding the record tags.
*/
func (c *Connection) InsertFix(applied ingest.AppliedFix, extraTags map[string]string) error {
	log := config.GetLogger(c.ctx)

	if c.client == nil {
		return fmt.Errorf("influxDB client must not be nil. Please check your influxdb connection")
	}

	tags := c.renderTags(applied)
	for k, v := range extraTags {
		_, ok := tags[k]
		if ok {
			log.Warningf("'%s' key already exist in record related tags. Ignore it in extra tags list.", k)
			continue
		}

		tags[k] = v
	}

	batchPointsConfig := client.BatchPointsConfig{
		Database: c.database,
	}

	bps, err := client.NewBatchPoints(batchPointsConfig)
	if err != nil {
		return fmt.Errorf("failed to create new batch point config. %v", err)
	}

	point, err := client.NewPoint(c.measurement, tags, c.renderFields(applied), applied.Fix.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to create new point. %v", err)
	}
	bps.AddPoint(point)

	err = c.client.Write(bps)
	if err != nil {
		return fmt.Errorf("failed to write batch points into influxdb. %v", err)
	}

	return nil
}
