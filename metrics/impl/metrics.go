package impl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleetgate/fleetgate/config"
)

type Metrics struct {
	ctx      context.Context
	wg       *sync.WaitGroup
	values   *persistentMetrics
	fileName string
}

type persistentMetrics struct {
	SentBytes             uint64
	ReceivedBytes         uint64
	SentFrames            uint64
	ReceivedFrames        uint64
	MalformedFrames       uint64
	DroppedFrames         uint64
	AppliedFixes          uint64
	UnresolvedDevices     uint64
	TrackingDisabledFixes uint64
	InvalidFixes          uint64
	PersistenceErrors     uint64
	UpstreamErrors        uint64
	CommandTimeouts       uint64
}

func NewMetrics(ctx context.Context, wg *sync.WaitGroup, fileName string) *Metrics {
	metrics := &Metrics{
		ctx:      ctx,
		wg:       wg,
		fileName: fileName,
		values:   &persistentMetrics{},
	}

	ticker := time.NewTicker(60 * time.Second)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := metrics.save()
				if err != nil {
					logrus.Errorf("Failed to save metrics. %v", err)
				}
			}
		}
	}()

	err := metrics.load()
	if err != nil {
		logrus.Warnf("Failed to load previously saved metrics. %v", err)
	}

	return metrics
}

func (m *Metrics) Close() error {
	err := m.save()
	if err != nil {
		return fmt.Errorf("failed to save metrics data. %v", err)
	}

	return nil
}

func (m *Metrics) AddSentBytes(count uint64) {
	atomic.AddUint64(&m.values.SentBytes, count)
}

func (m *Metrics) GetSentBytes() uint64 {
	return atomic.LoadUint64(&m.values.SentBytes)
}

func (m *Metrics) AddReceivedBytes(count uint64) {
	atomic.AddUint64(&m.values.ReceivedBytes, count)
}

func (m *Metrics) GetReceivedBytes() uint64 {
	return atomic.LoadUint64(&m.values.ReceivedBytes)
}

func (m *Metrics) AddSentFrames(count uint64) {
	atomic.AddUint64(&m.values.SentFrames, count)
}

func (m *Metrics) GetSentFrames() uint64 {
	return atomic.LoadUint64(&m.values.SentFrames)
}

func (m *Metrics) AddReceivedFrames(count uint64) {
	atomic.AddUint64(&m.values.ReceivedFrames, count)
}

func (m *Metrics) GetReceivedFrames() uint64 {
	return atomic.LoadUint64(&m.values.ReceivedFrames)
}

func (m *Metrics) AddMalformedFrames(count uint64) {
	atomic.AddUint64(&m.values.MalformedFrames, count)
}

func (m *Metrics) GetMalformedFrames() uint64 {
	return atomic.LoadUint64(&m.values.MalformedFrames)
}

func (m *Metrics) AddDroppedFrames(count uint64) {
	atomic.AddUint64(&m.values.DroppedFrames, count)
}

func (m *Metrics) GetDroppedFrames() uint64 {
	return atomic.LoadUint64(&m.values.DroppedFrames)
}

func (m *Metrics) AddAppliedFixes(count uint64) {
	atomic.AddUint64(&m.values.AppliedFixes, count)
}

func (m *Metrics) GetAppliedFixes() uint64 {
	return atomic.LoadUint64(&m.values.AppliedFixes)
}

func (m *Metrics) AddUnresolvedDevices(count uint64) {
	atomic.AddUint64(&m.values.UnresolvedDevices, count)
}

func (m *Metrics) GetUnresolvedDevices() uint64 {
	return atomic.LoadUint64(&m.values.UnresolvedDevices)
}

func (m *Metrics) AddTrackingDisabledFixes(count uint64) {
	atomic.AddUint64(&m.values.TrackingDisabledFixes, count)
}

func (m *Metrics) GetTrackingDisabledFixes() uint64 {
	return atomic.LoadUint64(&m.values.TrackingDisabledFixes)
}

func (m *Metrics) AddInvalidFixes(count uint64) {
	atomic.AddUint64(&m.values.InvalidFixes, count)
}

func (m *Metrics) GetInvalidFixes() uint64 {
	return atomic.LoadUint64(&m.values.InvalidFixes)
}

func (m *Metrics) AddPersistenceErrors(count uint64) {
	atomic.AddUint64(&m.values.PersistenceErrors, count)
}

func (m *Metrics) GetPersistenceErrors() uint64 {
	return atomic.LoadUint64(&m.values.PersistenceErrors)
}

func (m *Metrics) AddUpstreamErrors(count uint64) {
	atomic.AddUint64(&m.values.UpstreamErrors, count)
}

func (m *Metrics) GetUpstreamErrors() uint64 {
	return atomic.LoadUint64(&m.values.UpstreamErrors)
}

func (m *Metrics) AddCommandTimeouts(count uint64) {
	atomic.AddUint64(&m.values.CommandTimeouts, count)
}

func (m *Metrics) GetCommandTimeouts() uint64 {
	return atomic.LoadUint64(&m.values.CommandTimeouts)
}

/*
Provides metrics in InfluxDB line protocol format
*/
func (m *Metrics) MetricRendererHandler() (string, map[string]uint64) {
	log := config.GetLogger(m.ctx)

	err := m.save()
	if err != nil {
		log.Errorf("Failed to persist metric counters! %v", err)
	}

	metricName := config.AppName
	metrics := map[string]uint64{
		"SentBytes":             m.GetSentBytes(),
		"ReceivedBytes":         m.GetReceivedBytes(),
		"SentFrames":            m.GetSentFrames(),
		"ReceivedFrames":        m.GetReceivedFrames(),
		"MalformedFrames":       m.GetMalformedFrames(),
		"DroppedFrames":         m.GetDroppedFrames(),
		"AppliedFixes":          m.GetAppliedFixes(),
		"UnresolvedDevices":     m.GetUnresolvedDevices(),
		"TrackingDisabledFixes": m.GetTrackingDisabledFixes(),
		"InvalidFixes":          m.GetInvalidFixes(),
		"PersistenceErrors":     m.GetPersistenceErrors(),
		"UpstreamErrors":        m.GetUpstreamErrors(),
		"CommandTimeouts":       m.GetCommandTimeouts(),
	}

	return metricName, metrics
}

func (m *Metrics) save() error {
	if m.fileName == "" {
		return fmt.Errorf("filename must not be empty")
	}

	jsonData, err := json.MarshalIndent(m.values, "", " ")
	if err != nil {
		return fmt.Errorf("failed to serialize metric data into json format. %v", err)
	}

	err = os.WriteFile(m.fileName, jsonData, 0600)
	if err != nil {
		return fmt.Errorf("failed to write metric data into file. %v", err)
	}

	return nil
}

func (m *Metrics) load() error {
	if m.fileName == "" {
		return fmt.Errorf("filename must not be empty")
	}

	jsonData, err := os.ReadFile(m.fileName)
	if err != nil {
		return fmt.Errorf("failed to read metric data file. %v", err)
	}

	err = json.Unmarshal(jsonData, m.values)
	if err != nil {
		return fmt.Errorf("failed to unmarshal metric data json. %v", err)
	}

	return nil
}
