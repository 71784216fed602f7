package ingest

import (
	"context"
	"errors"

	"github.com/fleetgate/fleetgate/config"
	"github.com/fleetgate/fleetgate/fix"
	"github.com/fleetgate/fleetgate/metrics"
)

/*
Pipeline is the convergence point of every ingestion path: socket listener,
polling adapter and SMS command channel all hand their decoded fixes here.
Resolution and application failures are classified into counters but stay
local to the one fix, the callers keep running.
*/
type Pipeline struct {
	ctx      context.Context
	registry *Registry
	applier  *Applier
	metrics  metrics.GatewayMetricsInterface
}

func NewPipeline(ctx context.Context, registry *Registry, applier *Applier, m metrics.GatewayMetricsInterface) *Pipeline {
	return &Pipeline{
		ctx:      ctx,
		registry: registry,
		applier:  applier,
		metrics:  m,
	}
}

func (p *Pipeline) Ingest(ctx context.Context, f fix.LocationFix) error {
	log := config.GetLogger(p.ctx)

	device, vehicle, err := p.registry.Resolve(ctx, f.DeviceIdentifier)
	if err != nil {
		switch {
		case errors.Is(err, ErrTrackingDisabled):
			log.Infof("Fix dropped, tracking disabled: %v", err)
			p.addTrackingDisabledFixes(1)
		case errors.Is(err, ErrUnresolvedDevice):
			log.Infof("Fix dropped, unresolved device: %v", err)
			p.addUnresolvedDevices(1)
		default:
			log.Errorf("Resolution failed: %v", err)
			p.addPersistenceErrors(1)
		}
		return err
	}

	err = p.applier.Apply(ctx, vehicle, device, f)
	if err != nil {
		if errors.Is(err, fix.ErrInvalidCoordinate) {
			log.Warningf("Fix rejected, invalid coordinates: %v", err)
			p.addInvalidFixes(1)
		} else {
			log.Errorf("Failed to apply fix for vehicle %d: %v", vehicle.ID, err)
			p.addPersistenceErrors(1)
		}
		return err
	}

	p.addAppliedFixes(1)

	return nil
}

func (p *Pipeline) addAppliedFixes(count uint64) {
	if p.metrics != nil {
		p.metrics.AddAppliedFixes(count)
	}
}

func (p *Pipeline) addUnresolvedDevices(count uint64) {
	if p.metrics != nil {
		p.metrics.AddUnresolvedDevices(count)
	}
}

func (p *Pipeline) addTrackingDisabledFixes(count uint64) {
	if p.metrics != nil {
		p.metrics.AddTrackingDisabledFixes(count)
	}
}

func (p *Pipeline) addInvalidFixes(count uint64) {
	if p.metrics != nil {
		p.metrics.AddInvalidFixes(count)
	}
}

func (p *Pipeline) addPersistenceErrors(count uint64) {
	if p.metrics != nil {
		p.metrics.AddPersistenceErrors(count)
	}
}
