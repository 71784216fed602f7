package metrics

// GatewayMetricsInterface collects the ingest counters the operator
// dashboard derives device health and failure rates from.
type GatewayMetricsInterface interface {
	AddSentBytes(count uint64)
	AddReceivedBytes(count uint64)
	AddSentFrames(count uint64)
	AddReceivedFrames(count uint64)
	AddMalformedFrames(count uint64)
	AddDroppedFrames(count uint64)
	AddAppliedFixes(count uint64)
	AddUnresolvedDevices(count uint64)
	AddTrackingDisabledFixes(count uint64)
	AddInvalidFixes(count uint64)
	AddPersistenceErrors(count uint64)
	AddUpstreamErrors(count uint64)
	AddCommandTimeouts(count uint64)
}
