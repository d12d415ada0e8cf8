package metrics

import "time"

// Label values shared by the collectors.
const (
	// LabelSuccess marks a completed operation.
	LabelSuccess = "success"
	// LabelFailure marks a failed operation.
	LabelFailure = "failure"
	// LabelOnline is the probe outcome for a printer worth photographing.
	LabelOnline = "online"
	// LabelOffline is the probe outcome for a printer that is not.
	LabelOffline = "offline"
	// LabelSkipped is the probe outcome when no address is configured.
	LabelSkipped = "skipped"
	// LabelAccepted marks a button edge that toggled the light.
	LabelAccepted = "accepted"
	// LabelRejected marks a button edge dropped by the debouncer.
	LabelRejected = "rejected"
	// LabelTransportError is the upload code label when no response arrived.
	LabelTransportError = "error"
	// Label2xx is the upload code label for accepted snapshots.
	Label2xx = "2xx"
)

// Histogram bucket configuration.
const (
	// BucketStart10ms is the starting bucket for stage timings (10ms to ~40s range).
	BucketStart10ms = 0.01
	// BucketStart1s is the starting bucket for cycle timings (1s to ~17min range).
	BucketStart1s = 1.0
	// BucketStart64B is the starting bucket for message sizes.
	BucketStart64B = 64.0
	// BucketStart1ms is the starting bucket for publish latency.
	BucketStart1ms = 0.001

	// BucketFactor2 is the exponential growth factor for every histogram.
	BucketFactor2 = 2

	// BucketCount10 defines 10 exponential buckets.
	BucketCount10 = 10
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
)

// ShutdownTimeout bounds graceful shutdown of metric consumers.
const ShutdownTimeout = 5 * time.Second
