package config

import "time"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultDataDir      = "./data/dbpulse"
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 48
	DefaultMongoDB      = "perfmon"
)

// Loop floors. Intervals configured below these are raised at startup.
const (
	MinSamplingInterval = 1 * time.Second
	MinRollupInterval   = 5 * time.Second
	MinAlertInterval    = 1 * time.Second

	SamplerMinSleep = 100 * time.Millisecond
	RollupMinSleep  = 500 * time.Millisecond
	AlertsMinSleep  = 100 * time.Millisecond
)

// Background maintenance
const (
	BadgerGCInterval     = 10 * time.Minute
	BadgerGCDiscardRatio = 0.5
	StorePingTimeout     = 5 * time.Second
	NotifyTimeout        = 5 * time.Second
	DefaultStatusTimeout = 5 * time.Second
)

// API timeouts and limits
const (
	RequestTimeout       = 10 * time.Second
	DefaultSampleWindow  = 1 * time.Hour
	DefaultSamplesLimit  = 1000
	MaxSamplesLimit      = 5000
	DefaultRollupWindow  = 24 * time.Hour
	DefaultEventsLimit   = 100
	MaxEventsLimit       = 500
	MaxEventsOffset      = 100000
	MaxRequestBodyBytes  = 1 << 20
	ReadHeaderTimeout    = 10 * time.Second
	DefaultShutdownGrace = 30 * time.Second
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 16
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
