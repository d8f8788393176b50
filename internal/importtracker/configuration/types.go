package configuration

import (
	"time"

	"github.com/armadaproject/importtracker/internal/common/logging"
	"github.com/armadaproject/importtracker/internal/importtracker/transport"
)

const (
	TransportMemory = "memory"
	TransportPulsar = "pulsar"
	TransportNats   = "nats"
	TransportRedis  = "redis"
)

const (
	IdentityStatic = "static"
	IdentityHeader = "header"
)

type TransportConfig struct {
	// One of memory, pulsar, nats or redis.
	Type   string
	Memory MemoryConfig
	Pulsar transport.PulsarConfig
	Nats   transport.NatsConfig
	Redis  transport.RedisConfig
}

type MemoryConfig struct {
	BufferSize int
}

type IdentityConfig struct {
	// static: every submission is made by UserId. header: the user id is read from Header.
	Type   string
	UserId string
	Header string
}

type FakeWorkerConfig struct {
	// Run the fake worker inside the tracker process. Only useful with the memory transport.
	Enabled bool
	// How long the fake worker pretends to work on each import.
	Delay       time.Duration
	Concurrency int
}

type ImportTrackerConfiguration struct {
	HttpPort    uint16
	MetricsPort uint16

	Logging logging.Config

	// The subsystem whose channels this instance consumes.
	Subsystem string
	// Subsystems accepted for submission.
	SupportedSubsystems []string

	// Processing jobs not updated for longer than this are reported Done.
	StalenessThreshold time.Duration
	// Number of lock stripes in the status index.
	IndexStripes int
	// Index entries not updated for this long are evicted.
	IdleTTL          time.Duration
	EvictionInterval time.Duration
	// How long an admission blocks its target while waiting for the relay.
	AdmissionTTL time.Duration

	// Consumers per channel.
	RelayConcurrency  int
	StatusConcurrency int
	// Subscription or queue group name used for every channel.
	ConsumerGroup string
	// Number of message ids remembered to skip redelivered status messages.
	DedupCacheSize int

	PublishRetry transport.RetryConfig
	HandlerRetry transport.RetryConfig

	Transport  TransportConfig
	Identity   IdentityConfig
	FakeWorker FakeWorkerConfig
}
