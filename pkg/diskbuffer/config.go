package diskbuffer

import (
	"fmt"
	"math"
	"time"

	"github.com/fluxorio/diskbuffer/pkg/config"
)

const (
	// DefaultMaxSegmentSize caps a single segment file.
	DefaultMaxSegmentSize = 128 << 20
	// DefaultWriteBufferSize sizes the writer's coalescing buffer.
	DefaultWriteBufferSize = 256 << 10
	// DefaultFlushInterval bounds how long written records may stay unflushed.
	DefaultFlushInterval = 500 * time.Millisecond

	// minSegmentSize keeps room for at least one small frame.
	minSegmentSize = FrameOverhead + 1
)

// WhenFull selects what a policy writer does when the buffer is at capacity.
type WhenFull string

const (
	WhenFullBlock      WhenFull = "block"
	WhenFullDropNewest WhenFull = "drop_newest"
)

// Config configures a disk buffer.
type Config struct {
	// DataDir holds the ledger, the lock file and the segment files. It must
	// not be shared with any other buffer.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// MaxBufferSize bounds the framed bytes of unacknowledged records.
	// Zero means unbounded.
	MaxBufferSize config.ByteSize `yaml:"max_buffer_size" json:"max_buffer_size"`

	// MaxRecords bounds the number of unacknowledged records. Zero means unbounded.
	MaxRecords uint64 `yaml:"max_records" json:"max_records"`

	// MaxSegmentSize triggers rotation before a write would exceed it.
	MaxSegmentSize config.ByteSize `yaml:"max_segment_size" json:"max_segment_size"`

	// MaxRecordSize bounds a single framed record. Defaults to MaxSegmentSize
	// and may not exceed it, so a record always fits in an empty segment.
	MaxRecordSize config.ByteSize `yaml:"max_record_size" json:"max_record_size"`

	// WriteBufferSize sizes the in-memory buffer in front of the active segment.
	WriteBufferSize config.ByteSize `yaml:"write_buffer_size" json:"write_buffer_size"`

	// FlushInterval makes the writer flush on its own once this much time has
	// passed since the last flush. Zero selects the default; negative disables.
	FlushInterval config.Duration `yaml:"flush_interval" json:"flush_interval"`

	// Compression applied to payloads before framing.
	Compression Compression `yaml:"compression" json:"compression"`

	// WhenFull is consumed by NewPolicyWriter.
	WhenFull WhenFull `yaml:"when_full" json:"when_full"`
}

// DefaultConfig returns the default configuration for dir. MaxRecordSize is
// left unset so that it follows MaxSegmentSize when the buffer is opened.
func DefaultConfig(dir string) Config {
	c := Config{DataDir: dir}.withDefaults()
	c.MaxRecordSize = 0
	return c
}

func (c Config) withDefaults() Config {
	if c.MaxSegmentSize == 0 {
		c.MaxSegmentSize = DefaultMaxSegmentSize
	}
	if c.MaxRecordSize == 0 {
		c.MaxRecordSize = c.MaxSegmentSize
		if c.MaxRecordSize > math.MaxUint32 {
			c.MaxRecordSize = math.MaxUint32
		}
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = DefaultWriteBufferSize
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = config.Duration(DefaultFlushInterval)
	}
	if c.Compression == "" {
		c.Compression = CompressionNone
	}
	if c.WhenFull == "" {
		c.WhenFull = WhenFullBlock
	}
	return c
}

// Validate checks the configuration after defaults have been applied.
func (c Config) Validate() error {
	c = c.withDefaults()
	err := config.Validate(&c,
		config.RequiredFields("DataDir"),
		config.RangeValidator("MaxSegmentSize", minSegmentSize, math.MaxInt64),
		config.RangeValidator("MaxRecordSize", minSegmentSize, math.MaxUint32),
		config.OneOf("Compression", string(CompressionNone), string(CompressionZstd), string(CompressionLZ4)),
		config.OneOf("WhenFull", string(WhenFullBlock), string(WhenFullDropNewest)),
	)
	if err != nil {
		return err
	}
	if c.MaxRecordSize > c.MaxSegmentSize {
		return fmt.Errorf("validation failed: max_record_size %s exceeds max_segment_size %s", c.MaxRecordSize, c.MaxSegmentSize)
	}
	if c.WriteBufferSize > math.MaxInt32 {
		return fmt.Errorf("validation failed: write_buffer_size %s is too large", c.WriteBufferSize)
	}
	return nil
}

func (c Config) flushInterval() time.Duration {
	if c.FlushInterval < 0 {
		return 0
	}
	return c.FlushInterval.Std()
}

// maxPayload bounds declared lengths when decoding. Records written under an
// older, larger limit stay readable.
func (c Config) maxPayload() uint32 {
	limit := uint64(c.MaxRecordSize)
	if limit < DefaultMaxSegmentSize {
		limit = DefaultMaxSegmentSize
	}
	if limit > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(limit)
}
