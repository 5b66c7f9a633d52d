package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testBufferConfig struct {
	Buffer struct {
		DataDir        string   `yaml:"data_dir" json:"data_dir"`
		MaxSegmentSize ByteSize `yaml:"max_segment_size" json:"max_segment_size"`
		MaxRecords     uint64   `yaml:"max_records" json:"max_records"`
		FlushInterval  Duration `yaml:"flush_interval" json:"flush_interval"`
		Compression    string   `yaml:"compression" json:"compression"`
	} `yaml:"buffer" json:"buffer"`
	Producer struct {
		Rate     int           `yaml:"rate" json:"rate"`
		Interval time.Duration `yaml:"interval" json:"interval"`
	} `yaml:"producer" json:"producer"`
}

func TestLoadYAML(t *testing.T) {
	path := createTempFile(t, "buffer.yaml", `
buffer:
  data_dir: /var/lib/diskbuf
  max_segment_size: 64MiB
  max_records: 1000
  flush_interval: 250ms
producer:
  rate: 10
`)

	var cfg testBufferConfig
	if err := LoadYAML(path, &cfg); err != nil {
		t.Fatalf("LoadYAML failed: %v", err)
	}

	if cfg.Buffer.DataDir != "/var/lib/diskbuf" {
		t.Errorf("Buffer.DataDir = %v, want /var/lib/diskbuf", cfg.Buffer.DataDir)
	}
	if cfg.Buffer.MaxSegmentSize != 64<<20 {
		t.Errorf("Buffer.MaxSegmentSize = %d, want %d", cfg.Buffer.MaxSegmentSize, 64<<20)
	}
	if cfg.Buffer.MaxRecords != 1000 {
		t.Errorf("Buffer.MaxRecords = %d, want 1000", cfg.Buffer.MaxRecords)
	}
	if cfg.Buffer.FlushInterval.Std() != 250*time.Millisecond {
		t.Errorf("Buffer.FlushInterval = %v, want 250ms", cfg.Buffer.FlushInterval)
	}
}

func TestLoadYAML_RejectsUnknownKeys(t *testing.T) {
	path := createTempFile(t, "typo.yaml", `
buffer:
  max_segmnet_size: 1MiB
`)
	var cfg testBufferConfig
	if err := LoadYAML(path, &cfg); err == nil {
		t.Fatal("expected an error for an unknown key")
	}
}

func TestLoadJSON(t *testing.T) {
	path := createTempFile(t, "buffer.json", `{
  "buffer": {
    "data_dir": "/tmp/buf",
    "max_segment_size": 4096,
    "flush_interval": "1s"
  }
}`)

	var cfg testBufferConfig
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Buffer.MaxSegmentSize != 4096 {
		t.Errorf("Buffer.MaxSegmentSize = %d, want 4096", cfg.Buffer.MaxSegmentSize)
	}
	if cfg.Buffer.FlushInterval.Std() != time.Second {
		t.Errorf("Buffer.FlushInterval = %v, want 1s", cfg.Buffer.FlushInterval)
	}
}

func TestLoadWithEnv(t *testing.T) {
	path := createTempFile(t, "env.yaml", `
buffer:
  data_dir: /from/file
  max_segment_size: 1MiB
producer:
  rate: 5
`)

	t.Setenv("DISKBUF_BUFFER_DATA_DIR", "/from/env")
	t.Setenv("DISKBUF_BUFFER_MAX_SEGMENT_SIZE", "2MiB")
	t.Setenv("DISKBUF_BUFFER_FLUSH_INTERVAL", "2s")
	t.Setenv("DISKBUF_PRODUCER_INTERVAL", "15ms")

	var cfg testBufferConfig
	if err := LoadWithEnv(path, "", &cfg); err != nil {
		t.Fatalf("LoadWithEnv failed: %v", err)
	}

	if cfg.Buffer.DataDir != "/from/env" {
		t.Errorf("Buffer.DataDir = %v, want /from/env", cfg.Buffer.DataDir)
	}
	if cfg.Buffer.MaxSegmentSize != 2<<20 {
		t.Errorf("Buffer.MaxSegmentSize = %d, want %d", cfg.Buffer.MaxSegmentSize, 2<<20)
	}
	if cfg.Buffer.FlushInterval.Std() != 2*time.Second {
		t.Errorf("Buffer.FlushInterval = %v, want 2s", cfg.Buffer.FlushInterval)
	}
	if cfg.Producer.Interval != 15*time.Millisecond {
		t.Errorf("Producer.Interval = %v, want 15ms", cfg.Producer.Interval)
	}
	// No env override for rate.
	if cfg.Producer.Rate != 5 {
		t.Errorf("Producer.Rate = %v, want 5", cfg.Producer.Rate)
	}
}

func TestParseByteSize(t *testing.T) {
	cases := map[string]uint64{
		"":       0,
		"512":    512,
		"1KiB":   1024,
		"1 kB":   1000,
		"128MiB": 128 << 20,
	}
	for in, want := range cases {
		got, err := ParseByteSize(in)
		if err != nil {
			t.Fatalf("ParseByteSize(%q): %v", in, err)
		}
		if got.Bytes() != want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", in, got, want)
		}
	}
	if _, err := ParseByteSize("lots"); err == nil {
		t.Error("expected error for an invalid size")
	}
}

func TestRequiredFields(t *testing.T) {
	var cfg testBufferConfig

	validator := RequiredFields("Buffer.DataDir")
	if err := validator.Validate(&cfg); err == nil {
		t.Error("RequiredFields should fail for empty DataDir")
	}

	cfg.Buffer.DataDir = "/tmp/buf"
	if err := validator.Validate(&cfg); err != nil {
		t.Errorf("RequiredFields should pass for valid config: %v", err)
	}
}

func TestRangeValidator(t *testing.T) {
	var cfg testBufferConfig
	cfg.Buffer.MaxSegmentSize = 10

	validator := RangeValidator("Buffer.MaxSegmentSize", 4096, 1<<30)
	if err := validator.Validate(&cfg); err == nil {
		t.Error("RangeValidator should fail for value below minimum")
	}

	cfg.Buffer.MaxSegmentSize = 1 << 20
	if err := validator.Validate(&cfg); err != nil {
		t.Errorf("RangeValidator should pass for value in range: %v", err)
	}
}

func TestOneOf(t *testing.T) {
	var cfg testBufferConfig
	v := OneOf("Buffer.Compression", "none", "zstd", "lz4")

	if err := v.Validate(&cfg); err != nil {
		t.Errorf("empty value should be accepted: %v", err)
	}
	cfg.Buffer.Compression = "zstd"
	if err := Validate(&cfg, v); err != nil {
		t.Errorf("zstd should be accepted: %v", err)
	}
	cfg.Buffer.Compression = "gzip"
	if err := Validate(&cfg, v); err == nil {
		t.Error("gzip should be rejected")
	}
}

func createTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	return path
}
