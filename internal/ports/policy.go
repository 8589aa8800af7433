package ports

import "time"

type DedupMode string

const (
	DedupOff    DedupMode = "off"
	DedupBatch  DedupMode = "batch"
	DedupGlobal DedupMode = "global"
)

type Policy struct {
	FlushThreshold int           `yaml:"flush_threshold"`
	IdleFlush      time.Duration `yaml:"idle_flush"`
	Dedup          DedupMode     `yaml:"dedup"`
	Workers        int           `yaml:"workers"`

	MaxWALSizeBytes int64         `yaml:"max_wal_size_bytes"`
	MaxQueueLen     int           `yaml:"max_queue_len"`
	MaxBatchSize    int           `yaml:"max_publish_batch"`
	IdleSleep       time.Duration `yaml:"idle_sleep"`

	EmitMaxTries    uint          `yaml:"emit_max_tries"`
	PublishMaxTries uint          `yaml:"publish_max_tries"`
	RetryInitial    time.Duration `yaml:"retry_initial"`
	RetryMax        time.Duration `yaml:"retry_max"`

	OnWALFull   string `yaml:"on_wal_full"`   // "block", "reject"
	OnQueueFull string `yaml:"on_queue_full"` // "block", "drop"
}
