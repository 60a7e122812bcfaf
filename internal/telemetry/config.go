package telemetry

import "codeberg.org/sverin/daqctl/internal/errors"

const (
	defaultDirPerm      = 0o755
	defaultDBPath       = "/var/lib/daqctl/telemetry.db"
	defaultBatchSize    = 32
	defaultBatchTimeout = 30
)

type Config struct {
	DBPath       string
	Enabled      bool
	BatchSize    int
	BatchTimeout int // seconds
}

func DefaultConfig() Config {
	return Config{
		DBPath:       defaultDBPath,
		Enabled:      false,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate DBPath if telemetry is enabled
	if c.Enabled && c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.Enabled && (c.BatchSize <= 0 || c.BatchTimeout <= 0) {
		return errFactory.New(ErrInvalidConfig)
	}

	return nil
}
