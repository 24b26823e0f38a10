package blob

import (
	"context"
	"fmt"

	"ordergate/internal/infra/blob/fs"
	"ordergate/internal/infra/blob/memory"
	"ordergate/internal/infra/blob/s3"
)

// S3Config carries bucket and credential settings for the s3 driver.
type S3Config = s3.Config

// Config selects and configures a blob driver.
type Config struct {
	Driver string   `toml:"driver"`  // fs|s3|memory (default fs)
	Root   string   `toml:"fs_root"` // directory root when driver=fs
	S3     S3Config `toml:"s3"`
}

// Open returns the Store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := Driver(cfg.Driver)
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return fs.New(cfg.Root)
	case DriverS3:
		return s3.New(ctx, cfg.S3)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// NewMemory returns an in-process store.
func NewMemory() Store { return memory.New() }

// NewS3MockForTests returns an s3 driver backed by an in-memory fake transport.
func NewS3MockForTests() Store { return s3.NewMockForTests() }
