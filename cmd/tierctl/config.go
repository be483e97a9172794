package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hupe1980/tierstore"
	"github.com/hupe1980/tierstore/blobstore"
	"github.com/hupe1980/tierstore/blobstore/gcs"
	"github.com/hupe1980/tierstore/blobstore/minio"
	"github.com/hupe1980/tierstore/blobstore/s3"
)

func (c *cli) logger() (*tierstore.Logger, io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.v.GetString("log.level"))); err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}

	var (
		w      io.Writer = os.Stderr
		closer io.Closer = io.NopCloser(nil)
	)
	if file := c.v.GetString("log.file"); file != "" {
		lj := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			Compress:   true,
		}
		w, closer = lj, lj
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(c.v.GetString("log.format")) {
	case "json":
		return tierstore.NewLogger(slog.NewJSONHandler(w, opts)), closer, nil
	case "text", "":
		return tierstore.NewLogger(slog.NewTextHandler(w, opts)), closer, nil
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", c.v.GetString("log.format"))
	}
}

func (c *cli) remote(ctx context.Context) (blobstore.BlobStore, error) {
	bucket := c.v.GetString("remote.bucket")
	prefix := c.v.GetString("remote.prefix")

	switch kind := c.v.GetString("remote.kind"); kind {
	case "local":
		root := c.v.GetString("remote.path")
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, err
		}
		return blobstore.NewLocalStore(root), nil
	case "s3":
		opts := []s3.Option{s3.WithPrefix(prefix)}
		if region := c.v.GetString("remote.region"); region != "" {
			opts = append(opts, s3.WithRegion(region))
		}
		if endpoint := c.v.GetString("remote.endpoint"); endpoint != "" {
			opts = append(opts, s3.WithEndpoint(endpoint))
		}
		if key := c.v.GetString("remote.access_key"); key != "" {
			opts = append(opts, s3.WithStaticCredentials(key, c.v.GetString("remote.secret_key")))
		}
		return s3.New(ctx, bucket, opts...)
	case "minio":
		return minio.New(minio.Config{
			Endpoint:  c.v.GetString("remote.endpoint"),
			AccessKey: c.v.GetString("remote.access_key"),
			SecretKey: c.v.GetString("remote.secret_key"),
			Secure:    c.v.GetBool("remote.secure"),
			Region:    c.v.GetString("remote.region"),
			Bucket:    bucket,
			Prefix:    prefix,
		})
	case "gcs":
		return gcs.New(ctx, bucket, prefix)
	default:
		return nil, fmt.Errorf("unknown remote kind %q", kind)
	}
}

// open opens the configured directory. The returned function closes it
// and the log output.
func (c *cli) open(ctx context.Context) (*tierstore.CompositeDirectory, func() error, error) {
	logger, logCloser, err := c.logger()
	if err != nil {
		return nil, nil, err
	}
	store, err := c.remote(ctx)
	if err != nil {
		return nil, nil, err
	}

	opts := []tierstore.Option{
		tierstore.WithLogger(logger),
		tierstore.WithCacheCapacity(c.v.GetInt64("cache.capacity")),
		tierstore.WithBlockSize(c.v.GetInt("cache.block_size")),
	}
	if dir := c.v.GetString("cache.block_dir"); dir != "" {
		opts = append(opts, tierstore.WithBlockCacheDir(dir, c.v.GetInt64("cache.block_dir_size")))
	}

	d, err := tierstore.Open(ctx, c.v.GetString("dir"), store, opts...)
	if err != nil {
		return nil, nil, err
	}
	return d, func() error {
		err := d.Close()
		_ = logCloser.Close()
		return err
	}, nil
}
