package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// cli carries the configuration shared by all commands.
type cli struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "tierctl",
		Short:         "Inspect and manage a tiered index directory",
		Long:          `tierctl operates on a local index directory whose files are uploaded to a remote object store and read back through a bounded cache.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.initConfig()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML config file")
	flags.String("dir", "./index", "Local index directory")
	flags.Int64("cache-capacity", 256<<20, "File cache capacity in bytes")
	flags.Int("block-size", 8<<10, "Block size for uploads and remote reads")
	flags.String("block-dir", "", "Directory for the on-disk block cache (disabled if empty)")
	flags.Int64("block-dir-size", 1<<30, "Maximum bytes of the on-disk block cache")
	flags.String("remote-kind", "local", "Remote store kind: local, s3, minio or gcs")
	flags.String("remote-path", "./remote", "Root directory of the local remote store")
	flags.String("remote-bucket", "", "Bucket of the remote store")
	flags.String("remote-prefix", "", "Key prefix inside the bucket")
	flags.String("remote-endpoint", "", "Endpoint of an S3-compatible or MinIO server")
	flags.String("remote-region", "", "Region of the remote store")
	flags.String("remote-access-key", "", "Static access key")
	flags.String("remote-secret-key", "", "Static secret key")
	flags.Bool("remote-secure", true, "Use TLS for MinIO")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "text", "Log format: text or json")
	flags.String("log-file", "", "Write logs to a rotating file instead of stderr")

	c.bind(flags, map[string]string{
		"config":               "config",
		"dir":                  "dir",
		"cache.capacity":       "cache-capacity",
		"cache.block_size":     "block-size",
		"cache.block_dir":      "block-dir",
		"cache.block_dir_size": "block-dir-size",
		"remote.kind":          "remote-kind",
		"remote.path":          "remote-path",
		"remote.bucket":        "remote-bucket",
		"remote.prefix":        "remote-prefix",
		"remote.endpoint":      "remote-endpoint",
		"remote.region":        "remote-region",
		"remote.access_key":    "remote-access-key",
		"remote.secret_key":    "remote-secret-key",
		"remote.secure":        "remote-secure",
		"log.level":            "log-level",
		"log.format":           "log-format",
		"log.file":             "log-file",
	})

	rootCmd.AddCommand(
		c.putCmd(),
		c.catCmd(),
		c.lsCmd(),
		c.statCmd(),
		c.switchCmd(),
		c.pruneCmd(),
	)
	return rootCmd
}

func (c *cli) bind(flags *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		_ = c.v.BindPFlag(key, flags.Lookup(flag))
	}
}

func (c *cli) initConfig() error {
	c.v.SetEnvPrefix("TIERSTORE")
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	c.v.AutomaticEnv()

	if file := c.v.GetString("config"); file != "" {
		c.v.SetConfigFile(file)
		if err := c.v.ReadInConfig(); err != nil {
			return err
		}
	}
	return nil
}
