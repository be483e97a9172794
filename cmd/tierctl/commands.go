package main

import (
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/tierstore"
	"github.com/hupe1980/tierstore/directory"
)

// withDir runs fn against the configured directory and closes it afterwards.
func (c *cli) withDir(cmd *cobra.Command, fn func(d *tierstore.CompositeDirectory) error) (err error) {
	d, closeFn, err := c.open(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); err == nil {
			err = cerr
		}
	}()
	return fn(d)
}

func (c *cli) putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <file>...",
		Short: "Copy files into the directory and upload them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withDir(cmd, func(d *tierstore.CompositeDirectory) error {
				names := make([]string, 0, len(args))
				for _, path := range args {
					name := filepath.Base(path)
					if err := copyIn(d, path, name); err != nil {
						return err
					}
					names = append(names, name)
				}
				if err := d.Flush(cmd.Context(), names); err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
}

func copyIn(d directory.Directory, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	out, err := d.CreateOutput(name, directory.IOContextFlush)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, f); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func (c *cli) catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <name>",
		Short: "Write a file to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withDir(cmd, func(d *tierstore.CompositeDirectory) error {
				in, err := d.OpenInput(args[0], directory.IOContextReadOnce)
				if err != nil {
					return err
				}
				defer in.Close()
				_, err = io.Copy(cmd.OutOrStdout(), in)
				return err
			})
		},
	}
}

func (c *cli) lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List files with their tier state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withDir(cmd, func(d *tierstore.CompositeDirectory) error {
				local, err := d.ListAll()
				if err != nil {
					return err
				}
				tracked := d.Tracker().Snapshot()
				names := slices.Sorted(maps.Keys(tracked))
				for _, name := range local {
					if _, ok := tracked[name]; !ok {
						names = append(names, name)
					}
				}
				slices.Sort(names)

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tSTATE\tTYPE\tLENGTH")
				for _, name := range names {
					state, typ, length := "UNTRACKED", "-", int64(-1)
					if info, ok := tracked[name]; ok {
						state, typ = info.State.String(), info.Type.String()
						if info.Metadata != nil {
							length = info.Metadata.Length
						}
					}
					if length < 0 {
						if n, err := d.FileLength(name); err == nil {
							length = n
						}
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", name, state, typ, length)
				}
				return tw.Flush()
			})
		},
	}
}

func (c *cli) statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <name>",
		Short: "Show tracking, upload and residency details of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withDir(cmd, func(d *tierstore.CompositeDirectory) error {
				name := args[0]
				info, ok := d.FileState(name)
				if !ok {
					return fmt.Errorf("%w: %s", tierstore.ErrUnknownFile, name)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "name:     %s\n", info.FileName)
				fmt.Fprintf(w, "state:    %s\n", info.State)
				fmt.Fprintf(w, "type:     %s\n", info.Type)
				fmt.Fprintf(w, "path:     %s\n", info.Path)
				if refs, ok := d.Cache().RefCount(info.Path); ok {
					fmt.Fprintf(w, "cached:   yes (refs %d)\n", refs)
				} else {
					fmt.Fprintln(w, "cached:   no")
				}
				if md := info.Metadata; md != nil {
					fetched, total := d.Transfer().Residency(md.UploadedName)
					fmt.Fprintf(w, "uploaded: %s\n", md.UploadedName)
					fmt.Fprintf(w, "length:   %d\n", md.Length)
					fmt.Fprintf(w, "checksum: %08x\n", md.Checksum)
					fmt.Fprintf(w, "blocks:   %d/%d resident\n", fetched, total)
				}
				return nil
			})
		},
	}
}

func (c *cli) switchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <name>",
		Short: "Convert a cached file to block-based reads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withDir(cmd, func(d *tierstore.CompositeDirectory) error {
				if err := d.SwitchToBlockBased(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cache usage: %d bytes\n", d.Cache().Usage())
				return nil
			})
		},
	}
}

func (c *cli) pruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Evict unreferenced cache entries down to capacity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withDir(cmd, func(d *tierstore.CompositeDirectory) error {
				freed := d.Prune()
				stats := d.Cache().Stats()
				fmt.Fprintf(cmd.OutOrStdout(), "freed %d bytes, usage %d/%d bytes, %d entries\n",
					freed, stats.Usage, stats.Capacity, stats.Entries)
				return nil
			})
		},
	}
}
