package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/opensvc/blkcache/core/cache"
	"github.com/opensvc/blkcache/util/fcache"
	"github.com/opensvc/blkcache/util/funcopt"
)

var (
	newOnlyFlag bool
	forceFlag   bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe the system for block devices and refresh the cache.",
	RunE:  probeRun,
}

func probeRun(_ *cobra.Command, _ []string) error {
	opts := []funcopt.O{
		cache.WithLogger(&log.Logger),
	}
	if forceFlag {
		opts = append(opts, cache.WithForceRefresh())
	}
	c := cache.New(opts...)
	defer func() {
		if err := fcache.PurgeCache(); err != nil {
			log.Debug().Err(err).Msg("purge session cache")
		}
	}()
	if newOnlyFlag {
		return c.ProbeAllNew()
	}
	return c.ProbeAll()
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().BoolVar(&newOnlyFlag, "new-only", false, "only resolve devices not yet in the cache")
	probeCmd.Flags().BoolVar(&forceFlag, "force", false, "ignore the freshness window")
}
