package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/opensvc/blkcache/core/cache"
)

var (
	formatFlag string
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the cached block device identities.",
	RunE:  lsRun,
}

func lsRun(_ *cobra.Command, _ []string) error {
	c := cache.New(cache.WithLogger(&log.Logger))
	if err := cache.NewFilePersister("").Load(c); err != nil {
		return err
	}
	if formatFlag == "json" {
		b, err := json.MarshalIndent(c.Devs(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	}
	if colorFlag == "no" {
		color.NoColor = true
	}
	hi := color.New(color.FgYellow).SprintFunc()
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDEVNO\tPRI\tVERIFIED")
	for _, dev := range c.Devs() {
		verified := "never"
		if dev.Verified() {
			verified = time.Unix(dev.Time, 0).Format(time.RFC3339)
		}
		pri := fmt.Sprint(dev.Pri)
		if dev.Pri > 0 {
			pri = hi(pri)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", dev.Name, dev.Devno, pri, verified)
	}
	return w.Flush()
}

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().StringVar(&formatFlag, "format", "tab", "output format tab|json")
}
