package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/supporttools/GoSQLConsole/pkg/catalog"
)

var (
	listJSON     bool
	listDatabase string
	pruneDays    int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List backup archives, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		configs, _, err := current.stores()
		if err != nil {
			return err
		}
		records, err := current.catalog(configs).List()
		if err != nil {
			return err
		}
		if listDatabase != "" {
			filtered := records[:0]
			for _, rec := range records {
				if rec.DatabaseID == listDatabase {
					filtered = append(filtered, rec)
				}
			}
			records = filtered
		}

		out := cmd.OutOrStdout()
		if listJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}

		loc, err := current.cfg.Location()
		if err != nil {
			return err
		}
		now := time.Now()
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tDATABASE\tTAKEN\tSIZE\tAGE\tFILE")
		for _, rec := range records {
			taken := "-"
			if t, ok := rec.TakenAt(loc); ok {
				taken = t.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				rec.DatabaseID, rec.DatabaseName, taken, rec.Size, rec.Age(now), rec.Filename)
		}
		summary := catalog.Summarize(records)
		fmt.Fprintf(tw, "\n%d archives, %s\n", summary.Count, summary.TotalSize)
		return tw.Flush()
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete archives older than the retention period",
	RunE: func(cmd *cobra.Command, args []string) error {
		configs, _, err := current.stores()
		if err != nil {
			return err
		}
		days := configs.LoadOrDefault().RetentionDays
		if cmd.Flags().Changed("days") {
			days = pruneDays
		}

		now := time.Now()
		removed, err := current.catalog(configs).Prune(days, now)
		if err != nil {
			return err
		}
		if err := current.pruneHistory(cmd.Context(), days, now); err != nil {
			return err
		}
		var freed int64
		for _, rec := range removed {
			freed += rec.SizeBytes
			fmt.Fprintln(cmd.OutOrStdout(), "removed", rec.Filename)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d archives removed, %s freed\n",
			len(removed), humanize.IBytes(uint64(freed)))
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify FILE",
	Short: "Check that an archive decompresses completely",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configs, _, err := current.stores()
		if err != nil {
			return err
		}
		res, err := current.catalog(configs).Verify(args[0])
		if err != nil {
			return err
		}
		if !res.Valid {
			return errors.Errorf("%s is corrupt: %s", res.Filename, res.Error)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is valid (%s compressed, %s uncompressed)\n", res.Filename,
			humanize.IBytes(uint64(res.CompressedBytes)), humanize.IBytes(uint64(res.UncompressedBytes)))
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON instead of a table")
	listCmd.Flags().StringVarP(&listDatabase, "database", "d", "", "only archives of this database target id")
	pruneCmd.Flags().IntVar(&pruneDays, "days", 0, "retention in days (defaults to BACKUP_RETENTION)")
}
