package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"landvalue/internal/jobs"
	"landvalue/internal/processor"
	"landvalue/internal/queue"
	"landvalue/internal/scraping"
)

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a JSON array of listings into the store",
		RunE:  runImport,
	}

	flags := cmd.Flags()
	flags.StringP("file", "f", "", `listings file, or "-" for stdin (required)`)
	flags.String("source", "cli", "source label recorded on the import job")
	flags.Bool("geocode", false, "geocode listings that arrive without coordinates")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	source, _ := cmd.Flags().GetString("source")
	geocode, _ := cmd.Flags().GetBool("geocode")

	listings, err := readListings(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	properties := scraping.ToProperties(listings, rt.logger)
	if len(properties) == 0 {
		return errors.New("no valid listings to import")
	}

	tracker := jobs.NewTracker(1, rt.logger)
	var geocoder processor.AddressGeocoder
	if geocode {
		g := rt.geocoder()
		defer g.Close()
		geocoder = g
	}
	p := processor.NewBatchProcessor(rt.store, queue.NewPropertyQueue(1, rt.logger), tracker, geocoder, nil, processor.Options{
		MaxBatchSize: rt.cfg.BatchProcessing.MaxBatchSize,
		MaxRetries:   rt.cfg.BatchProcessing.MaxRetries,
		RetryDelay:   time.Duration(rt.cfg.BatchProcessing.RetryDelay) * time.Second,
	}, rt.logger)

	job := tracker.Create(jobs.KindImport, source, len(properties))
	handleErr := p.HandleBatch(queue.Batch{JobID: job.ID, Properties: properties})
	result, _ := tracker.Get(job.ID)
	if err := printJSON(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	return handleErr
}

func readListings(stdin io.Reader, path string) ([]scraping.Listing, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open listings file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var listings []scraping.Listing
	if err := json.NewDecoder(r).Decode(&listings); err != nil {
		return nil, fmt.Errorf("failed to decode listings: %w", err)
	}
	return listings, nil
}
