package commands

import (
	"time"

	"github.com/spf13/cobra"

	"landvalue/config"
	"landvalue/internal/jobs"
	"landvalue/internal/processor"
	"landvalue/internal/queue"
	"landvalue/internal/scraping"
)

func newScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape one configured site and store its listings",
		RunE:  runScrape,
	}
	cmd.Flags().StringP("site", "s", "", "site name from the sites file (required)")
	_ = cmd.MarkFlagRequired("site")
	return cmd
}

func runScrape(cmd *cobra.Command, args []string) error {
	siteName, _ := cmd.Flags().GetString("site")

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := config.LoadSites(rt.cfg.Scraping.SitesFile); err != nil {
		return err
	}
	site, err := config.GetSiteByName(siteName)
	if err != nil {
		return err
	}

	tracker := jobs.NewTracker(1, rt.logger)
	propertyQueue := queue.NewPropertyQueue(1, rt.logger)
	p := processor.NewBatchProcessor(rt.store, propertyQueue, tracker, nil, nil, processor.Options{
		MaxBatchSize: rt.cfg.BatchProcessing.MaxBatchSize,
		MaxRetries:   rt.cfg.BatchProcessing.MaxRetries,
		RetryDelay:   time.Duration(rt.cfg.BatchProcessing.RetryDelay) * time.Second,
	}, rt.logger)
	p.Start()

	manager := scraping.NewManager(propertyQueue, tracker, scraping.Options{
		UserAgent: rt.cfg.Scraping.UserAgent,
		Timeout:   rt.cfg.Scraping.Timeout,
		Delay:     rt.cfg.Scraping.Delay,
	}, rt.logger)

	job, runErr := manager.RunSite(commandContext(cmd), site)
	// Stop drains the queued batch before returning.
	p.Stop()
	if job.ID != "" {
		job, _ = tracker.Get(job.ID)
	}
	if err := printJSON(cmd.OutOrStdout(), job); err != nil {
		return err
	}
	return runErr
}
