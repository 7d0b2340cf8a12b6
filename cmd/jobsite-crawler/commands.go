package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"jobsite-crawler/internal/app"
	"jobsite-crawler/internal/normalize"
	"jobsite-crawler/internal/storage"
)

func (c *ScrapeCmd) Run(deps *Dependencies) error {
	listings, outcome, err := deps.Manager.ScrapeSite(deps.Ctx, c.Site)

	var nf *app.NotFoundError
	if errors.As(err, &nf) {
		fmt.Fprintf(deps.Stderr, "error: unknown site %q. Run 'jobsite-crawler sites' to see configured sites.\n", nf.Site)
		return err
	}

	if outcome != nil {
		printOutcomes(deps.Stdout, []*app.SiteOutcome{outcome})
		printProblems(deps.Stdout, outcome)
	}
	if len(listings) > 0 {
		fmt.Fprintln(deps.Stdout)
		printListings(deps.Stdout, listings)
	}
	return err
}

func (c *ScrapeAllCmd) Run(deps *Dependencies) error {
	run := deps.Manager.ScrapeAllSites(deps.Ctx)
	report(deps.Stdout, run)

	for _, o := range run.Outcomes {
		if !o.Failed() {
			return nil
		}
	}
	if len(run.Outcomes) > 0 {
		return errors.New("all sites failed")
	}
	return nil
}

func (c *ListCmd) Run(deps *Dependencies) error {
	listings, err := deps.Manager.GetJobListings(deps.Ctx, storage.Filter{
		Site:     c.Site,
		Keyword:  c.Keyword,
		Company:  c.Company,
		JobType:  c.JobType,
		Location: c.Location,
		Limit:    c.Limit,
		Offset:   c.Offset,
	})
	if err != nil {
		fmt.Fprintf(deps.Stderr, "error: %s\n", err)
		return err
	}

	if len(listings) == 0 {
		fmt.Fprintln(deps.Stdout, "No job listings found. Use 'jobsite-crawler scrape' to collect some.")
		return nil
	}
	printListings(deps.Stdout, listings)
	return nil
}

func (c *RunCmd) Run(deps *Dependencies) error {
	s := app.NewScheduler(deps.Config, deps.Manager, deps.Logger, func(run *app.ScrapeRun) {
		report(deps.Stdout, run)
	})
	return s.Run(deps.Ctx)
}

func (c *SitesCmd) Run(deps *Dependencies) error {
	w := tabwriter.NewWriter(deps.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SITE\tENABLED\tSTATUS")
	for _, s := range deps.Manager.Sites() {
		status := "ok"
		if s.Err != nil {
			status = s.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%t\t%s\n", s.Name, s.Enabled, status)
	}
	return w.Flush()
}

func report(out io.Writer, run *app.ScrapeRun) {
	outcomes := make([]*app.SiteOutcome, 0, len(run.Outcomes))
	for _, o := range run.Outcomes {
		outcomes = append(outcomes, o)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Site < outcomes[j].Site })

	printOutcomes(out, outcomes)
	for _, o := range outcomes {
		printProblems(out, o)
	}
	fmt.Fprintf(out, "\n%d site(s) in %s\n", len(run.Sites), run.End.Sub(run.Start).Round(time.Millisecond))
}

func printOutcomes(out io.Writer, outcomes []*app.SiteOutcome) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SITE\tRESULT\tPAGES\tNEW\tREFRESHED\tSKIPPED\tPAGE ERRORS\tSTOPPED")
	for _, o := range outcomes {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			o.Site, o.Result(), o.Pages, o.New, o.Refreshed, o.Skipped, len(o.PageErrors), o.StopReason)
	}
	_ = w.Flush()
}

func printProblems(out io.Writer, o *app.SiteOutcome) {
	if o.Err != nil {
		fmt.Fprintf(out, "%s: %s\n", o.Site, o.Err)
	}
	for _, pe := range o.PageErrors {
		fmt.Fprintf(out, "%s: %s\n", o.Site, pe.Error())
	}
	for _, de := range o.DescriptionErrors {
		fmt.Fprintf(out, "%s: %s\n", o.Site, de)
	}
}

func printListings(out io.Writer, listings []*storage.JobListing) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SITE\tTITLE\tCOMPANY\tLOCATION\tPOSTED\tURL")
	for _, l := range listings {
		posted := l.PostedDateRaw
		if l.PostedDate != nil {
			posted = l.PostedDate.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			l.Site, normalize.TruncatePreview(l.Title, 60), l.Company, l.Location, posted, l.URL)
	}
	_ = w.Flush()
}
