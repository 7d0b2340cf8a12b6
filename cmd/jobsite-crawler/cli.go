package main

import (
	"context"
	"io"

	"jobsite-crawler/internal/app"
	"jobsite-crawler/internal/config"
	"jobsite-crawler/internal/observability"
)

// Dependencies передаются в Run каждой команды через kong.Bind.
type Dependencies struct {
	Ctx     context.Context
	Stdout  io.Writer
	Stderr  io.Writer
	Config  *config.Config
	Logger  *observability.Logger
	Manager *app.Manager
}

// CLI описывает командную строку для Kong.
type CLI struct {
	Config string `short:"c" default:"configs/config.yaml" type:"path" help:"Path to config.yaml"`

	Scrape    ScrapeCmd    `cmd:"" help:"Scrape one site by name"`
	ScrapeAll ScrapeAllCmd `cmd:"" name:"scrape-all" help:"Scrape every enabled site"`
	List      ListCmd      `cmd:"" help:"List stored job listings"`
	Run       RunCmd       `cmd:"" help:"Run the scheduler loop (oneshot, interval or cron)"`
	Sites     SitesCmd     `cmd:"" help:"Show configured sites and profile errors"`
}

type ScrapeCmd struct {
	Site string `arg:"" help:"Site name (case-insensitive)"`
}

type ScrapeAllCmd struct{}

type ListCmd struct {
	Site     string `short:"s" help:"Exact site name"`
	Keyword  string `short:"k" help:"Case-insensitive title substring"`
	Company  string `help:"Case-insensitive company substring"`
	JobType  string `name:"job-type" help:"Case-insensitive job type substring"`
	Location string `short:"l" help:"Case-insensitive location substring"`
	Limit    int    `short:"n" default:"50" help:"Maximum rows (0 for all)"`
	Offset   int    `help:"Rows to skip"`
}

type RunCmd struct{}

type SitesCmd struct{}
