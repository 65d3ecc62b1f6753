package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadgen/internal/deobfuscate"
	"github.com/sells-group/leadgen/internal/leadgen"
	"github.com/sells-group/leadgen/internal/scrape"
	"github.com/sells-group/leadgen/internal/techdetect"
)

var detectFetcher string

// pageReport is what detect prints for one URL.
type pageReport struct {
	URL          string   `json:"url"`
	FinalURL     string   `json:"final_url,omitempty"`
	Source       string   `json:"source"`
	Technologies []string `json:"technologies"`
	Emails       []string `json:"emails"`
	ContactLinks []string `json:"contact_links,omitempty"`
}

var detectCmd = &cobra.Command{
	Use:   "detect <url>...",
	Short: "Fetch pages and print detected technologies and recoverable emails",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		techdetect.Configure(cfg.TechDetect.SignaturesPath)

		if detectFetcher != "" {
			cfg.Crawl.Fetcher = detectFetcher
		}
		factory, err := leadgen.FetcherFactory(cfg, nil)
		if err != nil {
			return err
		}
		fetcher, err := factory(ctx)
		if err != nil {
			return eris.Wrap(err, "open fetcher")
		}
		defer fetcher.Close()

		reports := make([]pageReport, 0, len(args))
		for _, u := range args {
			res, err := fetcher.Scrape(ctx, u)
			if err != nil {
				return eris.Wrapf(err, "fetch %s", u)
			}
			reports = append(reports, reportPage(u, res))
		}
		return printJSON(cmd.OutOrStdout(), reports)
	},
}

func reportPage(u string, res *scrape.Result) pageReport {
	page := res.Page
	r := pageReport{
		URL:          u,
		FinalURL:     page.FinalURL,
		Source:       res.Source,
		Technologies: techdetect.Detect(page.TechSnapshot()),
		Emails:       deobfuscate.ExtractEmailCandidates(page.Text, page.Hrefs()),
		ContactLinks: scrape.ContactLinks(page, 5),
	}
	if r.Technologies == nil {
		r.Technologies = []string{}
	}
	if r.Emails == nil {
		r.Emails = []string{}
	}
	return r
}

func init() {
	detectCmd.Flags().StringVar(&detectFetcher, "fetcher", "", "override crawl.fetcher (browser or http)")
	rootCmd.AddCommand(detectCmd)
}
