package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/adradar/internal/model"
	"github.com/sells-group/adradar/internal/store"
)

var adsCmd = &cobra.Command{
	Use:   "ads",
	Short: "List ranked ads",
	Long: `Lists stored creatives ordered by total score, highest first.

Examples:
  # Top 20 active US ads
  adradar ads --country US --active true

  # Export socks ads scoring 60+ to CSV
  adradar ads --q socks --min-score 60 --limit 200 --format csv > socks.csv`,
	RunE: runAds,
}

var opportunitiesCmd = &cobra.Command{
	Use:   "opportunities",
	Short: "List product opportunity cards",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		format, _ := cmd.Flags().GetString("format")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cards, err := st.ListOpportunityCards(ctx, store.AdFilter{Limit: limit}.PageSize(), offset)
		if err != nil {
			return eris.Wrap(err, "opportunities: list")
		}
		switch format {
		case "json":
			return printJSON(os.Stdout, cards)
		case "table":
			formatOpportunities(os.Stdout, cards)
			return nil
		default:
			return eris.Errorf("opportunities: unsupported format %q", format)
		}
	},
}

func init() {
	f := adsCmd.Flags()
	f.String("q", "", "search query, advertiser or caption substring")
	f.String("country", "", "country code")
	f.Int("min-score", -1, "minimum total score (0-100)")
	f.String("active", "", "filter on activity: true, false, or empty for all")
	f.Int("limit", 20, "max rows")
	f.Int("offset", 0, "rows to skip")
	f.String("format", "table", "output format: table, csv or json")

	o := opportunitiesCmd.Flags()
	o.Int("limit", 20, "max cards")
	o.Int("offset", 0, "cards to skip")
	o.String("format", "table", "output format: table or json")

	rootCmd.AddCommand(adsCmd, opportunitiesCmd)
}

func runAds(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	filter, format, err := adsFilterFromFlags(cmd)
	if err != nil {
		return err
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	page, err := st.Query(ctx, filter)
	if err != nil {
		return eris.Wrap(err, "ads: query")
	}

	switch format {
	case "json":
		return printJSON(os.Stdout, page)
	case "csv":
		return writeAdsCSV(os.Stdout, page.Items)
	default:
		formatAdsTable(os.Stdout, page)
		return nil
	}
}

func adsFilterFromFlags(cmd *cobra.Command) (store.AdFilter, string, error) {
	f := cmd.Flags()
	var filter store.AdFilter
	filter.Search, _ = f.GetString("q")
	filter.Country, _ = f.GetString("country")
	filter.Limit, _ = f.GetInt("limit")
	filter.Offset, _ = f.GetInt("offset")

	if minScore, _ := f.GetInt("min-score"); minScore >= 0 {
		if minScore > 100 {
			return filter, "", eris.New("ads: --min-score must be between 0 and 100")
		}
		filter.MinScore = &minScore
	}
	if active, _ := f.GetString("active"); active != "" {
		b, err := strconv.ParseBool(active)
		if err != nil {
			return filter, "", eris.Errorf("ads: --active must be true or false (got %q)", active)
		}
		filter.IsActive = &b
	}

	format, _ := f.GetString("format")
	if format != "table" && format != "csv" && format != "json" {
		return filter, "", eris.Errorf("ads: --format must be table, csv or json (got %q)", format)
	}
	return filter, format, nil
}

// formatAdsTable writes a tabular page of ads to out.
func formatAdsTable(out io.Writer, page *store.AdPage) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSCORE\tSTARS\tACTIVE\tADVERTISER\tADS\tPRODUCT\tDOMAIN\tCOUNTRY")
	_, _ = fmt.Fprintln(w, "--\t-----\t-----\t------\t----------\t---\t-------\t------\t-------")

	for _, r := range page.Items {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%s\t%t\t%s\t%d\t%s\t%s\t%s\n",
			r.ID,
			r.TotalScore,
			strings.Repeat("*", r.Stars),
			r.IsActive,
			truncate(r.AdvertiserName, 30),
			r.AdvertiserTotalAds,
			truncate(r.ProductName, 30),
			r.Domain,
			r.Country,
		)
	}
	_, _ = fmt.Fprintf(w, "\nShowing %d of %d\n", len(page.Items), page.Total)
	_ = w.Flush()
}

func writeAdsCSV(w io.Writer, rows []store.AdRow) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"id", "total_score", "stars", "is_active", "advertiser_name", "advertiser_total_ads",
		"product_name", "product_price", "domain", "landing_url", "country", "monthly_visits", "first_seen"}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "ads: write CSV header")
	}

	for _, r := range rows {
		visits := ""
		if r.MonthlyVisits != nil {
			visits = strconv.FormatInt(*r.MonthlyVisits, 10)
		}
		row := []string{
			strconv.FormatInt(r.ID, 10),
			strconv.Itoa(r.TotalScore),
			strconv.Itoa(r.Stars),
			strconv.FormatBool(r.IsActive),
			r.AdvertiserName,
			strconv.Itoa(r.AdvertiserTotalAds),
			r.ProductName,
			r.ProductPrice,
			r.Domain,
			r.LandingURL,
			r.Country,
			visits,
			r.FirstSeen.Format("2006-01-02"),
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "ads: write CSV row")
		}
	}
	return nil
}

// formatOpportunities writes a tabular list of opportunity cards to out.
func formatOpportunities(out io.Writer, cards []model.OpportunityCard) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SCORE\tPRODUCT\tDOMAIN\tCATEGORY\tACTIVE\tPRICE\tGEOS")
	_, _ = fmt.Fprintln(w, "-----\t-------\t------\t--------\t------\t-----\t----")

	for _, c := range cards {
		name := c.ProductName
		if name == "" {
			name = c.ProductHash[:min(8, len(c.ProductHash))]
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			c.Score,
			truncate(name, 30),
			c.Domain,
			c.Category,
			c.ActiveCount,
			c.CreativeCount,
			c.PriceBand,
			strings.Join(c.RecommendedGeos, ","),
		)
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
