package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/anorvell/dealwatch/internal/config"
	"github.com/anorvell/dealwatch/internal/store"
	"github.com/anorvell/dealwatch/internal/syncer"
	"github.com/anorvell/dealwatch/pkg/alert"
	"github.com/anorvell/dealwatch/pkg/reconcile"
	"github.com/anorvell/dealwatch/pkg/report"
	"github.com/anorvell/dealwatch/pkg/server"
	"github.com/anorvell/dealwatch/pkg/source"
)

func loadConfig() (*config.Config, error) {
	// Secrets may live in a local .env; absence is fine.
	_ = godotenv.Load()

	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func buildLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func buildSyncer(cfg *config.Config, db store.Store, log zerolog.Logger) *syncer.Syncer {
	steam := source.NewSteam(cfg.Sources.Steam.SteamID, cfg.Sources.Steam.APIKey, log)

	var comparison syncer.ComparisonSource
	if cfg.Sources.ITAD.Enabled && cfg.Sources.ITAD.APIKey != "" {
		comparison = source.NewITAD(cfg.Sources.ITAD.APIKey, cfg.Sources.ITAD.Country, log)
	}

	var retailer syncer.RetailerSource
	if cfg.Sources.Loaded.Enabled {
		retailer = source.NewLoaded(cfg.Sources.Loaded.ParseMinDelay(), cfg.Sources.Loaded.SearchFallback, log)
	}

	rec := reconcile.New(db, log)
	alerts := buildAlertManager(cfg)

	return syncer.New(db, steam, comparison, retailer, rec, alerts, log)
}

func runSync(steamID, steamKey, itadKey string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if steamID != "" {
		cfg.Sources.Steam.SteamID = steamID
	}
	if steamKey != "" {
		cfg.Sources.Steam.APIKey = steamKey
	}
	if itadKey != "" {
		cfg.Sources.ITAD.APIKey = itadKey
		cfg.Sources.ITAD.Enabled = true
	}
	log := buildLogger(cfg)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	status, err := buildSyncer(cfg, db, log).Run(context.Background())
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	fmt.Fprintf(os.Stderr, "synced %d games: %d prices saved, %d new lows",
		status.Games, status.PricesSaved, status.NewLows)
	if status.Partial {
		fmt.Fprintf(os.Stderr, " (partial: %d item errors, %d sources skipped)",
			status.ItemErrors, len(status.SkippedSources))
	}
	fmt.Fprintln(os.Stderr)
	return nil
}

func runReport(jsonOutput, onSale bool, minDiscount int, search string, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := buildLogger(cfg)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	rows, err := report.New(db, log).Deals(context.Background(), report.Filter{
		OnSale:      onSale,
		MinDiscount: minDiscount,
		Search:      search,
	})
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("no games found (try syncing first: dealwatch sync)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TITLE\tBEST PRICE\tSTORE\tDISCOUNT\tLOW\tBUNDLES")
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			row.Title,
			formatPrice(row.BestPrice, row.Currency),
			orDash(row.BestStore),
			formatDiscount(row.BestDiscount),
			formatPrice(row.HistoricLow, row.Currency),
			row.NumBundles)
	}
	return w.Flush()
}

func runGame(arg string) error {
	appID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid app id %q", arg)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := buildLogger(cfg)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	detail, err := report.New(db, log).ItemDetail(context.Background(), appID)
	if err != nil {
		return fmt.Errorf("game %d: %w", appID, err)
	}

	fmt.Printf("%s (app %d)\n%s\n\n", detail.Item.Title, detail.Item.AppID, detail.Item.URL)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STORE\tPRICE\tREGULAR\tDISCOUNT")
	for _, q := range detail.Quotes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			q.Store,
			formatPrice(&q.PriceCurrent, q.Currency),
			formatPrice(q.PriceRegular, q.Currency),
			formatDiscount(q.DiscountPct))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(detail.Lows) > 0 {
		fmt.Println("\nhistoric lows:")
		for _, low := range detail.Lows {
			when := low.FetchedAt
			if low.RecordedAt != nil {
				when = *low.RecordedAt
			}
			fmt.Printf("  %s: %s (%s)\n", low.Store,
				formatPrice(&low.Price, low.Currency),
				when.Format("2006-01-02"))
		}
	}

	if len(detail.Bundles) > 0 {
		fmt.Println("\nbundles:")
		for _, b := range detail.Bundles {
			fmt.Printf("  %s: %s\n", b.BundleTitle, formatPrice(b.TierPrice, b.Currency))
		}
	}

	fmt.Printf("\n%d price observations on record\n", len(detail.History))
	return nil
}

func runServe(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := buildLogger(cfg)

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	agg := report.New(db, log)
	sy := buildSyncer(cfg, db, log)

	return server.New(db, agg, sy, port, log).ListenAndServe()
}

func formatPrice(p *float64, currency string) string {
	if p == nil {
		return "-"
	}
	symbol := "£"
	if currency == "USD" {
		symbol = "$"
	}
	return fmt.Sprintf("%s%.2f", symbol, *p)
}

func formatDiscount(pct int) string {
	if pct <= 0 {
		return "-"
	}
	return fmt.Sprintf("-%d%%", pct)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
