package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"catalyst-catcher/internal/quotes"
	"catalyst-catcher/internal/storage"
)

type watchlistFile struct {
	Assets []yaml.Node `yaml:"assets"`
}

// ParseWatchlist reads a watchlist YAML document. Assets are enabled unless they say otherwise.
func ParseWatchlist(r io.Reader, symbols *quotes.Symbols) ([]storage.WatchlistAsset, error) {
	var doc watchlistFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode watchlist: %w", err)
	}

	validate := validator.New()
	out := make([]storage.WatchlistAsset, 0, len(doc.Assets))
	for i := range doc.Assets {
		asset := storage.WatchlistAsset{Enabled: true}
		if err := doc.Assets[i].Decode(&asset); err != nil {
			return nil, fmt.Errorf("watchlist asset %d: %w", i+1, err)
		}
		asset.Keyword = strings.TrimSpace(asset.Keyword)
		if asset.AssetType == "" {
			asset.AssetType = storage.AssetEquity
		}
		if err := validate.Struct(asset); err != nil {
			return nil, fmt.Errorf("watchlist asset %d (%s): %w", i+1, asset.Keyword, err)
		}
		asset.Ticker = symbols.Normalize(asset.Ticker)
		asset.ValidationTicker = symbols.Normalize(asset.ValidationTicker)
		related := asset.RelatedTickers[:0]
		for _, t := range asset.RelatedTickers {
			if n := symbols.Normalize(t); n != "" {
				related = append(related, n)
			}
		}
		asset.RelatedTickers = related
		out = append(out, asset)
	}
	return out, nil
}

// ImportWatchlist upserts every asset in the YAML file at path.
func (a *App) ImportWatchlist(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	assets, err := ParseWatchlist(file, a.newSymbols())
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	for i := range assets {
		if err := store.UpsertAsset(ctx, &assets[i]); err != nil {
			return fmt.Errorf("upsert %s: %w", assets[i].Keyword, err)
		}
	}
	a.Logger.Info().Int("assets", len(assets)).Str("path", path).Msg("watchlist imported")
	return nil
}

// ListWatchlist prints the stored watchlist.
func (a *App) ListWatchlist(ctx context.Context, enabledOnly bool) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	assets, err := store.ListAssets(ctx, enabledOnly)
	if err != nil {
		return err
	}
	if len(assets) == 0 {
		fmt.Fprintln(os.Stdout, "watchlist is empty")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Keyword\tTicker\tType\tRelated\tValidation\tTrust\tEnabled")
	for _, asset := range assets {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			asset.Keyword,
			asset.Ticker,
			asset.AssetType,
			strings.Join(asset.RelatedTickers, ","),
			asset.ValidationTicker,
			asset.SourceTrust,
			asset.Enabled,
		)
	}
	return writer.Flush()
}
