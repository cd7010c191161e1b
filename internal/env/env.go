// Package env wires one on-disk Pointline data directory into the
// collaborator set the library API expects: the table catalog, the
// symbol registry, and the manifest and quarantine stores. It exists
// so the three cmd/ binaries share one setup path instead of each
// re-deriving the table catalog and store layout.
package env

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/segmentio/encoding/json"

	"github.com/pointline-dev/pointline/ingest"
	"github.com/pointline-dev/pointline/manifest"
	"github.com/pointline-dev/pointline/quarantine"
	"github.com/pointline-dev/pointline/registry"
	"github.com/pointline-dev/pointline/schema"
	"github.com/pointline-dev/pointline/storage"
)

// Env owns one data directory's full set of stores: the table
// catalog, the symbol registry, the manifest, and the quarantine log.
// Layout: <root>/tables/<name>, <root>/manifest, <root>/quarantine.
type Env struct {
	Root       string
	Catalog    *schema.Catalog
	Registry   *registry.Store
	Manifest   *manifest.Store
	Quarantine *quarantine.Log
}

// SymbolSnapshot is one row of the registry bootstrap file's JSON
// array -- the flattened form of registry.Snapshot that a research
// team maintains by hand or generates from an exchange's instrument
// list.
type SymbolSnapshot struct {
	Venue           string `json:"venue"`
	VenueSymbol     string `json:"venue_symbol"`
	CanonicalSymbol string `json:"canonical_symbol"`
	MarketType      string `json:"market_type"`
	BaseAsset       string `json:"base_asset"`
	QuoteAsset      string `json:"quote_asset"`
	TickSize        int64  `json:"tick_size"`
	LotSize         int64  `json:"lot_size"`
	ContractSize    int64  `json:"contract_size"`
}

// Open sets up the stores rooted at dir. If registryPath is non-empty,
// it is read as a JSON array of SymbolSnapshot and bootstrapped into
// the registry as of effectiveUs; otherwise the registry starts
// empty, and every row will be
// quarantined at the PIT coverage join stage until a caller commits a
// snapshot via registry.Store.CommitUpsert.
func Open(dir string, registryPath string, effectiveUs int64) (*Env, error) {
	if err := os.MkdirAll(filepath.Join(dir, "tables"), 0o755); err != nil {
		return nil, fmt.Errorf("env: creating tables dir: %w", err)
	}

	cat := schema.NewCatalog()

	manifestStore, err := manifest.Open(filepath.Join(dir, "manifest"))
	if err != nil {
		return nil, fmt.Errorf("env: opening manifest: %w", err)
	}
	quarantineLog, err := quarantine.Open(filepath.Join(dir, "quarantine"))
	if err != nil {
		return nil, fmt.Errorf("env: opening quarantine: %w", err)
	}

	regTable, err := loadRegistry(registryPath, effectiveUs)
	if err != nil {
		return nil, err
	}

	return &Env{
		Root:       dir,
		Catalog:    cat,
		Registry:   registry.NewStore(regTable),
		Manifest:   manifestStore,
		Quarantine: quarantineLog,
	}, nil
}

func loadRegistry(path string, effectiveUs int64) (*registry.Table, error) {
	if path == "" {
		return &registry.Table{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("env: reading registry snapshot %q: %w", path, err)
	}
	var entries []SymbolSnapshot
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("env: parsing registry snapshot %q: %w", path, err)
	}
	snapshot := make([]registry.Snapshot, len(entries))
	for i, e := range entries {
		snapshot[i] = registry.Snapshot{
			Key: registry.NaturalKey{Venue: e.Venue, VenueSymbol: e.VenueSymbol},
			Attrs: registry.Attrs{
				CanonicalSymbol: e.CanonicalSymbol,
				MarketType:      e.MarketType,
				BaseAsset:       e.BaseAsset,
				QuoteAsset:      e.QuoteAsset,
				TickSize:        e.TickSize,
				LotSize:         e.LotSize,
				ContractSize:    e.ContractSize,
			},
		}
	}
	return registry.Bootstrap(snapshot, effectiveUs)
}

// OpenTable opens (creating if needed) the storage.Table backing a
// catalog table name.
func (e *Env) OpenTable(tableName string) (*storage.Table, error) {
	spec, ok := e.Catalog.Lookup(tableName)
	if !ok {
		return nil, fmt.Errorf("env: table %q not in catalog", tableName)
	}
	return storage.Open(filepath.Join(e.Root, "tables", tableName), spec)
}

// IngestDeps adapts Env to ingest.Deps.
func (e *Env) IngestDeps() ingest.Deps {
	return ingest.Deps{
		Catalog:    e.Catalog,
		Registry:   e.Registry,
		Manifest:   e.Manifest,
		Quarantine: e.Quarantine,
		OpenTable:  e.OpenTable,
	}
}
