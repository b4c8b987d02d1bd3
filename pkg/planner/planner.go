// Package planner builds and drives the ordered, phased fetch plan for
// one build version, grounded on
// original_source/keg/core/fetcher.py's Fetcher/FetchQueue/Drain
// generator sequence: metadata phases complete (and are parsed) before
// the next phase's item set can even be known, and the data phase
// only runs once every metadata phase has settled (spec.md §4.7).
package planner

import (
	"context"
	"io"

	"github.com/fluxxu/keg/internal/kegerrors"
	"github.com/fluxxu/keg/pkg/configfile"
	"github.com/fluxxu/keg/pkg/key"
	"github.com/fluxxu/keg/pkg/objectstore"
)

// Kind names the object class one planned Item belongs to, matching the
// store method used to fetch it.
type Kind int

// Recognized item kinds, in roughly the order a full plan visits them.
const (
	KindProductConfig Kind = iota
	KindBuildConfig
	KindCDNConfig
	KindPatchConfig
	KindArchiveIndex
	KindPatchArchiveIndex
	KindLooseMetadata // encoding, install, download, patch manifest
	KindArchive
	KindPatchArchive
)

func (k Kind) String() string {
	switch k {
	case KindProductConfig:
		return "product-config"
	case KindBuildConfig:
		return "build-config"
	case KindCDNConfig:
		return "cdn-config"
	case KindPatchConfig:
		return "patch-config"
	case KindArchiveIndex:
		return "archive-index"
	case KindPatchArchiveIndex:
		return "patch-archive-index"
	case KindLooseMetadata:
		return "loose-metadata"
	case KindArchive:
		return "archive"
	case KindPatchArchive:
		return "patch-archive"
	default:
		return "unknown"
	}
}

// Item is one object the plan has decided to fetch.
type Item struct {
	Kind Kind
	Key  key.Key
}

// Fetch is idempotent: it is a no-op when the local half of store
// already has the object, and a failure on one item never prevents the
// caller from proceeding to the next (spec.md §4.7 point 3).
func (it Item) Fetch(ctx context.Context, store objectstore.Store, verify bool) error {
	opts := objectstore.DownloadOptions{Verify: verify}
	var rc io.ReadCloser
	var err error
	switch it.Kind {
	case KindProductConfig, KindBuildConfig, KindCDNConfig, KindPatchConfig:
		rc, err = store.DownloadConfig(ctx, it.Key, opts)
	case KindArchiveIndex, KindPatchArchiveIndex:
		rc, err = store.GetIndex(ctx, it.Key)
	case KindArchive, KindPatchArchive:
		rc, err = store.DownloadData(ctx, it.Key, opts)
	case KindLooseMetadata:
		rc, err = store.DownloadData(ctx, it.Key, opts)
	}
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

// Phase is a homogeneous queue of items drained together; phase order
// is significant (metadata strictly precedes data), item order within
// a phase is not.
type Phase struct {
	Name  string
	Items []Item
}

// Version is the triple of configuration keys a build is identified
// by, the only inputs the planner needs from a /versions row.
type Version struct {
	BuildConfig   key.Key
	CDNConfig     key.Key
	ProductConfig key.Key
}

// Dedupe collapses versions sharing the same (build_config, cdn_config,
// product_config) triple to their first occurrence, since regions
// frequently share all three (spec.md §4.7 point 1).
func Dedupe(versions []Version) []Version {
	seen := make(map[Version]bool, len(versions))
	out := make([]Version, 0, len(versions))
	for _, v := range versions {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// Options configures one Plan run.
type Options struct {
	// MetadataOnly stops the plan before the data phase.
	MetadataOnly bool
	// Verify is passed through to every config/data fetch.
	Verify bool
	// KnownKeys resolves a decryption-key-name to its key bytes. A
	// product config naming a key absent here produces a Warning, not
	// an error (spec.md §4.7 point 4).
	KnownKeys KnownKeys
	// LegacyGameBlob substitutes for a product config when the version
	// has none, solely to extract a decryption key name (spec.md
	// §4.7's "legacy path").
	LegacyGameBlob []byte
}

// KnownKeys is the narrow surface planner needs from a decryption-key
// table (pkg/armadillo implements it).
type KnownKeys interface {
	Has(name string) bool
}

// Plan is the full staged result of planning one version: every phase
// in fetch order, plus any non-fatal warnings collected along the way.
type Plan struct {
	Phases   []Phase
	Warnings []string
}

// Items flattens every phase's items, in phase order, for callers that
// just want the full item list (e.g. a dry-run count).
func (p *Plan) Items() []Item {
	var all []Item
	for _, ph := range p.Phases {
		all = append(all, ph.Items...)
	}
	return all
}

func (p *Plan) warn(msg string) {
	p.Warnings = append(p.Warnings, msg)
}

// Run drives the full phased plan for one version against store,
// fetching and parsing each metadata phase before the next phase's
// item set is known, exactly as fetcher.py's generator chain does.
func Run(ctx context.Context, store objectstore.Store, v Version, opts Options) (*Plan, error) {
	plan := &Plan{}

	decryptionKeyName, err := planProductConfig(ctx, store, v, opts, plan)
	if err != nil {
		return nil, err
	}
	if decryptionKeyName != "" && opts.KnownKeys != nil && !opts.KnownKeys.Has(decryptionKeyName) {
		plan.warn("missing decryption key " + decryptionKeyName)
	}

	buildCfg, cdnCfg, err := planConfigs(ctx, store, v, opts, plan)
	if err != nil {
		return nil, err
	}

	if err := planPatchConfig(ctx, store, buildCfg, opts, plan); err != nil {
		return nil, err
	}

	if err := planIndices(ctx, store, cdnCfg, opts, plan); err != nil {
		return nil, err
	}

	if err := planLooseMetadata(ctx, store, buildCfg, opts, plan); err != nil {
		return nil, err
	}

	if opts.MetadataOnly {
		return plan, nil
	}

	if err := planData(ctx, store, cdnCfg, opts, plan); err != nil {
		return nil, err
	}

	return plan, nil
}

func planProductConfig(ctx context.Context, store objectstore.Store, v Version, opts Options, plan *Plan) (string, error) {
	if v.ProductConfig.IsZero() {
		if len(opts.LegacyGameBlob) == 0 {
			return "", nil
		}
		pc, err := configfile.ParseBytes(opts.LegacyGameBlob)
		if err != nil {
			return "", nil //nolint:nilerr // a malformed legacy blob is not fatal to planning
		}
		return pc.Value("decryption-key-name"), nil
	}

	item := Item{Kind: KindProductConfig, Key: v.ProductConfig}
	plan.Phases = append(plan.Phases, Phase{Name: "product config", Items: []Item{item}})
	if err := item.Fetch(ctx, store, opts.Verify); err != nil {
		plan.warn(err.Error())
		return "", nil
	}

	data, err := readConfig(ctx, store, v.ProductConfig)
	if err != nil {
		return "", nil //nolint:nilerr // product config content is best-effort for key resolution
	}
	return data.Value("decryption-key-name"), nil
}

func planConfigs(ctx context.Context, store objectstore.Store, v Version, opts Options, plan *Plan) (*configfile.File, *configfile.File, error) {
	items := []Item{
		{Kind: KindBuildConfig, Key: v.BuildConfig},
		{Kind: KindCDNConfig, Key: v.CDNConfig},
	}
	plan.Phases = append(plan.Phases, Phase{Name: "config", Items: items})
	for _, it := range items {
		if err := it.Fetch(ctx, store, opts.Verify); err != nil {
			plan.warn(err.Error())
		}
	}

	buildCfg, err := readConfig(ctx, store, v.BuildConfig)
	if err != nil {
		return nil, nil, &kegerrors.NotFound{Kind: "build-config", Key: v.BuildConfig.String()}
	}
	cdnCfg, err := readConfig(ctx, store, v.CDNConfig)
	if err != nil {
		return nil, nil, &kegerrors.NotFound{Kind: "cdn-config", Key: v.CDNConfig.String()}
	}
	return buildCfg, cdnCfg, nil
}

func planPatchConfig(ctx context.Context, store objectstore.Store, buildCfg *configfile.File, opts Options, plan *Plan) error {
	raw := buildCfg.Value("patch-config")
	if raw == "" {
		return nil
	}
	k, err := key.Parse(raw)
	if err != nil {
		plan.warn("malformed patch-config key " + raw)
		return nil
	}
	item := Item{Kind: KindPatchConfig, Key: k}
	plan.Phases = append(plan.Phases, Phase{Name: "patch config", Items: []Item{item}})
	if err := item.Fetch(ctx, store, opts.Verify); err != nil {
		plan.warn(err.Error())
	}
	return nil
}

func planIndices(ctx context.Context, store objectstore.Store, cdnCfg *configfile.File, opts Options, plan *Plan) error {
	archiveIdx := fieldKeys(cdnCfg, "archives")
	items := make([]Item, 0, len(archiveIdx))
	for _, k := range archiveIdx {
		items = append(items, Item{Kind: KindArchiveIndex, Key: k})
	}
	plan.Phases = append(plan.Phases, Phase{Name: "archive indices", Items: items})
	for _, it := range items {
		if err := it.Fetch(ctx, store, opts.Verify); err != nil {
			plan.warn(err.Error())
		}
	}

	patchArchiveIdx := fieldKeys(cdnCfg, "patch-archives")
	patchItems := make([]Item, 0, len(patchArchiveIdx))
	for _, k := range patchArchiveIdx {
		patchItems = append(patchItems, Item{Kind: KindPatchArchiveIndex, Key: k})
	}
	if len(patchItems) > 0 {
		plan.Phases = append(plan.Phases, Phase{Name: "patch indices", Items: patchItems})
		for _, it := range patchItems {
			if err := it.Fetch(ctx, store, opts.Verify); err != nil {
				plan.warn(err.Error())
			}
		}
	}
	return nil
}

func planLooseMetadata(ctx context.Context, store objectstore.Store, buildCfg *configfile.File, opts Options, plan *Plan) error {
	var items []Item
	for _, field := range []string{"encoding", "install", "download", "patch"} {
		k, ok := ekeyField(buildCfg, field)
		if !ok {
			continue
		}
		items = append(items, Item{Kind: KindLooseMetadata, Key: k})
	}
	if len(items) == 0 {
		return nil
	}
	plan.Phases = append(plan.Phases, Phase{Name: "metadata files", Items: items})
	for _, it := range items {
		if err := it.Fetch(ctx, store, opts.Verify); err != nil {
			plan.warn(err.Error())
		}
	}
	return nil
}

func planData(ctx context.Context, store objectstore.Store, cdnCfg *configfile.File, opts Options, plan *Plan) error {
	archives := fieldKeys(cdnCfg, "archives")
	items := make([]Item, 0, len(archives))
	for _, k := range archives {
		items = append(items, Item{Kind: KindArchive, Key: k})
	}
	plan.Phases = append(plan.Phases, Phase{Name: "archives", Items: items})
	for _, it := range items {
		if err := it.Fetch(ctx, store, opts.Verify); err != nil {
			plan.warn(err.Error())
		}
	}

	patchArchives := fieldKeys(cdnCfg, "patch-archives")
	patchItems := make([]Item, 0, len(patchArchives))
	for _, k := range patchArchives {
		patchItems = append(patchItems, Item{Kind: KindPatchArchive, Key: k})
	}
	if len(patchItems) > 0 {
		plan.Phases = append(plan.Phases, Phase{Name: "patch archives", Items: patchItems})
		for _, it := range patchItems {
			if err := it.Fetch(ctx, store, opts.Verify); err != nil {
				plan.warn(err.Error())
			}
		}
	}
	return nil
}

func readConfig(ctx context.Context, store objectstore.Store, k key.Key) (*configfile.File, error) {
	rc, err := store.GetConfig(ctx, k)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return configfile.ParseBytes(data)
}

// fieldKeys parses a config field's whitespace-separated value list as
// hex keys, silently dropping any malformed entries; a single bad
// archive key in a large CDN config should not abort planning the rest.
func fieldKeys(f *configfile.File, field string) []key.Key {
	vals, _ := f.Values(field)
	keys := make([]key.Key, 0, len(vals))
	for _, s := range vals {
		k, err := key.Parse(s)
		if err != nil {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// ekeyField reads a build-config field shaped "ckey ekey" (or a bare
// ekey when only one token is present) and returns its ekey.
func ekeyField(f *configfile.File, field string) (key.Key, bool) {
	vals, ok := f.Values(field)
	if !ok || len(vals) == 0 {
		return key.Key{}, false
	}
	raw := vals[0]
	if len(vals) >= 2 {
		raw = vals[1]
	}
	k, err := key.Parse(raw)
	if err != nil {
		return key.Key{}, false
	}
	return k, true
}
