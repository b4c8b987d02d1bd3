// Package buildmgr opens one build from its (build_config, cdn_config)
// key pair and resolves individual content keys out of it (spec.md
// §4.8). Grounded on the teacher's lazy-field style in
// pkg/core/bundle.go: every derived structure is parsed at most once,
// on first use, and cached for the manager's lifetime.
package buildmgr

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/fluxxu/keg/internal/kegerrors"
	"github.com/fluxxu/keg/pkg/archiveindex"
	"github.com/fluxxu/keg/pkg/blte"
	"github.com/fluxxu/keg/pkg/configfile"
	"github.com/fluxxu/keg/pkg/encoding"
	"github.com/fluxxu/keg/pkg/key"
	"github.com/fluxxu/keg/pkg/manifest"
	"github.com/fluxxu/keg/pkg/objectstore"
)

// Manager opens a single build over an object store, lazily loading
// and caching everything the build's metadata chain references.
type Manager struct {
	store          objectstore.Store
	buildConfigKey key.Key
	cdnConfigKey   key.Key
	keys           blte.KeyProvider

	buildConfig      lazy[*configfile.File]
	cdnConfig        lazy[*configfile.File]
	archiveGroup     lazy[*archiveindex.Group]
	encodingFile     lazy[*encoding.File]
	installManifest  lazy[*manifest.Install]
	downloadManifest lazy[*manifest.Download]
}

// lazy holds a sync.Once-guarded value computed by a supplied func on
// first access, matching the teacher's per-field lazy-load idiom
// generalized into a small reusable helper.
type lazy[T any] struct {
	once sync.Once
	val  T
	err  error
}

func (l *lazy[T]) get(compute func() (T, error)) (T, error) {
	l.once.Do(func() { l.val, l.err = compute() })
	return l.val, l.err
}

// Open builds a manager for one build; keys resolves any decryption
// key named by an encrypted BLTE chunk encountered while reading
// files out of this build (may be nil if the build has none).
func Open(store objectstore.Store, buildConfigKey, cdnConfigKey key.Key, keys blte.KeyProvider) *Manager {
	return &Manager{store: store, buildConfigKey: buildConfigKey, cdnConfigKey: cdnConfigKey, keys: keys}
}

// BuildConfig returns the parsed build configuration, fetching and
// parsing it on first call.
func (m *Manager) BuildConfig(ctx context.Context) (*configfile.File, error) {
	return m.buildConfig.get(func() (*configfile.File, error) {
		return readConfig(ctx, m.store, m.buildConfigKey)
	})
}

// CDNConfig returns the parsed CDN configuration.
func (m *Manager) CDNConfig(ctx context.Context) (*configfile.File, error) {
	return m.cdnConfig.get(func() (*configfile.File, error) {
		return readConfig(ctx, m.store, m.cdnConfigKey)
	})
}

// ArchiveGroup returns the union of every archive index named by the
// CDN config, in CDN-config order.
func (m *Manager) ArchiveGroup(ctx context.Context) (*archiveindex.Group, error) {
	return m.archiveGroup.get(func() (*archiveindex.Group, error) {
		cdnCfg, err := m.CDNConfig(ctx)
		if err != nil {
			return nil, err
		}
		archives, _ := cdnCfg.Values("archives")
		archiveKeys := make([]key.Key, 0, len(archives))
		indices := make([]*archiveindex.Index, 0, len(archives))
		for _, s := range archives {
			k, err := key.Parse(s)
			if err != nil {
				continue
			}
			rc, err := m.store.GetIndex(ctx, k)
			if err != nil {
				return nil, err
			}
			raw, err := io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				return nil, err
			}
			idx, err := archiveindex.Parse(raw)
			if err != nil {
				return nil, err
			}
			archiveKeys = append(archiveKeys, k)
			indices = append(indices, idx)
		}
		return archiveindex.NewGroup(archiveKeys, indices), nil
	})
}

// Encoding returns the build's parsed encoding file.
func (m *Manager) Encoding(ctx context.Context) (*encoding.File, error) {
	return m.encodingFile.get(func() (*encoding.File, error) {
		buildCfg, err := m.BuildConfig(ctx)
		if err != nil {
			return nil, err
		}
		ekey, ok := ekeyField(buildCfg, "encoding")
		if !ok {
			return nil, &kegerrors.NotFound{Kind: "encoding", Key: m.buildConfigKey.String()}
		}
		data, err := m.readLooseOrArchived(ctx, ekey)
		if err != nil {
			return nil, err
		}
		decoded, err := blte.DecodeAll(bytes.NewReader(data), ekey, m.keys)
		if err != nil {
			return nil, err
		}
		return encoding.ParseAll(bytes.NewReader(decoded), true)
	})
}

// Install returns the build's parsed install manifest.
func (m *Manager) Install(ctx context.Context) (*manifest.Install, error) {
	return m.installManifest.get(func() (*manifest.Install, error) {
		data, err := m.decodedMetadataFile(ctx, "install")
		if err != nil {
			return nil, err
		}
		return manifest.ParseInstall(bytes.NewReader(data))
	})
}

// Download returns the build's parsed download manifest.
func (m *Manager) Download(ctx context.Context) (*manifest.Download, error) {
	return m.downloadManifest.get(func() (*manifest.Download, error) {
		data, err := m.decodedMetadataFile(ctx, "download")
		if err != nil {
			return nil, err
		}
		return manifest.ParseDownload(bytes.NewReader(data))
	})
}

func (m *Manager) decodedMetadataFile(ctx context.Context, field string) ([]byte, error) {
	buildCfg, err := m.BuildConfig(ctx)
	if err != nil {
		return nil, err
	}
	ekey, ok := ekeyField(buildCfg, field)
	if !ok {
		return nil, &kegerrors.NotFound{Kind: field, Key: m.buildConfigKey.String()}
	}
	raw, err := m.readLooseOrArchived(ctx, ekey)
	if err != nil {
		return nil, err
	}
	return blte.DecodeAll(bytes.NewReader(raw), ekey, m.keys)
}

// GetOption configures GetFile.
type GetOption func(*getOptions)

type getOptions struct {
	raw    bool
	verify bool
}

// Raw skips BLTE decoding, returning the encoded bytes as stored.
func Raw() GetOption { return func(o *getOptions) { o.raw = true } }

// Verify requests the object store verify the fetched bytes' MD5
// against the resolved ekey when the object comes from the loose or
// fragment tiers.
func Verify() GetOption { return func(o *getOptions) { o.verify = true } }

// GetFile resolves ckey to bytes: ckey -> ekey via the encoding file,
// then loose object, then fragment, then the archive group, decoding
// BLTE unless Raw is given. Returns NotFound when no candidate
// location exists at all (spec.md §4.8).
func (m *Manager) GetFile(ctx context.Context, ckey key.Key, opts ...GetOption) ([]byte, error) {
	o := getOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	enc, err := m.Encoding(ctx)
	if err != nil {
		return nil, err
	}
	ekey, err := enc.FindByContentKey(ckey)
	if err != nil {
		return nil, err
	}

	raw, err := m.readAnyTier(ctx, ekey, o.verify)
	if err != nil {
		var nf *kegerrors.NotFound
		if errors.As(err, &nf) && nf.Kind == "ekey" && nf.Key == ekey.String() {
			return nil, &kegerrors.NotFound{Kind: "ckey", Key: ckey.String()}
		}
		return nil, err
	}
	if o.raw {
		return raw, nil
	}
	return blte.DecodeAll(bytes.NewReader(raw), ekey, m.keys)
}

// readLooseOrArchived resolves ekey without honoring Raw/Verify
// options, for the manager's own metadata files (which are always
// decoded and never caller-configurable).
func (m *Manager) readLooseOrArchived(ctx context.Context, ekey key.Key) ([]byte, error) {
	return m.readAnyTier(ctx, ekey, false)
}

func (m *Manager) readAnyTier(ctx context.Context, ekey key.Key, verify bool) ([]byte, error) {
	opts := objectstore.DownloadOptions{Verify: verify}

	if has, err := m.store.HasData(ctx, ekey); err != nil {
		return nil, err
	} else if has {
		rc, err := m.store.DownloadData(ctx, ekey, opts)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}

	if has, err := m.store.HasFragment(ctx, ekey); err != nil {
		return nil, err
	} else if has {
		rc, err := m.store.DownloadFragment(ctx, ekey, opts)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}

	group, err := m.ArchiveGroup(ctx)
	if err != nil {
		return nil, err
	}
	archive, size, offset, ok := group.Lookup(ekey)
	if !ok {
		return nil, &kegerrors.NotFound{Kind: "ekey", Key: ekey.String()}
	}

	if rr, ok := m.store.(objectstore.RangeReader); ok {
		rc, err := rr.GetArchiveRange(ctx, archive, offset, size)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}

	rc, err := m.store.GetArchive(ctx, archive)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	end := int(offset) + int(size)
	if int(offset) > len(data) || end > len(data) {
		return nil, &kegerrors.ParseError{Format: "archive", Reason: "range exceeds archive length"}
	}
	return data[offset:end], nil
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
