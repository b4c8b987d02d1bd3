// Package keg ties a repository's on-disk state together: its
// configuration, its state cache, its local object store, and its
// table of named remotes (spec.md §4.15, supplemented). It is the
// library-level surface an external CLI wraps for `init`, `remote
// add/rm/list`, and for locating the pieces `pkg/planner` and
// `pkg/buildmgr` need to actually fetch or open a build — this package
// does not itself run a fetch or open a build, per spec.md §1's scoping
// of orchestration policy to the external CLI.
//
// Grounded on the teacher's create-or-detect-existing idiom in
// pkg/core/repo_create.go, generalized from a single conditional Put to
// a whole directory structure.
package keg

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fluxxu/keg/internal/repoconfig"
	"github.com/fluxxu/keg/pkg/armadillo"
	"github.com/fluxxu/keg/pkg/objectstore/localfs"
	"github.com/fluxxu/keg/pkg/remoteclient"
	"github.com/fluxxu/keg/pkg/statecache"
	"github.com/spf13/afero"
)

// ErrAlreadyInitialized is returned by Init when <root>/.ngdp already
// exists; the repository is still opened and returned normally so the
// caller can proceed (the external CLI reports this as
// "Reinitialized", per spec.md §8 scenario 1, without Init itself
// mutating any existing state).
var ErrAlreadyInitialized = errors.New("keg: repository already initialized")

const (
	ngdpDirName   = ".ngdp"
	confFileName  = "keg.conf"
	dbDirName     = "keg.db"
	objectsDir    = "objects"
	defaultFsMode = 0o755
)

// Repo is an open repository handle.
type Repo struct {
	root  string
	cfg   *repoconfig.Config
	cache *statecache.Cache
	local *localfs.Store

	httpClient *http.Client
	now        func() int64
}

func ngdpPaths(root string) (dir, conf, db, objects string) {
	dir = filepath.Join(root, ngdpDirName)
	return dir, filepath.Join(dir, confFileName), filepath.Join(dir, dbDirName), filepath.Join(dir, objectsDir)
}

// Init creates a new repository at root: the .ngdp directory, a
// default keg.conf, an empty object store, and an empty state cache.
// If root already holds an initialized repository, Init opens it as-is
// and returns it alongside ErrAlreadyInitialized rather than touching
// anything.
func Init(root string) (*Repo, error) {
	dir, confPath, _, objectsPath := ngdpPaths(root)

	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		repo, openErr := Open(root)
		if openErr != nil {
			return nil, openErr
		}
		return repo, ErrAlreadyInitialized
	} else if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if err := os.MkdirAll(objectsPath, defaultFsMode); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(confPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	err = repoconfig.Default().Rewrite(f)
	closeErr := f.Close()
	if err != nil {
		return nil, err
	}
	if closeErr != nil {
		return nil, closeErr
	}

	return Open(root)
}

// Open loads an existing repository at root.
func Open(root string) (*Repo, error) {
	_, confPath, dbPath, objectsPath := ngdpPaths(root)

	f, err := os.Open(confPath)
	if err != nil {
		return nil, err
	}
	cfg, err := repoconfig.Load(f)
	closeErr := f.Close()
	if err != nil {
		return nil, err
	}
	if closeErr != nil {
		return nil, closeErr
	}

	if err := os.MkdirAll(objectsPath, defaultFsMode); err != nil {
		return nil, err
	}
	local := localfs.New(afero.NewBasePathFs(afero.NewOsFs(), objectsPath))

	cache, err := statecache.Open(dbPath)
	if err != nil {
		return nil, err
	}

	return &Repo{
		root:       root,
		cfg:        cfg,
		cache:      cache,
		local:      local,
		httpClient: http.DefaultClient,
		now:        func() int64 { return time.Now().Unix() },
	}, nil
}

// Close releases the repository's state cache handle.
func (r *Repo) Close() error { return r.cache.Close() }

// Config returns the repository's loaded configuration.
func (r *Repo) Config() *repoconfig.Config { return r.cfg }

// ObjectStore returns the local, partitioned-filesystem object store
// at <root>/.ngdp/objects. Layering a remote CDN mirror in front of it
// is the caller's job: which CDN server and path apply is resolved per
// build from that build's cdns response, not fixed per remote.
func (r *Repo) ObjectStore() *localfs.Store { return r.local }

// StateCache returns the repository's state cache.
func (r *Repo) StateCache() *statecache.Cache { return r.cache }

// KnownKeys loads the armadillo decryption-key table named by
// keg.conf's armadillo.keys entry, if one is configured.
func (r *Repo) KnownKeys() (*armadillo.Table, error) {
	if r.cfg.ArmadilloKeysPath == "" {
		return armadillo.ParseBytes(nil)
	}
	path := r.cfg.ArmadilloKeysPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.root, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return armadillo.Parse(f)
}

// AddRemote registers a named remote and persists keg.conf. Adding a
// remote that already exists overwrites its settings.
func (r *Repo) AddRemote(name, server string, writeable, defaultFetch bool) error {
	if r.cfg.Remotes == nil {
		r.cfg.Remotes = make(map[string]repoconfig.RemoteConfig)
	}
	r.cfg.Remotes[name] = repoconfig.RemoteConfig{Server: server, Writeable: writeable, DefaultFetch: defaultFetch}
	return r.persistConfig()
}

// RemoveRemote drops a remote's keg.conf entry and its state-cache
// rows, but never touches the object store (spec.md §3: "removing a
// remote removes its rows but not its objects").
func (r *Repo) RemoveRemote(name string) error {
	delete(r.cfg.Remotes, name)
	if err := r.cache.DropRemote(name); err != nil {
		return err
	}
	return r.persistConfig()
}

// Remotes returns the configured remote names in sorted order.
func (r *Repo) Remotes() []string {
	names := make([]string, 0, len(r.cfg.Remotes))
	for name := range r.cfg.Remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RemoteClient builds a patch-server client for a configured remote.
func (r *Repo) RemoteClient(name string) (*remoteclient.Client, error) {
	rc, ok := r.cfg.Remotes[name]
	if !ok {
		return nil, &unknownRemoteError{name: name}
	}
	return remoteclient.New(r.httpClient, rc.Server, name, r.local, r.cache, r.now), nil
}

type unknownRemoteError struct{ name string }

func (e *unknownRemoteError) Error() string { return "keg: unknown remote " + e.name }

func (r *Repo) persistConfig() error {
	_, confPath, _, _ := ngdpPaths(r.root)
	f, err := os.Create(confPath)
	if err != nil {
		return err
	}
	err = r.cfg.Rewrite(f)
	closeErr := f.Close()
	if err != nil {
		return err
	}
	return closeErr
}
