package cmd

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/fluxxu/keg/pkg/key"
	"github.com/fluxxu/keg/pkg/keg"
	"github.com/fluxxu/keg/pkg/objectstore"
	"github.com/fluxxu/keg/pkg/objectstore/delegating"
	"github.com/fluxxu/keg/pkg/objectstore/remote"
	"github.com/fluxxu/keg/pkg/planner"
	"github.com/fluxxu/keg/pkg/psv"
	"github.com/fluxxu/keg/pkg/remoteclient"
)

// versionsRow is the projection of a /versions PSV row cmd/keg needs,
// grounded on original_source/keg/psvresponse.py's Versions class.
type versionsRow struct {
	Region        string `psv:"Region"`
	BuildConfig   string `psv:"BuildConfig"`
	BuildID       string `psv:"BuildId"`
	CDNConfig     string `psv:"CDNConfig"`
	ProductConfig string `psv:"ProductConfig"`
	VersionsName  string `psv:"VersionsName"`
}

// cdnsRow is the projection of a /cdns PSV row, grounded on the same
// module's CDNs class.
type cdnsRow struct {
	Name       string `psv:"Name"`
	Path       string `psv:"Path"`
	Hosts      string `psv:"Hosts"`
	Servers    string `psv:"Servers"`
	ConfigPath string `psv:"ConfigPath"`
}

func (r cdnsRow) baseServer() (string, error) {
	if s := strings.Fields(r.Servers); len(s) > 0 {
		return s[0], nil
	}
	if h := strings.Fields(r.Hosts); len(h) > 0 {
		return "http://" + h[0], nil
	}
	return "", fmt.Errorf("cdns row %q names no server or host", r.Name)
}

// fetchTable fetches ep and decodes every row into a fresh T via
// psv.Row.Decode.
func fetchTable[T any](ctx context.Context, client *remoteclient.Client, ep remoteclient.Endpoint) ([]T, error) {
	_, body, err := client.Fetch(ctx, ep)
	if err != nil {
		return nil, err
	}
	table, err := psv.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, table.Len())
	it := table.Iter()
	for {
		row, ok := it.Next()
		if !ok {
			break
		}
		var v T
		if err := row.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// buildStore fetches the remote's current /versions and /cdns and
// composes a delegating store over the repository's local objects and
// the first CDN row's server. Fetch, inspect, and fetch-object all use
// this same pair (versions, a working store).
func buildStore(ctx context.Context, repo *keg.Repo, client *remoteclient.Client) ([]versionsRow, []cdnsRow, objectstore.Store, error) {
	versions, err := fetchTable[versionsRow](ctx, client, remoteclient.EndpointVersions)
	if err != nil {
		return nil, nil, nil, err
	}
	cdns, err := fetchTable[cdnsRow](ctx, client, remoteclient.EndpointCDNs)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(cdns) == 0 {
		return nil, nil, nil, fmt.Errorf("remote served no cdns rows")
	}
	server, err := cdns[0].baseServer()
	if err != nil {
		return nil, nil, nil, err
	}

	remoteStore := remote.New(nil, server, cdns[0].Path)
	store := delegating.New(repo.ObjectStore(), repo.ObjectStore(), remoteStore)
	return versions, cdns, store, nil
}

// toPlannerVersions converts the wire rows into planner.Version keys,
// skipping any row whose configs fail to parse rather than aborting
// the whole fetch (spec.md §4.7 point 3: one item's failure never
// removes another from its queue).
func toPlannerVersions(rows []versionsRow) []planner.Version {
	out := make([]planner.Version, 0, len(rows))
	for _, r := range rows {
		v, err := parsePlannerVersion(r)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func parsePlannerVersion(r versionsRow) (planner.Version, error) {
	buildCfg, err := key.Parse(r.BuildConfig)
	if err != nil {
		return planner.Version{}, err
	}
	cdnCfg, err := key.Parse(r.CDNConfig)
	if err != nil {
		return planner.Version{}, err
	}
	v := planner.Version{BuildConfig: buildCfg, CDNConfig: cdnCfg}
	if r.ProductConfig != "" {
		if pc, err := key.Parse(r.ProductConfig); err == nil {
			v.ProductConfig = pc
		}
	}
	return v, nil
}
