// Package project maps project names to their resolved stores for the
// lifetime of the server process.
package project

import (
	"context"
	"sort"

	gstorage "cloud.google.com/go/storage"
	"github.com/pkg/errors"

	"github.com/copick/copick-server-go/go/config"
	"github.com/copick/copick-server-go/go/overlay"
	"github.com/copick/copick-server-go/go/store"
)

// ErrUnknownProject is returned by Lookup for names not in the configuration.
var ErrUnknownProject = errors.New("unknown project")

// Project is one served dataset: a name and its fully resolved store. When
// the project has an overlay configured the store is an overlay.Overlay;
// otherwise it is the read-only base.
type Project struct {
	Name  string
	Store store.Store
}

// Router resolves project names to Projects. The project set is fixed at
// construction, so lookups need no locking.
type Router struct {
	projects map[string]*Project
}

// NewRouter builds a Router from the configuration. gcsClient may be nil if
// no project uses a GCS base. Overlay roots are created on disk if missing.
func NewRouter(ctx context.Context, cfg config.Config, gcsClient *gstorage.Client) (*Router, error) {
	projects := map[string]*Project{}
	for _, pc := range cfg.Projects {
		base, err := newBaseStore(pc, gcsClient)
		if err != nil {
			return nil, errors.Wrapf(err, "project %q", pc.Name)
		}

		var s store.Store
		if root := cfg.OverlayRootFor(pc); root != "" {
			over, err := store.NewFileStore(root)
			if err != nil {
				return nil, errors.Wrapf(err, "project %q: creating overlay", pc.Name)
			}
			s = overlay.New(base, over)
		} else {
			s = store.ReadOnly(base)
		}
		projects[pc.Name] = &Project{
			Name:  pc.Name,
			Store: s,
		}
	}
	return &Router{
		projects: projects,
	}, nil
}

// newBaseStore constructs the base store for one project config.
func newBaseStore(pc config.ProjectConfig, gcsClient *gstorage.Client) (store.Store, error) {
	switch pc.Base.Kind {
	case config.KindFile:
		return store.NewFileStore(pc.Base.Root)
	case config.KindGCS:
		if gcsClient == nil {
			return nil, errors.New("GCS base configured but no GCS client supplied")
		}
		return store.NewGCSStore(gcsClient, pc.Base.Bucket, pc.Base.Prefix), nil
	case config.KindMemory:
		return store.NewMemStore(), nil
	}
	return nil, errors.Errorf("unknown base kind %q", pc.Base.Kind)
}

// Lookup returns the named project, or an error wrapping ErrUnknownProject.
func (r *Router) Lookup(name string) (*Project, error) {
	p, ok := r.projects[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownProject, name)
	}
	return p, nil
}

// Names returns the sorted names of all served projects.
func (r *Router) Names() []string {
	ret := make([]string, 0, len(r.projects))
	for name := range r.projects {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}
