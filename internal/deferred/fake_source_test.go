package deferred

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"linkcore/pkg/domain"
)

type sourceCalls struct {
	fetchAll int
	reload   int
	count    int
	first    int
	last     int
	isEmpty  int
	create   int
	find     int
	where    int
	lookup   int
}

// fakeSource serves a fixed member list and a repository of known organisms.
type fakeSource struct {
	members []*domain.Organism
	repo    map[string]*domain.Organism
	calls   sourceCalls
	nextID  int
	err     error
}

var _ Source[*domain.Organism] = (*fakeSource)(nil)

func newFakeSource(members ...*domain.Organism) *fakeSource {
	src := &fakeSource{repo: make(map[string]*domain.Organism), nextID: 100}
	for _, m := range members {
		src.members = append(src.members, m)
		src.repo[m.ID] = m
	}
	return src
}

func (f *fakeSource) add(orgs ...*domain.Organism) {
	for _, o := range orgs {
		f.repo[o.ID] = o
	}
}

func (f *fakeSource) FetchAll(context.Context) ([]*domain.Organism, error) {
	f.calls.fetchAll++
	if f.err != nil {
		return nil, f.err
	}
	return slices.Clone(f.members), nil
}

func (f *fakeSource) Reload(context.Context) error {
	f.calls.reload++
	return nil
}

func (f *fakeSource) Count(context.Context) (int, error) {
	f.calls.count++
	return len(f.members), nil
}

func (f *fakeSource) First(context.Context) (*domain.Organism, bool, error) {
	f.calls.first++
	if len(f.members) == 0 {
		return nil, false, nil
	}
	return f.members[0], true, nil
}

func (f *fakeSource) Last(context.Context) (*domain.Organism, bool, error) {
	f.calls.last++
	if len(f.members) == 0 {
		return nil, false, nil
	}
	return f.members[len(f.members)-1], true, nil
}

func (f *fakeSource) IsEmpty(context.Context) (bool, error) {
	f.calls.isEmpty++
	return len(f.members) == 0, nil
}

func (f *fakeSource) Create(_ context.Context, o *domain.Organism) (*domain.Organism, domain.Result, error) {
	f.calls.create++
	res := domain.ValidateRecord(o)
	if res.HasBlocking() {
		return o, res, nil
	}
	f.nextID++
	o.ID = fmt.Sprintf("%d", f.nextID)
	f.members = append(f.members, o)
	f.repo[o.ID] = o
	return o, res, nil
}

func (f *fakeSource) CreateOrFail(ctx context.Context, o *domain.Organism) (*domain.Organism, error) {
	created, res, err := f.Create(ctx, o)
	if err != nil {
		return created, err
	}
	if res.HasBlocking() {
		return created, domain.RuleViolationError{Result: res}
	}
	return created, nil
}

func (f *fakeSource) Find(_ context.Context, id string) (*domain.Organism, bool, error) {
	f.calls.find++
	for _, m := range f.members {
		if m.ID == id {
			return m, true, nil
		}
	}
	return nil, false, nil
}

func (f *fakeSource) Where(_ context.Context, query string) ([]*domain.Organism, error) {
	f.calls.where++
	var out []*domain.Organism
	for _, m := range f.members {
		if strings.Contains(m.Species, query) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeSource) Lookup(_ context.Context, ids []string) ([]*domain.Organism, error) {
	f.calls.lookup++
	out := make([]*domain.Organism, 0, len(ids))
	for _, id := range ids {
		o, ok := f.repo[id]
		if !ok {
			return nil, domain.ErrNotFound{Entity: domain.EntityOrganism, ID: id}
		}
		out = append(out, o)
	}
	return out, nil
}

func persisted(id, name string) *domain.Organism {
	o := &domain.Organism{Name: name, Species: "frog"}
	o.ID = id
	return o
}

func unsaved(name string) *domain.Organism {
	return &domain.Organism{Name: name, Species: "frog"}
}

func names(orgs []*domain.Organism) []string {
	out := make([]string, len(orgs))
	for i, o := range orgs {
		out[i] = o.Name
	}
	return out
}
