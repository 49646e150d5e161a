// Package service groups the entities of one service that live on the same
// table. A service reads collections, several entities sharing a partition,
// in one query and commits writes of different entities in one transaction.
//
//	svc := service.New("MallStoreDirectory", service.WithClient(client))
//	if err := svc.Add(stores, events); err != nil {
//	    return err
//	}
//	res, err := svc.Collection("directory", attr.Item{"mall": "EastPointe"}).Go(ctx)
//	// res.Data["MallStores"], res.Data["MallEvents"]
package service

import (
	"slices"
	"sync"

	"github.com/acksell/facet/dynamodb/ddberr"
	"github.com/acksell/facet/dynamodb/ddbsdk"
	"github.com/acksell/facet/dynamodb/entity"
	"github.com/acksell/facet/dynamodb/expr"
	"github.com/acksell/facet/dynamodb/index"
	"go.uber.org/zap"
)

// Service is a registry of entities sharing a service name and a table.
// It is safe for concurrent use.
type Service struct {
	name   string
	client ddbsdk.AWSDynamoClientV2
	logger *zap.Logger

	mu          sync.RWMutex
	table       string
	entities    map[string]*entity.Entity
	order       []string // registration order
	collections map[string]*collection
}

type Option func(*Service)

// WithClient sets the client used by collection reads and transactions.
// Without it the client of the first registered entity is used.
func WithClient(c ddbsdk.AWSDynamoClientV2) Option {
	return func(s *Service) {
		s.client = c
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func New(name string, opts ...Option) *Service {
	s := &Service{
		name:        name,
		logger:      zap.NewNop(),
		entities:    make(map[string]*entity.Entity),
		collections: make(map[string]*collection),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// collection is the shared partition layout of its members.
type collection struct {
	name     string
	index    string
	pkField  string
	skField  string
	pkFacets []string
	members  []*entity.Entity
}

func (c *collection) identities() []expr.Identity {
	ids := make([]expr.Identity, len(c.members))
	for i, m := range c.members {
		ids[i] = m.Identity()
	}
	return ids
}

// Name returns the service name.
func (s *Service) Name() string { return s.name }

// Add registers entities. Either all of them are added or none: an entity
// of another service or table, a duplicate entity name or a collection
// member that disagrees with the other members is a schema error.
func (s *Service) Add(entities ...*entity.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := s.table
	names := make(map[string]bool, len(entities))
	staged := make(map[string]*collection)
	for _, e := range entities {
		m := e.Model()
		if m.Service != s.name {
			return ddberr.New(ddberr.CodeSchemaValidation,
				"entity %q belongs to service %q, expected %q", m.Entity, m.Service, s.name)
		}
		if _, dup := s.entities[m.Entity]; dup || names[m.Entity] {
			return ddberr.New(ddberr.CodeSchemaValidation, "entity %q is already registered", m.Entity)
		}
		names[m.Entity] = true
		if table == "" {
			table = e.TableName()
		} else if e.TableName() != table {
			return ddberr.New(ddberr.CodeSchemaValidation,
				"entity %q uses table %q, expected %q", m.Entity, e.TableName(), table)
		}
		for _, idx := range e.Indexes().All() {
			if idx.Collection == "" {
				continue
			}
			c := staged[idx.Collection]
			if c == nil {
				if existing, ok := s.collections[idx.Collection]; ok {
					clone := *existing
					clone.members = slices.Clone(existing.members)
					c = &clone
				}
			}
			c, err := join(c, e, idx)
			if err != nil {
				return err
			}
			staged[idx.Collection] = c
		}
	}

	s.table = table
	for _, e := range entities {
		name := e.Model().Entity
		s.entities[name] = e
		s.order = append(s.order, name)
		if s.client == nil {
			s.client = e.Client()
		}
	}
	for name, c := range staged {
		s.collections[name] = c
	}
	return nil
}

// join adds e to c, creating c when it is nil.
func join(c *collection, e *entity.Entity, idx *index.Index) (*collection, error) {
	name := e.Model().Entity
	if idx.SK.IsTemplate() {
		return nil, ddberr.New(ddberr.CodeSchemaValidation,
			"entity %q: collection %q cannot use a sort key template", name, idx.Collection)
	}
	if c == nil {
		return &collection{
			name:     idx.Collection,
			index:    idx.Index,
			pkField:  idx.PK.Field(),
			skField:  idx.SK.Field(),
			pkFacets: idx.PK.Facets(),
			members:  []*entity.Entity{e},
		}, nil
	}
	switch {
	case idx.Index != c.index:
		return nil, ddberr.New(ddberr.CodeSchemaValidation,
			"entity %q: collection %q is on index %q, got %q", name, c.name, c.index, idx.Index)
	case idx.PK.Field() != c.pkField || idx.SK.Field() != c.skField:
		return nil, ddberr.New(ddberr.CodeSchemaValidation,
			"entity %q: collection %q uses key fields %q and %q", name, c.name, c.pkField, c.skField)
	case !slices.Equal(idx.PK.Facets(), c.pkFacets):
		return nil, ddberr.New(ddberr.CodeSchemaValidation,
			"entity %q: collection %q has partition key facets %q, got %q", name, c.name, c.pkFacets, idx.PK.Facets())
	}
	c.members = append(c.members, e)
	return c, nil
}

// Entity returns a registered entity by name.
func (s *Service) Entity(name string) (*entity.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[name]
	return e, ok
}

// Entities returns the registered entities in registration order.
func (s *Service) Entities() []*entity.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entity.Entity, len(s.order))
	for i, name := range s.order {
		out[i] = s.entities[name]
	}
	return out
}

// Collections returns the collection names and their member entity names.
func (s *Service) Collections() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string, len(s.collections))
	for name, c := range s.collections {
		for _, m := range c.members {
			out[name] = append(out[name], m.Model().Entity)
		}
	}
	return out
}

func (s *Service) collection(name string) (*collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, ddberr.New(ddberr.CodeInvalidIndexName, "service %q has no collection %q", s.name, name)
	}
	return c, nil
}

func (s *Service) dynamo() (ddbsdk.AWSDynamoClientV2, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, ddberr.New(ddberr.CodeInvalidOptions, "service %q has no client, see WithClient", s.name)
	}
	return s.client, nil
}
