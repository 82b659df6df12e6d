package storage

import (
	"context"
	"strings"
	"sync"

	"sjsage522/estateworker/internal/geo"
	"sjsage522/estateworker/internal/listing"
	"sjsage522/estateworker/internal/zone"
)

// Store is the persistence boundary of the pipeline
type Store interface {
	// Upsert stores a listing keyed by its identity key. inserted is false
	// when the listing already existed. loc may be nil.
	Upsert(ctx context.Context, l *listing.Listing, loc *geo.Result) (inserted bool, err error)

	// LookupLocation returns the coordinates already stored for the
	// listing's address, if any.
	LookupLocation(ctx context.Context, l *listing.Listing) (zone.Coordinates, bool, error)
}

// Locality identifies one location row. Address is the exact string the
// geocoder resolves; rows are keyed by zone and address.
type Locality struct {
	Zone    string
	Town    string
	Street  string
	Road    string
	Address string
}

// LocalityOf derives the locality of a listing. Empty parts are stored as
// "" so that the natural key stays comparable.
func LocalityOf(l *listing.Listing) Locality {
	profile, _ := zone.Lookup(l.Zone)
	return Locality{
		Zone:    profile.Name,
		Town:    strings.TrimSpace(deref(l.Town)),
		Street:  strings.TrimSpace(deref(l.Street)),
		Road:    strings.TrimSpace(deref(l.Road)),
		Address: l.Address(),
	}
}

// Empty reports whether there is no address to key a location row by
func (k Locality) Empty() bool {
	return k.Address == ""
}

type locationKey struct {
	zone    string
	address string
}

func (k Locality) key() locationKey {
	return locationKey{zone: k.Zone, address: k.Address}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// MemoryStore keeps everything in process. It backs dry runs and tests.
type MemoryStore struct {
	mu        sync.Mutex
	listings  map[string]listing.Listing
	order     []string
	locations map[locationKey]geo.Result
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings:  make(map[string]listing.Listing),
		locations: make(map[locationKey]geo.Result),
	}
}

// Upsert stores l unless its identity key is already present
func (m *MemoryStore) Upsert(_ context.Context, l *listing.Listing, loc *geo.Result) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if locality := LocalityOf(l); loc != nil && !locality.Empty() {
		if _, ok := m.locations[locality.key()]; !ok {
			m.locations[locality.key()] = *loc
		}
	}

	id := l.IdentityKey()
	if _, exists := m.listings[id]; exists {
		return false, nil
	}
	m.listings[id] = *l
	m.order = append(m.order, id)
	return true, nil
}

// LookupLocation returns stored coordinates for the listing's address
func (m *MemoryStore) LookupLocation(_ context.Context, l *listing.Listing) (zone.Coordinates, bool, error) {
	locality := LocalityOf(l)
	if locality.Empty() {
		return zone.Coordinates{}, false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.locations[locality.key()]
	return res.Coordinates, ok, nil
}

// Listings returns stored listings in insertion order
func (m *MemoryStore) Listings() []listing.Listing {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]listing.Listing, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.listings[id])
	}
	return out
}
