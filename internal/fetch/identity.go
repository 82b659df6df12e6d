package fetch

import (
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"sjsage522/estateworker/helpers"
)

// Identity is the client persona presented to one domain: header profile
// and cookie session. It rotates after a randomized number of requests and
// whenever the domain blocks us.
type Identity struct {
	mu             sync.Mutex
	profile        helpers.Profile
	jar            http.CookieJar
	requests       int
	rotateAt       int
	minRotate      int
	maxRotate      int
	acceptLanguage string
	rng            *rand.Rand
	rotations      int
}

// NewIdentity creates an identity rotating every [minRotate, maxRotate] requests
func NewIdentity(minRotate, maxRotate int, acceptLanguage string) *Identity {
	if minRotate <= 0 {
		minRotate = 30
	}
	if maxRotate < minRotate {
		maxRotate = minRotate
	}
	id := &Identity{
		minRotate:      minRotate,
		maxRotate:      maxRotate,
		acceptLanguage: acceptLanguage,
		rng:            rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0xda942042e4dd58b5)),
	}
	id.refreshLocked()
	id.rotations = 0
	return id
}

// Next advances the request counter, rotating first when the threshold is
// reached, and returns headers plus the cookie jar for the request.
func (id *Identity) Next() (http.Header, http.CookieJar) {
	id.mu.Lock()
	defer id.mu.Unlock()

	if id.requests >= id.rotateAt {
		id.refreshLocked()
	}
	id.requests++
	return id.profile.Header(), id.jar
}

// Refresh discards cookies and picks a new header profile
func (id *Identity) Refresh() {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.refreshLocked()
}

// Rotations returns how many times the identity has been replaced
func (id *Identity) Rotations() int {
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.rotations
}

func (id *Identity) refreshLocked() {
	jar, _ := cookiejar.New(nil)
	id.jar = jar
	id.profile = helpers.RandomProfile(id.rng, id.acceptLanguage)
	id.requests = 0
	id.rotateAt = id.minRotate + id.rng.IntN(id.maxRotate-id.minRotate+1)
	id.rotations++
}
