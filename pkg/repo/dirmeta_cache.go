package repo

import (
	"github.com/opentree-fs/ostree-core/pkg/checksum"
	"github.com/opentree-fs/ostree-core/pkg/object"
)

// dirmetaCache is the refcounted map of DIR_META values backing
// Repo.dirmeta. Guarded entirely by Repo.dirmetaMu; it carries no mutex of
// its own. Created lazily when the refcount transitions from 0 to >=1 and
// freed when it returns to 0; there is no eviction or TTL otherwise.
type dirmetaCache struct {
	entries map[checksum.Checksum]*object.DirMeta
	refs    int
}

// dirmetaReservation is the token returned by ReserveDirmetaCache. Callers must call
// Release exactly once.
type dirmetaReservation struct {
	r *Repo
}

// ReserveDirmetaCache increments the cache's refcount, creating the backing
// map on the 0->1 transition.
func (r *Repo) ReserveDirmetaCache() *dirmetaReservation {
	r.dirmetaMu.Lock()
	defer r.dirmetaMu.Unlock()
	if r.dirmeta == nil {
		r.dirmeta = &dirmetaCache{entries: make(map[checksum.Checksum]*object.DirMeta)}
	}
	r.dirmeta.refs++
	return &dirmetaReservation{r: r}
}

// Release decrements the refcount, freeing the cache on the 1->0
// transition. Safe to call once; a second call is a no-op.
func (res *dirmetaReservation) Release() {
	if res == nil || res.r == nil {
		return
	}
	r := res.r
	res.r = nil

	r.dirmetaMu.Lock()
	defer r.dirmetaMu.Unlock()
	if r.dirmeta == nil {
		return
	}
	r.dirmeta.refs--
	if r.dirmeta.refs <= 0 {
		r.dirmeta = nil
	}
}

// lookupDirmeta returns the cached DIR_META for sum, if the cache currently
// exists (refcount > 0) and holds an entry for it.
func (r *Repo) lookupDirmeta(sum checksum.Checksum) (*object.DirMeta, bool) {
	r.dirmetaMu.Lock()
	defer r.dirmetaMu.Unlock()
	if r.dirmeta == nil {
		return nil, false
	}
	v, ok := r.dirmeta.entries[sum]
	return v, ok
}

// insertDirmeta inserts a DIR_META value into the cache on a miss, but only
// if the cache currently exists (some caller holds a reservation).
func (r *Repo) insertDirmeta(sum checksum.Checksum, v *object.DirMeta) {
	r.dirmetaMu.Lock()
	defer r.dirmetaMu.Unlock()
	if r.dirmeta == nil {
		return
	}
	r.dirmeta.entries[sum] = v
}
