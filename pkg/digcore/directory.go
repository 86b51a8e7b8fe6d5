package digcore

import (
	"sync"
	"time"
)

// PeerDirectory is the concurrent, last-writer-wins peer record table
// shared by OverlayDiscovery and LocalSubnetScanner. A PeerRecord only
// ever enters the table through Upsert, which callers use after a
// gossip touch, DHT sighting, or successful handshake — never before.
//
// The local node's own identifier is never a key here; callers must
// filter it out before calling Upsert.
type PeerDirectory struct {
	mu      sync.RWMutex
	records map[PeerID]*PeerRecord
}

// NewPeerDirectory returns an empty directory.
func NewPeerDirectory() *PeerDirectory {
	return &PeerDirectory{records: make(map[PeerID]*PeerRecord)}
}

// Upsert merges rec into the directory. LastSeen is taken as the
// maximum of the existing and incoming values so a slow handshake
// response can never rewind a fresher gossip touch.
func (d *PeerDirectory) Upsert(rec PeerRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.records[rec.ID]
	if !ok {
		cp := rec
		d.records[rec.ID] = &cp
		return
	}
	if rec.LastSeen.Before(existing.LastSeen) {
		rec.LastSeen = existing.LastSeen
	}
	cp := rec
	d.records[rec.ID] = &cp
}

// Touch refreshes LastSeen for an existing record without otherwise
// changing it. No-op if the peer is not present.
func (d *PeerDirectory) Touch(id PeerID, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rec, ok := d.records[id]; ok && at.After(rec.LastSeen) {
		rec.LastSeen = at
	}
}

// Remove drops a peer from the directory, e.g. after a failed
// handshake during existing-connection filtering.
func (d *PeerDirectory) Remove(id PeerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.records, id)
}

// Get returns a snapshot copy of one peer's record.
func (d *PeerDirectory) Get(id PeerID) (PeerRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.records[id]
	if !ok {
		return PeerRecord{}, false
	}
	return *rec, true
}

// GetAll returns a snapshot of every record currently known.
func (d *PeerDirectory) GetAll() []PeerRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]PeerRecord, 0, len(d.records))
	for _, rec := range d.records {
		out = append(out, *rec)
	}
	return out
}

// GetByStore returns every known record advertising storeID.
func (d *PeerDirectory) GetByStore(storeID string) []PeerRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []PeerRecord
	for _, rec := range d.records {
		for _, sid := range rec.StoreIDs {
			if sid == storeID {
				out = append(out, *rec)
				break
			}
		}
	}
	return out
}

// GetTURNCapable returns every known record advertising turn_server
// capability.
func (d *PeerDirectory) GetTURNCapable() []PeerRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []PeerRecord
	for _, rec := range d.records {
		if rec.Capabilities.TURNServer {
			out = append(out, *rec)
		}
	}
	return out
}

// Len reports the current directory size.
func (d *PeerDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

// LatestLastSeen returns the most recent LastSeen across all records,
// the zero time if the directory is empty.
func (d *PeerDirectory) LatestLastSeen() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var latest time.Time
	for _, rec := range d.records {
		if rec.LastSeen.After(latest) {
			latest = rec.LastSeen
		}
	}
	return latest
}
