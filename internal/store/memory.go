package store

import (
	"context"
	"sort"
	"sync"

	"AlphaDrop/internal/model"
)

// MemoryStore keeps everything in process. It is used in tests and when no
// SQLite path is configured. Transactions are serialized by a single mutex.
type MemoryStore struct {
	mu           sync.Mutex
	participants map[int64]*model.Participant
	order        []int64
	drops        map[int64]*model.Drop
	nextDropID   int64
	trustEvents  []model.TrustEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		participants: make(map[int64]*model.Participant),
		drops:        make(map[int64]*model.Drop),
		nextDropID:   1,
	}
}

func (m *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.newTx())
}

func (m *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := m.newTx()
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) newTx() *memTx {
	return &memTx{
		m:            m,
		participants: make(map[int64]*model.Participant),
		drops:        make(map[int64]*model.Drop),
		nextDropID:   m.nextDropID,
	}
}

// memTx stages writes until commit.
type memTx struct {
	m            *MemoryStore
	participants map[int64]*model.Participant
	newOrder     []int64
	drops        map[int64]*model.Drop
	nextDropID   int64
	trustEvents  []model.TrustEvent
}

func (t *memTx) commit() {
	for id, p := range t.participants {
		t.m.participants[id] = p
	}
	t.m.order = append(t.m.order, t.newOrder...)
	for id, d := range t.drops {
		t.m.drops[id] = d
	}
	t.m.nextDropID = t.nextDropID
	t.m.trustEvents = append(t.m.trustEvents, t.trustEvents...)
}

func (t *memTx) lookupParticipant(id int64) (*model.Participant, bool) {
	if p, ok := t.participants[id]; ok {
		return p, true
	}
	p, ok := t.m.participants[id]
	return p, ok
}

func (t *memTx) Participant(id int64) (*model.Participant, error) {
	p, ok := t.lookupParticipant(id)
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (t *memTx) Participants() ([]*model.Participant, error) {
	ids := append(append([]int64(nil), t.m.order...), t.newOrder...)
	out := make([]*model.Participant, 0, len(ids))
	for _, id := range ids {
		p, _ := t.lookupParticipant(id)
		out = append(out, p.Clone())
	}
	return out, nil
}

func (t *memTx) PutParticipant(p *model.Participant) error {
	if _, ok := t.lookupParticipant(p.ID); !ok {
		t.newOrder = append(t.newOrder, p.ID)
	}
	t.participants[p.ID] = p.Clone()
	return nil
}

func (t *memTx) lookupDrop(id int64) (*model.Drop, bool) {
	if d, ok := t.drops[id]; ok {
		return d, true
	}
	d, ok := t.m.drops[id]
	return d, ok
}

func (t *memTx) Drop(id int64) (*model.Drop, error) {
	d, ok := t.lookupDrop(id)
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (t *memTx) Drops(f DropFilter) ([]*model.Drop, error) {
	var out []*model.Drop
	for id := int64(1); id < t.nextDropID; id++ {
		d, ok := t.lookupDrop(id)
		if ok && matchDrop(d, f) {
			out = append(out, d.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if f.Desc {
			return out[i].ScheduledAt.After(out[j].ScheduledAt)
		}
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t *memTx) CountDrops() (int, error) {
	n := 0
	for id := int64(1); id < t.nextDropID; id++ {
		if _, ok := t.lookupDrop(id); ok {
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertDrop(d *model.Drop) (int64, error) {
	id := t.nextDropID
	t.nextDropID++
	c := d.Clone()
	c.ID = id
	t.drops[id] = c
	return id, nil
}

func (t *memTx) PutDrop(d *model.Drop) error {
	if _, ok := t.lookupDrop(d.ID); !ok {
		return ErrNotFound
	}
	t.drops[d.ID] = d.Clone()
	return nil
}

func (t *memTx) AppendTrustEvent(evt *model.TrustEvent) error {
	t.trustEvents = append(t.trustEvents, *evt)
	return nil
}

func (t *memTx) TrustEvents(participantID int64, limit int) ([]model.TrustEvent, error) {
	all := append(append([]model.TrustEvent(nil), t.m.trustEvents...), t.trustEvents...)
	var out []model.TrustEvent
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].ParticipantID != participantID {
			continue
		}
		out = append(out, all[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
