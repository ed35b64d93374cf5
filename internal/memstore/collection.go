package memstore

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/m4nti5/mongolocust/internal/store"
)

// ErrSecondaryWrite はセカンダリ読み取りビューへの書き込みを表す
var ErrSecondaryWrite = errors.New("writes are not allowed through a secondary read view")

// collectionHandle は store.Collection の実装
type collectionHandle struct {
	cluster   *Cluster
	ns        store.Namespace
	secondary bool
}

// Ensure collectionHandle implements store.Collection
var _ store.Collection = (*collectionHandle)(nil)

func (h *collectionHandle) checkWritable() error {
	if h.secondary {
		return errors.Wrapf(ErrSecondaryWrite, "%s", h.ns)
	}
	return nil
}

func (h *collectionHandle) countWrite(wc store.WriteConcern, n int) {
	if wc == store.Majority {
		h.cluster.majorityWrites.Add(uint64(n))
	}
}

func (h *collectionHandle) InsertOne(ctx context.Context, doc store.Document, wc store.WriteConcern) error {
	if err := h.checkWritable(); err != nil {
		return err
	}

	h.cluster.mu.RLock()
	defer h.cluster.mu.RUnlock()

	s, err := h.cluster.route(h.ns, doc.ID)
	if err != nil {
		return err
	}
	if err := s.put(ctx, h.ns.String(), doc); err != nil {
		return err
	}
	h.countWrite(wc, 1)
	return nil
}

// InsertMany は順序付き挿入。最初の失敗で止まり、それまでの分は書き込まれたまま残る
func (h *collectionHandle) InsertMany(ctx context.Context, docs []store.Document, wc store.WriteConcern) error {
	if err := h.checkWritable(); err != nil {
		return err
	}
	if len(docs) == 0 {
		return errors.New("InsertMany requires at least one document")
	}

	h.cluster.mu.RLock()
	defer h.cluster.mu.RUnlock()

	for i, doc := range docs {
		s, err := h.cluster.route(h.ns, doc.ID)
		if err == nil {
			err = s.put(ctx, h.ns.String(), doc)
		}
		if err != nil {
			h.countWrite(wc, i)
			return errors.Wrapf(err, "bulk write stopped at document %d of %d", i, len(docs))
		}
	}
	h.countWrite(wc, len(docs))
	return nil
}

func (h *collectionHandle) FindOne(ctx context.Context, id int64) (store.Document, bool, error) {
	h.cluster.mu.RLock()
	defer h.cluster.mu.RUnlock()

	s, err := h.cluster.route(h.ns, id)
	if err != nil {
		return store.Document{}, false, err
	}
	return s.get(ctx, h.ns.String(), id)
}

func (h *collectionHandle) UpdateOne(ctx context.Context, id int64, update store.Update) (int64, error) {
	if err := h.checkWritable(); err != nil {
		return 0, err
	}

	h.cluster.mu.RLock()
	defer h.cluster.mu.RUnlock()

	s, err := h.cluster.route(h.ns, id)
	if err != nil {
		return 0, err
	}
	matched, err := s.update(ctx, h.ns.String(), id, update.Set)
	if err != nil || !matched {
		return 0, err
	}
	return 1, nil
}
