package store

import (
	"context"
	"errors"
	"sort"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisStore implements Gateway on Redis. Each document is a hash whose
// fields hold JSON-encoded values, each collection keeps a membership set,
// and every write publishes a change notification on the collection's pub/sub
// topic. Batches ride a MULTI/EXEC pipeline, so they apply all-or-nothing;
// vote counts stay plain integers in the hash so HINCRBY can bump them
// without a read.
type RedisStore struct {
	client *redis.Client
	logger *log.Logger
}

// NewRedisStore creates a Gateway backed by the provided Redis client.
func NewRedisStore(client *redis.Client, logger *log.Logger) *RedisStore {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisStore{client: client, logger: logger}
}

func docKey(ref Ref) string { return "doc:" + ref.Collection + ":" + ref.ID }

func collectionKey(c string) string { return "col:" + c }

func updatesTopic(c string) string { return "store:updates:" + c }

// changeNote is the pub/sub payload. ID is "*" when a batch touched several
// documents in the collection.
type changeNote struct {
	ID string `json:"id"`
}

const batchChangeID = "*"

// maxTxAttempts bounds optimistic retries when a watched key changes under a
// transaction.
const maxTxAttempts = 5

func encodeFields(fields Document) (map[string]string, error) {
	flat := make(map[string]string, len(fields))
	for k, v := range fields {
		data, err := sonic.Marshal(v)
		if err != nil {
			return nil, err
		}
		flat[k] = string(data)
	}
	return flat, nil
}

func decodeFields(id string, raw map[string]string) Document {
	doc := make(Document, len(raw)+1)
	doc["id"] = id
	for k, v := range raw {
		var val any
		if err := sonic.Unmarshal([]byte(v), &val); err != nil {
			// Tolerate non-JSON values written by other tooling.
			val = v
		}
		doc[k] = val
	}
	return doc
}

func (s *RedisStore) GetDocument(ctx context.Context, ref Ref) (Document, error) {
	raw, err := s.client.HGetAll(ctx, docKey(ref)).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrDocumentNotFound
	}
	return decodeFields(ref.ID, raw), nil
}

func (s *RedisStore) SetDocument(ctx context.Context, ref Ref, fields Document) error {
	flat, err := encodeFields(fields)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, docKey(ref))
		pipe.HSet(ctx, docKey(ref), flat)
		pipe.SAdd(ctx, collectionKey(ref.Collection), ref.ID)
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, ref.Collection, ref.ID)
	return nil
}

// UpdateDocument merges fields into an existing document. The existence check
// and the write run under WATCH so a delete racing the update aborts the
// write instead of resurrecting a partial document.
func (s *RedisStore) UpdateDocument(ctx context.Context, ref Ref, fields Document) error {
	flat, err := encodeFields(fields)
	if err != nil {
		return err
	}
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			exists, err := tx.Exists(ctx, docKey(ref)).Result()
			if err != nil {
				return err
			}
			if exists == 0 {
				return ErrDocumentNotFound
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, docKey(ref), flat)
				return nil
			})
			return err
		}, docKey(ref))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return err
		}
		s.publish(ctx, ref.Collection, ref.ID)
		return nil
	}
	return ErrConcurrencyConflict
}

func (s *RedisStore) DeleteDocument(ctx context.Context, ref Ref) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, docKey(ref))
		pipe.SRem(ctx, collectionKey(ref.Collection), ref.ID)
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, ref.Collection, ref.ID)
	return nil
}

// BatchWrite merges every operation inside one MULTI/EXEC block. Two clients
// racing full re-keyings of the same column each commit atomically; the later
// EXEC simply overwrites the earlier one, so the earlier client's intended
// order is lost rather than interleaved. That last-batch-wins behavior is an
// accepted gap, not a guarantee.
func (s *RedisStore) BatchWrite(ctx context.Context, ops []WriteOp) error {
	if len(ops) == 0 {
		return nil
	}
	flats := make([]map[string]string, len(ops))
	for i, op := range ops {
		flat, err := encodeFields(op.Fields)
		if err != nil {
			return err
		}
		flats[i] = flat
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, op := range ops {
			pipe.HSet(ctx, docKey(op.Ref), flats[i])
			pipe.SAdd(ctx, collectionKey(op.Ref.Collection), op.Ref.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, op := range ops {
		if seen[op.Ref.Collection] {
			continue
		}
		seen[op.Ref.Collection] = true
		s.publish(ctx, op.Ref.Collection, batchChangeID)
	}
	return nil
}

func (s *RedisStore) IncrementField(ctx context.Context, ref Ref, field string, delta int64) error {
	exists, err := s.client.Exists(ctx, docKey(ref)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrDocumentNotFound
	}
	if err := s.client.HIncrBy(ctx, docKey(ref), field, delta).Err(); err != nil {
		return err
	}
	s.publish(ctx, ref.Collection, ref.ID)
	return nil
}

func (s *RedisStore) ListCollection(ctx context.Context, collection string) ([]Document, error) {
	ids, err := s.client.SMembers(ctx, collectionKey(collection)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		raw, err := s.client.HGetAll(ctx, docKey(Ref{Collection: collection, ID: id})).Result()
		if err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			// Membership can briefly outlive the hash; skip the ghost.
			continue
		}
		docs = append(docs, decodeFields(id, raw))
	}
	return docs, nil
}

func (s *RedisStore) SubscribeDocument(ctx context.Context, ref Ref, fn func(Document)) (Unsubscribe, error) {
	return s.subscribe(ctx, ref.Collection, func(changedID string) {
		if changedID != batchChangeID && changedID != ref.ID {
			return
		}
		doc, err := s.GetDocument(ctx, ref)
		if err != nil && !errors.Is(err, ErrDocumentNotFound) {
			s.logger.WithField("ref", docKey(ref)).Errorf("snapshot fetch: %v", err)
			return
		}
		fn(doc)
	})
}

func (s *RedisStore) SubscribeCollection(ctx context.Context, collection string, fn func([]Document)) (Unsubscribe, error) {
	return s.subscribe(ctx, collection, func(string) {
		docs, err := s.ListCollection(ctx, collection)
		if err != nil {
			s.logger.WithField("collection", collection).Errorf("snapshot fetch: %v", err)
			return
		}
		fn(docs)
	})
}

// subscribe listens on the collection's update topic and invokes deliver with
// the changed document id for every notification, plus once up front so the
// subscriber starts from the current state. Deliveries run on a single
// goroutine per subscription.
func (s *RedisStore) subscribe(ctx context.Context, collection string, deliver func(changedID string)) (Unsubscribe, error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := s.client.Subscribe(subCtx, updatesTopic(collection))
	// Force the SUBSCRIBE round trip so no notification is missed between
	// the initial snapshot and the first channel receive.
	if _, err := sub.Receive(subCtx); err != nil {
		cancel()
		_ = sub.Close()
		return nil, err
	}

	deliver(batchChangeID)

	go func() {
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					if subCtx.Err() == nil {
						s.logger.WithField("collection", collection).Error("pubsub channel closed")
					}
					return
				}
				var note changeNote
				if err := sonic.Unmarshal([]byte(msg.Payload), &note); err != nil {
					s.logger.Errorf("unable to parse update: %v", err)
					continue
				}
				deliver(note.ID)
			}
		}
	}()

	return func() { cancel() }, nil
}

func (s *RedisStore) publish(ctx context.Context, collection, id string) {
	payload, err := sonic.Marshal(changeNote{ID: id})
	if err != nil {
		s.logger.Errorf("marshal change note: %v", err)
		return
	}
	if err := s.client.Publish(ctx, updatesTopic(collection), payload).Err(); err != nil {
		s.logger.WithField("collection", collection).Errorf("publish update: %v", err)
	}
}
