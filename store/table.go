package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	log "github.com/sirupsen/logrus"
)

// Notifier fans out change notifications for stores whose backend cannot push
// them itself. Payloads are opaque to the notifier.
type Notifier interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, fn func(payload []byte)) (Unsubscribe, error)
}

// TableStore implements Gateway on Azure Table Storage. A collection maps to
// a partition, a document to an entity whose properties hold JSON-encoded
// values. Partial updates use merge mode, batches use entity-group
// transactions (atomic within one partition, which is why a batch must stay
// inside one collection), and increments are ETag-guarded retries since
// tables have no native counter. Tables push nothing, so every write is
// announced through the Notifier and subscriptions are notification-driven
// refetches.
type TableStore struct {
	table    *aztables.Client
	notifier Notifier
	logger   *log.Logger

	incrementRetries int
}

// NewTableStore creates a Gateway backed by the given table client and
// notifier.
func NewTableStore(table *aztables.Client, notifier Notifier, logger *log.Logger) *TableStore {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &TableStore{table: table, notifier: notifier, logger: logger, incrementRetries: 5}
}

// reserved entity properties that never round-trip into documents.
func reservedProperty(name string) bool {
	switch name {
	case "PartitionKey", "RowKey", "Timestamp", "odata.etag", "odata.metadata":
		return true
	}
	return false
}

func encodeEntity(ref Ref, fields Document) ([]byte, error) {
	ent := make(map[string]any, len(fields)+2)
	ent["PartitionKey"] = ref.Collection
	ent["RowKey"] = ref.ID
	for k, v := range fields {
		if reservedProperty(k) || k == "id" {
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		ent[k] = string(data)
	}
	return json.Marshal(ent)
}

func decodeEntity(data []byte) (Document, string, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, "", err
	}
	id, _ := raw["RowKey"].(string)
	etag, _ := raw["odata.etag"].(string)
	doc := make(Document, len(raw))
	doc["id"] = id
	for k, v := range raw {
		if reservedProperty(k) {
			continue
		}
		s, ok := v.(string)
		if !ok {
			doc[k] = v
			continue
		}
		var val any
		if err := json.Unmarshal([]byte(s), &val); err != nil {
			doc[k] = s
			continue
		}
		doc[k] = val
	}
	return doc, etag, nil
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

func (s *TableStore) GetDocument(ctx context.Context, ref Ref) (Document, error) {
	resp, err := s.table.GetEntity(ctx, ref.Collection, ref.ID, nil)
	if err != nil {
		if isStatus(err, 404) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	doc, _, err := decodeEntity(resp.Value)
	return doc, err
}

func (s *TableStore) SetDocument(ctx context.Context, ref Ref, fields Document) error {
	data, err := encodeEntity(ref, fields)
	if err != nil {
		return err
	}
	if _, err := s.table.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return err
	}
	s.announce(ctx, ref.Collection, ref.ID)
	return nil
}

func (s *TableStore) UpdateDocument(ctx context.Context, ref Ref, fields Document) error {
	data, err := encodeEntity(ref, fields)
	if err != nil {
		return err
	}
	if _, err := s.table.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{UpdateMode: aztables.UpdateModeMerge}); err != nil {
		if isStatus(err, 404) {
			return ErrDocumentNotFound
		}
		return err
	}
	s.announce(ctx, ref.Collection, ref.ID)
	return nil
}

func (s *TableStore) DeleteDocument(ctx context.Context, ref Ref) error {
	if _, err := s.table.DeleteEntity(ctx, ref.Collection, ref.ID, nil); err != nil && !isStatus(err, 404) {
		return err
	}
	s.announce(ctx, ref.Collection, ref.ID)
	return nil
}

func (s *TableStore) BatchWrite(ctx context.Context, ops []WriteOp) error {
	if len(ops) == 0 {
		return nil
	}
	collection := ops[0].Ref.Collection
	actions := make([]aztables.TransactionAction, 0, len(ops))
	for _, op := range ops {
		if op.Ref.Collection != collection {
			// Entity-group transactions cannot cross partitions.
			return ErrMixedCollections
		}
		data, err := encodeEntity(op.Ref, op.Fields)
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeInsertMerge,
			Entity:     data,
		})
	}
	if _, err := s.table.SubmitTransaction(ctx, actions, nil); err != nil {
		return err
	}
	s.announce(ctx, collection, batchChangeID)
	return nil
}

// IncrementField emulates an atomic counter with an ETag-guarded
// read-modify-write. Lost updates are impossible: a concurrent bump flips the
// ETag and the precondition failure sends us back around the loop.
func (s *TableStore) IncrementField(ctx context.Context, ref Ref, field string, delta int64) error {
	for attempt := 0; attempt < s.incrementRetries; attempt++ {
		resp, err := s.table.GetEntity(ctx, ref.Collection, ref.ID, nil)
		if err != nil {
			if isStatus(err, 404) {
				return ErrDocumentNotFound
			}
			return err
		}
		doc, etag, err := decodeEntity(resp.Value)
		if err != nil {
			return err
		}
		current, _ := doc[field].(float64)
		next := int64(current) + delta

		data, err := encodeEntity(ref, Document{field: next})
		if err != nil {
			return err
		}
		_, err = s.table.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{
			IfMatch:    to.Ptr(azcore.ETag(etag)),
			UpdateMode: aztables.UpdateModeMerge,
		})
		if err == nil {
			s.announce(ctx, ref.Collection, ref.ID)
			return nil
		}
		if !isStatus(err, 412) {
			return err
		}
		s.logger.WithFields(log.Fields{"doc": ref.ID, "attempt": attempt + 1}).Debug("increment etag conflict, retrying")
	}
	return fmt.Errorf("increment %s on %s/%s: %w", field, ref.Collection, ref.ID, ErrConcurrencyConflict)
}

func (s *TableStore) ListCollection(ctx context.Context, collection string) ([]Document, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s'", collection)
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	docs := []Document{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			doc, _, err := decodeEntity(e)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (s *TableStore) SubscribeDocument(ctx context.Context, ref Ref, fn func(Document)) (Unsubscribe, error) {
	return s.subscribe(ctx, ref.Collection, func(changedID string) {
		if changedID != batchChangeID && changedID != ref.ID {
			return
		}
		doc, err := s.GetDocument(ctx, ref)
		if err != nil && !errors.Is(err, ErrDocumentNotFound) {
			s.logger.WithField("doc", ref.ID).Errorf("snapshot fetch: %v", err)
			return
		}
		fn(doc)
	})
}

func (s *TableStore) SubscribeCollection(ctx context.Context, collection string, fn func([]Document)) (Unsubscribe, error) {
	return s.subscribe(ctx, collection, func(string) {
		docs, err := s.ListCollection(ctx, collection)
		if err != nil {
			s.logger.WithField("collection", collection).Errorf("snapshot fetch: %v", err)
			return
		}
		fn(docs)
	})
}

func (s *TableStore) subscribe(ctx context.Context, collection string, deliver func(changedID string)) (Unsubscribe, error) {
	unsub, err := s.notifier.Subscribe(ctx, updatesTopic(collection), func(payload []byte) {
		var note changeNote
		if err := json.Unmarshal(payload, &note); err != nil {
			s.logger.Errorf("unable to parse update: %v", err)
			return
		}
		deliver(note.ID)
	})
	if err != nil {
		return nil, err
	}
	deliver(batchChangeID)
	return unsub, nil
}

func (s *TableStore) announce(ctx context.Context, collection, id string) {
	payload, err := json.Marshal(changeNote{ID: id})
	if err != nil {
		s.logger.Errorf("marshal change note: %v", err)
		return
	}
	if err := s.notifier.Publish(ctx, updatesTopic(collection), payload); err != nil {
		s.logger.WithField("collection", collection).Errorf("publish update: %v", err)
	}
}
