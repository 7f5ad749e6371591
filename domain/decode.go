package domain

import (
	"encoding/json"
	"time"
)

// Documents arriving from the store are loosely typed: numbers may decode as
// float64, int64 or json.Number depending on the adapter, and optional fields
// may simply be absent. Everything is coerced here, at the boundary, so the
// rest of the core only ever sees the concrete Board and Card types. Missing
// optional timer fields take their documented defaults (an absent paused
// remainder is nil, never zero).

// BoardFromDocument coerces a raw board document into a Board. The document
// id is authoritative for the board id.
func BoardFromDocument(id string, doc map[string]any) *Board {
	if doc == nil {
		return nil
	}
	b := &Board{
		ID:                           id,
		Name:                         asString(doc["name"]),
		Columns:                      columnsFromValue(doc["columns"]),
		FacilitatorID:                asString(doc["facilitatorId"]),
		Active:                       asBool(doc["isActive"]),
		CreatedAt:                    asTime(doc["createdAt"]),
		TimerIsRunning:               asBool(doc["timerIsRunning"]),
		TimerDurationSeconds:         int(asInt64(doc["timerDurationSeconds"])),
		TimerOriginalDurationSeconds: int(asInt64(doc["timerOriginalDurationSeconds"])),
	}
	if ms, ok := asInt64Ok(doc["timerStartTime"]); ok {
		t := time.UnixMilli(ms)
		b.TimerStartTime = &t
	}
	if v, ok := asInt64Ok(doc["timerPausedDurationSeconds"]); ok {
		n := int(v)
		b.TimerPausedDurationSeconds = &n
	}
	return b
}

// BoardDocument flattens a Board into store fields for a full write.
func BoardDocument(b *Board) map[string]any {
	doc := map[string]any{
		"name":                         b.Name,
		"columns":                      columnsToValue(b.Columns),
		"facilitatorId":                b.FacilitatorID,
		"isActive":                     b.Active,
		"createdAt":                    b.CreatedAt.UnixMilli(),
		"timerIsRunning":               b.TimerIsRunning,
		"timerStartTime":               nil,
		"timerDurationSeconds":         b.TimerDurationSeconds,
		"timerPausedDurationSeconds":   nil,
		"timerOriginalDurationSeconds": b.TimerOriginalDurationSeconds,
	}
	if b.TimerStartTime != nil {
		doc["timerStartTime"] = b.TimerStartTime.UnixMilli()
	}
	if b.TimerPausedDurationSeconds != nil {
		doc["timerPausedDurationSeconds"] = *b.TimerPausedDurationSeconds
	}
	return doc
}

// CardFromDocument coerces a raw card document into a Card.
func CardFromDocument(id string, doc map[string]any) Card {
	return Card{
		ID:         id,
		BoardID:    asString(doc["boardId"]),
		ColumnID:   asString(doc["columnId"]),
		Content:    asString(doc["content"]),
		AuthorID:   asString(doc["authorId"]),
		AuthorName: asString(doc["authorName"]),
		Votes:      int(asInt64(doc["votes"])),
		Position:   asInt64(doc["position"]),
		CreatedAt:  asTime(doc["createdAt"]),
	}
}

// CardDocument flattens a Card into store fields for a full write.
func CardDocument(c Card) map[string]any {
	return map[string]any{
		"boardId":    c.BoardID,
		"columnId":   c.ColumnID,
		"content":    c.Content,
		"authorId":   c.AuthorID,
		"authorName": c.AuthorName,
		"votes":      c.Votes,
		"position":   c.Position,
		"createdAt":  c.CreatedAt.UnixMilli(),
	}
}

func columnsFromValue(v any) map[string]Column {
	raw, ok := v.(map[string]any)
	if !ok {
		return map[string]Column{}
	}
	cols := make(map[string]Column, len(raw))
	for id, cv := range raw {
		cm, ok := cv.(map[string]any)
		if !ok {
			continue
		}
		cols[id] = Column{
			ID:          id,
			Title:       asString(cm["title"]),
			Order:       int(asInt64(cm["order"])),
			SortByVotes: asBool(cm["sortByVotes"]),
		}
	}
	return cols
}

func columnsToValue(cols map[string]Column) map[string]any {
	out := make(map[string]any, len(cols))
	for id, c := range cols {
		out[id] = map[string]any{
			"id":          id,
			"title":       c.Title,
			"order":       c.Order,
			"sortByVotes": c.SortByVotes,
		}
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asInt64(v any) int64 {
	n, _ := asInt64Ok(v)
	return n
}

func asInt64Ok(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	default:
		return 0, false
	}
}

func asTime(v any) time.Time {
	ms, ok := asInt64Ok(v)
	if !ok {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
