package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

var ErrQuerySyntax = errors.New("query syntax error")

// queryRequest is the decoded wire form of a query. Exactly one selector
// must be present:
//
//	{"has": "name"}                 entities carrying a predicate
//	{"eq": {"name": "Ada"}}         entities with a predicate equal to a value
//	{"uids": ["0x1", "0x2"]}        entities by explicit uid
//
// An optional "limit" caps the number of returned entities.
type queryRequest struct {
	Has   string         `json:"has,omitempty"`
	Eq    map[string]any `json:"eq,omitempty"`
	UIDs  []string       `json:"uids,omitempty"`
	Limit int            `json:"limit,omitempty"`
}

func parseQuery(text string) (*queryRequest, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	var req queryRequest
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuerySyntax, err)
	}
	selectors := 0
	if req.Has != "" {
		selectors++
	}
	if len(req.Eq) > 0 {
		selectors++
	}
	if len(req.UIDs) > 0 {
		selectors++
	}
	if selectors != 1 {
		return nil, fmt.Errorf("%w: exactly one of has, eq, uids required", ErrQuerySyntax)
	}
	if len(req.Eq) > 1 {
		return nil, fmt.Errorf("%w: eq takes a single predicate", ErrQuerySyntax)
	}
	if req.Limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", ErrQuerySyntax)
	}
	return &req, nil
}

// Query runs a query and returns the serialized response:
// {"entities": [{"uid": "0x1", ...}, ...]}, entities in uid order for set
// selectors and in request order for uid lists.
func (ns *Namespace) Query(text string) (string, error) {
	req, err := parseQuery(text)
	if err != nil {
		return "", err
	}

	entities := []map[string]any{}
	err = ns.db.view(func(tx *bbolt.Tx) error {
		rec := loadNamespaceRecord(tx, ns.id)
		if rec == nil {
			return fmt.Errorf("%w: %d", ErrNamespaceNotFound, ns.id)
		}

		emit := func(uid uint64, doc map[string]any) bool {
			entities = append(entities, renderDoc(rec, uid, doc))
			return req.Limit == 0 || len(entities) < req.Limit
		}

		switch {
		case req.Has != "":
			return scanPosting(tx, rec, req.Has, nil, emit)
		case len(req.Eq) > 0:
			for name, val := range req.Eq {
				pred := rec.Preds[name]
				if pred == nil {
					return fmt.Errorf("%w: %q", ErrUnknownPredicate, name)
				}
				want, err := coerceValue(pred, val, map[string]uint64{})
				if err != nil {
					return err
				}
				match := func(doc map[string]any) bool {
					return storedEqual(pred, doc[name], want)
				}
				return scanPosting(tx, rec, name, match, emit)
			}
		case len(req.UIDs) > 0:
			data := tx.Bucket(dataBucketName(rec.ID))
			for _, s := range req.UIDs {
				uid, err := parseUID(s)
				if err != nil {
					return err
				}
				raw := data.Get(u64key(uid))
				if raw == nil {
					continue
				}
				doc := make(map[string]any)
				ensure(msgpack.Unmarshal(raw, &doc))
				if !emit(uid, doc) {
					return nil
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	ns.db.QueryCount.Add(1)

	out := must(json.Marshal(map[string]any{"entities": entities}))
	return string(out), nil
}

// scanPosting walks the posting set for pred in uid order, loading each
// document and emitting the ones match accepts (match == nil accepts all).
func scanPosting(tx *bbolt.Tx, rec *nsRecord, pred string, match func(map[string]any) bool, emit func(uint64, map[string]any) bool) error {
	data := tx.Bucket(dataBucketName(rec.ID))
	if data == nil {
		return fmt.Errorf("%w: %d", ErrNamespaceNotFound, rec.ID)
	}
	it := loadPosting(tx, rec.ID, pred).Iterator()
	for it.HasNext() {
		uid := it.Next()
		raw := data.Get(u64key(uid))
		if raw == nil {
			continue
		}
		doc := make(map[string]any)
		ensure(msgpack.Unmarshal(raw, &doc))
		if match != nil && !match(doc) {
			continue
		}
		if !emit(uid, doc) {
			return nil
		}
	}
	return nil
}

// renderDoc converts a stored document into its wire form: uid and
// uid-typed values as "0x<hex>" strings, everything else as-is.
func renderDoc(rec *nsRecord, uid uint64, doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc)+1)
	out["uid"] = uidString(uid)
	for name, val := range doc {
		if pred := rec.Preds[name]; pred != nil && pred.Type == TypeUID {
			if u, ok := asUint64(val); ok {
				out[name] = uidString(u)
				continue
			}
		}
		out[name] = val
	}
	return out
}

func uidString(uid uint64) string {
	return fmt.Sprintf("0x%x", uid)
}

// storedEqual compares a value loaded from storage against a coerced query
// value; msgpack decodes numbers into whatever width fits, so numeric
// comparisons go through the normalization helpers.
func storedEqual(pred *Predicate, stored, want any) bool {
	if stored == nil {
		return false
	}
	switch pred.Type {
	case TypeString:
		s, ok := stored.(string)
		return ok && s == want.(string)
	case TypeInt:
		i, ok := asInt64(stored)
		return ok && i == want.(int64)
	case TypeFloat:
		f, ok := asFloat64(stored)
		return ok && f == want.(float64)
	case TypeBool:
		b, ok := stored.(bool)
		return ok && b == want.(bool)
	case TypeUID:
		u, ok := asUint64(stored)
		return ok && u == want.(uint64)
	}
	return false
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint:
		return int64(n), true
	}
	return 0, false
}

func asUint64(v any) (uint64, bool) {
	if u, ok := v.(uint64); ok {
		return u, true
	}
	i, ok := asInt64(v)
	if !ok || i < 0 {
		return 0, false
	}
	return uint64(i), true
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	if i, ok := asInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}
