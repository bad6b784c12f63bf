package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

var (
	ErrMutationSyntax   = errors.New("mutation syntax error")
	ErrUnknownPredicate = errors.New("predicate not in schema")
	ErrTypeMismatch     = errors.New("value does not match predicate type")
	ErrBadUID           = errors.New("malformed uid")
)

// mutationRequest is the decoded wire form of a mutation:
//
//	{"set": [{"uid": "_:e1", "name": "Ada"}, ...],
//	 "delete": [{"uid": "0x1"}, {"uid": "0x2", "preds": ["name"]}]}
//
// Set objects reference entities by uid: "_:ref" mints a new id (reported
// back under the bare ref), "0x<hex>" addresses an existing one. A delete
// with no preds removes the whole entity.
type mutationRequest struct {
	Set    []map[string]any `json:"set"`
	Delete []deleteRequest  `json:"delete"`
}

type deleteRequest struct {
	UID   string   `json:"uid"`
	Preds []string `json:"preds"`
}

func parseMutation(text string) (*mutationRequest, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	var req mutationRequest
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMutationSyntax, err)
	}
	if len(req.Set) == 0 && len(req.Delete) == 0 {
		return nil, fmt.Errorf("%w: neither set nor delete present", ErrMutationSyntax)
	}
	return &req, nil
}

// Mutate applies a mutation request atomically and returns the ids assigned
// for blank-node references, keyed by the bare reference name. The whole
// request is validated against the namespace schema before anything is
// written; any violation rejects the mutation as a unit.
func (ns *Namespace) Mutate(text string) (map[string]uint64, error) {
	req, err := parseMutation(text)
	if err != nil {
		return nil, err
	}
	return ns.applyMutation(req)
}

func (ns *Namespace) applyMutation(req *mutationRequest) (map[string]uint64, error) {
	assigned := make(map[string]uint64)
	err := ns.db.update(func(tx *bbolt.Tx) error {
		rec := loadNamespaceRecord(tx, ns.id)
		if rec == nil {
			return fmt.Errorf("%w: %d", ErrNamespaceNotFound, ns.id)
		}

		// validate everything and assign uids before writing; explicit
		// uids bump the counter first so blank assignments cannot collide
		// with them
		clear(assigned)
		for _, obj := range req.Set {
			if err := validateSetObject(rec, obj); err != nil {
				return err
			}
			if _, uid, err := splitUID(obj); err != nil {
				return err
			} else if uid >= rec.NextUID {
				rec.NextUID = uid + 1
			}
		}
		for _, obj := range req.Set {
			ref, _, _ := splitUID(obj)
			if ref != "" && assigned[ref] == 0 {
				assigned[ref] = rec.NextUID
				rec.NextUID++
			}
		}
		dels := make([]uint64, 0, len(req.Delete))
		for _, del := range req.Delete {
			uid, err := parseUID(del.UID)
			if err != nil {
				return err
			}
			dels = append(dels, uid)
		}

		for _, obj := range req.Set {
			if err := applySetObject(tx, rec, obj, assigned); err != nil {
				return err
			}
		}
		for i, del := range req.Delete {
			if err := applyDelete(tx, ns.id, dels[i], del.Preds); err != nil {
				return err
			}
		}
		return saveNamespaceRecord(tx, rec)
	})
	if err != nil {
		return nil, err
	}
	ns.db.MutationCount.Add(1)
	return assigned, nil
}

// splitUID extracts the uid field of a set object: a blank ref ("" if the
// uid is explicit) and the explicit uid (0 if blank).
func splitUID(obj map[string]any) (ref string, uid uint64, err error) {
	raw, ok := obj["uid"]
	if !ok {
		return "", 0, fmt.Errorf("%w: set object without uid", ErrMutationSyntax)
	}
	s, ok := raw.(string)
	if !ok {
		return "", 0, fmt.Errorf("%w: uid is %T, not a string", ErrBadUID, raw)
	}
	if ref, ok := strings.CutPrefix(s, "_:"); ok {
		if ref == "" {
			return "", 0, fmt.Errorf("%w: empty blank-node reference", ErrBadUID)
		}
		return ref, 0, nil
	}
	uid, err = parseUID(s)
	return "", uid, err
}

func parseUID(s string) (uint64, error) {
	hex, ok := strings.CutPrefix(s, "0x")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrBadUID, s)
	}
	uid, err := strconv.ParseUint(hex, 16, 64)
	if err != nil || uid == 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadUID, s)
	}
	return uid, nil
}

func validateSetObject(rec *nsRecord, obj map[string]any) error {
	for name, val := range obj {
		if name == "uid" {
			continue
		}
		pred := rec.Preds[name]
		if pred == nil {
			return fmt.Errorf("%w: %q", ErrUnknownPredicate, name)
		}
		if _, err := coerceValue(pred, val, nil); err != nil {
			return err
		}
	}
	return nil
}

// coerceValue converts a decoded JSON value into the stored representation
// for the predicate's type. For uid predicates, blank refs are resolved via
// assigned; with assigned == nil the ref is only checked for shape.
func coerceValue(pred *Predicate, val any, assigned map[string]uint64) (any, error) {
	switch pred.Type {
	case TypeString:
		if s, ok := val.(string); ok {
			return s, nil
		}
	case TypeInt:
		if n, ok := val.(json.Number); ok {
			i, err := strconv.ParseInt(n.String(), 10, 64)
			if err == nil {
				return i, nil
			}
		}
	case TypeFloat:
		if n, ok := val.(json.Number); ok {
			f, err := n.Float64()
			if err == nil {
				return f, nil
			}
		}
	case TypeBool:
		if b, ok := val.(bool); ok {
			return b, nil
		}
	case TypeUID:
		s, ok := val.(string)
		if !ok {
			break
		}
		if ref, isBlank := strings.CutPrefix(s, "_:"); isBlank {
			if assigned == nil {
				return uint64(0), nil
			}
			uid, ok := assigned[ref]
			if !ok {
				return nil, fmt.Errorf("%w: unresolved blank reference %q", ErrBadUID, s)
			}
			return uid, nil
		}
		return parseUID(s)
	}
	return nil, fmt.Errorf("%w: predicate %q (%s) cannot hold %v", ErrTypeMismatch, pred.Name, pred.Type, val)
}

func applySetObject(tx *bbolt.Tx, rec *nsRecord, obj map[string]any, assigned map[string]uint64) error {
	ref, uid, err := splitUID(obj)
	if err != nil {
		return err
	}
	if ref != "" {
		uid = assigned[ref]
	}

	data := tx.Bucket(dataBucketName(rec.ID))
	if data == nil {
		return fmt.Errorf("%w: %d", ErrNamespaceNotFound, rec.ID)
	}

	doc := make(map[string]any)
	if raw := data.Get(u64key(uid)); raw != nil {
		ensure(msgpack.Unmarshal(raw, &doc))
	}
	for name, val := range obj {
		if name == "uid" {
			continue
		}
		stored, err := coerceValue(rec.Preds[name], val, assigned)
		if err != nil {
			return err
		}
		if _, present := doc[name]; !present {
			bm := loadPosting(tx, rec.ID, name)
			bm.Add(uid)
			if err := savePosting(tx, rec.ID, name, bm); err != nil {
				return err
			}
		}
		doc[name] = stored
	}
	return data.Put(u64key(uid), must(msgpack.Marshal(doc)))
}

func applyDelete(tx *bbolt.Tx, nsID, uid uint64, preds []string) error {
	data := tx.Bucket(dataBucketName(nsID))
	if data == nil {
		return fmt.Errorf("%w: %d", ErrNamespaceNotFound, nsID)
	}
	raw := data.Get(u64key(uid))
	if raw == nil {
		return nil // deletes are idempotent
	}
	doc := make(map[string]any)
	ensure(msgpack.Unmarshal(raw, &doc))

	drop := preds
	if len(drop) == 0 {
		drop = make([]string, 0, len(doc))
		for name := range doc {
			drop = append(drop, name)
		}
	}
	for _, name := range drop {
		if _, present := doc[name]; !present {
			continue
		}
		delete(doc, name)
		bm := loadPosting(tx, nsID, name)
		bm.Remove(uid)
		if err := savePosting(tx, nsID, name, bm); err != nil {
			return err
		}
	}
	if len(doc) == 0 {
		return data.Delete(u64key(uid))
	}
	return data.Put(u64key(uid), must(msgpack.Marshal(doc)))
}
