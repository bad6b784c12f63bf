package engine

import (
	"errors"
	"fmt"
	"strings"

	"go.etcd.io/bbolt"
)

var (
	ErrSchemaSyntax = errors.New("schema syntax error")
	ErrSchemaChange = errors.New("cannot change type of predicate with existing data")
)

// PredType is the value type of a predicate.
type PredType string

const (
	TypeString PredType = "string"
	TypeInt    PredType = "int"
	TypeFloat  PredType = "float"
	TypeBool   PredType = "bool"
	TypeUID    PredType = "uid"
)

var predTypes = map[PredType]bool{
	TypeString: true, TypeInt: true, TypeFloat: true, TypeBool: true, TypeUID: true,
}

// Predicate is one schema entry of a namespace.
type Predicate struct {
	Name    string   `msgpack:"n"`
	Type    PredType `msgpack:"t"`
	Indexes []string `msgpack:"ix,omitempty"`
}

// ParseSchema parses the line-oriented schema definition text:
//
//	name: string @index(term) .
//	age: int .
//
// Blank lines and #-comments are skipped. Every definition ends with a dot.
func ParseSchema(text string) ([]*Predicate, error) {
	var preds []*Predicate
	for lineno, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		pred, err := parseSchemaLine(line)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrSchemaSyntax, lineno+1, err)
		}
		preds = append(preds, pred)
	}
	if len(preds) == 0 {
		return nil, fmt.Errorf("%w: no predicate definitions", ErrSchemaSyntax)
	}
	return preds, nil
}

func parseSchemaLine(line string) (*Predicate, error) {
	rest, ok := strings.CutSuffix(line, ".")
	if !ok {
		return nil, fmt.Errorf("missing trailing dot in %q", line)
	}
	name, rest, ok := strings.Cut(rest, ":")
	if !ok {
		return nil, fmt.Errorf("missing colon in %q", line)
	}
	name = strings.TrimSpace(name)
	if !validPredName(name) {
		return nil, fmt.Errorf("invalid predicate name %q", name)
	}

	pred := &Predicate{Name: name}
	for i, tok := range strings.Fields(rest) {
		switch {
		case i == 0:
			typ := PredType(tok)
			if !predTypes[typ] {
				return nil, fmt.Errorf("unknown type %q for predicate %q", tok, name)
			}
			pred.Type = typ
		case strings.HasPrefix(tok, "@index(") && strings.HasSuffix(tok, ")"):
			args := tok[len("@index(") : len(tok)-1]
			for _, ix := range strings.Split(args, ",") {
				if ix = strings.TrimSpace(ix); ix != "" {
					pred.Indexes = append(pred.Indexes, ix)
				}
			}
		default:
			return nil, fmt.Errorf("unexpected token %q for predicate %q", tok, name)
		}
	}
	if pred.Type == "" {
		return nil, fmt.Errorf("missing type for predicate %q", name)
	}
	return pred, nil
}

func validPredName(name string) bool {
	if name == "" || name == "uid" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case (r >= '0' && r <= '9' || r == '.') && i > 0:
		default:
			return false
		}
	}
	return true
}

// AlterSchema validates the schema text and applies it to the namespace.
// New predicates are added; redefining a predicate with a different type is
// rejected while data exists for it.
func (ns *Namespace) AlterSchema(text string) error {
	preds, err := ParseSchema(text)
	if err != nil {
		return err
	}
	return ns.db.update(func(tx *bbolt.Tx) error {
		rec := loadNamespaceRecord(tx, ns.id)
		if rec == nil {
			return fmt.Errorf("%w: %d", ErrNamespaceNotFound, ns.id)
		}
		for _, pred := range preds {
			old := rec.Preds[pred.Name]
			if old != nil && old.Type != pred.Type && postingCount(tx, ns.id, pred.Name) > 0 {
				return fmt.Errorf("%w: %s (%s -> %s)", ErrSchemaChange, pred.Name, old.Type, pred.Type)
			}
			rec.Preds[pred.Name] = pred
		}
		return saveNamespaceRecord(tx, rec)
	})
}

// Schema returns a copy of the namespace's predicate definitions.
func (ns *Namespace) Schema() (map[string]*Predicate, error) {
	preds := make(map[string]*Predicate)
	err := ns.db.view(func(tx *bbolt.Tx) error {
		rec := loadNamespaceRecord(tx, ns.id)
		if rec == nil {
			return fmt.Errorf("%w: %d", ErrNamespaceNotFound, ns.id)
		}
		for name, pred := range rec.Preds {
			cp := *pred
			preds[name] = &cp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return preds, nil
}
