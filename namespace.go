package warren

import (
	"fmt"

	"github.com/warrendb/warren/boundary"
)

// Namespace is a handle to one isolated logical database within an Engine.
//
// A Namespace keeps no reference to its owning Engine and cannot detect on
// its own that the engine has closed; a stale namespace is found out by the
// engine rejecting the next call. Namespace values may be copied and used
// from multiple goroutines; all copies go stale together when the owning
// engine closes.
type Namespace struct {
	conn boundary.Conn
	h    boundary.Handle
	id   uint64
}

func newNamespace(conn boundary.Conn, h boundary.Handle) *Namespace {
	return &Namespace{conn: conn, h: h, id: conn.NamespaceID(h)}
}

// ID returns the namespace's stable logical identifier, usable later with
// Engine.GetNamespace, including after an engine restart.
func (ns *Namespace) ID() uint64 {
	return ns.id
}

// DropData deletes all data held in this namespace, leaving the namespace
// itself and its schema intact.
func (ns *Namespace) DropData() error {
	return takeErr("drop data", ns.conn.DropData(ns.h))
}

// AlterSchema submits a schema definition for validation and application to
// this namespace. Schema text is opaque to this layer.
func (ns *Namespace) AlterSchema(schema string) error {
	return takeErr("alter schema", ns.conn.AlterSchema(ns.h, schema))
}

// Mutate submits a mutation request and decodes the engine's response into
// the references-to-assigned-ids mapping.
func (ns *Namespace) Mutate(mutations string) (MutationResult, error) {
	result, errb := ns.conn.Mutate(ns.h, mutations)
	if err := takeErr("mutate", errb); err != nil {
		// A payload accompanying a reported error must not be trusted,
		// but it is still ours to release.
		if result != nil {
			result.Free()
		}
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("mutate: %w", ErrEmptyResult)
	}
	return decodeMutationResult([]byte(result.Take()))
}

// Query submits a query request and returns the engine's serialized
// response verbatim. The content's schema is owned by the engine.
func (ns *Namespace) Query(query string) (string, error) {
	result, errb := ns.conn.Query(ns.h, query)
	if err := takeErr("query", errb); err != nil {
		if result != nil {
			result.Free()
		}
		return "", err
	}
	if result == nil {
		return "", fmt.Errorf("query: %w", ErrEmptyResult)
	}
	return result.Take(), nil
}
