// Package boundary defines the narrow call surface between the client core
// and the underlying engine, together with the ownership rules for buffers
// allocated on the engine side of that surface.
//
// Every fallible call carries its error as a *Buf instead of an error value:
// a non-nil error buffer means the call failed, no matter what else the call
// returned. The caller side owns every returned buffer and must release each
// one exactly once; Buf enforces this with panics because a double release or
// a use-after-release is a programming error, not a runtime condition.
package boundary

// Handle identifies a resource held on the engine side of the boundary.
// It carries no validity guarantee beyond “was minted and not yet
// invalidated”; a stale or foreign handle is detected only by the engine
// reporting an error on use.
type Handle uint64

// None is the sentinel handle. Fallible handle-producing calls return None
// on failure, and a closed engine's handle is reset to None.
const None Handle = 0

// Conn is the raw call table into one engine implementation.
//
// Calls returning a single *Buf return the error slot: nil means success.
// Mutate and Query return (result, error) slots; the result slot must not be
// trusted when the error slot is non-nil, but it still must be released if
// present. CloseEngine and NamespaceID cannot fail.
type Conn interface {
	OpenEngine(dataDir string) (Handle, *Buf)
	CreateNamespace(engine Handle) (Handle, *Buf)
	GetNamespace(engine Handle, nsID uint64) (Handle, *Buf)
	DropAll(engine Handle) *Buf
	Load(engine Handle, schemaPath, dataPath string) *Buf
	LoadData(engine Handle, dataDir string) *Buf
	CloseEngine(engine Handle)

	NamespaceID(ns Handle) uint64
	DropData(ns Handle) *Buf
	AlterSchema(ns Handle, schema string) *Buf
	Mutate(ns Handle, mutations string) (result, errb *Buf)
	Query(ns Handle, query string) (result, errb *Buf)
}
