/*
Package warren is the client core of an embedded, multi-tenant database
engine. It manages the lifetime of one engine instance per opened data
directory and the isolated namespaces the instance hosts, and it mediates
every mutation and query through a narrow boundary call surface.

We implement:

1. Engine, the top-level handle to one open instance: namespace creation and
lookup, bulk loading, dropping all state, and idempotent teardown.

2. Namespace, a lightweight handle to one isolated logical database within an
Engine: schema alteration, mutation, query, and data deletion.

3. The boundary translation layer: every call into the engine follows one
calling convention (out-parameter error buffers, see the boundary package)
and this package is the single place that convention is turned into Go
errors. Engine-reported messages are preserved verbatim inside BoundaryError.

# Technical Details

**Handles.**
An Engine owns exactly one boundary handle, invalidated atomically on the
first Close; a second Close, including the one triggered by the finalizer, is
a no-op. Using a closed Engine panics: that is a bug in the caller, not a
recoverable condition.

A Namespace holds only its boundary handle and a cached logical id. It keeps
no reference to its owning Engine; once the engine closes, every namespace
derived from it becomes stale, and staleness is detected only by the engine
rejecting the next call.

**Identifiers.**
Two identifiers are in play: the opaque process-local handle used for every
boundary call, and the stable engine-assigned logical id returned by ID and
accepted by GetNamespace, meaningful across engine restarts.

**Mutation results.**
The engine returns newly assigned ids as a serialized flat JSON object
mapping caller-supplied references to unsigned ids. Decoding never drops or
coerces a key; a malformed payload fails with DecodeError, which is kept
distinct from engine-reported failures so protocol regressions can be told
apart from data-level ones.
*/
package warren
