/*
Package ndb implements a normalized object store on top of a key-value store
(Bolt, SQLite or process memory).

We implement:

1. Writes of nested object graphs (create, update, put, set), decomposed by
a schema into flat per-type records that reference each other by key.

2. Reverse references, a per-record index of the records that currently
reference it, maintained in the same transaction as the forward relations.

3. Removal with cascade along relations marked for it, unlinking the removed
record from every parent.

4. Queries over a key list, a parent's relation field or a whole type, with
filtering, ordering, paging and bounded reconstruction of the graph.

5. An event pipe delivering committed changes to listeners, and an audit
history fed by it.

# Technical Details

**Buckets.**
Every type lives in its own bucket named after the type. The audit history
uses the reserved _history bucket. Bolt supports buckets natively; the SQLite
backend maps each bucket to a table, and the memory backend to a sorted slice.

**Keys.**
Keys are strings or int64 values. A key is encoded as a tag byte followed by
the big-endian integer (with the sign bit flipped) or the raw string bytes,
so bucket order is key order, integers first.

**Values.**
A record is a msgpack map with sorted keys. Relation fields hold a key or a
list of keys. The reserved _refs field maps a referencing type to the list
of parent keys; empty lists and an empty _refs are never stored.

**Auto keys.**
Types declared with auto keys get the next value of the bucket sequence. A
nested graph may reference such records before they have keys; the write
allocates all keys first and then substitutes them.
*/
package ndb
