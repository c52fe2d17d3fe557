/*
Package promdb implements a transactional, versioned key-value document
database with object stores and secondary indexes, and a future-based
convenience layer on top of it.

We implement:

1. Object stores, ordered collections of records addressed by a primary key.
The key is either supplied out of line, extracted from the record via a key
path, or produced by the store's key generator.

2. Indexes, secondary orderings of a store's records by a key path, optionally
unique and/or multi-entry.

3. Transactions with a fixed scope and mode; version-change transactions run
during open when the requested version exceeds the stored one.

4. A handle (DB) whose operations return a Future, plus accessors named
<store>By<Index> generated from declarative store descriptions (Builder).

# Technical Details

**Buckets.**
We rely on scoped namespaces for keys called buckets. Bolt supports them
natively; the in-memory engine keys its buckets by name.

The root bucket "_meta" holds the catalog under the key "catalog" (msgpack).
Each store lives in the root bucket "s_<name>", which contains:

  - "_seq", the next key generator value (8-byte big endian, 1 by default);
  - the nested bucket "data", mapping encoded primary keys to msgpack records;
  - a nested bucket "i_<ordinal>" per index.

**Index ordinal.**
We assign a unique positive integer ordinal to each index. These values are
never reused, even if an index is removed.

**Index entries.**
The entry key is the encoded index key followed by the encoded primary key, so
non-unique indexes order duplicates by primary key. The value is the encoded
primary key.

## Key encoding

Keys are encoded so that bytewise order matches key order: numbers sort before
dates, dates before strings, strings before binary, binary before arrays. Every
encoded key starts with a type tag; numbers are order-preserving big endian
floats, strings and binary escape 0x00 as 0x00 0xFF and end with 0x00 0x01,
arrays end with 0x00 after their elements. The encoding is prefix-free, which lets
ranges over composite index keys match by prefix.
*/
package promdb
