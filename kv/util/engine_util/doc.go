package engine_util

/*
An engine is a low-level system for storing key/value pairs locally (without distribution or any transaction support,
etc.). This package contains code for interacting with such engines.

CF means 'column family'. In short, a column family is a key namespace. Badger has no native column families, so every
key is stored as `<cf>_<key>`; writes can still be made atomic across column families because they share one database.

The queue layer uses three column families:

* queue: queue entries, keyed by encoded queue name and sequence number.
* state: per consumer group dequeue state for each entry.
* meta: queue sequence counters and persisted transaction manager state.

engine_util includes the following files:

* engines: opening and closing the badger database.
* write_batch: code to batch writes into a single, atomic 'transaction'.
* cf_iterator: range iteration over one column family.
*/
