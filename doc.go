package txqueue

/*
txqueue is a transactional message queue built on a snapshot isolation transaction manager. Producers enqueue entries
and consumers dequeue them inside transactions: entries become visible when the producing transaction commits, and are
marked processed for a consumer group when the consuming transaction commits. A rolled back or invalidated transaction
leaves nothing visible behind.

Building txqueue produces two executables: txq-server runs the transaction manager and the queue store behind an admin
HTTP API, and txq-ctl is the command line client of that API.

The `txqueue` module is organized into the following packages:

* `kv/transaction/txn`: the transaction snapshot handed to clients, its visibility rules and its wire form.
* `kv/transaction/manager`: allocation of transaction ids, conflict detection, commit, abort, invalidation,
  checkpoints and pruning. The manager state is persisted in the storage.
* `kv/transaction`: TxContext drives the commit protocol over a set of transaction aware participants.
* `kv/queue`: queue entries and consumer state, the FIFO, ROUND_ROBIN and HASH partitioning of entries across the
  instances of a consumer group, the dequeue scan and its attributes, producers and consumers.
* `kv/security`: privileges, a client of a remote privileges service and a cached enforcer.
* `kv/server`: wiring of the above, the janitor and the admin HTTP API.
* `kv/storage`: the sorted key/value storage, in memory or on badger.
*/
