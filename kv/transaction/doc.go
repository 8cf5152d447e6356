package transaction

// The transaction package drives the commit protocol of snapshot-isolation transactions over the store.
//
// A transaction is started by the manager (see manager.Manager), which hands out a txn.Transaction: the transaction's
// id together with the snapshot of open and invalid transactions it must hide. Every value written under a transaction
// is tagged with its write pointer (see mvcc), so readers decide visibility from the tag and the snapshot alone.
//
// Work inside a transaction is done by participants implementing TxAware, such as queue producers and consumers.
// TxContext coordinates them:
//
//  1. Start obtains a transaction and passes it to every participant.
//  2. Finish asks every participant to persist its buffered writes. They remain invisible to everybody else because
//     the transaction is still in progress.
//  3. Finish then sends the union of the participants' change sets to the manager. If another transaction that
//     committed after this one started changed one of the same keys, the commit fails with a conflict.
//  4. On success the transaction's writes become visible to every snapshot taken afterwards, and the participants
//     get a PostCommit callback.
//
// On failure, or on an explicit Abort, participants roll back what they persisted. If a rollback fails the transaction
// is invalidated instead, which hides its writes forever. The caller owns any retry policy.
//
// Latches (see the latches package) serialize the few read-modify-write sequences that conflict detection does not
// cover, such as allocating queue sequence numbers and claiming FIFO entries. They are process-local and not visible to
// clients.
