package queue

import (
	"sort"

	"github.com/pingcap-incubator/txqueue/kv/transaction/txn"
)

// Names of the scan attributes that carry dequeue context to the store.
const (
	AttrQueueName      = "queue.dequeue.queueName"
	AttrConsumerConfig = "queue.dequeue.consumerConfig"
	AttrTransaction    = "queue.dequeue.transaction"
	// AttrCheckpoints accompanies AttrTransaction once the transaction has been checkpointed.
	AttrCheckpoints = "queue.dequeue.checkpointWritePointers"
)

// Scan is a range read of the queue column family. Attributes are opaque byte blobs keyed by name.
type Scan struct {
	StartKey   []byte
	EndKey     []byte
	Limit      int
	attributes map[string][]byte
}

func (s *Scan) SetAttribute(name string, value []byte) {
	if s.attributes == nil {
		s.attributes = make(map[string][]byte)
	}
	s.attributes[name] = value
}

// Attribute returns the named attribute or nil when it is absent.
func (s *Scan) Attribute(name string) []byte {
	return s.attributes[name]
}

// AttributeNames returns the names of the set attributes, sorted.
func (s *Scan) AttributeNames() []string {
	names := make([]string, 0, len(s.attributes))
	for name := range s.attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// QueueScanBuilder assembles a dequeue Scan. Attachments are independent and may be made in any order.
type QueueScanBuilder struct {
	scan Scan
}

func NewQueueScanBuilder() *QueueScanBuilder {
	return &QueueScanBuilder{}
}

// WithRange sets the key range [start, end). A nil end scans to the end of the queue.
func (b *QueueScanBuilder) WithRange(start, end []byte) *QueueScanBuilder {
	b.scan.StartKey, b.scan.EndKey = start, end
	return b
}

// WithLimit caps the number of returned entries. Zero means no limit.
func (b *QueueScanBuilder) WithLimit(limit int) *QueueScanBuilder {
	b.scan.Limit = limit
	return b
}

func (b *QueueScanBuilder) WithQueueName(q QueueName) *QueueScanBuilder {
	b.scan.SetAttribute(AttrQueueName, q.Bytes())
	return b
}

func (b *QueueScanBuilder) WithConsumerConfig(cfg *ConsumerConfig) *QueueScanBuilder {
	b.scan.SetAttribute(AttrConsumerConfig, EncodeConsumerConfig(cfg))
	return b
}

func (b *QueueScanBuilder) WithTransaction(tx *txn.Transaction) *QueueScanBuilder {
	b.scan.SetAttribute(AttrTransaction, txn.Encode(tx))
	if len(tx.CheckpointWritePointers) > 0 {
		b.scan.SetAttribute(AttrCheckpoints, txn.EncodeCheckpoints(tx))
	} else {
		delete(b.scan.attributes, AttrCheckpoints)
	}
	return b
}

// Build returns the assembled scan. The builder may be reused.
func (b *QueueScanBuilder) Build() *Scan {
	s := &Scan{StartKey: b.scan.StartKey, EndKey: b.scan.EndKey, Limit: b.scan.Limit}
	for name, v := range b.scan.attributes {
		s.SetAttribute(name, v)
	}
	return s
}

// QueueNameOf returns the queue identity attached to s, or nil.
func QueueNameOf(s *Scan) []byte {
	return s.Attribute(AttrQueueName)
}

// ConsumerConfigOf decodes the consumer config attached to s. It returns nil, nil when none is attached.
func ConsumerConfigOf(s *Scan) (*ConsumerConfig, error) {
	data := s.Attribute(AttrConsumerConfig)
	if data == nil {
		return nil, nil
	}
	return DecodeConsumerConfig(data)
}

// TransactionOf decodes the transaction attached to s, including its checkpoint write pointers. It returns nil, nil
// when none is attached.
func TransactionOf(s *Scan) (*txn.Transaction, error) {
	data := s.Attribute(AttrTransaction)
	if data == nil {
		return nil, nil
	}
	tx, err := txn.Decode(data)
	if err != nil {
		return nil, err
	}
	if cp := s.Attribute(AttrCheckpoints); cp != nil {
		if err = txn.AttachCheckpoints(tx, cp); err != nil {
			return nil, err
		}
	}
	return tx, nil
}
