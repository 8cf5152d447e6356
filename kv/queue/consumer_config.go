package queue

import (
	"fmt"

	"github.com/pingcap-incubator/txqueue/kv/util/codec"
)

// ConsumerConfig identifies one consumer instance within a consumer group. HashKey is only meaningful for Hash.
type ConsumerConfig struct {
	GroupID    uint64
	GroupSize  int32
	InstanceID int32
	Strategy   DequeueStrategy
	HashKey    string
}

// NewConsumerConfig returns a validated ConsumerConfig.
func NewConsumerConfig(groupID uint64, instanceID, groupSize int32, strategy DequeueStrategy, hashKey string) (*ConsumerConfig, error) {
	cfg := &ConsumerConfig{
		GroupID:    groupID,
		GroupSize:  groupSize,
		InstanceID: instanceID,
		Strategy:   strategy,
		HashKey:    hashKey,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ConsumerConfig) Validate() error {
	if c.GroupSize <= 0 {
		return fmt.Errorf("group size must be positive, got %d", c.GroupSize)
	}
	if c.InstanceID < 0 || c.InstanceID >= c.GroupSize {
		return fmt.Errorf("instance id %d out of range [0, %d)", c.InstanceID, c.GroupSize)
	}
	if !c.Strategy.valid() {
		return fmt.Errorf("unknown dequeue strategy %d", int32(c.Strategy))
	}
	return nil
}

func (c *ConsumerConfig) String() string {
	return fmt.Sprintf("ConsumerConfig{group: %d, instance: %d/%d, strategy: %s, hashKey: %q}",
		c.GroupID, c.InstanceID, c.GroupSize, c.Strategy, c.HashKey)
}

const consumerConfigName = "consumer config"

// EncodeConsumerConfig serializes cfg as
//  groupId(8) groupSize(4) instanceId(4) strategy(uvarint) hashKeyLength(4) hashKey
// with fixed-width fields big-endian.
func EncodeConsumerConfig(cfg *ConsumerConfig) []byte {
	b := codec.NewBuffer(8 + 4 + 4 + 1 + 4 + len(cfg.HashKey))
	b.WriteUint64(cfg.GroupID)
	b.WriteInt32(cfg.GroupSize)
	b.WriteInt32(cfg.InstanceID)
	b.WriteUvarint(uint64(cfg.Strategy))
	b.WriteString(cfg.HashKey)
	return b.Bytes()
}

// DecodeConsumerConfig parses a payload written by EncodeConsumerConfig. Ill-formed input, an unknown strategy
// ordinal or a config violating its invariants yields a *codec.MalformedEncodingError.
func DecodeConsumerConfig(data []byte) (*ConsumerConfig, error) {
	r := codec.NewReader(consumerConfigName, data)
	cfg := &ConsumerConfig{}
	var err error
	if cfg.GroupID, err = r.ReadUint64("group id"); err != nil {
		return nil, err
	}
	if cfg.GroupSize, err = r.ReadInt32("group size"); err != nil {
		return nil, err
	}
	if cfg.InstanceID, err = r.ReadInt32("instance id"); err != nil {
		return nil, err
	}
	ordinal, err := r.ReadUvarint("dequeue strategy")
	if err != nil {
		return nil, err
	}
	if ordinal > uint64(Hash) {
		return nil, &codec.MalformedEncodingError{What: consumerConfigName, Offset: len(data) - r.Remaining(), Reason: fmt.Sprintf("unknown dequeue strategy ordinal %d", ordinal)}
	}
	cfg.Strategy = DequeueStrategy(ordinal)
	if cfg.HashKey, err = r.ReadString("hash key"); err != nil {
		return nil, err
	}
	if err = r.Finish(); err != nil {
		return nil, err
	}
	if err = cfg.Validate(); err != nil {
		return nil, &codec.MalformedEncodingError{What: consumerConfigName, Offset: len(data), Reason: err.Error()}
	}
	return cfg, nil
}
