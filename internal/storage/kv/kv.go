package kv

import "context"

// Store is the persistence collaborator behind the history store. Values are
// opaque strings, usually JSON documents.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Apply runs every operation of the batch or none of them.
	Apply(ctx context.Context, batch Batch) error
	Close() error
}

type OpKind int

const (
	OpSet OpKind = iota
	OpRemove
)

type Op struct {
	Kind  OpKind
	Key   string
	Value string
}

type Batch []Op

func (b *Batch) Set(key, value string) {
	*b = append(*b, Op{Kind: OpSet, Key: key, Value: value})
}

func (b *Batch) Remove(key string) {
	*b = append(*b, Op{Kind: OpRemove, Key: key})
}
