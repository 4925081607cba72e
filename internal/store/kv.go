package store

import (
	"context"
	"errors"
)

var _ KV = (*ObjectKV)(nil)

// ObjectKV adapts an ObjectStore to the KV interface, storing each value as
// its own object.
type ObjectKV struct {
	objects ObjectStore
}

// NewObjectKV wraps objects as a KV.
func NewObjectKV(objects ObjectStore) *ObjectKV {
	return &ObjectKV{objects: objects}
}

func (k *ObjectKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := k.objects.Get(ctx, key)
	if errors.Is(err, ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (k *ObjectKV) Put(ctx context.Context, key string, value []byte) error {
	return k.objects.Put(ctx, key, value)
}
