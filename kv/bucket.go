// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package kv

// Bucket provides a logical namespace over a kv store by key prefixing.
type Bucket string

// NewGetPutter creates a bucketed store from the source store.
func (b Bucket) NewGetPutter(src GetPutter) GetPutter {
	return &bucket{string(b), src}
}

type bucket struct {
	prefix string
	src    GetPutter
}

func (b *bucket) makeKey(key []byte) []byte {
	return append([]byte(b.prefix), key...)
}

func (b *bucket) Get(key []byte) ([]byte, error) {
	return b.src.Get(b.makeKey(key))
}

func (b *bucket) Has(key []byte) (bool, error) {
	return b.src.Has(b.makeKey(key))
}

func (b *bucket) IsNotFound(err error) bool {
	return b.src.IsNotFound(err)
}

func (b *bucket) Put(key, value []byte) error {
	return b.src.Put(b.makeKey(key), value)
}

func (b *bucket) Delete(key []byte) error {
	return b.src.Delete(b.makeKey(key))
}

func (b *bucket) NewBatch() Batch {
	return &bucketBatch{b.src.NewBatch(), b.makeKey}
}

func (b *bucket) NewIterator(r Range) Iterator {
	from := b.makeKey(r.From)
	var to []byte
	if len(r.To) > 0 {
		to = b.makeKey(r.To)
	} else {
		// end of the bucket: prefix with the last byte bumped
		to = upperBound([]byte(b.prefix))
	}
	return &bucketIter{
		b.src.NewIterator(Range{From: from, To: to}),
		len(b.prefix),
	}
}

// upperBound returns the smallest key greater than all keys with the given prefix.
// nil returned if no such key exists.
func upperBound(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xff {
			bound := make([]byte, i+1)
			copy(bound, prefix)
			bound[i]++
			return bound
		}
	}
	return nil
}

type bucketBatch struct {
	Batch
	makeKey func([]byte) []byte
}

func (b *bucketBatch) Put(key, value []byte) error {
	return b.Batch.Put(b.makeKey(key), value)
}

func (b *bucketBatch) Delete(key []byte) error {
	return b.Batch.Delete(b.makeKey(key))
}

type bucketIter struct {
	Iterator
	prefixLen int
}

func (i *bucketIter) Key() []byte {
	return i.Iterator.Key()[i.prefixLen:]
}
