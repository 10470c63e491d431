package shuffle

import (
	"bytes"
	"container/list"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/docker/docker/pkg/locker"
	"github.com/pierrec/lz4"
)

// ShardOf assigns an encoded key to one of shards buckets
func ShardOf(key []byte, shards int) int {
	return int(xxhash.Sum64(key) % uint64(shards))
}

// StoreConf configures a Store
type StoreConf struct {
	MemoryLimit int64  // Bytes of compressed output kept in memory before the least recently committed output spills to disk. Defaults to no limit.
	TempDir     string // Directory in which spill files are created. Defaults to os.TempDir().
}

// Store holds the committed, compressed output of shuffle and materialization sinks.
// A dataset is identified by the node it feeds. Each producer (one task of the feeding stage)
// commits a fixed number of parts; committing again under the same producer replaces its
// earlier output, so a retried task never duplicates data.
type Store struct {
	conf   StoreConf
	plocks *locker.Locker
	spill  *spillDir

	lock     sync.Mutex
	datasets map[int]map[string]*output
	recent   *list.List // in-memory outputs; back is oldest
	memBytes int64
}

// output is the committed parts of one producer. parts is nil once the output has spilled.
type output struct {
	dataset  int
	producer string
	parts    [][]byte
	path     string
	size     int64
	elem     *list.Element
}

func (o *output) key() string {
	return fmt.Sprintf("%d/%s", o.dataset, o.producer)
}

// NewStore creates an empty Store. conf may be nil.
func NewStore(conf *StoreConf) *Store {
	s := &Store{
		plocks:   locker.New(),
		datasets: make(map[int]map[string]*output),
		recent:   list.New(),
	}
	if conf != nil {
		s.conf = *conf
	}
	s.spill = &spillDir{parent: s.conf.TempDir}
	return s
}

// Commit compresses and stores parts as the output of producer for dataset
func (s *Store) Commit(dataset int, producer string, parts [][]byte) error {
	o := &output{dataset: dataset, producer: producer, parts: make([][]byte, len(parts))}
	for i, part := range parts {
		c, err := compress(part)
		if err != nil {
			return fmt.Errorf("compress part %d of %s: %w", i, producer, err)
		}
		o.parts[i] = c
		o.size += int64(len(c))
	}

	key := o.key()
	s.plocks.Lock(key)
	s.lock.Lock()
	producers, ok := s.datasets[dataset]
	if !ok {
		producers = make(map[string]*output)
		s.datasets[dataset] = producers
	}
	replaced := producers[producer]
	if replaced != nil && replaced.elem != nil {
		s.recent.Remove(replaced.elem)
		s.memBytes -= replaced.size
	}
	producers[producer] = o
	o.elem = s.recent.PushFront(o)
	s.memBytes += o.size
	victims := s.evict()
	s.lock.Unlock()
	if replaced != nil && replaced.path != "" {
		s.spill.remove(replaced.path)
	}
	_ = s.plocks.Unlock(key)

	for _, v := range victims {
		if err := s.spillOutput(v); err != nil {
			return err
		}
	}
	return nil
}

// evict removes the oldest outputs from the in-memory list until the store is within its limit
func (s *Store) evict() []*output {
	if s.conf.MemoryLimit <= 0 {
		return nil
	}
	var victims []*output
	for s.memBytes > s.conf.MemoryLimit && s.recent.Len() > 0 {
		oldest := s.recent.Back()
		o := s.recent.Remove(oldest).(*output)
		o.elem = nil
		s.memBytes -= o.size
		victims = append(victims, o)
	}
	return victims
}

// spillOutput writes an evicted output to disk, unless it was replaced in the meantime
func (s *Store) spillOutput(o *output) error {
	key := o.key()
	s.plocks.Lock(key)
	defer s.plocks.Unlock(key)
	s.lock.Lock()
	current := s.datasets[o.dataset][o.producer] == o
	s.lock.Unlock()
	if !current || o.parts == nil {
		return nil
	}
	path, err := s.spill.write(o.parts)
	if err != nil {
		return fmt.Errorf("spill %s: %w", key, err)
	}
	o.path = path
	o.parts = nil
	return nil
}

// Producers returns the sorted names of all producers which committed to dataset
func (s *Store) Producers(dataset int) []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	names := make([]string, 0, len(s.datasets[dataset]))
	for name := range s.datasets[dataset] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Part returns the decompressed part of dataset committed by producer
func (s *Store) Part(dataset int, producer string, part int) ([]byte, error) {
	s.lock.Lock()
	o, ok := s.datasets[dataset][producer]
	s.lock.Unlock()
	if !ok {
		return nil, fmt.Errorf("dataset %d has no output from %s", dataset, producer)
	}
	key := o.key()
	s.plocks.Lock(key)
	parts, path := o.parts, o.path
	_ = s.plocks.Unlock(key)
	if parts == nil {
		var err error
		if parts, err = s.spill.read(path); err != nil {
			return nil, fmt.Errorf("load spilled %s: %w", key, err)
		}
	}
	if part < 0 || part >= len(parts) {
		return nil, fmt.Errorf("dataset %d: %s committed %d part(s), part %d requested", dataset, producer, len(parts), part)
	}
	return decompress(parts[part])
}

// Spilled returns the number of outputs currently held on disk
func (s *Store) Spilled() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	n := 0
	for _, producers := range s.datasets {
		for _, o := range producers {
			if o.elem == nil {
				n++
			}
		}
	}
	return n
}

// Release drops all committed data, including spill files
func (s *Store) Release() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.datasets = make(map[int]map[string]*output)
	s.recent.Init()
	s.memBytes = 0
	return s.spill.release()
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}
