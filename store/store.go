// Package store deduplicates addresses shared between the neighbourhood tables.
//
// Every table entry that refers to an address holds a Handle obtained from the
// Store. The Store counts the references and frees the record when the last one
// is released, so the usage count of a record always equals the number of live
// references to it. Handles carry a generation, so a handle kept past the death
// of its record is detected instead of aliasing a newer record in the same slot.
package store

import (
	"errors"
	"fmt"
)

var (
	ErrStoreFull   = errors.New("address store is full")
	ErrStaleHandle = errors.New("stale address handle")
	ErrInvalidAddr = errors.New("invalid address")
)

// Handle references one record of a Store. The zero Handle is never valid.
type Handle struct {
	idx uint32
	gen uint32
}

func (h Handle) IsValid() bool {
	return h.gen != 0
}

func (h Handle) String() string {
	return fmt.Sprintf("h%d.%d", h.idx, h.gen)
}

// Flags are one-shot classification tags that live for a single HELLO.
type Flags uint16

func (f Flags) Has(o Flags) bool {
	return f&o == o
}

type record struct {
	addr      Addr
	refs      int
	flags     Flags
	transient bool
}

type slot struct {
	gen  uint32
	live bool
	rec  record
}

// Store is not safe for concurrent use; it is guarded by the lock of its owner.
type Store struct {
	slots    []slot
	free     []uint32
	index    map[Addr]uint32
	touched  []Handle
	capacity int
	live     int
}

// New creates a Store holding at most capacity records; zero means unbounded.
func New(capacity int) *Store {
	return &Store{
		index:    make(map[Addr]uint32),
		capacity: capacity,
	}
}

func (s *Store) lookupSlot(h Handle) (*slot, error) {
	if !h.IsValid() || int(h.idx) >= len(s.slots) {
		return nil, ErrStaleHandle
	}
	sl := &s.slots[h.idx]
	if !sl.live || sl.gen != h.gen {
		return nil, ErrStaleHandle
	}
	return sl, nil
}

func (s *Store) alloc(a Addr) (Handle, error) {
	if s.capacity > 0 && s.live >= s.capacity {
		return Handle{}, ErrStoreFull
	}
	var idx uint32
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		s.slots = append(s.slots, slot{})
		idx = uint32(len(s.slots) - 1)
	}
	sl := &s.slots[idx]
	sl.gen++
	if sl.gen == 0 {
		sl.gen = 1
	}
	sl.live = true
	sl.rec = record{addr: a}
	s.index[a] = idx
	s.live++
	return Handle{idx: idx, gen: sl.gen}, nil
}

func (s *Store) getOrAlloc(a Addr) (Handle, *slot, error) {
	if !a.IsValid() {
		return Handle{}, nil, ErrInvalidAddr
	}
	if idx, ok := s.index[a]; ok {
		sl := &s.slots[idx]
		return Handle{idx: idx, gen: sl.gen}, sl, nil
	}
	h, err := s.alloc(a)
	if err != nil {
		return Handle{}, nil, err
	}
	return h, &s.slots[h.idx], nil
}

// GetOrCreate returns the record for a, creating it on first sight, and takes one reference.
func (s *Store) GetOrCreate(a Addr) (Handle, error) {
	h, sl, err := s.getOrAlloc(a)
	if err != nil {
		return Handle{}, err
	}
	sl.rec.refs++
	return h, nil
}

// Acquire takes another reference on a live record. It never allocates.
func (s *Store) Acquire(h Handle) error {
	sl, err := s.lookupSlot(h)
	if err != nil {
		return err
	}
	sl.rec.refs++
	return nil
}

// Release drops one reference and frees the record when none remain.
func (s *Store) Release(h Handle) error {
	sl, err := s.lookupSlot(h)
	if err != nil {
		return err
	}
	sl.rec.refs--
	if sl.rec.refs > 0 {
		return nil
	}
	delete(s.index, sl.rec.addr)
	sl.live = false
	sl.rec = record{}
	s.free = append(s.free, h.idx)
	s.live--
	return nil
}

// Lookup finds the record for a without taking a reference.
func (s *Store) Lookup(a Addr) (Handle, bool) {
	idx, ok := s.index[a]
	if !ok {
		return Handle{}, false
	}
	return Handle{idx: idx, gen: s.slots[idx].gen}, true
}

// Classify tags a with flags, creating the record if needed. The first
// classification of a record since the last ResetTransient takes a transient
// reference that keeps it alive until the reset.
func (s *Store) Classify(a Addr, flags Flags) (Handle, error) {
	h, sl, err := s.getOrAlloc(a)
	if err != nil {
		return Handle{}, err
	}
	if !sl.rec.transient {
		sl.rec.transient = true
		sl.rec.refs++
	}
	s.tag(h, sl, flags)
	return h, nil
}

// Mark tags an already referenced record without taking a reference.
func (s *Store) Mark(h Handle, flags Flags) error {
	sl, err := s.lookupSlot(h)
	if err != nil {
		return err
	}
	s.tag(h, sl, flags)
	return nil
}

func (s *Store) tag(h Handle, sl *slot, flags Flags) {
	if sl.rec.flags == 0 {
		s.touched = append(s.touched, h)
	}
	sl.rec.flags |= flags
}

// ResetTransient clears the classification flags of every tagged record. With
// keepRefs false the transient references taken by Classify are released too;
// with keepRefs true they stay and are released by a later reset.
func (s *Store) ResetTransient(keepRefs bool) {
	touched := s.touched
	s.touched = nil
	for _, h := range touched {
		sl, err := s.lookupSlot(h)
		if err != nil {
			continue
		}
		sl.rec.flags = 0
		if sl.rec.transient && !keepRefs {
			sl.rec.transient = false
			_ = s.Release(h)
		} else if sl.rec.transient {
			// keep it reachable for the releasing reset
			s.touched = append(s.touched, h)
		}
	}
}

func (s *Store) Flags(h Handle) Flags {
	sl, err := s.lookupSlot(h)
	if err != nil {
		return 0
	}
	return sl.rec.flags
}

// Addr returns the address of h, or the zero Addr when h is stale.
func (s *Store) Addr(h Handle) Addr {
	sl, err := s.lookupSlot(h)
	if err != nil {
		return Addr{}
	}
	return sl.rec.addr
}

// Refs returns the usage count of h, or -1 when h is stale.
func (s *Store) Refs(h Handle) int {
	sl, err := s.lookupSlot(h)
	if err != nil {
		return -1
	}
	return sl.rec.refs
}

func (s *Store) Transient(h Handle) bool {
	sl, err := s.lookupSlot(h)
	if err != nil {
		return false
	}
	return sl.rec.transient
}

// Len returns the number of live records.
func (s *Store) Len() int {
	return s.live
}

// Each visits every live record.
func (s *Store) Each(fn func(h Handle, a Addr, refs int)) {
	for i := range s.slots {
		sl := &s.slots[i]
		if !sl.live {
			continue
		}
		fn(Handle{idx: uint32(i), gen: sl.gen}, sl.rec.addr, sl.rec.refs)
	}
}
