package leaderboard

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"

	"hotlympics/core"
)

const (
	skipMaxHeight = 16
	skipBranching = 4
)

// outranks orders photos for display: higher rating first, then more wins,
// then more battles fought, then image id so the order is total.
func outranks(a, b core.Entry) bool {
	switch {
	case a.Rating != b.Rating:
		return a.Rating > b.Rating
	case a.Wins != b.Wins:
		return a.Wins > b.Wins
	case a.Battles != b.Battles:
		return a.Battles > b.Battles
	default:
		return a.ImageID < b.ImageID
	}
}

type skipNode struct {
	entry core.Entry
	next  []*skipNode
}

// SkipList ranks pool photos. Rating changes move an image in O(log n).
type SkipList struct {
	mu     sync.RWMutex
	head   *skipNode
	height int
	index  map[core.ImageID]*skipNode
	rng    *rand.Rand
}

func NewSkipList() *SkipList {
	var seed [16]byte
	_, _ = cryptorand.Read(seed[:])
	return &SkipList{
		head:   &skipNode{next: make([]*skipNode, skipMaxHeight)},
		height: 1,
		index:  map[core.ImageID]*skipNode{},
		rng:    rand.New(rand.NewPCG(binary.LittleEndian.Uint64(seed[:8]), binary.LittleEndian.Uint64(seed[8:]))),
	}
}

func (s *SkipList) pickHeight() int {
	h := 1
	for h < skipMaxHeight && s.rng.IntN(skipBranching) == 0 {
		h++
	}
	return h
}

// predecessors returns, per level, the last node that outranks e.
func (s *SkipList) predecessors(e core.Entry) [skipMaxHeight]*skipNode {
	var prev [skipMaxHeight]*skipNode
	cur := s.head
	for lvl := s.height - 1; lvl >= 0; lvl-- {
		for cur.next[lvl] != nil && outranks(cur.next[lvl].entry, e) {
			cur = cur.next[lvl]
		}
		prev[lvl] = cur
	}
	return prev
}

// Update inserts e or moves its image to the position its new stats earn.
func (s *SkipList) Update(e core.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.index[e.ImageID]; ok {
		s.unlink(old.entry)
	}
	prev := s.predecessors(e)
	h := s.pickHeight()
	for lvl := s.height; lvl < h; lvl++ {
		prev[lvl] = s.head
	}
	s.height = max(s.height, h)

	n := &skipNode{entry: e, next: make([]*skipNode, h)}
	for lvl := 0; lvl < h; lvl++ {
		n.next[lvl] = prev[lvl].next[lvl]
		prev[lvl].next[lvl] = n
	}
	s.index[e.ImageID] = n
}

func (s *SkipList) unlink(e core.Entry) {
	prev := s.predecessors(e)
	target := prev[0].next[0]
	if target == nil || target.entry.ImageID != e.ImageID {
		return
	}
	for lvl := 0; lvl < len(target.next); lvl++ {
		prev[lvl].next[lvl] = target.next[lvl]
	}
	delete(s.index, e.ImageID)
	for s.height > 1 && s.head.next[s.height-1] == nil {
		s.height--
	}
}

// Remove drops an image, e.g. when it leaves the pool or is deleted.
func (s *SkipList) Remove(id core.ImageID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.index[id]; ok {
		s.unlink(n.entry)
	}
}

// TopN returns up to n entries in rank order.
func (s *SkipList) TopN(n int) []core.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	out := make([]core.Entry, 0, min(n, len(s.index)))
	for cur := s.head.next[0]; cur != nil && len(out) < n; cur = cur.next[0] {
		out = append(out, cur.entry)
	}
	return out
}

func (s *SkipList) Get(id core.ImageID) (core.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.index[id]; ok {
		return n.entry, true
	}
	return core.Entry{}, false
}

func (s *SkipList) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

var _ Board = (*SkipList)(nil)
