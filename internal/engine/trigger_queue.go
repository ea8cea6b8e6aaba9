package engine

import (
	"errors"
	"math/big"

	"mortgage-exchange/internal/model"
)

var (
	ErrZeroTokenID       = errors.New("engine: token id 0 is reserved")
	ErrDuplicatePosition = errors.New("engine: position already queued")
	ErrUnknownPosition   = errors.New("engine: position not queued")
	ErrBadHint           = errors.New("engine: hint is missing or past the insertion point")
	ErrNotHead           = errors.New("engine: position is not the queue head")
)

// triggerNode is one arena entry. prev/next are token ids into the
// arena; 0 is the "none" sentinel, which is why token id 0 is reserved.
type triggerNode struct {
	tokenID      uint64
	prev, next   uint64
	triggerPrice *big.Int
	gasFee       *big.Int
	payer        string
}

// TriggerQueue is a sorted linked structure of queued loan positions,
// ascending by trigger price, ties broken by insertion order. The links
// are arena indices rather than pointers, so a snapshot is a plain map
// copy.
type TriggerQueue struct {
	nodes map[uint64]*triggerNode
	head  uint64
	tail  uint64
}

func NewTriggerQueue() *TriggerQueue {
	return &TriggerQueue{nodes: make(map[uint64]*triggerNode)}
}

func (q *TriggerQueue) Size() int    { return len(q.nodes) }
func (q *TriggerQueue) Head() uint64 { return q.head }

func (q *TriggerQueue) Contains(tokenID uint64) bool {
	_, ok := q.nodes[tokenID]
	return ok
}

// TriggerPrice returns the queued position's trigger price.
func (q *TriggerQueue) TriggerPrice(tokenID uint64) (*big.Int, bool) {
	n, ok := q.nodes[tokenID]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(n.triggerPrice), true
}

// Insert places a position at its sorted slot. The hint names a node at
// or before the insertion point; the walk forward from it makes the
// hint an optimization, never a correctness requirement. Entries with
// equal prices land after existing equals.
func (q *TriggerQueue) Insert(tokenID uint64, triggerPrice *big.Int, hintPrev uint64, gasFee *big.Int, payer string) error {
	if tokenID == 0 {
		return ErrZeroTokenID
	}
	if _, ok := q.nodes[tokenID]; ok {
		return ErrDuplicatePosition
	}
	cur := uint64(0)
	if hintPrev != 0 {
		hint, ok := q.nodes[hintPrev]
		if !ok || hint.triggerPrice.Cmp(triggerPrice) > 0 {
			return ErrBadHint
		}
		cur = hintPrev
	} else if q.head != 0 && q.nodes[q.head].triggerPrice.Cmp(triggerPrice) <= 0 {
		cur = q.head
	}
	for cur != 0 {
		next := q.nodes[cur].next
		if next == 0 || q.nodes[next].triggerPrice.Cmp(triggerPrice) > 0 {
			break
		}
		cur = next
	}

	node := &triggerNode{
		tokenID:      tokenID,
		prev:         cur,
		triggerPrice: new(big.Int).Set(triggerPrice),
		gasFee:       new(big.Int).Set(gasFee),
		payer:        payer,
	}
	if cur == 0 {
		node.next = q.head
		q.head = tokenID
	} else {
		node.next = q.nodes[cur].next
		q.nodes[cur].next = tokenID
	}
	if node.next == 0 {
		q.tail = tokenID
	} else {
		q.nodes[node.next].prev = tokenID
	}
	q.nodes[tokenID] = node
	return nil
}

// Remove unlinks a position in O(1) and returns its fee and payer for
// refund.
func (q *TriggerQueue) Remove(tokenID uint64) (*big.Int, string, error) {
	node, ok := q.nodes[tokenID]
	if !ok {
		return nil, "", ErrUnknownPosition
	}
	if node.prev == 0 {
		q.head = node.next
	} else {
		q.nodes[node.prev].next = node.next
	}
	if node.next == 0 {
		q.tail = node.prev
	} else {
		q.nodes[node.next].prev = node.prev
	}
	delete(q.nodes, tokenID)
	return node.gasFee, node.payer, nil
}

// PopHead removes the current head, which must be tokenID, returning
// the new head and the removed fee. The matching loop uses this to
// advance without a second lookup.
func (q *TriggerQueue) PopHead(tokenID uint64) (uint64, *big.Int, error) {
	if q.head != tokenID || tokenID == 0 {
		return 0, nil, ErrNotHead
	}
	fee, _, err := q.Remove(tokenID)
	if err != nil {
		return 0, nil, err
	}
	return q.head, fee, nil
}

// FindFirstTriggered returns the head id when its trigger price has
// been reached, else 0. The list is sorted, so only the head matters.
func (q *TriggerQueue) FindFirstTriggered(currentPrice *big.Int) uint64 {
	if q.head == 0 || currentPrice == nil {
		return 0
	}
	if q.nodes[q.head].triggerPrice.Cmp(currentPrice) <= 0 {
		return q.head
	}
	return 0
}

// Entries walks head to tail, up to depth entries (0 = all).
func (q *TriggerQueue) Entries(depth int) []model.QueueEntry {
	out := []model.QueueEntry{}
	for id := q.head; id != 0; id = q.nodes[id].next {
		out = append(out, model.QueueEntry{
			TokenID:      id,
			TriggerPrice: new(big.Int).Set(q.nodes[id].triggerPrice),
		})
		if depth > 0 && len(out) >= depth {
			break
		}
	}
	return out
}

// Snapshot deep-copies the queue for rollback on failed commits.
func (q *TriggerQueue) Snapshot() *TriggerQueue {
	out := &TriggerQueue{nodes: make(map[uint64]*triggerNode, len(q.nodes)), head: q.head, tail: q.tail}
	for id, n := range q.nodes {
		cp := *n
		cp.triggerPrice = new(big.Int).Set(n.triggerPrice)
		cp.gasFee = new(big.Int).Set(n.gasFee)
		out.nodes[id] = &cp
	}
	return out
}
