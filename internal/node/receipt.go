package node

import (
	"sync"

	"github.com/google/uuid"

	"github.com/smart-protocol/smart/internal/protocol"
)

// MaxReceipts bounds the number of receipts kept in memory
const MaxReceipts = 10000

// Receipt is the outcome of one operation submitted to the node
type Receipt struct {
	ID        string           `json:"id"`
	Operation string           `json:"operation"`
	Status    string           `json:"status"`
	Error     string           `json:"error,omitempty"`
	Kind      string           `json:"kind,omitempty"`
	Timepoint uint64           `json:"timepoint"`
	Result    string           `json:"result,omitempty"`
	Events    []protocol.Event `json:"events"`
}

func newReceipt(op string, timepoint uint64, events []protocol.Event, err error) *Receipt {
	r := &Receipt{
		ID:        uuid.New().String(),
		Operation: op,
		Status:    "success",
		Timepoint: timepoint,
		Events:    events,
	}
	if r.Events == nil {
		r.Events = []protocol.Event{}
	}
	if err != nil {
		r.Status = "failed"
		r.Error = err.Error()
		r.Kind = protocol.KindOf(err).String()
	}
	return r
}

// ReceiptStore keeps the most recent receipts in memory
type ReceiptStore struct {
	receipts map[string]*Receipt
	order    []string
	mu       sync.RWMutex
}

func NewReceiptStore() *ReceiptStore {
	return &ReceiptStore{
		receipts: make(map[string]*Receipt),
	}
}

func (s *ReceiptStore) AddReceipt(r *Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Store a copy to avoid aliasing caller's data
	s.receipts[r.ID] = r.DeepCopy()
	s.order = append(s.order, r.ID)
	if len(s.order) > MaxReceipts {
		delete(s.receipts, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *ReceiptStore) GetReceipt(id string) *Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.receipts[id].DeepCopy()
}

func (s *ReceiptStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.receipts)
}

// DeepCopy copies the receipt and its event list. Event payloads are
// immutable once committed and are shared.
func (r *Receipt) DeepCopy() *Receipt {
	if r == nil {
		return nil
	}
	result := *r
	if r.Events != nil {
		result.Events = make([]protocol.Event, len(r.Events))
		copy(result.Events, r.Events)
	}
	return &result
}
