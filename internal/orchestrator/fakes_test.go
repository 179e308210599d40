package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/vaultswap/internal/chain"
	"github.com/alanyoungcy/vaultswap/internal/domain"
)

var holder = common.HexToAddress("0x00000000000000000000000000000000000000f1")

// timeline records every outbound call in order.
type timeline struct {
	mu     sync.Mutex
	events []string
}

func (t *timeline) add(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, fmt.Sprintf(format, args...))
}

func (t *timeline) all() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.events...)
}

func (t *timeline) count(prefix string) int {
	n := 0
	for _, e := range t.all() {
		if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

type fakeRPC struct {
	tl       *timeline
	mu       sync.Mutex
	handlers map[string]func(args []any) ([]any, error)
}

func (f *fakeRPC) ReadContract(_ context.Context, call domain.ContractCall) ([]any, error) {
	key := call.Contract.Name + "." + call.Method
	f.tl.add("read %s", key)
	f.mu.Lock()
	h, ok := f.handlers[key]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unexpected read %s", key)
	}
	return h(call.Args)
}

type write struct {
	call domain.ContractCall
	hash common.Hash
}

type fakeSigner struct {
	tl        *timeline
	mu        sync.Mutex
	chainID   uint64
	switchErr error
	switches  int
	writeErrs map[string]error
	writes    []write
}

func (s *fakeSigner) Address() common.Address { return holder }

func (s *fakeSigner) ChainID(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chainID, nil
}

func (s *fakeSigner) SwitchChain(_ context.Context, id uint64) error {
	s.tl.add("switch %d", id)
	time.Sleep(5 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.switches++
	if s.switchErr != nil {
		return s.switchErr
	}
	s.chainID = id
	return nil
}

func (s *fakeSigner) WriteContract(_ context.Context, call domain.ContractCall) (common.Hash, error) {
	s.tl.add("write %s.%s", call.Contract.Name, call.Method)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErrs[call.Method]; err != nil {
		return common.Hash{}, err
	}
	h := common.BigToHash(big.NewInt(int64(len(s.writes) + 1)))
	s.writes = append(s.writes, write{call: call, hash: h})
	return h, nil
}

func (s *fakeSigner) all() []write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]write(nil), s.writes...)
}

type fakeWaiter struct {
	tl       *timeline
	mu       sync.Mutex
	reverted map[common.Hash]bool
	gate     chan struct{}
}

func (w *fakeWaiter) WaitForTransactionReceipt(ctx context.Context, _ uint64, hash common.Hash) (domain.Receipt, error) {
	if w.gate != nil {
		select {
		case <-w.gate:
		case <-ctx.Done():
			return domain.Receipt{}, ctx.Err()
		}
	}
	w.tl.add("settled %s", hash.Hex()[62:])
	w.mu.Lock()
	defer w.mu.Unlock()
	status := uint64(1)
	if w.reverted[hash] {
		status = 0
	}
	return domain.Receipt{TxHash: hash, BlockNumber: 100, Status: status}, nil
}

type fakeWallet struct{ signer domain.Signer }

func (w *fakeWallet) Session() (domain.Signer, bool) {
	if w.signer == nil {
		return nil, false
	}
	return w.signer, true
}

type fakeViews struct{ view *domain.View }

func (v *fakeViews) Snapshot(context.Context, common.Address) *domain.View {
	return v.view.Clone()
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *fakeNotifier) Notify(_ context.Context, msg domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) all() []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Notification(nil), n.sent...)
}

type fakeJournal struct {
	mu      sync.Mutex
	records map[string]*domain.TxRecord
	order   []string
}

func (j *fakeJournal) Record(_ context.Context, rec domain.TxRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.records == nil {
		j.records = make(map[string]*domain.TxRecord)
	}
	j.records[rec.ID] = &rec
	j.order = append(j.order, rec.ID)
	return nil
}

func (j *fakeJournal) UpdateStatus(_ context.Context, id string, status domain.TxStatus, txHash string, block uint64, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec, ok := j.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Status, rec.TxHash, rec.Block, rec.Error = status, txHash, block, errMsg
	return nil
}

func (j *fakeJournal) ListByOwner(context.Context, string, domain.ListOpts) ([]domain.TxRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]domain.TxRecord, 0, len(j.order))
	for _, id := range j.order {
		out = append(out, *j.records[id])
	}
	return out, nil
}

type fakeLocks struct{ held bool }

func (l *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

// dataError mimics a JSON-RPC error carrying revert data.
type dataError struct {
	msg  string
	data any
}

func (e *dataError) Error() string          { return e.msg }
func (e *dataError) ErrorData() interface{} { return e.data }

var errRejected = errors.New("User rejected the request.")

func contracts() map[chain.LogicalName]common.Address {
	out := make(map[chain.LogicalName]common.Address)
	for i, n := range chain.LogicalNames {
		out[n] = common.BigToAddress(big.NewInt(int64(0xa0 + i)))
	}
	return out
}

func addressOf(name chain.LogicalName) common.Address {
	return contracts()[name]
}
