package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/erawatcher/internal/core/domain"
	"github.com/vietddude/erawatcher/internal/infra/storage"
)

// MemoryStorage keeps every entity in maps. Rows are copied on the way in
// and out so callers never share memory with the store.
type MemoryStorage struct {
	blocks    map[uint64]domain.Block
	eras      map[uint64]domain.Era
	transfers map[string]domain.Transfer
	accounts  map[string]domain.KnownAccount
	unlocks   map[string]domain.UnlockEntry
	mu        sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		blocks:    make(map[uint64]domain.Block),
		eras:      make(map[uint64]domain.Era),
		transfers: make(map[string]domain.Transfer),
		accounts:  make(map[string]domain.KnownAccount),
		unlocks:   make(map[string]domain.UnlockEntry),
	}
}

// NewStore returns the repository bundle backed by a fresh MemoryStorage.
func NewStore() (*storage.Store, *MemoryStorage) {
	s := NewMemoryStorage()
	return &storage.Store{
		Blocks:    NewBlockRepo(s),
		Eras:      NewEraRepo(s),
		Transfers: NewTransferRepo(s),
		Accounts:  NewAccountRepo(s),
		Unlocks:   NewUnlockRepo(s),
	}, s
}

// -----------------------------------------------------------------------------
// Block Repository
// -----------------------------------------------------------------------------

type BlockRepo struct {
	store *MemoryStorage
}

func NewBlockRepo(store *MemoryStorage) *BlockRepo {
	return &BlockRepo{store: store}
}

func (r *BlockRepo) Create(ctx context.Context, block *domain.Block) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.blocks[block.Height]; ok {
		return fmt.Errorf("block %d already exists", block.Height)
	}
	r.store.blocks[block.Height] = *block
	return nil
}

func (r *BlockRepo) Replace(ctx context.Context, block *domain.Block) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.blocks[block.Height] = *block
	return nil
}

func (r *BlockRepo) Get(ctx context.Context, height uint64) (*domain.Block, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	b, ok := r.store.blocks[height]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (r *BlockRepo) DeleteByHeight(ctx context.Context, height uint64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.blocks, height)
	return nil
}

func (r *BlockRepo) ListFrom(ctx context.Context, from uint64, limit int) ([]*domain.Block, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Block
	for h, b := range r.store.blocks {
		if h >= from {
			b := b
			out = append(out, &b)
		}
	}
	sortBlocks(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *BlockRepo) ListByEra(ctx context.Context, eraID uint64) ([]*domain.Block, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Block
	for _, b := range r.store.blocks {
		if b.EraID == eraID {
			b := b
			out = append(out, &b)
		}
	}
	sortBlocks(out)
	return out, nil
}

func (r *BlockRepo) Latest(ctx context.Context) (*domain.Block, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var max *domain.Block
	for _, b := range r.store.blocks {
		if max == nil || b.Height > max.Height {
			b := b
			max = &b
		}
	}
	return max, nil
}

func (r *BlockRepo) SetCirculatingSupply(ctx context.Context, height uint64, supply int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	b, ok := r.store.blocks[height]
	if !ok {
		return fmt.Errorf("block %d: %w", height, domain.ErrNotFound)
	}
	b.CirculatingSupply = supply
	r.store.blocks[height] = b
	return nil
}

func sortBlocks(blocks []*domain.Block) {
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Height < blocks[j].Height })
}

// -----------------------------------------------------------------------------
// Era Repository
// -----------------------------------------------------------------------------

type EraRepo struct {
	store *MemoryStorage
}

func NewEraRepo(store *MemoryStorage) *EraRepo {
	return &EraRepo{store: store}
}

func (r *EraRepo) Get(ctx context.Context, id uint64) (*domain.Era, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	e, ok := r.store.eras[id]
	if !ok {
		return nil, nil
	}
	return copyEra(e), nil
}

func (r *EraRepo) Create(ctx context.Context, era *domain.Era) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.eras[era.ID]; ok {
		return fmt.Errorf("era %d already exists", era.ID)
	}
	r.store.eras[era.ID] = *copyEra(*era)
	return nil
}

func (r *EraRepo) Update(ctx context.Context, era *domain.Era) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.eras[era.ID]; !ok {
		return fmt.Errorf("era %d: %w", era.ID, domain.ErrNotFound)
	}
	r.store.eras[era.ID] = *copyEra(*era)
	return nil
}

func (r *EraRepo) List(ctx context.Context) ([]*domain.Era, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.Era, 0, len(r.store.eras))
	for _, e := range r.store.eras {
		out = append(out, copyEra(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *EraRepo) Latest(ctx context.Context) (*domain.Era, error) {
	eras, err := r.List(ctx)
	if err != nil || len(eras) == 0 {
		return nil, err
	}
	return eras[len(eras)-1], nil
}

func copyEra(e domain.Era) *domain.Era {
	if e.EndBlock != nil {
		v := *e.EndBlock
		e.EndBlock = &v
	}
	if e.End != nil {
		v := *e.End
		e.End = &v
	}
	return &e
}

// -----------------------------------------------------------------------------
// Transfer Repository
// -----------------------------------------------------------------------------

type TransferRepo struct {
	store *MemoryStorage
}

func NewTransferRepo(store *MemoryStorage) *TransferRepo {
	return &TransferRepo{store: store}
}

func (r *TransferRepo) Create(ctx context.Context, t *domain.Transfer) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.transfers[t.Hash]; ok {
		return fmt.Errorf("transfer %s already exists", t.Hash)
	}
	r.store.transfers[t.Hash] = *t
	return nil
}

func (r *TransferRepo) DeleteByHeight(ctx context.Context, height uint64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for k, t := range r.store.transfers {
		if t.BlockHeight == height {
			delete(r.store.transfers, k)
		}
	}
	return nil
}

func (r *TransferRepo) ListByHeight(ctx context.Context, height uint64) ([]*domain.Transfer, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Transfer
	for _, t := range r.store.transfers {
		if t.BlockHeight == height {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out, nil
}

func (r *TransferRepo) Get(ctx context.Context, hash string) (*domain.Transfer, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	t, ok := r.store.transfers[hash]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *TransferRepo) FindUpstream(ctx context.Context, account string, exclude string) (*domain.Transfer, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var best *domain.Transfer
	for _, t := range r.store.transfers {
		if t.Hash == exclude || t.ToHash != account || !domain.CanSeedDepth(t.Depth) {
			continue
		}
		if best == nil || t.Depth < best.Depth || (t.Depth == best.Depth && t.Hash < best.Hash) {
			t := t
			best = &t
		}
	}
	return best, nil
}

func (r *TransferRepo) UpdateClassification(ctx context.Context, t *domain.Transfer) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cur, ok := r.store.transfers[t.Hash]
	if !ok {
		return fmt.Errorf("transfer %s: %w", t.Hash, domain.ErrNotFound)
	}
	cur.Depth = t.Depth
	cur.FromHex = t.FromHex
	cur.ToHex = t.ToHex
	r.store.transfers[t.Hash] = cur
	return nil
}

func (r *TransferRepo) SetApproved(ctx context.Context, hash string, approved bool) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cur, ok := r.store.transfers[hash]
	if !ok {
		return fmt.Errorf("transfer %s: %w", hash, domain.ErrNotFound)
	}
	cur.Approved = approved
	r.store.transfers[hash] = cur
	return nil
}

func (r *TransferRepo) SumApproved(ctx context.Context, maxEra uint64) (decimal.Decimal, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	sum := decimal.Zero
	for _, t := range r.store.transfers {
		if t.Approved && t.EraID <= maxEra {
			sum = sum.Add(t.Amount)
		}
	}
	return sum, nil
}

// -----------------------------------------------------------------------------
// Known Account Repository
// -----------------------------------------------------------------------------

type AccountRepo struct {
	store *MemoryStorage
}

func NewAccountRepo(store *MemoryStorage) *AccountRepo {
	return &AccountRepo{store: store}
}

func (r *AccountRepo) Upsert(ctx context.Context, account *domain.KnownAccount) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.accounts[account.Hash] = *account
	return nil
}

func (r *AccountRepo) Get(ctx context.Context, hash string) (*domain.KnownAccount, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	a, ok := r.store.accounts[hash]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// -----------------------------------------------------------------------------
// Unlock Repository
// -----------------------------------------------------------------------------

type UnlockRepo struct {
	store *MemoryStorage
}

func NewUnlockRepo(store *MemoryStorage) *UnlockRepo {
	return &UnlockRepo{store: store}
}

func (r *UnlockRepo) SaveBatch(ctx context.Context, entries []*domain.UnlockEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, e := range entries {
		r.store.unlocks[fmt.Sprintf("%s/%d", e.PublicKey, e.Day)] = *e
	}
	return nil
}

func (r *UnlockRepo) SumUnlocked(ctx context.Context, cutoff time.Time) (decimal.Decimal, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	sum := decimal.Zero
	for _, e := range r.store.unlocks {
		if e.Day >= 0 && !e.Timestamp.After(cutoff) {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}
