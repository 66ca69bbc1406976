package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"e2ee-messaging/internal/domain"
	"e2ee-messaging/internal/store"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return st
}

func TestSessionSaveCompareAndSwap(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	rec := domain.SessionRecord{ConversationID: "conv-1", DeviceID: uuid.New(), State: []byte("v1")}

	if _, _, err := st.Sessions().Load(ctx, rec.ConversationID, rec.DeviceID); !errors.Is(err, store.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound before create, got %v", err)
	}
	v, err := st.Sessions().Save(ctx, rec, 0)
	if err != nil || v != 1 {
		t.Fatalf("create: version %d, err %v", v, err)
	}
	if _, err := st.Sessions().Save(ctx, rec, 0); !errors.Is(err, store.ErrStaleSessionState) {
		t.Fatalf("second create: expected ErrStaleSessionState, got %v", err)
	}

	rec.State = []byte("v2")
	if v, err = st.Sessions().Save(ctx, rec, 1); err != nil || v != 2 {
		t.Fatalf("update: version %d, err %v", v, err)
	}
	rec.State = []byte("lost")
	if _, err := st.Sessions().Save(ctx, rec, 1); !errors.Is(err, store.ErrStaleSessionState) {
		t.Fatalf("update from old version: expected ErrStaleSessionState, got %v", err)
	}

	state, version, err := st.Sessions().Load(ctx, rec.ConversationID, rec.DeviceID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if version != 2 || string(state) != "v2" {
		t.Fatalf("unexpected stored state %q at version %d", state, version)
	}
}

func TestConcurrentSaveExactlyOneWins(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	base := domain.SessionRecord{ConversationID: "conv-race", DeviceID: uuid.New(), State: []byte("start")}
	if _, err := st.Sessions().Save(ctx, base, 0); err != nil {
		t.Fatalf("create: %v", err)
	}

	const writers = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		stales int
	)
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			rec := base
			rec.State = []byte(fmt.Sprintf("writer-%d", i))
			_, err := st.Sessions().Save(ctx, rec, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, store.ErrStaleSessionState):
				stales++
			default:
				t.Errorf("writer %d: unexpected error %v", i, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if wins != 1 || stales != writers-1 {
		t.Fatalf("expected 1 winner and %d stale writers, got %d and %d", writers-1, wins, stales)
	}
	_, version, err := st.Sessions().Load(ctx, base.ConversationID, base.DeviceID)
	if err != nil || version != 2 {
		t.Fatalf("expected version 2 after race, got %d (%v)", version, err)
	}
}

func TestConsumeNextHandsOutEachKeyOnce(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	deviceID := uuid.New()

	keys := make([]domain.OneTimePreKey, 0, 3)
	for i := 1; i <= 3; i++ {
		keys = append(keys, domain.OneTimePreKey{ID: uuid.New(), DeviceID: deviceID, KeyID: uint32(i), PublicKey: fmt.Sprintf("otk-%d", i)})
	}
	if err := st.OneTimePreKeys().AddBatch(ctx, keys); err != nil {
		t.Fatalf("add batch: %v", err)
	}

	seen := map[uint32]bool{}
	for i := 0; i < 3; i++ {
		var key *domain.OneTimePreKey
		err := st.WithTx(ctx, func(tx *store.Store) error {
			var err error
			key, err = tx.OneTimePreKeys().ConsumeNext(ctx, deviceID)
			return err
		})
		if err != nil || key == nil {
			t.Fatalf("consume %d: key %v, err %v", i, key, err)
		}
		if seen[key.KeyID] {
			t.Fatalf("key %d handed out twice", key.KeyID)
		}
		seen[key.KeyID] = true
	}
	key, err := st.OneTimePreKeys().ConsumeNext(ctx, deviceID)
	if err != nil || key != nil {
		t.Fatalf("expected empty pool, got %v (%v)", key, err)
	}
	if n, err := st.OneTimePreKeys().CountAvailable(ctx, deviceID); err != nil || n != 0 {
		t.Fatalf("expected 0 available, got %d (%v)", n, err)
	}
}

func TestReceiptsNeverRegress(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	msgID, bob := uuid.New(), uuid.New()
	sent := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	if err := st.Receipts().AddSent(ctx, msgID, []uuid.UUID{bob}, sent); err != nil {
		t.Fatalf("add sent: %v", err)
	}
	if changed, err := st.Receipts().MarkRead(ctx, msgID, bob, sent.Add(time.Minute)); err != nil || !changed {
		t.Fatalf("mark read: changed %v, err %v", changed, err)
	}
	if changed, err := st.Receipts().MarkDelivered(ctx, msgID, bob, sent.Add(2*time.Minute)); err != nil || changed {
		t.Fatalf("delivered after read must be a no-op: changed %v, err %v", changed, err)
	}
	rec, err := st.Receipts().Get(ctx, msgID, bob)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != domain.StatusRead || rec.DeliveredAt == nil || rec.ReadAt == nil {
		t.Fatalf("unexpected receipt %+v", rec)
	}
	if !rec.DeliveredAt.Equal(sent.Add(time.Minute)) {
		t.Fatalf("read should imply delivery at the same instant, got %v", rec.DeliveredAt)
	}
}
