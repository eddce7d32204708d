package processor

import (
	"testing"

	"coinflow/models"
)

func coin(id string, rank int) models.Coin {
	return models.Coin{ID: id, Symbol: id[:1], Name: id, MarketCapRank: rank}
}

func snapshotIDs(r *Reconciler) []string {
	all := r.GetAll()
	ids := make([]string, len(all))
	for i, c := range all {
		ids[i] = c.ID
	}
	return ids
}

func TestUpdateMergeIdempotent(t *testing.T) {
	r := NewReconciler(0, nil)
	set := []models.Coin{coin("bitcoin", 1), coin("ethereum", 2)}

	r.Update(set)
	once := snapshotIDs(r)
	r.Update(set)
	twice := snapshotIDs(r)

	if len(once) != len(twice) {
		t.Fatalf("idempotence violated: %v vs %v", once, twice)
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Fatalf("idempotence violated: %v vs %v", once, twice)
		}
	}
}

func TestUpdateDedupsByID(t *testing.T) {
	r := NewReconciler(0, nil)
	first := coin("bitcoin", 1)
	first.CurrentPrice = 100
	second := coin("bitcoin", 1)
	second.CurrentPrice = 200

	r.Update([]models.Coin{first, second})

	all := r.GetAll()
	if len(all) != 1 {
		t.Fatalf("expected 1 coin, got %d", len(all))
	}
	// Last occurrence within one update wins.
	if all[0].CurrentPrice != 200 {
		t.Fatalf("expected last duplicate to win, got price %v", all[0].CurrentPrice)
	}
}

func TestUpdateRetainsMissingEntities(t *testing.T) {
	r := NewReconciler(0, nil)
	r.Update([]models.Coin{coin("bitcoin", 1), coin("dogecoin", 90)})
	r.Update([]models.Coin{coin("bitcoin", 1)})

	got := r.GetByIDs([]string{"dogecoin"})
	if len(got) != 1 || got[0].ID != "dogecoin" {
		t.Fatalf("entity absent from fetch must be retained, got %v", got)
	}
}

func TestUpdateOverwritesWholesale(t *testing.T) {
	r := NewReconciler(0, nil)
	old := coin("bitcoin", 1)
	old.CurrentPrice = 100
	old.TotalVolume = 5
	r.Update([]models.Coin{old})

	fresh := coin("bitcoin", 2)
	fresh.CurrentPrice = 200
	r.Update([]models.Coin{fresh})

	got := r.GetByIDs([]string{"bitcoin"})
	if len(got) != 1 {
		t.Fatalf("expected 1 coin, got %d", len(got))
	}
	if got[0].CurrentPrice != 200 || got[0].MarketCapRank != 2 {
		t.Fatalf("record not replaced: %+v", got[0])
	}
	// Whole-record replace, never a field patch.
	if got[0].TotalVolume != 0 {
		t.Fatalf("stale field survived replace: %+v", got[0])
	}
}

func TestUpdateIgnoresBlankIDs(t *testing.T) {
	r := NewReconciler(0, nil)
	r.Update([]models.Coin{{Name: "nameless"}, coin("bitcoin", 1)})

	if r.Size() != 1 {
		t.Fatalf("blank ID must be rejected, size %d", r.Size())
	}
}

func TestSizeBoundEvictsLowestRanked(t *testing.T) {
	r := NewReconciler(2, nil)
	r.Update([]models.Coin{coin("litecoin", 30), coin("bitcoin", 1), coin("ethereum", 2)})

	ids := snapshotIDs(r)
	if len(ids) != 2 {
		t.Fatalf("expected bound of 2, got %v", ids)
	}
	if ids[0] != "bitcoin" || ids[1] != "ethereum" {
		t.Fatalf("expected best-ranked retained in rank order, got %v", ids)
	}
}

func TestGetTopNFiltersUnranked(t *testing.T) {
	r := NewReconciler(0, nil)
	r.Update([]models.Coin{
		coin("a", 1),
		coin("b", 2),
		coin("c", 0),
		coin("d", -1),
		coin("e", 5),
	})

	top := r.GetTopN(3)
	if len(top) != 3 {
		t.Fatalf("expected 3 coins, got %d", len(top))
	}
	wantRanks := []int{1, 2, 5}
	for i, want := range wantRanks {
		if top[i].MarketCapRank != want {
			t.Fatalf("unexpected top-n order: %+v", top)
		}
	}
}

func TestGetByIDsSkipsUnknownAndBlank(t *testing.T) {
	r := NewReconciler(0, nil)
	r.Update([]models.Coin{coin("bitcoin", 1)})

	got := r.GetByIDs([]string{"", "bitcoin", "nope"})
	if len(got) != 1 || got[0].ID != "bitcoin" {
		t.Fatalf("unexpected result: %v", got)
	}
}

func TestGetAllReturnsCopy(t *testing.T) {
	r := NewReconciler(0, nil)
	r.Update([]models.Coin{coin("bitcoin", 1)})

	all := r.GetAll()
	all[0].ID = "mutated"

	if got := r.GetByIDs([]string{"bitcoin"}); len(got) != 1 {
		t.Fatalf("caller mutation leaked into snapshot")
	}
}

func TestIDUniqueness(t *testing.T) {
	r := NewReconciler(0, nil)
	r.Update([]models.Coin{coin("bitcoin", 1), coin("ethereum", 2)})
	r.Update([]models.Coin{coin("bitcoin", 1), coin("cardano", 9)})

	seen := map[string]bool{}
	for _, c := range r.GetAll() {
		if seen[c.ID] {
			t.Fatalf("duplicate ID %s in snapshot", c.ID)
		}
		seen[c.ID] = true
	}
}

type failingStore struct{ calls int }

func (s *failingStore) Save(coins []models.Coin) error {
	s.calls++
	return errTest
}

func (s *failingStore) Load() ([]models.Coin, error) { return nil, nil }

var errTest = &testError{}

type testError struct{}

func (*testError) Error() string { return "store down" }

func TestUpdateCommitsWhenStoreFails(t *testing.T) {
	store := &failingStore{}
	r := NewReconciler(0, store)
	r.Update([]models.Coin{coin("bitcoin", 1)})

	if store.calls != 1 {
		t.Fatalf("store not offered the snapshot")
	}
	if r.Size() != 1 {
		t.Fatalf("merge must commit despite store failure")
	}
}
