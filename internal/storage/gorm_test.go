package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"panelctl/internal/domain"
)

func newStore(t *testing.T) *GormStore {
	t.Helper()
	store, err := NewGormStore(filepath.Join(t.TempDir(), "panelctl.db"))
	if err != nil {
		t.Fatalf("NewGormStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestProfileRoundTrip(t *testing.T) {
	store := newStore(t)

	if err := store.SaveProfile(&domain.Profile{Name: "home", PanelURL: "https://panel.home", APIKey: "ptlc_a"}); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	if err := store.SaveProfile(&domain.Profile{Name: "home", PanelURL: "https://panel.home", APIKey: "ptlc_b"}); err != nil {
		t.Fatalf("SaveProfile replace: %v", err)
	}

	p, err := store.GetProfile("home")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.APIKey != "ptlc_b" {
		t.Errorf("APIKey = %q, want the replaced key", p.APIKey)
	}

	if _, err := store.GetProfile("missing"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("missing profile: err = %v", err)
	}
}

func TestActiveProfile(t *testing.T) {
	store := newStore(t)

	if p, err := store.ActiveProfile(); err != nil || p != nil {
		t.Fatalf("ActiveProfile on empty store = %v, %v", p, err)
	}
	if err := store.SetActiveProfile("nope"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("SetActiveProfile unknown: err = %v", err)
	}

	store.SaveProfile(&domain.Profile{Name: "work", PanelURL: "https://panel.work"})
	if err := store.SetActiveProfile("work"); err != nil {
		t.Fatalf("SetActiveProfile: %v", err)
	}
	p, err := store.ActiveProfile()
	if err != nil || p == nil || p.Name != "work" {
		t.Fatalf("ActiveProfile = %+v, %v", p, err)
	}

	if err := store.DeleteProfile("work"); err != nil {
		t.Fatalf("DeleteProfile: %v", err)
	}
	if p, _ := store.ActiveProfile(); p != nil {
		t.Errorf("deleted profile still active: %+v", p)
	}
}

func TestRecentServers(t *testing.T) {
	store := newStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	store.TouchRecent(&domain.RecentServer{ProfileName: "home", Identifier: "aaaa", Name: "Survival", LastOpened: base})
	store.TouchRecent(&domain.RecentServer{ProfileName: "home", Identifier: "bbbb", Name: "Creative", LastOpened: base.Add(time.Minute)})
	store.TouchRecent(&domain.RecentServer{ProfileName: "home", Identifier: "aaaa", Name: "Survival", LastOpened: base.Add(2 * time.Minute)})

	recent, err := store.ListRecent(10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("ListRecent = %+v, want 2 entries", recent)
	}
	if recent[0].Identifier != "aaaa" || recent[1].Identifier != "bbbb" {
		t.Errorf("order = %s, %s", recent[0].Identifier, recent[1].Identifier)
	}

	if limited, _ := store.ListRecent(1); len(limited) != 1 {
		t.Errorf("limit ignored: %d entries", len(limited))
	}

	store.ForgetRecent("home")
	if recent, _ := store.ListRecent(0); len(recent) != 0 {
		t.Errorf("ForgetRecent left %d entries", len(recent))
	}
}
