package mailer

import (
	"context"
	"testing"

	"github.com/Mutter0815/DripMailer/internal/apperr"
	"github.com/Mutter0815/DripMailer/internal/model"
	"github.com/Mutter0815/DripMailer/pkg/config"
)

type nopTransport struct{ name string }

func (t *nopTransport) Send(ctx context.Context, msg Message) error { return nil }

func TestPoolPickRoundRobin(t *testing.T) {
	a, b, c := &nopTransport{"a"}, &nopTransport{"b"}, &nopTransport{"c"}
	p := NewPool([]Transport{a, b, c})

	want := []Transport{a, b, c, a, b}
	for i, w := range want {
		if got := p.Pick(); got != w {
			t.Fatalf("pick %d = %v, want %v", i, got, w)
		}
	}
}

func TestPoolPickSingle(t *testing.T) {
	a := &nopTransport{"a"}
	p := NewPool([]Transport{a})
	for i := 0; i < 3; i++ {
		if p.Pick() != a {
			t.Fatal("single-transport pool must always yield it")
		}
	}
}

type fakeAccounts struct {
	accounts []model.SMTPAccount
	err      error
}

func (f *fakeAccounts) ListSMTPAccounts(ctx context.Context, ownerID string, ids []string) ([]model.SMTPAccount, error) {
	return f.accounts, f.err
}

func TestResolverUsesAccounts(t *testing.T) {
	r := &Resolver{
		Accounts: &fakeAccounts{accounts: []model.SMTPAccount{
			{ID: "s1", Host: "smtp1.acme.io", Port: 587},
			{ID: "s2", Host: "smtp2.acme.io", Port: 465, Secure: true},
		}},
		Default: config.SMTPConfig{Host: "fallback.acme.io", Port: 587},
	}
	p, err := r.Resolve(context.Background(), "owner-1", []string{"s1", "s2"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Size() != 2 {
		t.Fatalf("pool size = %d, want 2", p.Size())
	}
}

func TestResolverFallsBackToDefault(t *testing.T) {
	r := &Resolver{
		Accounts: &fakeAccounts{}, // owner has no matching accounts
		Default:  config.SMTPConfig{Host: "fallback.acme.io", Port: 587},
	}

	// explicit refs that resolve to nothing
	p, err := r.Resolve(context.Background(), "owner-1", []string{"gone"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Size() != 1 {
		t.Fatalf("pool size = %d, want 1 (default)", p.Size())
	}

	// no refs at all
	p, err = r.Resolve(context.Background(), "owner-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Size() != 1 {
		t.Fatalf("pool size = %d, want 1 (default)", p.Size())
	}
}

func TestResolverNoTransports(t *testing.T) {
	r := &Resolver{Accounts: &fakeAccounts{}}
	if _, err := r.Resolve(context.Background(), "owner-1", nil); !apperr.IsValidation(err) {
		t.Fatalf("err = %v, want validation", err)
	}
}
