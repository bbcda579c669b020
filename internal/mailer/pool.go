package mailer

import (
	"context"
	"sync"

	"github.com/Mutter0815/DripMailer/internal/apperr"
	"github.com/Mutter0815/DripMailer/internal/model"
	"github.com/Mutter0815/DripMailer/pkg/config"
)

// Pool is a non-empty ordered set of transports with round-robin pick.
type Pool struct {
	transports []Transport

	mu   sync.Mutex
	next int
}

func NewPool(transports []Transport) *Pool {
	return &Pool{transports: transports}
}

func (p *Pool) Size() int { return len(p.transports) }

func (p *Pool) All() []Transport { return p.transports }

func (p *Pool) Pick() Transport {
	if len(p.transports) == 1 {
		return p.transports[0]
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.transports[p.next]
	p.next = (p.next + 1) % len(p.transports)
	return t
}

type accountSource interface {
	ListSMTPAccounts(ctx context.Context, ownerID string, ids []string) ([]model.SMTPAccount, error)
}

// Resolver turns (owner, account refs) into a transport pool, falling back
// to the single default account when no refs resolve.
type Resolver struct {
	Accounts accountSource
	Default  config.SMTPConfig
}

func (r *Resolver) Resolve(ctx context.Context, ownerID string, accountIDs []string) (*Pool, error) {
	if len(accountIDs) > 0 {
		accounts, err := r.Accounts.ListSMTPAccounts(ctx, ownerID, accountIDs)
		if err != nil {
			return nil, err
		}
		if len(accounts) > 0 {
			transports := make([]Transport, len(accounts))
			for i, a := range accounts {
				transports[i] = FromAccount(a)
			}
			return NewPool(transports), nil
		}
	}
	if r.Default.Host == "" {
		return nil, apperr.Validation("no SMTP transports available for owner %s", ownerID)
	}
	return NewPool([]Transport{FromConfig(r.Default)}), nil
}
