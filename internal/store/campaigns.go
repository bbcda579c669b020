package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Mutter0815/DripMailer/internal/apperr"
	"github.com/Mutter0815/DripMailer/internal/model"
)

func (s *Store) InsertCampaign(ctx context.Context, c *model.Campaign) error {
	steps, err := json.Marshal(c.Steps)
	if err != nil {
		return err
	}
	return s.DB.QueryRowContext(ctx, `
		INSERT INTO campaigns (id, owner_id, name, description, steps, status)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING created_at
	`, c.ID, c.OwnerID, c.Name, c.Description, steps, c.Status).Scan(&c.CreatedAt)
}

func (s *Store) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	var (
		c          model.Campaign
		steps      []byte
		recipients []byte
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, owner_id, name, description, steps, recipients, status, created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`, id).Scan(&c.ID, &c.OwnerID, &c.Name, &c.Description, &steps, &recipients,
		&c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound("campaign", id, err)
	}
	if err := json.Unmarshal(steps, &c.Steps); err != nil {
		return nil, err
	}
	if len(recipients) > 0 {
		if err := json.Unmarshal(recipients, &c.Recipients); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func (s *Store) ListCampaigns(ctx context.Context, ownerID string, limit, offset int) ([]model.Campaign, error) {
	if limit <= 0 || limit > 1000 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, owner_id, name, description, steps, status, created_at, updated_at
		FROM campaigns
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		var (
			c     model.Campaign
			steps []byte
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Description, &steps,
			&c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(steps, &c.Steps); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCampaignStatus(ctx context.Context, id string, status model.CampaignStatus) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE campaigns SET status=$2, updated_at=NOW() WHERE id=$1
	`, id, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("campaign", id)
	}
	return nil
}

// PromoteCampaignCompleted flips running -> completed. The guard keeps a
// late-finishing execution from resurrecting a cancelled campaign.
func (s *Store) PromoteCampaignCompleted(ctx context.Context, id string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE campaigns SET status='completed', updated_at=NOW()
		WHERE id=$1 AND status='running'
	`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateCampaignDraft rewrites the editable fields; only drafts may change.
func (s *Store) UpdateCampaignDraft(ctx context.Context, c *model.Campaign) error {
	steps, err := json.Marshal(c.Steps)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE campaigns
		   SET name=$2, description=$3, steps=$4, updated_at=NOW()
		 WHERE id=$1 AND status='draft'
	`, c.ID, c.Name, c.Description, steps)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("draft campaign", c.ID)
	}
	return nil
}

// StartCampaignTx snapshots the recipients and flips draft -> running in
// one statement so a concurrent start cannot double-fire.
func (s *Store) StartCampaignTx(ctx context.Context, tx DBTX, id string, recipients []model.Recipient, startedAt time.Time) (bool, error) {
	recs, err := json.Marshal(recipients)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE campaigns
		   SET recipients=$2, status='running', updated_at=$3
		 WHERE id=$1 AND status='draft'
	`, id, recs, startedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) DeleteCampaignDraft(ctx context.Context, id, ownerID string) error {
	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM campaigns WHERE id=$1 AND owner_id=$2 AND status='draft'
	`, id, ownerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("draft campaign", id)
	}
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, id, ownerID string) (*model.Template, error) {
	var t model.Template
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, owner_id, service_name, subject, sender_name, sender_email, html_body
		FROM templates
		WHERE id = $1 AND owner_id = $2
	`, id, ownerID).Scan(&t.ID, &t.OwnerID, &t.ServiceName, &t.Subject,
		&t.SenderName, &t.SenderEmail, &t.HTMLBody)
	if err != nil {
		return nil, notFound("template", id, err)
	}
	return &t, nil
}

func (s *Store) ListSMTPAccounts(ctx context.Context, ownerID string, ids []string) ([]model.SMTPAccount, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, owner_id, host, port, secure, auth_user, auth_pass
		FROM smtp_accounts
		WHERE owner_id = $1 AND id = ANY($2)
	`, ownerID, stringSlice(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SMTPAccount
	for rows.Next() {
		var a model.SMTPAccount
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Host, &a.Port, &a.Secure,
			&a.AuthUser, &a.AuthPass); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
