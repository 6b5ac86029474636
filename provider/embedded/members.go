package embedded

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-member-auth"
	"github.com/goliatone/go-repository-bun"
)

// MemberFixture describes a member to load into the directory
type MemberFixture struct {
	MemberNumber string `yaml:"member_number" json:"member_number"`
	Email        string `yaml:"email" json:"email"`
	Password     string `yaml:"password" json:"password"`
	FirstName    string `yaml:"first_name" json:"first_name,omitempty"`
	LastName     string `yaml:"last_name" json:"last_name,omitempty"`
}

// UpsertMember creates the member or updates its password when it exists
func (b *Backend) UpsertMember(ctx context.Context, fixture MemberFixture) (*auth.Member, error) {
	if fixture.MemberNumber == "" || fixture.Email == "" {
		return nil, goerrors.New("member number and email are required", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"member_number": fixture.MemberNumber})
	}

	var hash string
	if fixture.Password != "" {
		h, err := auth.HashPassword(fixture.Password)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash member password")
		}
		hash = h
	}

	existing, err := b.repo.Members().GetByMemberNumber(ctx, fixture.MemberNumber)
	if err == nil {
		if hash != "" {
			if err := b.repo.Members().SetPasswordHash(ctx, fixture.MemberNumber, hash); err != nil {
				return nil, err
			}
			existing.PasswordHash = hash
		}
		return existing, nil
	}

	if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	return b.repo.Members().Register(ctx, &auth.Member{
		MemberNumber: fixture.MemberNumber,
		Email:        fixture.Email,
		FirstName:    fixture.FirstName,
		LastName:     fixture.LastName,
		PasswordHash: hash,
	})
}

// PendingEmailLogs lists email intents waiting for delivery, oldest first
func (b *Backend) PendingEmailLogs(ctx context.Context) ([]*auth.EmailLog, error) {
	records := []*auth.EmailLog{}
	err := b.repo.DB().NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", auth.EmailStatusPending).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}
