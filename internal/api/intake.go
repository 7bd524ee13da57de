package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/directline-io/directline/internal/desk"
	"github.com/directline-io/directline/internal/identity"
	"github.com/directline-io/directline/internal/intake"
)

// IntakeOpener opens webhook submissions on behalf of the submitting
// address, provisioning a client identity for unknown addresses.
func IntakeOpener(d *desk.Desk, dir *identity.Directory) intake.OpenFunc {
	return func(ctx context.Context, req intake.Request) (string, error) {
		client, _, err := dir.Login(req.Email)
		if err != nil {
			return "", fmt.Errorf("%w: %v", intake.ErrRejected, err)
		}
		c, err := d.Open(ctx, client, req.Content, req.Category, req.Attachment)
		switch {
		case errors.Is(err, desk.ErrForbidden), errors.Is(err, desk.ErrEmptyMessage), errors.Is(err, desk.ErrInvalidCategory):
			return "", fmt.Errorf("%w: %v", intake.ErrRejected, err)
		case err != nil:
			return "", err
		}
		return c.ID, nil
	}
}
