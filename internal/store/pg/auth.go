package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"volunteersync.org/internal/auth"
)

func (s *Store) FindByEmail(ctx context.Context, email string) (auth.Identity, error) {
	if s.db == nil {
		return auth.Identity{}, errNoDB
	}
	var id auth.Identity
	err := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, role, village_id
		from volunteers
		where lower(email) = $1
	`, auth.NormalizeEmail(email)).Scan(&id.ID, &id.Email, &id.PasswordHash, &id.Role, &id.VillageID)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Identity{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Identity{}, err
	}
	return id, nil
}

func (s *Store) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from volunteers where lower(email) = $1)
	`, auth.NormalizeEmail(email)).Scan(&exists)
	return exists, err
}

func (s *Store) UpdatePasswordHash(ctx context.Context, identityID int64, hash string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update volunteers set password_hash = $2, updated_at = now() where id = $1
	`, identityID, hash)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// lockVolunteer serialises credential writes for one identity.
func lockVolunteer(ctx context.Context, tx *sql.Tx, id int64) error {
	var one int
	err := tx.QueryRowContext(ctx, `select 1 from volunteers where id = $1 for update`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	return err
}

func (s *Store) ReplaceCode(ctx context.Context, code auth.SecondFactorCode) (auth.SecondFactorCode, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockVolunteer(ctx, tx, code.IdentityID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			delete from two_factor_codes where volunteer_id = $1 and not verified
		`, code.IdentityID); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `
			insert into two_factor_codes (volunteer_id, code, expires_at, verified)
			values ($1, $2, $3, false)
			returning id
		`, code.IdentityID, code.Code, code.ExpiresAt).Scan(&code.ID)
	})
	if err != nil {
		return auth.SecondFactorCode{}, err
	}
	code.Verified = false
	return code, nil
}

func (s *Store) ConsumeCode(ctx context.Context, identityID int64, submitted string, now time.Time) (auth.CodeOutcome, error) {
	outcome := auth.OutcomeAbsent
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var c auth.SecondFactorCode
		err := tx.QueryRowContext(ctx, `
			select id, volunteer_id, code, expires_at, verified
			from two_factor_codes
			where volunteer_id = $1 and not verified
			for update
		`, identityID).Scan(&c.ID, &c.IdentityID, &c.Code, &c.ExpiresAt, &c.Verified)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		outcome = c.Check(submitted, now)
		switch outcome {
		case auth.OutcomeExpired:
			_, err = tx.ExecContext(ctx, `delete from two_factor_codes where id = $1`, c.ID)
		case auth.OutcomeAccepted:
			_, err = tx.ExecContext(ctx, `update two_factor_codes set verified = true where id = $1`, c.ID)
		}
		return err
	})
	if err != nil {
		return auth.OutcomeAbsent, err
	}
	return outcome, nil
}

func (s *Store) DeleteExpiredCodes(ctx context.Context, now time.Time) (int64, error) {
	return s.deleteExpired(ctx, `delete from two_factor_codes where expires_at < $1`, now)
}

func (s *Store) ReplaceResetToken(ctx context.Context, tok auth.ResetToken) (auth.ResetToken, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockVolunteer(ctx, tx, tok.IdentityID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			delete from password_reset_tokens where volunteer_id = $1
		`, tok.IdentityID); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `
			insert into password_reset_tokens (volunteer_id, token, expires_at, used)
			values ($1, $2, $3, false)
			returning id
		`, tok.IdentityID, tok.Token, tok.ExpiresAt).Scan(&tok.ID)
	})
	if err != nil {
		return auth.ResetToken{}, err
	}
	tok.Used = false
	return tok, nil
}

func (s *Store) RedeemResetToken(ctx context.Context, token, passwordHash string, now time.Time) (int64, error) {
	var identityID int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var t auth.ResetToken
		err := tx.QueryRowContext(ctx, `
			select id, volunteer_id, expires_at, used
			from password_reset_tokens
			where token = $1
			for update
		`, token).Scan(&t.ID, &t.IdentityID, &t.ExpiresAt, &t.Used)
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrInvalidToken
		}
		if err != nil {
			return err
		}
		if err := t.Redeemable(now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			update volunteers set password_hash = $2, updated_at = now() where id = $1
		`, t.IdentityID, passwordHash); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			update password_reset_tokens set used = true where id = $1
		`, t.ID); err != nil {
			return err
		}
		identityID = t.IdentityID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return identityID, nil
}

func (s *Store) DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	return s.deleteExpired(ctx, `delete from password_reset_tokens where expires_at < $1`, now)
}

func (s *Store) deleteExpired(ctx context.Context, query string, now time.Time) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
