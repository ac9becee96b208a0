package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"emooti/internal/auth"
	"emooti/internal/domain/retention"
	"emooti/internal/platform/config"
)

func Seed(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) error {
	if err := ensureAdminUser(ctx, pool, cfg.SeedAdminEmail, cfg.SeedAdminPassword); err != nil {
		return err
	}
	return ensureDefaultRetentionPolicies(ctx, pool)
}

func ensureAdminUser(ctx context.Context, pool *pgxpool.Pool, email, password string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil
	}

	var id string
	err := pool.QueryRow(ctx, "SELECT id FROM users WHERE email = $1", email).Scan(&id)
	if err == nil {
		return nil
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO users (email, name, role, status, password_hash)
		VALUES ($1, $2, 'admin', 'active', $3)`,
		email, "Administrator", hash)
	if err != nil {
		return errors.New("seed admin user: " + err.Error())
	}
	return nil
}

// Default policies keep the engine enforceable out of the box: audit entries
// for 7 years, inactive users and students for 3. Deliberately not
// auto-apply; an administrator opts in.
func ensureDefaultRetentionPolicies(ctx context.Context, pool *pgxpool.Pool) error {
	defaults := []struct {
		entityType string
		years      int
		basis      string
	}{
		{retention.EntityAuditLog, 7, "statutory audit record keeping"},
		{retention.EntityUser, 3, "data minimisation for dormant accounts"},
		{retention.EntityStudent, 3, "data minimisation for withdrawn students"},
	}

	for _, d := range defaults {
		var exists bool
		err := pool.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM retention_policies WHERE entity_type = $1)`,
			d.entityType).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		_, err = pool.Exec(ctx, `
			INSERT INTO retention_policies (
				entity_type, retention_years, trigger_field, legal_basis, status
			) VALUES ($1, $2, 'createdAt', $3, $4)`,
			d.entityType, d.years, d.basis, retention.PolicyStatusActive)
		if err != nil {
			return err
		}
	}
	return nil
}
