package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BradenHooton/estateguard/internal/models"
	pkgauth "github.com/BradenHooton/estateguard/pkg/auth"
)

type rootAdminStore interface {
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
}

// ensureRootAdmin creates the root admin when both email and password are set.
// The email is stored in the same normalized form login looks it up by.
func ensureRootAdmin(ctx context.Context, accounts rootAdminStore, hasher *pkgauth.PasswordHasher, email, password string, logger *slog.Logger) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		logger.Info("no ROOT_ADMIN_EMAIL or ROOT_ADMIN_PASSWORD set, skipping root admin creation")
		return nil
	}

	_, err := accounts.GetByEmail(ctx, email)
	if err == nil {
		logger.Info("root admin already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if root admin exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return fmt.Errorf("ROOT_ADMIN_PASSWORD rejected: %w", err)
	}
	hash, err := hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash root admin password: %w", err)
	}

	if _, err := accounts.Create(ctx, &models.Account{
		Email:         email,
		Username:      "root",
		PasswordHash:  hash,
		Role:          models.RoleAdmin,
		EmailVerified: true,
		IsRootAdmin:   true,
	}); err != nil {
		return fmt.Errorf("failed to create root admin: %w", err)
	}

	logger.Info("root admin created")
	return nil
}
