package reset

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"localauth/internal/authentik"
	"localauth/internal/directory"
	"localauth/internal/probe"
	"localauth/internal/store"
)

// AdminApplier sets the identity provider superuser password. The admin
// account's username is its email.
func AdminApplier(setter *authentik.PasswordSetter) PasswordApplier {
	return ApplierFunc(func(ctx context.Context, cfg *store.SystemConfig, _, next string) error {
		return setter.SetUserPassword(ctx, cfg.Admin.Email, next)
	})
}

// DirectoryApplier changes the password of the bind account returned by dn.
// The account authenticates with its current password first.
func DirectoryApplier(changer *directory.PasswordChanger, dn func(baseDN string) string) PasswordApplier {
	return ApplierFunc(func(ctx context.Context, cfg *store.SystemConfig, current, next string) error {
		return changer.ChangePassword(ctx, dn(cfg.LDAP.BaseDN), current, next)
	})
}

// Execer runs a single statement against the database at dsn.
type Execer func(ctx context.Context, dsn, statement string) error

// SQLExec connects with lib/pq and runs statement.
func SQLExec(ctx context.Context, dsn, statement string) error {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return fmt.Errorf("sql connect: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if _, err := db.ExecContext(ctx, statement); err != nil {
		return fmt.Errorf("sql exec: %w", err)
	}
	return nil
}

// AlterRoleStatement quotes role and password for ALTER ROLE.
func AlterRoleStatement(role, password string) string {
	return "ALTER ROLE " + pq.QuoteIdentifier(role) + " WITH PASSWORD " + pq.QuoteLiteral(password)
}

// DatabaseApplier changes the role password by connecting as the role with
// its current password. ep supplies host, port and SSL mode.
func DatabaseApplier(ep probe.Endpoint, timeout time.Duration, exec Execer) PasswordApplier {
	if exec == nil {
		exec = SQLExec
	}
	return ApplierFunc(func(ctx context.Context, cfg *store.SystemConfig, current, next string) error {
		target := ep
		target.User = cfg.Database.Username
		target.Password = current
		target.Database = cfg.Database.Name

		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return exec(ctx, probe.DSN(target, timeout), AlterRoleStatement(cfg.Database.Username, next))
	})
}
