package rbac

import (
	"fmt"

	"github.com/tadhub/tadhub/internal/platform/db"
	"github.com/tadhub/tadhub/internal/platform/httpx"
)

// Error taxonomy of the authorization module. Each wraps the matching httpx
// sentinel so handlers can translate it without knowing this package.
var (
	// ErrNotFound indicates that the referenced template, role, tenant or permission does not exist.
	ErrNotFound = fmt.Errorf("rbac: %w", httpx.ErrNotFound)
	// ErrConflict indicates a unique key is already taken.
	ErrConflict = fmt.Errorf("rbac: %w", httpx.ErrDuplicate)
	// ErrValidation indicates malformed input or a rule violation.
	ErrValidation = fmt.Errorf("rbac: %w", httpx.ErrValidation)
	// ErrStoreUnavailable indicates the persistence layer could not be reached.
	ErrStoreUnavailable = fmt.Errorf("rbac: %w", httpx.ErrUnavailable)
)

// storeErr tags connectivity failures with ErrStoreUnavailable.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if db.IsUnavailable(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
