//go:build !unix

package lifecycle

import (
	"context"
	"errors"
)

// RemovePrivileged is not supported on this platform.
func RemovePrivileged(_ context.Context, _ string) error {
	return errors.New("privileged removal not supported on this platform")
}
