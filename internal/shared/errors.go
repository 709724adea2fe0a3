package shared

import "errors"

var (
	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("not found")
)

// UserSafeMessage returns a message suitable for end users.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNotFound) {
		return "El registro solicitado no existe"
	}
	return "Ocurrió un error procesando la solicitud"
}
