package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/goharvest/pkg/jobregistry"
)

// newJobID returns "<prefix>_<unix millis>_<8 hex>", with prefix "scan" or
// "stream" by kind.
func newJobID(kind jobregistry.Kind, now time.Time) (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	prefix := "stream"
	if kind == jobregistry.KindDirectoryScan {
		prefix = "scan"
	}
	hex := strings.ReplaceAll(u.String(), "-", "")[:8]
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), hex), nil
}
