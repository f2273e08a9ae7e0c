package strategy

import (
	"fmt"
	"strings"

	"strategy-backtester/internal/models"
)

var labelCleaner = strings.NewReplacer("_", "", "-", "", " ", "", "&", "and", ".", "")

// NormalizeTrailing maps a trailing label in any casing or separator style to
// the closed trailing variant. An empty label means no trailing.
func NormalizeTrailing(label string) (models.TrailingKind, error) {
	switch labelCleaner.Replace(strings.ToLower(strings.TrimSpace(label))) {
	case "", "notrailing", "none", "notrail", "off":
		return models.NoTrailing, nil
	case "trailprofit", "trailingprofit", "trail", "profittrailing":
		return models.TrailProfit, nil
	case "lockandtrail", "locktrail", "lockprofitandtrail", "lockandtrailprofit":
		return models.LockAndTrail, nil
	}
	return models.NoTrailing, fmt.Errorf("unknown profit trailing type %q", label)
}
