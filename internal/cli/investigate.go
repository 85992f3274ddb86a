package cli

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cadenroberts/OllamaBot-sub000/internal/engine"
)

// InvestigationFile is written into the session directory when an
// investigate directive is applied. The agent picks it up from there.
const InvestigationFile = "investigation.json"

// newInvestigator hands suspension records to the agent by writing them
// next to the session.
func newInvestigator(dir string, logger *slog.Logger) engine.Investigator {
	return engine.InvestigatorFunc(func(ctx context.Context, rec engine.SuspensionRecord) error {
		data, err := json.MarshalIndent(newSuspensionView(rec), "", "  ")
		if err != nil {
			return err
		}
		path := filepath.Join(dir, InvestigationFile)
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
			return err
		}
		if err := os.Rename(tmp, path); err != nil {
			return err
		}
		logger.Info("investigation requested", slog.String("code", string(rec.Code)), slog.String("path", path))
		return nil
	})
}
