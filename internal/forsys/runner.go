package forsys

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/silvaplan/silvaplan/internal/config"
	"github.com/silvaplan/silvaplan/internal/domain"
)

// The optimizer signals infeasibility with a dedicated exit code; anything
// else non-zero is treated as a crash.
const exitInfeasible = 2

// OutputArea is one project area proposed by the optimizer. Geometry is
// derived later by unioning the member stand polygons.
type OutputArea struct {
	Name     string         `json:"name"`
	StandIDs []int64        `json:"stand_ids"`
	Data     map[string]any `json:"data,omitempty"`
}

// Output is the optimizer result document.
type Output struct {
	ProjectAreas []OutputArea `json:"project_areas"`
}

// Runner invokes the external optimizer on a built input record.
type Runner interface {
	Run(ctx context.Context, scenarioID int64, rec *InputRecord) (*Output, error)
}

// SubprocessRunner runs the optimizer binary with a per-scenario working
// directory holding input.json and an output directory.
type SubprocessRunner struct {
	cfg    config.Optimizer
	logger *slog.Logger
}

// NewSubprocessRunner creates a subprocess runner.
func NewSubprocessRunner(cfg config.Optimizer, logger *slog.Logger) *SubprocessRunner {
	return &SubprocessRunner{cfg: cfg, logger: logger}
}

// Run executes the optimizer with a hard wall-clock timeout. Timeouts map to
// domain.ErrOptimizerTimeout, the infeasible exit code to
// domain.ErrOptimizerInfeasible and any other failure to
// domain.ErrOptimizerPanic.
func (r *SubprocessRunner) Run(ctx context.Context, scenarioID int64, rec *InputRecord) (*Output, error) {
	workDir := filepath.Join(r.cfg.WorkDir,
		fmt.Sprintf("scenario-%d-%s", scenarioID, uuid.NewString()[:8]))
	outDir := filepath.Join(workDir, "output")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	inputPath := filepath.Join(workDir, "input.json")
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal input record: %w", err)
	}
	if err := os.WriteFile(inputPath, raw, 0o644); err != nil {
		return nil, fmt.Errorf("write input.json: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.cfg.Binary, "--input", inputPath, "--output", outDir)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Info("optimizer started",
		"scenario", scenarioID, "binary", r.cfg.Binary, "workdir", workDir)
	err = cmd.Run()
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("after %s: %w", r.cfg.Timeout, domain.ErrOptimizerTimeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == exitInfeasible {
			return nil, fmt.Errorf("%s: %w",
				strings.TrimSpace(stderr.String()), domain.ErrOptimizerInfeasible)
		}
		return nil, fmt.Errorf("%s: %v: %w",
			strings.TrimSpace(stderr.String()), err, domain.ErrOptimizerPanic)
	}

	out, err := readOutput(outDir)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrOptimizerPanic)
	}
	return out, nil
}

func readOutput(outDir string) (*Output, error) {
	raw, err := os.ReadFile(filepath.Join(outDir, "project_areas.json"))
	if err != nil {
		return nil, fmt.Errorf("read optimizer output: %w", err)
	}
	var out Output
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode optimizer output: %w", err)
	}
	return &out, nil
}
