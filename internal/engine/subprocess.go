package engine

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/tailorfit/internal/logging"
)

// Subprocess invokes the measurement computation as a child process that
// prints a JSON payload on stdout.
type Subprocess struct {
	command string
	script  string
	timeout time.Duration
	logger  *zap.Logger
}

// NewSubprocess builds an invoker running `command script front side height
// gender` under the given wall-clock timeout.
func NewSubprocess(command, script string, timeout time.Duration, logger *zap.Logger) *Subprocess {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Subprocess{
		command: command,
		script:  script,
		timeout: timeout,
		logger:  logger.Named("engine"),
	}
}

// Compute runs the computation. The run gets its own deadline context,
// detached from the caller's: a client that disconnects mid-request does not
// kill a computation already started, and its result still comes back to the
// pipeline to be persisted or cleaned up.
func (s *Subprocess) Compute(ctx context.Context, frontPath, sidePath string, height float64, gender Gender) (*Result, error) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	heightArg := strconv.FormatFloat(height, 'f', -1, 64)
	cmd := exec.CommandContext(runCtx, s.command, s.script, frontPath, sidePath, heightArg, string(gender))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	// Diagnostic chatter on stderr is informational only; the success
	// payload on stdout decides the outcome.
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		s.logger.Warn("engine stderr output", zap.String("stderr", msg))
	}

	if runCtx.Err() != nil {
		return nil, logging.NewOperationError("engine.compute", "",
			fmt.Errorf("computation exceeded %s deadline: %w", s.timeout, runCtx.Err()))
	}
	if err != nil {
		// A non-zero exit still carries a structured failure payload when
		// the engine itself reported the error.
		if result, parseErr := parseOutput(stdout.Bytes()); parseErr == nil {
			return result, nil
		} else if stdout.Len() > 0 {
			return nil, logging.NewOperationError("engine.compute", "", parseErr)
		}
		return nil, logging.NewOperationError("engine.compute", "", err)
	}

	result, err := parseOutput(stdout.Bytes())
	if err != nil {
		return nil, logging.NewOperationError("engine.compute", "", err)
	}
	return result, nil
}

// Ping probes that the engine command can be started at all. Used by the
// health endpoint.
func (s *Subprocess) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(pingCtx, s.command, "--version").CombinedOutput()
	if err != nil {
		return logging.NewOperationError("engine.ping", "",
			fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out))))
	}
	return nil
}

var _ Invoker = (*Subprocess)(nil)
