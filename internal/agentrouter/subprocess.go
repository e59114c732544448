package agentrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/agentoven/mcpgateway/internal/mcperr"
	"github.com/agentoven/mcpgateway/pkg/models"
)

const stderrTailCap = 4 * 1024 // 4 KiB, §4.C / §7

// SubprocessDriver executes tools whose agent is "subprocess": it spawns
// the declared argv, feeds a stdin template filled from the call
// arguments, and maps the exit code to success/failure. Arguments are
// never shell-interpolated — they are marshalled as argv elements or as a
// JSON stdin payload only, built directly rather than through a shell.
type SubprocessDriver struct {
	// GraceWindow is how long a cancelled subprocess gets after SIGTERM
	// before SIGKILL (§5: "2 s grace window").
	GraceWindow time.Duration
}

// NewSubprocessDriver constructs a driver with the default grace window.
func NewSubprocessDriver() *SubprocessDriver {
	return &SubprocessDriver{GraceWindow: 2 * time.Second}
}

func (d *SubprocessDriver) Kind() models.AgentKind { return models.AgentSubprocess }

func (d *SubprocessDriver) Dispatch(ctx context.Context, tool models.Tool, arguments map[string]interface{}) ([]models.ContentBlock, error) {
	command, _ := tool.AgentParams["command"].(string)
	if command == "" {
		return nil, mcperr.InternalError(fmt.Sprintf("tool %q: subprocess agent missing command", tool.Name))
	}
	argv := buildArgv(tool.AgentParams["args"], arguments)

	cmd := exec.Command(command, argv...)
	cmd.Env = buildEnv(tool.AgentParams["env"])

	payload, err := json.Marshal(arguments)
	if err != nil {
		return nil, mcperr.InvalidParams(fmt.Sprintf("marshal arguments: %v", err))
	}
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	done := make(chan error, 1)
	if err := cmd.Start(); err != nil {
		return nil, mcperr.ToolExecutionFailed(fmt.Sprintf("start subprocess: %v", err)).Wrap(err)
	}
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		gracefulKill(cmd, d.graceWindow(), done)
		return nil, mcperr.Timeout(fmt.Sprintf("tool %q: subprocess cancelled", tool.Name))
	case err := <-done:
		tail := tailBytes(stderr.Bytes(), stderrTailCap)
		if err != nil {
			return nil, mcperr.ToolExecutionFailed(fmt.Sprintf("exit %s: %s", exitCodeOf(err), tail)).Wrap(err)
		}
		return []models.ContentBlock{models.TextContent(stdout.String())}, nil
	}
}

func (d *SubprocessDriver) graceWindow() time.Duration {
	if d.GraceWindow <= 0 {
		return 2 * time.Second
	}
	return d.GraceWindow
}

// gracefulKill sends SIGTERM and escalates to SIGKILL after the grace
// window if the process is still alive (§5 "Cancellation").
func gracefulKill(cmd *exec.Cmd, grace time.Duration, done <-chan error) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		_ = cmd.Process.Kill()
		<-done
	}
}

func buildArgv(declared interface{}, arguments map[string]interface{}) []string {
	var argv []string
	if list, ok := declared.([]interface{}); ok {
		for _, a := range list {
			if s, ok := a.(string); ok {
				argv = append(argv, substituteArgvTemplate(s, arguments))
			}
		}
	}
	return argv
}

// substituteArgvTemplate replaces {{name}} placeholders with the string
// form of the named argument. This is argv-element substitution, never
// shell text, so there is no injection surface: each substituted value
// becomes exactly one argv slot's contents.
func substituteArgvTemplate(template string, arguments map[string]interface{}) string {
	out := template
	for k, v := range arguments {
		out = strings.ReplaceAll(out, "{{"+k+"}}", fmt.Sprintf("%v", v))
	}
	return out
}

func buildEnv(declared interface{}) []string {
	env := os.Environ()
	m, ok := declared.(map[string]interface{})
	if !ok {
		return env
	}
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%v", k, v))
	}
	return env
}

func tailBytes(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}

func exitCodeOf(err error) string {
	if ee, ok := err.(*exec.ExitError); ok {
		return fmt.Sprintf("%d", ee.ExitCode())
	}
	return err.Error()
}
