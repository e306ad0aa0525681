package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"time"

	"github.com/nextlevelbuilder/agentgateway/internal/toolregistry"
)

// denyPatterns blocks the common classes of destructive or exfiltrating
// shell commands. Defense in depth only — the real boundary is whatever
// sandbox or container the operator runs the gateway in.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`), // fork bomb
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\b(nc|ncat|netcat)\b.*-[el]\b`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`\bcrontab\b`),
	regexp.MustCompile(`\b(killall|pkill)\b`),
}

// RegisterShell adds the "shell" tool, which runs a command on the host
// shell with a bounded timeout. Denied commands and timeouts are returned
// as ordinary result strings, never as errors — per the tool registry's
// error policy in spec §4.6/§7.
func RegisterShell(reg *toolregistry.Registry, workDir string, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	reg.Register("shell", "Execute a shell command and return its combined stdout/stderr", toolregistry.Schema{
		Properties: map[string]toolregistry.Property{
			"command": {Type: "string", Description: "The shell command to execute"},
		},
		Required: []string{"command"},
	}, func(ctx context.Context, args map[string]any) (toolregistry.Result, error) {
		command, _ := args["command"].(string)
		if command == "" {
			return toolregistry.Result{}, fmt.Errorf("command is required")
		}

		for _, pattern := range denyPatterns {
			if pattern.MatchString(command) {
				return toolregistry.NewResult(fmt.Sprintf("Refused: command matches denied pattern %s", pattern.String())), nil
			}
		}

		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(runCtx, "sh", "-c", command)
		cmd.Dir = workDir

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		if runCtx.Err() == context.DeadlineExceeded {
			return toolregistry.NewResult(fmt.Sprintf("Error: Command timed out after %ds", int(timeout.Seconds()))), nil
		}

		out := stdout.String()
		if stderr.Len() > 0 {
			if out != "" {
				out += "\n"
			}
			out += "STDERR:\n" + stderr.String()
		}
		if err != nil && out == "" {
			out = err.Error()
		}
		if out == "" {
			out = "(command completed with no output)"
		}
		return toolregistry.NewResult(out), nil
	})
}
