package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ToolVersion runs "<binary> -version" and returns the version token of the
// banner line, e.g. "6.1.1" from "ffmpeg version 6.1.1 Copyright ...".
func ToolVersion(ctx context.Context, binary string) (string, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return "", fmt.Errorf("tool version: binary not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, "-hide_banner", "-version")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s -version: %w (%s)", binary, err, strings.TrimSpace(stderr.String()))
	}
	return parseVersion(stdout.Bytes())
}

func parseVersion(output []byte) (string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		for i := 0; i+2 < len(fields); i++ {
			if fields[i+1] == "version" {
				return fields[i+2], nil
			}
		}
	}
	return "", fmt.Errorf("no version banner in tool output")
}
