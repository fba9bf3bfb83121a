package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCommand(t *testing.T) {
	var buf bytes.Buffer
	RootCmd.SetOut(&buf)
	RootCmd.SetErr(&buf)
	RootCmd.SetArgs([]string{"--help"})

	if err := RootCmd.Execute(); err != nil {
		t.Errorf("root command with --help failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "keeps PostgreSQL materialized views in step") {
		t.Errorf("expected help output to contain description, got: %s", output)
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	commandNames := make(map[string]bool)
	for _, cmd := range RootCmd.Commands() {
		commandNames[cmd.Name()] = true
	}

	for _, expected := range []string{"version", "plan", "apply", "teardown", "refresh", "log"} {
		if !commandNames[expected] {
			t.Errorf("expected subcommand %s not found in: %v", expected, commandNames)
		}
	}
}
