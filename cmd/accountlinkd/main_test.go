package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestRunRequiresCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), nil, nil, &stdout, &stderr)
	if err == nil {
		t.Fatalf("expected missing command error")
	}
	if !strings.Contains(stderr.String(), "Commands:") {
		t.Fatalf("expected usage on stderr, got %q", stderr.String())
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"--config", "unused.yaml", "explode"}, nil, &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), `unknown command "explode"`) {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestRunHelpIsNotAnError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"--help"}, nil, &stdout, &stderr); err != nil {
		t.Fatalf("expected help to succeed, got %v", err)
	}
}

func TestSubcommandsRequirePrincipal(t *testing.T) {
	for _, name := range []string{"login", "unbind", "status"} {
		var stdout, stderr bytes.Buffer
		err := run(context.Background(), []string{name}, nil, &stdout, &stderr)
		if err == nil || !strings.Contains(err.Error(), "--principal is required") {
			t.Fatalf("%s: expected principal error, got %v", name, err)
		}
	}
}

func TestRegenerateKeyWithoutTerminalNeedsYes(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"regenerate-key"}, nil, &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Fatalf("expected --yes hint, got %v", err)
	}
}
