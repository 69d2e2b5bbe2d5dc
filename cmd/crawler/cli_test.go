package main

import (
	"errors"
	"testing"
)

func TestCrawlCmd_RequiresAtLeastOneSeed(t *testing.T) {
	cmd := crawlCmd()
	cmd.SetArgs([]string{})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error when no seed URLs are given")
	}
}

func TestResumeCmd_RequiresStateFile(t *testing.T) {
	cmd := resumeCmd()
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected an error when --state-file is omitted")
	}
	var cfgErr *configError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected a configError, got %T: %v", err, err)
	}
}

func TestResumeCmd_MissingStateFileErrors(t *testing.T) {
	cmd := resumeCmd()
	cmd.SetArgs([]string{"--state-file", "/nonexistent/checkpoint.json"})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected an error for a nonexistent state file")
	}
	var cfgErr *configError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected a configError, got %T: %v", err, err)
	}
}

func TestOsintCmd_NoCollaboratorWiredReturnsConfigError(t *testing.T) {
	cmd := osintCmd()
	cmd.SetArgs([]string{"https://example.com"})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected an error since no OSINTCollaborator is wired into the stock build")
	}
	var cfgErr *configError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected a configError, got %T: %v", err, err)
	}
	if !errors.Is(err, errOSINTNotWired) {
		t.Error("expected the error to wrap errOSINTNotWired")
	}
}

func TestOsintCmd_RequiresExactlyOneURL(t *testing.T) {
	cmd := osintCmd()
	cmd.SetArgs([]string{})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error when no target URL is given")
	}
}
