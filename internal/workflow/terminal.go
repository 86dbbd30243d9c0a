package workflow

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rumor-ml/commons.systems/bankload/internal/cutoff"
	"github.com/rumor-ml/commons.systems/bankload/internal/domain"
	"github.com/rumor-ml/commons.systems/bankload/internal/scanner"
	"github.com/rumor-ml/commons.systems/bankload/internal/ui"
)

// PromptFunc blocks until the user signals the prompted step is done.
type PromptFunc func(message string)

// StdinPrompt waits for a newline on stdin.
func StdinPrompt(message string) {
	ui.Prompt(message)
	bufio.NewReader(os.Stdin).ReadString('\n')
}

// TerminalDriver guides a human through the download list one request at a
// time. The staging folder is cleared before the session so every file found
// afterwards belongs to this session.
type TerminalDriver struct {
	staging string
	scanner *scanner.Scanner
	prompt  PromptFunc
}

// NewTerminalDriver creates a driver over the staging folder. A nil prompt
// uses stdin.
func NewTerminalDriver(stagingDir string, prompt PromptFunc) *TerminalDriver {
	if prompt == nil {
		prompt = StdinPrompt
	}
	return &TerminalDriver{
		staging: stagingDir,
		scanner: scanner.New(scanner.Layout{StagingRoot: stagingDir}),
		prompt:  prompt,
	}
}

// Fetch walks the user through each request, attributing files that newly
// appear in the staging folder to the request just prompted.
func (d *TerminalDriver) Fetch(ctx context.Context, requests []cutoff.Request) ([]Download, error) {
	if err := d.clearStaging(); err != nil {
		return nil, fmt.Errorf("failed to clear staging folder: %w", err)
	}

	ui.Header("Download session")
	ui.Info(fmt.Sprintf("Save each file to %s", d.staging))

	var downloads []Download
	known := map[string]bool{}

	for i, req := range requests {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		ui.Step(i+1, len(requests), describe(req))
		d.prompt("Press Enter when the file is downloaded")

		fresh, err := d.newFiles(known)
		if err != nil {
			return nil, err
		}
		if len(fresh) == 0 {
			ui.Warning("No new file appeared, skipping this request")
			continue
		}
		for _, path := range fresh {
			downloads = append(downloads, Download{Request: req, Path: path})
		}
	}

	return downloads, nil
}

// clearStaging removes leftovers from previous sessions.
func (d *TerminalDriver) clearStaging() error {
	if err := os.MkdirAll(d.staging, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(d.staging)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(d.staging, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// newFiles returns staging files not seen earlier in the session, in a
// stable order, and marks them seen.
func (d *TerminalDriver) newFiles(known map[string]bool) ([]string, error) {
	candidates, err := d.scanner.ScanStaging()
	if err != nil {
		return nil, err
	}

	var fresh []string
	for _, c := range candidates {
		if known[c.Path] {
			continue
		}
		known[c.Path] = true
		fresh = append(fresh, c.Path)
	}
	sort.Strings(fresh)
	return fresh, nil
}

func describe(req cutoff.Request) string {
	status := "closed statement"
	if req.Status == domain.StateOpen {
		status = "current snapshot"
	}
	return fmt.Sprintf("Download the %s %s for account %s, period %s",
		req.Type, status, req.Account, req.Period)
}
