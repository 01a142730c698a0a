package mcp

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wvw-insights/cbtup/internal/catalog"
	"github.com/wvw-insights/cbtup/internal/format"
	"github.com/wvw-insights/cbtup/internal/retention"
	"github.com/wvw-insights/cbtup/internal/session"
)

func textResult(msg string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(msg, args...)},
		},
	}
}

// handleListLogs handles the list_logs tool
func (s *Server) handleListLogs(ctx context.Context, req *mcp.CallToolRequest, input ListLogsInput) (*mcp.CallToolResult, ListLogsOutput, error) {
	output := ListLogsOutput{Logs: []LogInfo{}}

	window, err := catalog.ParseWindow(input.Window)
	if err != nil {
		return nil, output, err
	}

	entries, err := s.app.Scan(window, input.HideUploaded)
	if err != nil {
		return nil, output, err
	}
	output.Total = len(entries)
	if input.Limit > 0 && len(entries) > input.Limit {
		entries = entries[:input.Limit]
	}

	now := time.Now()
	formatted := s.app.Settings.ShowFormattedTimestamps
	for _, e := range entries {
		output.Logs = append(output.Logs, LogInfo{
			Path:        e.Path,
			Name:        e.Name(),
			DisplayName: format.LogName(e.Path, formatted),
			ModifiedAt:  e.ModifiedAt.Format(time.RFC3339),
			Age:         format.Relative(e.ModifiedAt, now),
			Size:        e.Size,
			Uploaded:    s.app.History.Uploaded(e.Name()),
		})
	}

	return textResult("%d log(s) in window %s, showing %d", output.Total, window, len(output.Logs)), output, nil
}

// handleStartUpload handles the start_upload tool
func (s *Server) handleStartUpload(ctx context.Context, req *mcp.CallToolRequest, input StartUploadInput) (*mcp.CallToolResult, StartUploadOutput, error) {
	var output StartUploadOutput

	selection, err := s.selection(input)
	if err != nil {
		return nil, output, err
	}

	sess, err := s.app.StartUpload(s.sessionCtx, selection, input.Limit)
	if err != nil {
		return nil, output, err
	}

	output.SessionID = sess.ID()
	output.Total = len(selection)
	output.Limit = sess.Limit()
	return textResult("Started upload session %s with %d log(s)", output.SessionID, output.Total), output, nil
}

// selection resolves explicit paths against the catalog, or scans the window.
func (s *Server) selection(input StartUploadInput) ([]catalog.LogEntry, error) {
	if len(input.Paths) == 0 {
		w := input.Window
		if w == "" {
			w = catalog.WindowSinceStart.String()
		}
		window, err := catalog.ParseWindow(w)
		if err != nil {
			return nil, err
		}
		return s.app.Scan(window, false)
	}

	all, err := s.app.Scan(catalog.WindowAll, false)
	if err != nil {
		return nil, err
	}
	byPath := make(map[string]catalog.LogEntry, len(all))
	for _, e := range all {
		byPath[filepath.Clean(e.Path)] = e
	}

	var out []catalog.LogEntry
	for _, p := range input.Paths {
		e, ok := byPath[filepath.Clean(p)]
		if !ok {
			return nil, fmt.Errorf("log not found in %s: %s", s.app.Settings.LogDirectory, p)
		}
		out = append(out, e)
	}
	return out, nil
}

// handleUploadStatus handles the upload_status tool
func (s *Server) handleUploadStatus(ctx context.Context, req *mcp.CallToolRequest, input UploadStatusInput) (*mcp.CallToolResult, UploadStatusOutput, error) {
	sess, ok := s.app.Sessions.Last()
	if !ok {
		output := UploadStatusOutput{State: session.Idle.String()}
		return textResult("No upload session has been started"), output, nil
	}

	snap := sess.Snapshot()
	output := UploadStatusOutput{
		SessionID: snap.SessionID,
		State:     snap.State.String(),
		Total:     snap.Total,
		Succeeded: snap.Succeeded,
		Failed:    snap.Failed,
		InFlight:  snap.InFlight,
		Pending:   snap.Pending,
	}

	if input.IncludeTasks {
		for _, t := range sess.Tasks() {
			output.Tasks = append(output.Tasks, TaskInfo{
				ID:       t.ID,
				Path:     t.Entry.Path,
				Status:   t.Status.String(),
				Attempts: t.Attempts,
				Error:    t.LastError,
				Link:     t.ResultLink,
			})
		}
	}

	return textResult("Session %s is %s: %d/%d done (%d succeeded, %d failed, %d in flight, %d pending)",
		snap.SessionID, snap.State, snap.Done(), snap.Total, snap.Succeeded, snap.Failed, snap.InFlight, snap.Pending), output, nil
}

// handleCancelUpload handles the cancel_upload tool
func (s *Server) handleCancelUpload(ctx context.Context, req *mcp.CallToolRequest, input CancelUploadInput) (*mcp.CallToolResult, CancelUploadOutput, error) {
	var output CancelUploadOutput

	sess, ok := s.app.Sessions.Current()
	if !ok {
		return textResult("No upload session is running"), output, nil
	}

	output.SessionID = sess.ID()
	output.Cancelled = sess.Cancel()
	if !output.Cancelled {
		return textResult("Session %s is already %s", sess.ID(), sess.State()), output, nil
	}
	return textResult("Cancelled session %s; uploads in flight will finish", sess.ID()), output, nil
}

// handleCleanup handles the cleanup tool
func (s *Server) handleCleanup(ctx context.Context, req *mcp.CallToolRequest, input CleanupInput) (*mcp.CallToolResult, CleanupOutput, error) {
	days := input.Days
	if days <= 0 {
		days = s.app.Settings.Cleanup.Days
	}
	output := CleanupOutput{ThresholdDays: days, DryRun: input.DryRun}

	m, err := s.app.Retention()
	if err != nil {
		return nil, output, err
	}

	root := s.app.Settings.LogDirectory
	recursive := s.app.Settings.Scan.Recursive

	if input.DryRun {
		candidates, err := m.Candidates(root, days, recursive)
		if err != nil {
			return nil, output, err
		}
		var total int64
		for _, c := range candidates {
			output.Candidates = append(output.Candidates, c.Path)
			total += c.Size
		}
		output.BytesFreed = total
		return textResult("%d log(s) older than %d days would be moved (%s)", len(candidates), days, format.Size(total)), output, nil
	}

	run, err := m.Cleanup(root, days, recursive)
	if err != nil {
		return nil, output, err
	}
	output.FilesMoved = run.FilesMoved
	output.BytesFreed = run.BytesFreed
	output.Errors = cleanupErrors(run.Errors)

	return textResult("Moved %d log(s) older than %d days to the trash, freeing %s (%d error(s))",
		run.FilesMoved, days, format.Size(run.BytesFreed), len(run.Errors)), output, nil
}

func cleanupErrors(errs []retention.MoveError) []CleanupError {
	out := make([]CleanupError, 0, len(errs))
	for _, e := range errs {
		out = append(out, CleanupError{Path: e.Path, Reason: e.Reason})
	}
	return out
}

// handleListTokens handles the list_tokens tool
func (s *Server) handleListTokens(ctx context.Context, req *mcp.CallToolRequest, input ListTokensInput) (*mcp.CallToolResult, ListTokensOutput, error) {
	output := ListTokensOutput{Tokens: []TokenInfo{}, Active: s.app.Tokens.ActiveName()}
	for _, t := range s.app.Tokens.List() {
		output.Tokens = append(output.Tokens, TokenInfo{Name: t.Name, Masked: t.Masked(), Active: t.IsActive})
	}
	return textResult("%d saved token(s)", len(output.Tokens)), output, nil
}

// handleSetActiveToken handles the set_active_token tool
func (s *Server) handleSetActiveToken(ctx context.Context, req *mcp.CallToolRequest, input SetActiveTokenInput) (*mcp.CallToolResult, SetActiveTokenOutput, error) {
	var output SetActiveTokenOutput
	if input.Name == "" {
		return nil, output, fmt.Errorf("name is required")
	}
	if err := s.app.Tokens.SetActive(input.Name); err != nil {
		return nil, output, err
	}
	if err := s.app.Save(); err != nil {
		return nil, output, fmt.Errorf("failed to save settings: %w", err)
	}
	output.Success = true
	output.Active = input.Name
	return textResult("Active token is now %q", input.Name), output, nil
}

// handleListReports handles the list_reports tool
func (s *Server) handleListReports(ctx context.Context, req *mcp.CallToolRequest, input ListReportsInput) (*mcp.CallToolResult, ListReportsOutput, error) {
	records := s.app.History.List()
	output := ListReportsOutput{Reports: []ReportInfo{}, Total: len(records)}
	if input.Limit > 0 && len(records) > input.Limit {
		records = records[:input.Limit]
	}

	now := time.Now()
	for _, r := range records {
		output.Reports = append(output.Reports, ReportInfo{
			TaskID:     r.TaskID,
			Name:       r.Name,
			Link:       r.Link,
			UploadedAt: r.UploadedAt.Format(time.RFC3339),
			Age:        format.Relative(r.UploadedAt, now),
		})
	}
	return textResult("%d report(s)", output.Total), output, nil
}
