package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// DefaultGuildName labels reports when no guild name is given.
const DefaultGuildName = "WvW Insights Parser (Nexus)"

// Processing states reported by the status endpoint.
const (
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// RemoteSession is a batch of uploads held by the parser until processing starts.
type RemoteSession struct {
	ID             string `json:"session_id"`
	OwnershipToken string `json:"ownership_token"`
}

// ProcessOptions configure server-side processing of a remote session.
type ProcessOptions struct {
	GuildName string
	// Legacy also builds the old-style report.
	Legacy bool
}

// ReportFile is one file produced by processing.
type ReportFile struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// StatusLog is a processing log line.
type StatusLog struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ProcessStatus is one poll of a remote session.
type ProcessStatus struct {
	Status   string
	Progress float64
	// Phase is a readable description of the current processing step.
	Phase string
	Logs  []StatusLog
	// Reports holds the HTML reports once Status is complete.
	Reports []ReportFile
}

// Complete reports whether processing finished successfully.
func (s *ProcessStatus) Complete() bool { return s.Status == StatusComplete }

// Failed reports whether processing stopped with an error.
func (s *ProcessStatus) Failed() bool { return s.Status == StatusFailed || s.Status == "error" }

// ReportURLs returns the report links in server order.
func (s *ProcessStatus) ReportURLs() []string {
	out := make([]string, 0, len(s.Reports))
	for _, r := range s.Reports {
		out = append(out, r.URL)
	}
	return out
}

type sessionResponse struct {
	Success        bool   `json:"success"`
	SessionID      string `json:"session_id"`
	OwnershipToken string `json:"ownership_token"`
	Message        string `json:"message"`
}

type processResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type statusResponse struct {
	Status    string       `json:"status"`
	Progress  *float64     `json:"progress"`
	Logs      []StatusLog  `json:"logs"`
	Files     []ReportFile `json:"files"`
	Heartbeat *struct {
		Component string `json:"component"`
	} `json:"heartbeat"`
}

// CreateSession opens a remote session that uploads are attached to.
func (c *Client) CreateSession(ctx context.Context, token string) (*RemoteSession, error) {
	req, err := c.formRequest(ctx, endpointSession, url.Values{"history_token": {token}})
	if err != nil {
		return nil, err
	}

	status, body, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp sessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Kind: KindServer, StatusCode: status, Message: "failed to parse session response", Err: err}
	}
	if !resp.Success {
		msg := "session creation failed: " + resp.Message
		if looksLikeAuthFailure(resp.Message) {
			return nil, &Error{Kind: KindAuth, StatusCode: status, Message: msg}
		}
		return nil, &Error{Kind: KindRejected, StatusCode: status, Message: msg}
	}
	if resp.SessionID == "" || resp.OwnershipToken == "" {
		return nil, &Error{Kind: KindServer, StatusCode: status, Message: "session response is missing its id or ownership token"}
	}

	c.logger.Info("remote session created", zap.String("session", resp.SessionID))
	return &RemoteSession{ID: resp.SessionID, OwnershipToken: resp.OwnershipToken}, nil
}

// StartProcessing asks the parser to build reports from everything uploaded
// to remote. It returns the server's acknowledgement.
func (c *Client) StartProcessing(ctx context.Context, remote RemoteSession, token string, opts ProcessOptions) (string, error) {
	guild := strings.TrimSpace(opts.GuildName)
	if guild == "" {
		guild = DefaultGuildName
	}
	legacy := "0"
	if opts.Legacy {
		legacy = "1"
	}

	form := url.Values{
		"session_id":        {remote.ID},
		"history_token":     {token},
		"ownership_token":   {remote.OwnershipToken},
		"guild_name":        {guild},
		"enable_old_parser": {legacy},
	}
	req, err := c.formRequest(ctx, endpointProcess, form)
	if err != nil {
		return "", err
	}

	status, body, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}

	var resp processResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &Error{Kind: KindServer, StatusCode: status, Message: "failed to parse process response", Err: err}
	}
	if !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "processing start failed"
		}
		return "", &Error{Kind: KindRejected, StatusCode: status, Message: msg}
	}
	if resp.Message == "" {
		resp.Message = "Processing started"
	}

	c.logger.Info("processing started",
		zap.String("session", remote.ID),
		zap.String("guild", guild),
		zap.Bool("legacy", opts.Legacy))
	return resp.Message, nil
}

// Status polls the processing state of a remote session.
func (c *Client) Status(ctx context.Context, sessionID string) (*ProcessStatus, error) {
	u := c.url(endpointStatus) + "&session_id=" + url.QueryEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	status, body, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Kind: KindServer, StatusCode: status, Message: "failed to parse status response", Err: err}
	}

	out := &ProcessStatus{Status: resp.Status, Logs: resp.Logs}
	if resp.Progress != nil {
		out.Progress = *resp.Progress
	}
	if resp.Heartbeat != nil && resp.Heartbeat.Component != "" {
		out.Phase = PhaseMessage(resp.Heartbeat.Component, out.Progress)
	}
	if out.Complete() {
		for _, f := range resp.Files {
			// also matches LegacyReport.html
			if strings.Contains(f.Name, "Report.html") {
				out.Reports = append(out.Reports, f)
			}
		}
	}
	return out, nil
}

var phaseMessages = map[string]string{
	"initialization":             "Initializing processing environment",
	"config_verification":        "Verifying configuration files",
	"elite_insights_start":       "Starting Elite Insights analysis",
	"elite_insights_executing":   "Running Elite Insights CLI",
	"elite_insights_processing":  "Processing log data with Elite Insights",
	"elite_insights_complete":    "Elite Insights processing completed",
	"topstats_start":             "Starting TopStats statistical analysis",
	"topstats_parsing":           "Parsing combat data with TopStats",
	"topstats_processing":        "Analyzing player performance metrics",
	"topstats_file_processing":   "Processing combat log files",
	"topstats_document_creation": "Generating statistical documents",
	"topstats_complete":          "Finalizing combat statistics",
	"json_processing":            "Processing JSON combat data",
	"highscores_injection":       "Injecting high scores data",
	"tiddlywiki_start":           "Starting TiddlyWiki report generation",
	"tiddlywiki_initializing":    "Initializing TiddlyWiki report engine",
	"tiddlywiki_setup":           "Setting up wiki environment",
	"tiddlywiki_init":            "Initializing wiki workspace",
	"tiddlywiki_import":          "Importing combat data into template",
	"tiddlywiki_build":           "Building interactive report",
	"tiddlywiki_finalize":        "Finalizing report structure",
	"tiddlywiki_save":            "Saving final HTML report",
	"legacy_parser_start":        "Starting legacy report generation",
	"legacy_start":               "Starting legacy parser processing",
	"legacy_setup":               "Setting up legacy workspace",
	"legacy_moved_files":         "Processing log files for legacy parser",
	"legacy_tw5_done":            "Building legacy TiddlyWiki report",
	"legacy_cleanup":             "Finalizing legacy report",
	"cleanup":                    "Cleaning up temporary files",
	"complete":                   "Processing complete",
}

var phaseByProgress = []struct {
	below float64
	msg   string
}{
	{5, "Initializing processing environment"},
	{10, "Verifying configuration files"},
	{15, "Starting Elite Insights analysis"},
	{25, "Processing logs with Elite Insights"},
	{30, "Starting TopStats analysis"},
	{45, "Analyzing player performance metrics"},
	{55, "Finalizing combat statistics"},
	{60, "Processing JSON combat data"},
	{65, "Starting report generation"},
	{75, "Building interactive report components"},
	{85, "Generating data visualizations"},
	{95, "Saving final report"},
	{97, "Cleaning temporary files"},
}

// PhaseMessage describes a heartbeat component. Unknown components fall back
// to a description derived from progress.
func PhaseMessage(component string, progress float64) string {
	if strings.HasPrefix(component, "elite_insights_processing_") {
		// elite_insights_processing_<current>_<total>
		parts := strings.Split(component, "_")
		if len(parts) >= 5 {
			cur, err1 := strconv.Atoi(parts[3])
			total, err2 := strconv.Atoi(parts[4])
			if err1 == nil && err2 == nil {
				return fmt.Sprintf("Processing logs with Elite Insights (%d/%d)", cur, total)
			}
		}
		return "Processing log data with Elite Insights"
	}

	if msg, ok := phaseMessages[component]; ok {
		return msg
	}
	for _, p := range phaseByProgress {
		if progress < p.below {
			return p.msg
		}
	}
	return "Almost done..."
}
