package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joestump/congress-roster/internal/db"
	"github.com/joestump/congress-roster/internal/roster"
)

const defaultMemberLimit = 100

// --- Tool Definitions ---

func listMembersTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"list_members",
		"List members of Congress from the published roster, filtered by chamber and state.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"chamber": {
					"type": "string",
					"enum": ["House", "Senate"],
					"description": "Chamber to list (default: both)"
				},
				"state": {
					"type": "string",
					"description": "Two-letter state or territory code, e.g. IA"
				},
				"include_former": {
					"type": "boolean",
					"description": "Include members who no longer serve (default: false)"
				},
				"limit": {
					"type": "integer",
					"description": "Maximum members to return (default: 100)"
				}
			}
		}`),
	)
}

func committeeRosterTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"committee_roster",
		"Get a committee or subcommittee and its members for one Congress, leadership first.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"code": {
					"type": "string",
					"description": "Canonical committee code, e.g. SSJU or HSAG"
				},
				"congress": {
					"type": "integer",
					"description": "Congress number (default: the published Congress)"
				}
			},
			"required": ["code"]
		}`),
	)
}

func healthReportTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"health_report",
		"Get the latest roster health report: freshness state, per-check results and recommendations.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"format": {
					"type": "string",
					"enum": ["json", "markdown"],
					"description": "Output format (default: markdown)"
				}
			}
		}`),
	)
}

// --- Tool Handlers ---

type listMembersArgs struct {
	Chamber       string `json:"chamber"`
	State         string `json:"state"`
	IncludeFormer bool   `json:"include_former"`
	Limit         int    `json:"limit"`
}

// memberResult mirrors one list_members entry.
type memberResult struct {
	BioguideID string `json:"bioguide_id"`
	Name       string `json:"name"`
	Chamber    string `json:"chamber"`
	State      string `json:"state"`
	District   *int   `json:"district,omitempty"`
	Party      string `json:"party"`
	Current    bool   `json:"current"`
}

func (s *Server) handleListMembers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args listMembersArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	f := db.MemberFilter{State: strings.ToUpper(args.State), CurrentOnly: !args.IncludeFormer}
	if args.Chamber != "" {
		c, ok := roster.ParseChamber(args.Chamber)
		if !ok || c == roster.Joint {
			return mcp.NewToolResultError(fmt.Sprintf("chamber must be House or Senate, got %q", args.Chamber)), nil
		}
		f.Chamber = c
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultMemberLimit
	}

	members, err := s.store.ListMembers(ctx, f, limit, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list members: %v", err)), nil
	}
	out := make([]memberResult, len(members))
	for i, m := range members {
		out[i] = memberResult{
			BioguideID: m.BioguideID,
			Name:       m.DisplayName(),
			Chamber:    string(m.Chamber),
			State:      m.State,
			District:   m.District,
			Party:      string(m.Party),
			Current:    m.IsCurrent,
		}
	}
	return resultJSON(out)
}

type committeeRosterArgs struct {
	Code     string `json:"code"`
	Congress int    `json:"congress"`
}

// committeeRosterResult mirrors the committee_roster response.
type committeeRosterResult struct {
	Code          string       `json:"code"`
	Name          string       `json:"name"`
	Chamber       string       `json:"chamber"`
	Type          string       `json:"type"`
	ParentCode    string       `json:"parent_code,omitempty"`
	Congress      int          `json:"congress"`
	Subcommittees []string     `json:"subcommittees,omitempty"`
	Seats         []seatResult `json:"seats"`
}

type seatResult struct {
	BioguideID string `json:"bioguide_id"`
	Name       string `json:"name,omitempty"`
	Party      string `json:"party,omitempty"`
	Position   string `json:"position"`
	Current    bool   `json:"current"`
}

func (s *Server) handleCommitteeRoster(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args committeeRosterArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	code := strings.ToUpper(strings.TrimSpace(args.Code))
	if code == "" {
		return mcp.NewToolResultError("code is required"), nil
	}

	c, err := s.store.GetCommittee(ctx, code)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get committee: %v", err)), nil
	}
	if c == nil {
		return mcp.NewToolResultError(fmt.Sprintf("no committee %s in the published roster", code)), nil
	}

	congress := args.Congress
	if congress <= 0 {
		meta, err := s.store.GetViewMeta(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("read view: %v", err)), nil
		}
		if meta != nil {
			congress = meta.CongressNumber
		}
	}

	res := committeeRosterResult{
		Code:       c.Code,
		Name:       c.Name,
		Chamber:    string(c.Chamber),
		Type:       string(c.Type),
		ParentCode: c.ParentCode,
		Congress:   congress,
		Seats:      []seatResult{},
	}
	committees, err := s.store.ListCommittees(ctx, c.Chamber)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list committees: %v", err)), nil
	}
	for _, sub := range committees {
		if sub.ParentCode == c.Code {
			res.Subcommittees = append(res.Subcommittees, sub.Code)
		}
	}

	seats, err := s.store.ListMemberships(ctx, c.Code, congress)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list memberships: %v", err)), nil
	}
	for _, ms := range seats {
		seat := seatResult{BioguideID: ms.BioguideID, Position: string(ms.Position), Current: ms.IsCurrent}
		if m, err := s.store.GetMember(ctx, ms.BioguideID); err == nil && m != nil {
			seat.Name = m.DisplayName()
			seat.Party = string(m.Party)
		}
		res.Seats = append(res.Seats, seat)
	}
	return resultJSON(res)
}

type healthReportArgs struct {
	Format string `json:"format"`
}

func (s *Server) handleHealthReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args healthReportArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	rep, err := s.reports.Latest(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("load health report: %v", err)), nil
	}
	if rep == nil {
		return mcp.NewToolResultError("no health report yet: run `rosterd check` or wait for the daily validation"), nil
	}

	switch args.Format {
	case "", "markdown":
		return mcp.NewToolResultText(rep.Markdown()), nil
	case "json":
		return resultJSON(rep)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("format must be json or markdown, got %q", args.Format)), nil
	}
}

// resultJSON marshals v to JSON and returns it as a tool result.
func resultJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
