// Package socket implements the control socket: a local Unix domain socket
// accepting newline-delimited JSON requests from scripts and agent
// processes, dispatching each to the thread orchestrator and writing one
// JSON response per request, in order. The server holds no state of its
// own; every guarantee comes from the orchestrator.
package socket

import (
	"strconv"
	"strings"

	"github.com/magenthq/magent-core/config"
	"github.com/magenthq/magent-core/manager"
)

// Request is one control-socket command. Every field except Command is
// optional; which ones matter depends on the command.
type Request struct {
	Command      string `json:"command"`
	Project      string `json:"project,omitempty"`
	AgentType    string `json:"agentType,omitempty"`
	Prompt       string `json:"prompt,omitempty"`
	ThreadID     string `json:"threadId,omitempty"`
	ThreadName   string `json:"threadName,omitempty"`
	TabIndex     int    `json:"tabIndex,omitempty"`
	SessionName  string `json:"sessionName,omitempty"`
	NewName      string `json:"newName,omitempty"`
	Description  string `json:"description,omitempty"`
	ID           string `json:"id,omitempty"`
	SectionName  string `json:"sectionName,omitempty"`
	SectionColor string `json:"sectionColor,omitempty"`
	Position     int    `json:"position,omitempty"`
}

// Response is the reply to one request. ID echoes the request's ID for
// correlation when the client sent one.
type Response struct {
	OK       bool         `json:"ok"`
	ID       string       `json:"id,omitempty"`
	Error    string       `json:"error,omitempty"`
	Thread   *ThreadDTO   `json:"thread,omitempty"`
	Threads  []ThreadDTO  `json:"threads,omitempty"`
	Projects []ProjectDTO `json:"projects,omitempty"`
	Tabs     []TabDTO     `json:"tabs,omitempty"`
	Tab      *TabDTO      `json:"tab,omitempty"`
	Sections []SectionDTO `json:"sections,omitempty"`
	Section  *SectionDTO  `json:"section,omitempty"`
}

// ThreadDTO is the wire shape of a thread.
type ThreadDTO struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	ProjectName  string   `json:"projectName"`
	WorktreePath string   `json:"worktreePath"`
	TmuxSession  string   `json:"tmuxSession"`
	AgentType    string   `json:"agentType,omitempty"`
	IsMain       bool     `json:"isMain"`
	SectionName  string   `json:"sectionName,omitempty"`
	SectionID    string   `json:"sectionId,omitempty"`
	Tabs         []TabDTO `json:"tabs,omitempty"`
}

// TabDTO is the wire shape of one session within a thread.
type TabDTO struct {
	Index       int    `json:"index"`
	SessionName string `json:"sessionName"`
	IsAgent     bool   `json:"isAgent"`
	AgentType   string `json:"agentType,omitempty"`
}

// SectionDTO is the wire shape of a section.
type SectionDTO struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	ColorHex          string      `json:"colorHex"`
	SortOrder         int         `json:"sortOrder"`
	IsDefault         bool        `json:"isDefault"`
	IsVisible         bool        `json:"isVisible"`
	IsProjectOverride bool        `json:"isProjectOverride"`
	Threads           []ThreadDTO `json:"threads,omitempty"`
}

// ProjectDTO is the wire shape of a project.
type ProjectDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	RepoPath      string `json:"repoPath"`
	WorktreesPath string `json:"worktreesPath,omitempty"`
	DefaultBranch string `json:"defaultBranch,omitempty"`
	AgentType     string `json:"agentType,omitempty"`
}

func threadDTO(settings *config.Settings, thread config.Thread) ThreadDTO {
	dto := ThreadDTO{
		ID:           thread.ID,
		Name:         thread.Name,
		WorktreePath: thread.WorktreePath,
		AgentType:    thread.AgentType,
		IsMain:       thread.IsMain,
		SectionID:    thread.SectionID,
	}

	var project config.Project
	if p, ok := settings.ProjectByID(thread.ProjectID); ok {
		project = p
		dto.ProjectName = p.Name
	}

	if thread.LastFocusedSession != "" {
		dto.TmuxSession = thread.LastFocusedSession
	} else if len(thread.TmuxSessions) > 0 {
		dto.TmuxSession = thread.TmuxSessions[0]
	}

	if thread.SectionID != "" {
		if sec, ok := settings.SectionByID(thread.SectionID); ok {
			dto.SectionName = sec.Name
		}
	}

	dto.Tabs = tabDTOs(project, thread)
	return dto
}

func tabDTOs(project config.Project, thread config.Thread) []TabDTO {
	base := manager.SessionPrefix + "-" + project.Slug() + "-" + thread.ID
	tabs := make([]TabDTO, 0, len(thread.TmuxSessions))
	for i, session := range thread.TmuxSessions {
		tab := TabDTO{
			Index:       tabIndexFromName(session, base, i),
			SessionName: session,
			IsAgent:     thread.IsAgentSession(session),
		}
		if tab.IsAgent {
			tab.AgentType = thread.AgentType
		}
		tabs = append(tabs, tab)
	}
	return tabs
}

// tabIndexFromName recovers a tab's number from the session naming
// convention. The unsuffixed first session is index 1; sessions that no
// longer follow the convention (superseded by a rename) fall back to their
// list position.
func tabIndexFromName(session, base string, position int) int {
	if session == base {
		return 1
	}
	if rest, ok := strings.CutPrefix(session, base+"-tab-"); ok {
		digits := rest
		if cut := strings.IndexFunc(rest, func(r rune) bool { return r < '0' || r > '9' }); cut >= 0 {
			digits = rest[:cut]
		}
		if n, err := strconv.Atoi(digits); err == nil {
			return n
		}
	}
	return position + 1
}

func sectionDTO(sec config.Section) SectionDTO {
	return SectionDTO{
		ID:        sec.ID,
		Name:      sec.Name,
		ColorHex:  sec.ColorHex,
		SortOrder: sec.SortOrder,
		IsDefault: sec.IsDefault,
		IsVisible: sec.Visible(),
	}
}

func projectDTO(p config.Project) ProjectDTO {
	return ProjectDTO{
		ID:            p.ID,
		Name:          p.Name,
		RepoPath:      p.RepoPath,
		WorktreesPath: p.WorktreesPath,
		DefaultBranch: p.DefaultBranch,
		AgentType:     p.AgentType,
	}
}
