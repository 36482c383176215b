package socket

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/magenthq/magent-core/config"
	"github.com/magenthq/magent-core/errs"
	"github.com/magenthq/magent-core/logger"
	"github.com/magenthq/magent-core/manager"
)

const (
	// ReadTimeout bounds each wait for the next request line so the
	// handler can notice server shutdown on an otherwise idle connection.
	ReadTimeout = 10 * time.Second

	// WriteTimeout bounds each response write so a stuck client cannot
	// wedge a handler goroutine.
	WriteTimeout = 10 * time.Second
)

// Server accepts control connections and dispatches requests to the
// orchestrator.
type Server struct {
	socketPath string
	listener   net.Listener
	manager    *manager.ThreadManager

	// readTimeout bounds each wait for request bytes; shortened in tests.
	readTimeout time.Duration

	closed   bool
	closedMu sync.RWMutex
	wg       sync.WaitGroup
	readyCh  chan struct{}
	log      *slog.Logger
}

// NewServer creates a server listening on socketPath. A stale socket file
// left by a crashed process is removed after probing that nothing answers
// on it; a live socket means another instance is running and is an error.
func NewServer(socketPath string, mgr *manager.ThreadManager) (*Server, error) {
	log := logger.WithComponent("socket")

	dir := filepath.Dir(socketPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory %s: %w", dir, err)
	}

	if _, err := os.Stat(socketPath); err == nil {
		if conn, err := net.DialTimeout("unix", socketPath, time.Second); err == nil {
			conn.Close()
			return nil, fmt.Errorf("another instance is already listening on %s", socketPath)
		}
		log.Info("removing stale socket", "path", socketPath)
		if err := os.Remove(socketPath); err != nil {
			return nil, fmt.Errorf("failed to remove stale socket %s: %w", socketPath, err)
		}
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		listener.Close()
		os.Remove(socketPath)
		return nil, fmt.Errorf("failed to restrict socket permissions: %w", err)
	}

	log.Info("listening", "path", socketPath)

	return &Server{
		socketPath:  socketPath,
		listener:    listener,
		manager:     mgr,
		readTimeout: ReadTimeout,
		readyCh:     make(chan struct{}),
		log:         log,
	}, nil
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Start launches the accept loop in a goroutine. The WaitGroup is
// incremented before the goroutine starts to avoid racing Close().
func (s *Server) Start() {
	s.wg.Add(1)
	go s.run()
}

// WaitReady blocks until the accept loop is running.
func (s *Server) WaitReady() {
	<-s.readyCh
}

func (s *Server) run() {
	defer s.wg.Done()

	close(s.readyCh)

	for {
		s.closedMu.RLock()
		closed := s.closed
		s.closedMu.RUnlock()
		if closed {
			return
		}

		conn, err := s.listener.Accept()
		if err != nil {
			s.closedMu.RLock()
			closed := s.closed
			s.closedMu.RUnlock()
			if closed {
				return
			}
			s.log.Warn("accept error (continuing)", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection serves one client: requests in, responses out, strictly
// in order. A malformed line yields an error response rather than closing
// the connection; a disconnect or read error ends the handler and cancels
// any request still in flight.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	s.log.Debug("connection accepted")

	// Connection-scoped context: a disconnect mid-request abandons the
	// work instead of letting it run for a client that is gone.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := bufio.NewReader(conn)

	// partial holds request bytes a slow client delivered across read
	// deadlines; a timeout must not discard them.
	var partial []byte

	// inflight is closed when the previous request's response has been
	// written, keeping responses in request order. Dispatch runs in its
	// own goroutine so the loop returns to reading and notices a
	// disconnect while an operation is still running.
	inflight := make(chan struct{})
	close(inflight)

	for {
		s.closedMu.RLock()
		closed := s.closed
		s.closedMu.RUnlock()
		if closed {
			return
		}

		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		line, err := reader.ReadString('\n')
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				partial = append(partial, line...)
				continue
			}
			s.log.Debug("connection closed", "error", err)
			return
		}
		if len(partial) > 0 {
			line = string(partial) + line
			partial = partial[:0]
		}

		<-inflight

		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			s.writeResponse(conn, Response{OK: false, Error: "malformed request: " + err.Error()})
			continue
		}

		done := make(chan struct{})
		inflight = done
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer close(done)
			resp := s.dispatch(ctx, req)
			resp.ID = req.ID
			s.writeResponse(conn, resp)
		}()
	}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("failed to marshal response", "error", err)
		return
	}
	conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if _, err := conn.Write(append(data, '\n')); err != nil {
		s.log.Error("write error", "error", err)
	}
}

// dispatch maps one request to an orchestrator operation.
func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Command {
	case "create-thread":
		return s.createThread(ctx, req)
	case "list-threads":
		return s.listThreads(req)
	case "list-projects":
		return s.listProjects()
	case "send-prompt":
		return s.withThread(req, func(thread config.Thread) Response {
			if err := s.manager.SendPrompt(ctx, thread.ID, req.Prompt); err != nil {
				return errorResponse(err)
			}
			return Response{OK: true}
		})
	case "archive-thread":
		return s.withThread(req, func(thread config.Thread) Response {
			if err := s.manager.ArchiveThread(ctx, thread.ID); err != nil {
				return errorResponse(err)
			}
			return Response{OK: true}
		})
	case "rename-thread":
		return s.withThread(req, func(thread config.Thread) Response {
			renamed, err := s.manager.RenameThread(ctx, thread.ID, req.NewName)
			if err != nil {
				return errorResponse(err)
			}
			dto := threadDTO(s.manager.Settings(), renamed)
			return Response{OK: true, Thread: &dto}
		})
	case "delete-thread":
		return s.withThread(req, func(thread config.Thread) Response {
			if err := s.manager.DeleteThread(ctx, thread.ID); err != nil {
				return errorResponse(err)
			}
			return Response{OK: true}
		})
	case "create-tab":
		return s.withThread(req, func(thread config.Thread) Response {
			agent := req.AgentType != ""
			updated, session, err := s.manager.AddTab(ctx, thread.ID, agent)
			if err != nil {
				return errorResponse(err)
			}
			project, _ := s.manager.Settings().ProjectByID(updated.ProjectID)
			for _, tab := range tabDTOs(project, updated) {
				if tab.SessionName == session {
					return Response{OK: true, Tab: &tab}
				}
			}
			return Response{OK: true}
		})
	case "list-tabs":
		return s.withThread(req, func(thread config.Thread) Response {
			project, _ := s.manager.Settings().ProjectByID(thread.ProjectID)
			return Response{OK: true, Tabs: tabDTOs(project, thread)}
		})
	case "close-tab":
		return s.withThread(req, func(thread config.Thread) Response {
			session := req.SessionName
			if session == "" && req.TabIndex > 0 {
				project, _ := s.manager.Settings().ProjectByID(thread.ProjectID)
				for _, tab := range tabDTOs(project, thread) {
					if tab.Index == req.TabIndex {
						session = tab.SessionName
						break
					}
				}
			}
			if session == "" {
				return errorResponse(errs.Validation("sessionName or tabIndex required"))
			}
			if err := s.manager.CloseTab(ctx, thread.ID, session); err != nil {
				return errorResponse(err)
			}
			return Response{OK: true}
		})
	case "list-sections":
		sections := s.manager.Settings().AllSections()
		dtos := make([]SectionDTO, 0, len(sections))
		for _, sec := range sections {
			dtos = append(dtos, sectionDTO(sec))
		}
		return Response{OK: true, Sections: dtos}
	case "add-section":
		section, err := s.manager.AddSection(req.SectionName, req.SectionColor, req.Position)
		if err != nil {
			return errorResponse(err)
		}
		dto := sectionDTO(section)
		return Response{OK: true, Section: &dto}
	default:
		return errorResponse(errs.Validation("unknown command %q", req.Command))
	}
}

func (s *Server) createThread(ctx context.Context, req Request) Response {
	project, ok := s.manager.Settings().ProjectByName(req.Project)
	if !ok {
		return errorResponse(errs.NotFound("project %q not found", req.Project))
	}
	thread, err := s.manager.CreateThread(ctx, project.ID, req.ThreadName, "", req.AgentType)
	if err != nil {
		return errorResponse(err)
	}
	dto := threadDTO(s.manager.Settings(), thread)
	return Response{OK: true, Thread: &dto}
}

func (s *Server) listThreads(req Request) Response {
	settings := s.manager.Settings()

	var threads []config.Thread
	if req.Project != "" {
		project, ok := settings.ProjectByName(req.Project)
		if !ok {
			return errorResponse(errs.NotFound("project %q not found", req.Project))
		}
		for _, th := range settings.ThreadsForProject(project.ID) {
			if !th.IsArchived {
				threads = append(threads, th)
			}
		}
	} else {
		threads = settings.ActiveThreads()
	}

	dtos := make([]ThreadDTO, 0, len(threads))
	for _, th := range threads {
		dtos = append(dtos, threadDTO(settings, th))
	}
	return Response{OK: true, Threads: dtos}
}

func (s *Server) listProjects() Response {
	projects := s.manager.Settings().AllProjects()
	dtos := make([]ProjectDTO, 0, len(projects))
	for _, p := range projects {
		dtos = append(dtos, projectDTO(p))
	}
	return Response{OK: true, Projects: dtos}
}

// withThread resolves the request's thread by id first, then by name, and
// runs fn on it.
func (s *Server) withThread(req Request, fn func(config.Thread) Response) Response {
	settings := s.manager.Settings()
	if req.ThreadID != "" {
		if thread, ok := settings.ThreadByID(req.ThreadID); ok {
			return fn(thread)
		}
		return errorResponse(errs.NotFound("thread %s not found", req.ThreadID))
	}
	if req.ThreadName != "" {
		if thread, ok := settings.ThreadByName(req.ThreadName); ok {
			return fn(thread)
		}
		return errorResponse(errs.NotFound("thread %q not found", req.ThreadName))
	}
	return errorResponse(errs.Validation("threadId or threadName required"))
}

func errorResponse(err error) Response {
	return Response{OK: false, Error: err.Error()}
}

// Close shuts the server down: the listener stops accepting, live
// handlers drain, and the socket file is removed.
func (s *Server) Close() error {
	s.log.Info("closing control socket")

	s.closedMu.Lock()
	s.closed = true
	s.closedMu.Unlock()

	err := s.listener.Close()
	s.wg.Wait()

	if removeErr := os.Remove(s.socketPath); removeErr != nil && !os.IsNotExist(removeErr) {
		s.log.Warn("failed to remove socket file", "path", s.socketPath, "error", removeErr)
	}
	return err
}
