package ipc

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"
	"time"

	"log/slog"

	"folio/internal/daemon"
	"folio/internal/job"
	"folio/internal/logging"
	"folio/internal/logs"
	"folio/internal/sandbox"
	"folio/internal/track"
	"folio/internal/workflow"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: ctx}
	if err := rpcServer.RegisterName("Folio", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("ipc server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed", logging.Error(err))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Ping(_ PingRequest, resp *PingResponse) error {
	resp.Alive = true
	resp.PID = os.Getpid()
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status()
	resp.Running = status.Running
	resp.PID = status.PID
	resp.DatabasePath = status.DatabasePath
	resp.LockPath = status.LockPath
	resp.SocketPath = status.SocketPath
	resp.Providers = status.Providers
	resp.Endpoints = status.Endpoints
	resp.ActiveJobs = status.ActiveJobs
	return nil
}

func (s *service) JobSubmit(req JobSubmitRequest, resp *JobSubmitResponse) error {
	startTrack, err := track.Parse(req.StartTrack)
	if err != nil {
		return fmt.Errorf("parse start track: %w", err)
	}
	j, err := s.daemon.Jobs().Submit(s.ctx, job.SubmitRequest{
		User:       req.User,
		Project:    req.Project,
		SandboxID:  req.SandboxID,
		StartTrack: startTrack,
		Workflow:   req.Workflow,
		Mode:       req.Mode,
	})
	if err != nil {
		return err
	}
	resp.Job = jobView(j)
	s.logger.Info("job submitted via ipc",
		logging.String("job_id", j.ID),
		logging.String("workflow", j.WorkflowName))
	return nil
}

func (s *service) JobStatus(req JobStatusRequest, resp *JobStatusResponse) error {
	j, err := s.daemon.Jobs().Status(req.ID)
	if err != nil {
		return err
	}
	resp.Job = jobView(j)
	return nil
}

func (s *service) JobList(_ JobListRequest, resp *JobListResponse) error {
	jobs := s.daemon.Jobs().List()
	resp.Jobs = make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, jobView(j))
	}
	return nil
}

func (s *service) JobCancel(req JobCancelRequest, resp *JobCancelResponse) error {
	if err := s.daemon.Jobs().Cancel(s.ctx, req.User, req.ID); err != nil {
		return err
	}
	resp.Canceled = true
	s.logger.Info("job canceled via ipc", logging.String("job_id", req.ID))
	return nil
}

func (s *service) SandboxCreate(req SandboxCreateRequest, resp *SandboxCreateResponse) error {
	sb, err := s.daemon.Sandboxes().Create(s.ctx, req.Project, req.Name)
	if err != nil {
		return err
	}
	resp.Sandbox = sandboxView(sb)
	return nil
}

func (s *service) SandboxList(req SandboxListRequest, resp *SandboxListResponse) error {
	boxes, err := s.daemon.Sandboxes().List(s.ctx, req.Project)
	if err != nil {
		return err
	}
	resp.Sandboxes = make([]SandboxView, 0, len(boxes))
	for _, sb := range boxes {
		resp.Sandboxes = append(resp.Sandboxes, sandboxView(sb))
	}
	return nil
}

func (s *service) SandboxSetState(req SandboxSetStateRequest, resp *SandboxSetStateResponse) error {
	state, ok := sandbox.ParseState(req.State)
	if !ok {
		return fmt.Errorf("unknown sandbox state %q", req.State)
	}
	if err := s.daemon.Sandboxes().SetState(s.ctx, req.ID, state); err != nil {
		return err
	}
	resp.Updated = true
	return nil
}

func (s *service) SnapshotDescribe(req SnapshotDescribeRequest, resp *SnapshotDescribeResponse) error {
	t, err := track.Parse(req.Track)
	if err != nil {
		return fmt.Errorf("parse track: %w", err)
	}
	snap, err := s.daemon.Snapshots().GetLeaf(s.ctx, req.SandboxID, t)
	if err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("no snapshot at track %q", t.String())
	}
	resp.Snapshot = snapshotView(snap)
	history, err := s.daemon.Snapshots().History(s.ctx, req.SandboxID, t)
	if err != nil {
		return err
	}
	resp.History = make([]HistoryView, 0, len(history))
	for _, entry := range history {
		resp.History = append(resp.History, historyView(entry))
	}
	return nil
}

func (s *service) SnapshotChildren(req SnapshotChildrenRequest, resp *SnapshotChildrenResponse) error {
	t, err := track.Parse(req.Track)
	if err != nil {
		return fmt.Errorf("parse track: %w", err)
	}
	children, err := s.daemon.Snapshots().Children(s.ctx, req.SandboxID, t)
	if err != nil {
		return err
	}
	resp.Children = make([]SnapshotView, 0, len(children))
	for _, child := range children {
		resp.Children = append(resp.Children, snapshotView(child))
	}
	return nil
}

// resetBlocked reports whether an active job's branch overlaps the reset
// target. A branch overlaps when either track is a prefix of the other;
// resetting beside a live branch stays allowed.
func (s *service) resetBlocked(sandboxID int64, t track.Track) bool {
	for _, branch := range s.daemon.Jobs().ActiveBranches(sandboxID) {
		if branch.HasPrefix(t) || t.HasPrefix(branch) {
			return true
		}
	}
	return false
}

func (s *service) SnapshotReset(req SnapshotResetRequest, resp *SnapshotResetResponse) error {
	t, err := track.Parse(req.Track)
	if err != nil {
		return fmt.Errorf("parse track: %w", err)
	}
	if s.resetBlocked(req.SandboxID, t) {
		return fmt.Errorf("track %q is under a running job, cancel it before resetting", t.String())
	}
	if err := s.daemon.Snapshots().Reset(s.ctx, req.SandboxID, t); err != nil {
		return err
	}
	resp.Reset = true
	s.logger.Info("snapshot subtree reset via ipc",
		logging.Int64("sandbox_id", req.SandboxID),
		logging.String("track", t.String()))
	return nil
}

func (s *service) SandboxReset(req SandboxResetRequest, resp *SandboxResetResponse) error {
	sb, err := s.daemon.Sandboxes().Get(s.ctx, req.ID)
	if err != nil {
		return err
	}
	if sb == nil {
		return fmt.Errorf("no sandbox with id %d", req.ID)
	}
	if len(s.daemon.Jobs().ActiveBranches(sb.ID)) > 0 {
		return fmt.Errorf("sandbox %d has running jobs, cancel them before resetting", sb.ID)
	}
	if err := s.daemon.Snapshots().Clear(s.ctx, sb.ID); err != nil {
		return err
	}
	resp.Reset = true
	s.logger.Info("sandbox tree cleared via ipc", logging.Int64("sandbox_id", sb.ID))
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	entries, err := s.daemon.Snapshots().SandboxHistory(s.ctx, req.SandboxID)
	if err != nil {
		return err
	}
	resp.Entries = make([]HistoryView, 0, len(entries))
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, historyView(entry))
	}
	return nil
}

func (s *service) WorkflowInstall(req WorkflowInstallRequest, resp *WorkflowInstallResponse) error {
	def, err := workflow.Parse([]byte(req.Definition))
	if err != nil {
		return err
	}
	record, err := s.daemon.Workflows().Save(s.ctx, def)
	if err != nil {
		return err
	}
	resp.Workflow = workflowView(record)
	s.logger.Info("workflow installed via ipc", logging.String("workflow", record.Name))
	return nil
}

func (s *service) WorkflowList(_ WorkflowListRequest, resp *WorkflowListResponse) error {
	records, err := s.daemon.Workflows().List(s.ctx)
	if err != nil {
		return err
	}
	resp.Workflows = make([]WorkflowView, 0, len(records))
	for _, record := range records {
		resp.Workflows = append(resp.Workflows, workflowView(record))
	}
	return nil
}

func (s *service) WorkflowShow(req WorkflowShowRequest, resp *WorkflowShowResponse) error {
	name := strings.TrimSpace(req.Name)
	record, err := s.daemon.Workflows().Get(s.ctx, name)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("workflow %q is not installed", name)
	}
	encoded, err := record.Definition.Encode()
	if err != nil {
		return err
	}
	resp.Workflow = workflowView(record)
	resp.Definition = string(encoded)
	return nil
}

func (s *service) ExportHistory(_ ExportHistoryRequest, resp *ExportHistoryResponse) error {
	var buf bytes.Buffer
	if err := s.daemon.DB().ExportHistory(s.ctx, &buf); err != nil {
		return err
	}
	resp.ArchiveBase64 = base64.StdEncoding.EncodeToString(buf.Bytes())
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	options := logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, options)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	if err := s.daemon.Notifier().TestNotification(s.ctx); err != nil {
		resp.Sent = false
		resp.Message = err.Error()
		return nil
	}
	resp.Sent = true
	resp.Message = "notification sent"
	return nil
}
