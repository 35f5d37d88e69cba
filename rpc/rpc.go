package rpc

import (
	"net"
	"net/rpc"

	"github.com/wfunc/raceserver/logger"
	"github.com/wfunc/raceserver/services"
)

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
}

// NewServer creates a new RPC server.
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  addr,
	}, nil
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if _, ok := err.(*net.OpError); ok {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// VerifierService is the surface the external verification collaborator
// uses. Recordings are checked out of process; once a claimed time is
// confirmed the collaborator flips the entry's verified flag here. The flag
// is cleared again by any submission that changes the stored time.
type VerifierService struct {
	leaderboard *services.LeaderboardService
	profiles    *services.ProfileService
}

// NewVerifierService creates a new VerifierService.
func NewVerifierService(lb *services.LeaderboardService, ps *services.ProfileService) *VerifierService {
	return &VerifierService{leaderboard: lb, profiles: ps}
}

type MarkVerifiedArgs struct {
	EntryID int64
}

type MarkVerifiedReply struct {
	Updated bool
}

func (v *VerifierService) MarkVerified(args *MarkVerifiedArgs, reply *MarkVerifiedReply) error {
	updated, err := v.leaderboard.MarkVerified(args.EntryID)
	if err != nil {
		return err
	}
	reply.Updated = updated
	return nil
}

type GetProfileArgs struct {
	UserToken string
}

type GetProfileReply struct {
	Found     bool
	Name      string
	CarColors string
}

// GetProfile 运维排查用的档案查询
func (v *VerifierService) GetProfile(args *GetProfileArgs, reply *GetProfileReply) error {
	profile, err := v.profiles.Get(args.UserToken)
	if err != nil {
		return err
	}
	if profile == nil {
		return nil
	}
	reply.Found = true
	reply.Name = profile.Name
	reply.CarColors = profile.CarColors
	return nil
}
