package server

import (
	"encoding/json"
	"net/http"
	"net/rpc"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/raceserver/broadcast"
	"github.com/wfunc/raceserver/config"
	"github.com/wfunc/raceserver/logger"
	"github.com/wfunc/raceserver/models"
	"github.com/wfunc/raceserver/monitor"
	"github.com/wfunc/raceserver/network"
	"github.com/wfunc/raceserver/persistence"
	"github.com/wfunc/raceserver/room"
	raceserver_rpc "github.com/wfunc/raceserver/rpc"
	"github.com/wfunc/raceserver/services"
	"github.com/wfunc/raceserver/timer"
)

const maxPageAmount = 100

type RaceServer struct {
	addr        string
	metricsAddr string
	defaultRoom string
	upgrader    websocket.Upgrader
	roomManager *room.Manager
	leaderboard *services.LeaderboardService
	profiles    *services.ProfileService
	mon         *monitor.Monitor
	rpcServer   *raceserver_rpc.Server
	timers      *timer.TimerManager
}

func NewRaceServer(cfg *config.Config, store persistence.Store) *RaceServer {
	mon := monitor.NewMonitor("raceserver")
	timers := timer.NewTimerManager()
	leaderboard := services.NewLeaderboardService(store)

	s := &RaceServer{
		addr:        cfg.Server.HTTPAddress,
		metricsAddr: cfg.Server.MetricsAddress,
		defaultRoom: cfg.Relay.DefaultRoom,
		leaderboard: leaderboard,
		profiles:    services.NewProfileService(store),
		mon:         mon,
		timers:      timers,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 跨域与TLS由边缘网关处理
			},
		},
	}

	s.roomManager = room.NewManager(broadcast.NewRelayBroadcaster(), mon, timers, room.Options{
		MaxChatLength: cfg.Relay.MaxChatLength,
		IdleTimeout:   cfg.Relay.IdleTimeout,
		SweepInterval: cfg.Relay.SweepInterval,
	})

	// 初始化RPC服务器，供外部校验方使用
	rpcServer, err := raceserver_rpc.NewServer(cfg.Server.RPCAddress)
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}
	s.rpcServer = rpcServer
	rpc.Register(raceserver_rpc.NewVerifierService(leaderboard, s.profiles))

	return s
}

func (s *RaceServer) Start() error {
	go s.rpcServer.Start()
	s.mon.StartServer(s.metricsAddr)

	mux := http.NewServeMux()
	mux.HandleFunc("/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("/user", s.handleUser)
	mux.HandleFunc("/", s.handleRoot)

	logger.Log.Infof("Race server listening on %s", s.addr)
	return http.ListenAndServe(s.addr, mux)
}

func (s *RaceServer) Shutdown() {
	s.rpcServer.Stop()
	s.timers.Stop()
}

// handleRoot upgrades websocket requests into the relay; anything else on
// unknown paths is a 404.
func (s *RaceServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.NotFound(w, r)
		return
	}

	roomID := r.URL.Query().Get("roomId")
	if roomID == "" {
		roomID = s.defaultRoom
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn, roomID)
}

func (s *RaceServer) handleConnection(conn *websocket.Conn, roomID string) {
	wsConn := network.NewWSConnection(conn)
	traceID := uuid.New().String()

	rm, sess := s.roomManager.Attach(roomID, wsConn, traceID)
	if sess == nil {
		logger.Log.Warnf("Dropping connection %s: init snapshot delivery failed", traceID)
		return
	}

	logger.Log.Infof("New connection %s from %s, room %s session %d",
		traceID, wsConn.RemoteAddr(), roomID, sess.ID)

	defer func() {
		logger.Log.Infof("Connection %s closed, room %s session %d", traceID, roomID, sess.ID)
		rm.Leave(sess.ID)
		wsConn.Close()
	}()

	for {
		data, err := wsConn.ReadMessage()
		if err != nil {
			return
		}
		rm.Inbound(sess.ID, data)
	}
}

func (s *RaceServer) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleLeaderboardQuery(w, r)
	case http.MethodPost:
		s.handleLeaderboardSubmit(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *RaceServer) handleLeaderboardQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	trackID := q.Get("trackId")
	if trackID == "" {
		writeError(w, http.StatusBadRequest, "trackId is required")
		return
	}

	skip := 0
	if v := q.Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "skip must be a non-negative integer")
			return
		}
		skip = n
	}

	amount := 10
	if v := q.Get("amount"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "amount must be a positive integer")
			return
		}
		amount = n
	}
	if amount > maxPageAmount {
		amount = maxPageAmount
	}

	onlyVerified := q.Get("onlyVerified") == "true"
	userTokenHash := q.Get("userTokenHash")

	resp, err := s.leaderboard.Query(trackID, skip, amount, onlyVerified, userTokenHash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *RaceServer) handleLeaderboardSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed form body")
		return
	}

	userToken := r.PostFormValue("userToken")
	name := r.PostFormValue("name")
	carColors := r.PostFormValue("carColors")
	trackID := r.PostFormValue("trackId")
	framesStr := r.PostFormValue("frames")
	recording := r.PostFormValue("recording")

	switch {
	case userToken == "":
		writeError(w, http.StatusBadRequest, "userToken is required")
		return
	case name == "":
		writeError(w, http.StatusBadRequest, "name is required")
		return
	case trackID == "":
		writeError(w, http.StatusBadRequest, "trackId is required")
		return
	case framesStr == "":
		writeError(w, http.StatusBadRequest, "frames is required")
		return
	case recording == "":
		writeError(w, http.StatusBadRequest, "recording is required")
		return
	}

	frames, err := strconv.Atoi(framesStr)
	if err != nil || frames < 0 {
		writeError(w, http.StatusBadRequest, "frames must be a non-negative integer")
		return
	}

	start := time.Now()
	result, err := s.leaderboard.Submit(userToken, name, carColors, trackID, frames, []byte(recording))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.mon.IncSubmissions()
	s.mon.ObserveSubmitLatency(time.Since(start))

	writeJSON(w, http.StatusOK, models.SubmitResponse{
		UploadID:    result.UploadID,
		NewPosition: result.NewPosition,
	})
}

func (s *RaceServer) handleUser(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		userToken := r.URL.Query().Get("userToken")
		if userToken == "" {
			writeError(w, http.StatusBadRequest, "userToken is required")
			return
		}
		profile, err := s.profiles.Get(userToken)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		// 未知玩家返回 JSON null
		writeJSON(w, http.StatusOK, profile)

	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "malformed form body")
			return
		}
		userToken := r.PostFormValue("userToken")
		name := r.PostFormValue("name")
		if userToken == "" {
			writeError(w, http.StatusBadRequest, "userToken is required")
			return
		}
		if name == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		if err := s.profiles.Upsert(userToken, name, r.PostFormValue("carColors")); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Errorf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
