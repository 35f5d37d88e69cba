package network

import "encoding/json"

// 入站消息类型
const (
	MsgJoin   = "join"
	MsgUpdate = "update"
	MsgFinish = "finish"
	MsgChat   = "chat"
)

// 出站消息类型
const (
	MsgInit           = "init"
	MsgPlayerJoined   = "playerJoined"
	MsgPlayerUpdate   = "playerUpdate"
	MsgPlayerFinished = "playerFinished"
	MsgPlayerLeft     = "playerLeft"
)

// Inbound is the envelope read from a session. Only Type is always present;
// the remaining fields depend on the kind. Update payloads stay opaque.
type Inbound struct {
	Type      string          `json:"type"`
	Name      string          `json:"name,omitempty"`
	CarColors string          `json:"carColors,omitempty"`
	Frames    int             `json:"frames,omitempty"`
	Text      string          `json:"text,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// PlayerInfo 已加入会话的展示信息
type PlayerInfo struct {
	ID        uint32 `json:"id"`
	Name      string `json:"name"`
	CarColors string `json:"carColors"`
}

// InitMessage is the snapshot a session receives right after attaching:
// its assigned id plus every already-joined peer in the room.
type InitMessage struct {
	Type    string       `json:"type"`
	ID      uint32       `json:"id"`
	Players []PlayerInfo `json:"players"`
}

type PlayerJoinedMessage struct {
	Type      string `json:"type"`
	ID        uint32 `json:"id"`
	Name      string `json:"name"`
	CarColors string `json:"carColors"`
}

type PlayerUpdateMessage struct {
	Type string          `json:"type"`
	ID   uint32          `json:"id"`
	Data json.RawMessage `json:"data"`
}

type PlayerFinishedMessage struct {
	Type   string `json:"type"`
	ID     uint32 `json:"id"`
	Frames int    `json:"frames"`
}

type PlayerLeftMessage struct {
	Type string `json:"type"`
	ID   uint32 `json:"id"`
}

type ChatMessage struct {
	Type string `json:"type"`
	ID   uint32 `json:"id"`
	Text string `json:"text"`
}
