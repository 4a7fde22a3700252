package proto

import "encoding/json"

// ClientEvent names (spec.md §6, client -> server).
const (
	EvGetSalt           = "get_salt"
	EvRegisterMaster    = "register_master"
	EvCreateInviteCode  = "create_invite_code"
	EvResolveInviteCode = "resolve_invite_code"
	EvLinkPC            = "link_pc"
	EvRelay             = "relay"
	EvMsgAck            = "msg_ack"
	EvGetPresence       = "get_presence"
	EvBlockUser         = "block_user"
	EvReportUser        = "report_user"
	EvDisconnect        = "disconnect"
)

// Server response/event names.
const (
	EvSaltFound          = "salt_found"
	EvSaltNotFound       = "salt_not_found"
	EvRegistered         = "registered"
	EvQueueFlush         = "queue_flush"
	EvInviteCodeCreated  = "invite_code_created"
	EvInviteCodeResolved = "invite_code_resolved"
	EvInviteCodeError    = "invite_code_error"
	EvDispatchStatus     = "dispatch_status"
	EvRelayPush          = "relay_push"
	EvMsgAckPush         = "msg_ack_push"
	EvPresenceUpdate     = "presence_update"
	EvBlocked            = "blocked"
	EvReported           = "reported"
	EvErrorMsg           = "error_msg"
)

// ClientFrame is the generic envelope every inbound transport frame is
// decoded into first; Payload is re-decoded per event name by the
// handler responsible for it, mirroring the teacher's dispatch on
// ClientComMessage sub-fields (server/session.go's dispatch).
type ClientFrame struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServerFrame is the generic outbound envelope.
type ServerFrame struct {
	Event string      `json:"event"`
	ID    string      `json:"id,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

// --- request payloads ---

// GetSaltReq is the get_salt request payload.
type GetSaltReq struct {
	Username string `json:"username"`
}

// RegisterMasterReq is the register_master request payload.
type RegisterMasterReq struct {
	Identity  string      `json:"identity"`
	Username  string      `json:"username,omitempty"`
	Salt      []byte      `json:"salt,omitempty"`
	KdfParams interface{} `json:"kdf_params,omitempty"`
	PublicKey []byte      `json:"public_key,omitempty"`
	UserAgent string      `json:"user_agent,omitempty"`
	DeviceID  string      `json:"device_id,omitempty"`
	Lang      string      `json:"lang,omitempty"`
}

// ResolveInviteCodeReq is the resolve_invite_code request payload.
type ResolveInviteCodeReq struct {
	Code string `json:"code"`
}

// LinkPCReq is the link_pc request payload.
type LinkPCReq struct {
	Code string `json:"code"`
}

// RelayReq is the relay request payload.
type RelayReq struct {
	MsgID   string  `json:"msg_id"`
	To      string  `json:"to"`
	Payload Payload `json:"payload"`
}

// MsgAckReq is the msg_ack request payload.
type MsgAckReq struct {
	To    string `json:"to"`
	MsgID string `json:"msg_id"`
}

// GetPresenceReq is the get_presence request payload.
type GetPresenceReq struct {
	Identity string `json:"identity"`
}

// --- response payloads ---

// SaltFound is the salt_found response payload.
type SaltFound struct {
	Identity  string      `json:"identity"`
	Salt      []byte      `json:"salt"`
	KdfParams interface{} `json:"kdf_params"`
	PublicKey []byte      `json:"public_key,omitempty"`
}

// Registered is the registered response payload.
type Registered struct {
	Type     string `json:"type"` // "master" or "slave"
	Identity string `json:"identity"`
}

// InviteCodeCreated is the invite_code_created response payload.
type InviteCodeCreated struct {
	Code      string `json:"code"`
	ExpiresAt int64  `json:"expires_at"`
}

// InviteCodeResolved is the invite_code_resolved response payload.
type InviteCodeResolved struct {
	Identity  string      `json:"identity"`
	Username  string      `json:"username"`
	Salt      []byte      `json:"salt"`
	KdfParams interface{} `json:"kdf_params"`
}

// InviteCodeError is the invite_code_error response payload.
type InviteCodeError struct {
	Message string `json:"message"`
}

// DispatchStatusKind is the delivery outcome reported to the sender.
type DispatchStatusKind string

// Dispatch status values.
const (
	StatusDelivered DispatchStatusKind = "delivered"
	StatusQueued    DispatchStatusKind = "queued"
	StatusDropped   DispatchStatusKind = "dropped"
)

// DispatchStatus is the dispatch_status response payload.
type DispatchStatus struct {
	To     string             `json:"to"`
	MsgID  string             `json:"msg_id"`
	Status DispatchStatusKind `json:"status"`
}

// RelayPush is the relay_push event payload delivered to a recipient.
type RelayPush struct {
	From      string       `json:"from"`
	To        string       `json:"to"`
	MsgID     string       `json:"msg_id"`
	Payload   Payload      `json:"payload"`
	Kind      EnvelopeKind `json:"kind"`
	Timestamp int64        `json:"timestamp"`
}

// MsgAckPush is the msg_ack_push event payload.
type MsgAckPush struct {
	From  string `json:"from"`
	MsgID string `json:"msg_id"`
}

// PresenceStatus is the online/offline value in presence_update.
type PresenceStatus string

// Presence statuses.
const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// PresenceUpdate is the presence_update event payload.
type PresenceUpdate struct {
	Identity string         `json:"identity"`
	Status   PresenceStatus `json:"status"`
}

// ErrorMsg is the error_msg event payload.
type ErrorMsg struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
