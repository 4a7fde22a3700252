package transport

import (
	"context"
	"encoding/json"

	"github.com/relaymesh/relaymesh/internal/account"
	"github.com/relaymesh/relaymesh/internal/proto"
	"github.com/relaymesh/relaymesh/internal/relayerr"
	"github.com/relaymesh/relaymesh/internal/session"
)

// handle decodes frame.Data per its event name and delegates to the
// matching handler, replying on sess.Send. One frame in, at most one
// frame out, except that register_master and link_pc follow registered
// with one queue_flush batch frame when queued envelopes exist, matching
// the teacher's one-reply-per-request convention in session.go's dispatch.
func (s *Server) handle(ctx context.Context, sess *session.Session, frame proto.ClientFrame) {
	var err error
	switch frame.Event {
	case proto.EvGetSalt:
		err = s.handleGetSalt(ctx, sess, frame)
	case proto.EvRegisterMaster:
		err = s.handleRegisterMaster(ctx, sess, frame)
	case proto.EvCreateInviteCode:
		err = s.handleCreateInviteCode(ctx, sess, frame)
	case proto.EvResolveInviteCode:
		err = s.handleResolveInviteCode(ctx, sess, frame)
	case proto.EvLinkPC:
		err = s.handleLinkPC(ctx, sess, frame)
	case proto.EvRelay:
		err = s.handleRelay(ctx, sess, frame)
	case proto.EvMsgAck:
		err = s.handleMsgAck(ctx, sess, frame)
	case proto.EvGetPresence:
		err = s.handleGetPresence(ctx, sess, frame)
	case proto.EvBlockUser:
		err = s.handleBlockUser(ctx, sess, frame)
	case proto.EvReportUser:
		err = s.handleReportUser(ctx, sess, frame)
	case proto.EvDisconnect:
		sess.Close()
		return
	default:
		err = relayerr.New(relayerr.InvalidArgument, "unknown event: "+frame.Event)
	}

	if err != nil {
		s.replyError(sess, frame.ID, err)
	}
}

func (s *Server) replyError(sess *session.Session, id string, err error) {
	if re, ok := relayerr.As(err); ok {
		sess.QueueOut(errorFrame(id, re.Kind, re.Message))
		return
	}
	sess.QueueOut(errorFrame(id, relayerr.KVUnavailable, err.Error()))
}

func (s *Server) handleGetSalt(ctx context.Context, sess *session.Session, frame proto.ClientFrame) error {
	var req proto.GetSaltReq
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return relayerr.New(relayerr.InvalidArgument, "bad get_salt payload")
	}

	rec, err := s.accounts.LookupByUsername(ctx, req.Username)
	if err != nil {
		return err
	}
	if rec == nil {
		sess.QueueOut(proto.ServerFrame{Event: proto.EvSaltNotFound, ID: frame.ID})
		return nil
	}

	sess.QueueOut(proto.ServerFrame{
		Event: proto.EvSaltFound,
		ID:    frame.ID,
		Data: proto.SaltFound{
			Identity:  rec.Identity,
			Salt:      rec.Salt,
			KdfParams: rec.KdfParams,
			PublicKey: rec.PublicKey,
		},
	})
	return nil
}

func (s *Server) handleRegisterMaster(ctx context.Context, sess *session.Session, frame proto.ClientFrame) error {
	var req proto.RegisterMasterReq
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return relayerr.New(relayerr.InvalidArgument, "bad register_master payload")
	}
	if req.Identity == "" {
		return relayerr.New(relayerr.InvalidArgument, "identity is required")
	}

	if req.Username != "" {
		err := s.accounts.Register(ctx, account.Record{
			Identity:  req.Identity,
			Username:  req.Username,
			Salt:      req.Salt,
			KdfParams: req.KdfParams,
			PublicKey: req.PublicKey,
		})
		if err == account.ErrUsernameTaken {
			return relayerr.New(relayerr.UsernameTaken, "username already registered")
		}
		if err != nil {
			return err
		}
	}

	sess.UserAgent = firstNonEmpty(req.UserAgent, sess.UserAgent)
	sess.DeviceID = firstNonEmpty(req.DeviceID, sess.DeviceID)
	sess.Lang = firstNonEmpty(req.Lang, sess.Lang)

	flushed, err := s.dispatch.Register(ctx, sess, req.Identity, nil)
	if err != nil {
		return err
	}

	sess.QueueOut(proto.ServerFrame{
		Event: proto.EvRegistered,
		ID:    frame.ID,
		Data:  proto.Registered{Type: "master", Identity: req.Identity},
	})
	s.flushQueued(sess, flushed)
	return nil
}

func (s *Server) handleCreateInviteCode(ctx context.Context, sess *session.Session, frame proto.ClientFrame) error {
	identity := sess.Identity()
	if identity == "" {
		return relayerr.New(relayerr.Unauthenticated, "register before creating an invite code")
	}

	rec, err := s.accounts.Lookup(ctx, identity)
	if err != nil {
		return err
	}
	username := ""
	if rec != nil {
		username = rec.Username
	}

	code, expiresAt, err := s.pairing.CreatePairingCode(ctx, identity, username)
	if err != nil {
		return err
	}

	sess.QueueOut(proto.ServerFrame{
		Event: proto.EvInviteCodeCreated,
		ID:    frame.ID,
		Data:  proto.InviteCodeCreated{Code: code, ExpiresAt: expiresAt.Unix()},
	})
	return nil
}

func (s *Server) handleResolveInviteCode(ctx context.Context, sess *session.Session, frame proto.ClientFrame) error {
	var req proto.ResolveInviteCodeReq
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return relayerr.New(relayerr.InvalidArgument, "bad resolve_invite_code payload")
	}

	resolved, err := s.pairing.ResolveInvite(ctx, req.Code)
	if err != nil {
		if re, ok := relayerr.As(err); ok {
			sess.QueueOut(proto.ServerFrame{
				Event: proto.EvInviteCodeError,
				ID:    frame.ID,
				Data:  proto.InviteCodeError{Message: re.Message},
			})
			return nil
		}
		return err
	}

	sess.QueueOut(proto.ServerFrame{
		Event: proto.EvInviteCodeResolved,
		ID:    frame.ID,
		Data: proto.InviteCodeResolved{
			Identity:  resolved.Identity,
			Username:  resolved.Username,
			Salt:      resolved.Salt,
			KdfParams: resolved.KdfParams,
		},
	})
	return nil
}

func (s *Server) handleLinkPC(ctx context.Context, sess *session.Session, frame proto.ClientFrame) error {
	var req proto.LinkPCReq
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return relayerr.New(relayerr.InvalidArgument, "bad link_pc payload")
	}

	identity, err := s.pairing.LinkSecondary(ctx, req.Code)
	if err != nil {
		return err
	}

	flushed, err := s.dispatch.Register(ctx, sess, identity, nil)
	if err != nil {
		return err
	}

	sess.QueueOut(proto.ServerFrame{
		Event: proto.EvRegistered,
		ID:    frame.ID,
		Data:  proto.Registered{Type: "slave", Identity: identity},
	})
	s.flushQueued(sess, flushed)
	return nil
}

func (s *Server) handleRelay(ctx context.Context, sess *session.Session, frame proto.ClientFrame) error {
	var req proto.RelayReq
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return relayerr.New(relayerr.InvalidArgument, "bad relay payload")
	}

	status, err := s.dispatch.Relay(ctx, sess, req)
	if err != nil {
		return err
	}

	sess.QueueOut(proto.ServerFrame{Event: proto.EvDispatchStatus, ID: frame.ID, Data: status})
	return nil
}

func (s *Server) handleMsgAck(ctx context.Context, sess *session.Session, frame proto.ClientFrame) error {
	var req proto.MsgAckReq
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return relayerr.New(relayerr.InvalidArgument, "bad msg_ack payload")
	}
	return s.dispatch.Ack(ctx, sess, req)
}

func (s *Server) handleGetPresence(ctx context.Context, sess *session.Session, frame proto.ClientFrame) error {
	var req proto.GetPresenceReq
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return relayerr.New(relayerr.InvalidArgument, "bad get_presence payload")
	}

	online, err := s.presence.IsOnline(ctx, req.Identity)
	if err != nil {
		return err
	}

	status := proto.PresenceOffline
	if online {
		status = proto.PresenceOnline
	}
	sess.QueueOut(proto.ServerFrame{
		Event: proto.EvPresenceUpdate,
		ID:    frame.ID,
		Data:  proto.PresenceUpdate{Identity: req.Identity, Status: status},
	})
	return nil
}

func (s *Server) handleBlockUser(ctx context.Context, sess *session.Session, frame proto.ClientFrame) error {
	var req struct {
		Target string `json:"target"`
	}
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return relayerr.New(relayerr.InvalidArgument, "bad block_user payload")
	}
	actor := sess.Identity()
	if actor == "" {
		return relayerr.New(relayerr.Unauthenticated, "register before blocking a user")
	}
	if err := s.social.BlockUser(ctx, actor, req.Target); err != nil {
		return err
	}
	sess.QueueOut(proto.ServerFrame{Event: proto.EvBlocked, ID: frame.ID})
	return nil
}

func (s *Server) handleReportUser(ctx context.Context, sess *session.Session, frame proto.ClientFrame) error {
	var req struct {
		Target string `json:"target"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return relayerr.New(relayerr.InvalidArgument, "bad report_user payload")
	}
	actor := sess.Identity()
	if actor == "" {
		return relayerr.New(relayerr.Unauthenticated, "register before reporting a user")
	}
	if err := s.social.ReportUser(ctx, actor, req.Target, req.Reason); err != nil {
		return err
	}
	sess.QueueOut(proto.ServerFrame{Event: proto.EvReported, ID: frame.ID})
	return nil
}

func (s *Server) flushQueued(sess *session.Session, envs []proto.Envelope) {
	if len(envs) == 0 {
		return
	}
	pushes := make([]proto.RelayPush, 0, len(envs))
	for _, env := range envs {
		pushes = append(pushes, proto.RelayPush{
			From:      env.From,
			To:        env.To,
			MsgID:     env.MsgID,
			Payload:   env.Payload,
			Kind:      env.Kind,
			Timestamp: env.Timestamp.Unix(),
		})
	}
	sess.QueueOut(proto.ServerFrame{Event: proto.EvQueueFlush, Data: pushes})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
