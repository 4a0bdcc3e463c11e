package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/endpointd/internal/channel"
	"github.com/MrWong99/endpointd/internal/observe"
)

// Client message types.
const (
	typeRequest = "request"
	typeDTMF    = "dtmf"
)

// clientMessage is a text message sent by the media gateway.
type clientMessage struct {
	Type string `json:"type"`

	// Request is set for type "request".
	Request *channel.Request `json:"request,omitempty"`

	// EventID, Marker and DurationMS describe a type "dtmf" telephone event.
	// Marker is "start" or "end".
	EventID    int    `json:"event_id,omitempty"`
	Marker     string `json:"marker,omitempty"`
	DurationMS int    `json:"duration_ms,omitempty"`
}

// hello is the first message of every session.
type hello struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
}

// sessionError reports a malformed client message. The session stays open.
type sessionError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// wsSink delivers channel messages as JSON text messages.
type wsSink struct {
	conn *websocket.Conn
}

func (s wsSink) Send(ctx context.Context, m channel.Message) error {
	ctx, cancel := sinkContext(ctx)
	defer cancel()
	return wsjson.Write(ctx, s.conn, m)
}

var _ channel.Sink = wsSink{}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, s.acceptOpts)
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(s.readLimit)
	ctx := r.Context()

	ch, err := s.mgr.Open(ctx, wsSink{conn: conn})
	if err != nil {
		observe.Logger(ctx).Error("open channel", "err", err)
		conn.Close(websocket.StatusTryAgainLater, "channel manager unavailable")
		return
	}
	ctx = observe.WithChannel(ctx, ch.ID())
	log := observe.Logger(ctx)
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if err := s.mgr.Close(cctx, ch.ID()); err != nil && !errors.Is(err, channel.ErrManagerNotRunning) {
			log.Warn("close channel", "err", err)
		}
	}()

	if err := s.writeJSON(ctx, conn, hello{Type: "channel", ChannelID: ch.ID()}); err != nil {
		log.Warn("send hello", "err", err)
		return
	}
	log.Info("session started", "remote", r.RemoteAddr)

	frames := newFramer(s.frameBytes)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Info("session ended")
			default:
				log.Warn("session read failed", "err", err)
			}
			return
		}

		switch typ {
		case websocket.MessageBinary:
			for _, f := range frames.split(data) {
				if err := ch.WriteFrame(ctx, channel.Frame{Kind: channel.FrameAudio, Data: f}); err != nil {
					log.Warn("write frame", "err", err)
					conn.Close(websocket.StatusInternalError, "frame delivery failed")
					return
				}
			}
		case websocket.MessageText:
			if err := s.handleText(ctx, conn, ch, data); err != nil {
				log.Warn("session aborted", "err", err)
				conn.Close(websocket.StatusInternalError, "response delivery failed")
				return
			}
		}
	}
}

// handleText applies one control message. Rejected requests are already
// answered by the channel, so only transport failures are returned.
func (s *Server) handleText(ctx context.Context, conn *websocket.Conn, ch *channel.Channel, data []byte) error {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return s.writeJSON(ctx, conn, sessionError{Type: "error", Error: "invalid json: " + err.Error()})
	}

	switch msg.Type {
	case typeRequest:
		if msg.Request == nil {
			return s.writeJSON(ctx, conn, sessionError{Type: "error", Error: "request message without request"})
		}
		err := s.mgr.Submit(ctx, ch.ID(), *msg.Request)
		switch {
		case err == nil:
		case errors.Is(err, channel.ErrUnknownMethod),
			errors.Is(err, channel.ErrNoActiveRequest),
			errors.Is(err, channel.ErrIllegalValue):
			observe.Logger(ctx).Debug("request rejected", "method", msg.Request.Method, "err", err)
		default:
			return err
		}
		return nil

	case typeDTMF:
		f := channel.Frame{
			Kind:     channel.FrameEvent,
			EventID:  msg.EventID,
			Duration: time.Duration(msg.DurationMS) * time.Millisecond,
		}
		switch msg.Marker {
		case "start":
			f.Marker = channel.MarkerStartOfEvent
		case "end":
			f.Marker = channel.MarkerEndOfEvent
		}
		return ch.WriteFrame(ctx, f)

	default:
		return s.writeJSON(ctx, conn, sessionError{Type: "error", Error: fmt.Sprintf("unknown message type %q", msg.Type)})
	}
}

func (s *Server) writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := sinkContext(ctx)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
