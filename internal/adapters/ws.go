package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kashsuks/lockdown-winners/internal/app"
	"github.com/kashsuks/lockdown-winners/internal/config"
	"github.com/kashsuks/lockdown-winners/internal/core"
	"github.com/kashsuks/lockdown-winners/internal/domain"
	"github.com/kashsuks/lockdown-winners/internal/protocol"
)

const writeWait = 5 * time.Second

var ErrBackpressure = errors.New("backpressure")

// WSController accepts chat connections and pumps events between the
// socket and the orchestrator.
type WSController struct {
	Orch    *app.Orchestrator
	Cfg     *config.Config
	limiter *EventRateLimiter
}

func NewWSController(orch *app.Orchestrator, cfg *config.Config) *WSController {
	return &WSController{
		Orch:    orch,
		Cfg:     cfg,
		limiter: NewEventRateLimiter(cfg.EventLimit, cfg.EventInterval),
	}
}

// wsConn is a transport endpoint. The write pump is the only goroutine
// touching the socket for writes; everyone else goes through TrySend.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS upgrades the request and registers the connection Unbound;
// it stays that way until a join-session event arrives.
func (ctl *WSController) HandleWS(ctx context.Context, c *gin.Context) {
	cid := domain.ConnID(uuid.NewString())

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "adapters.ws").Str("conn", string(cid)).Msg("new WS connection")

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 64),
	}
	ctl.Orch.Connect(cid, conn)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cid, conn)
}

func (ctl *WSController) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "adapters.ws").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *WSController) readPump(ctx context.Context, cid domain.ConnID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "adapters.ws").Str("conn", string(cid)).Msg("readPump closing")
		ctl.Orch.Disconnect(cid)
		ctl.limiter.Forget(cid)
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	pongWait := ctl.Cfg.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "adapters.ws").Str("conn", string(cid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "adapters.ws").Str("conn", string(cid)).Msg("readPump read error")
				}
				return
			}
			if !ctl.limiter.Allow(cid) {
				log.Warn().Str("module", "adapters.ws").Str("conn", string(cid)).Msg("event rate exceeded, dropped")
				continue
			}
			ctl.dispatch(cid, data)
		}
	}
}

func (ctl *WSController) dispatch(cid domain.ConnID, data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Str("conn", string(cid)).Msg("bad envelope")
		return
	}

	switch env.Event {
	case protocol.EventJoinSession:
		var p protocol.JoinSession
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Error().Err(err).Str("module", "adapters.ws").Msg("bad join-session payload")
			return
		}
		ctl.Orch.Join(cid, p.SessionID, p.Username)
	case protocol.EventSendMessage:
		var p protocol.SendMessage
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Error().Err(err).Str("module", "adapters.ws").Msg("bad send-message payload")
			return
		}
		ctl.Orch.Send(cid, p.Message)
	case protocol.EventVoiceOffer:
		var p protocol.VoiceOffer
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Error().Err(err).Str("module", "adapters.ws").Msg("bad voice-offer payload")
			return
		}
		ctl.Orch.RelayOffer(cid, p.Target, p.Offer)
	case protocol.EventVoiceAnswer:
		var p protocol.VoiceAnswer
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Error().Err(err).Str("module", "adapters.ws").Msg("bad voice-answer payload")
			return
		}
		ctl.Orch.RelayAnswer(cid, p.Target, p.Answer)
	case protocol.EventVoiceICE:
		var p protocol.VoiceICE
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Error().Err(err).Str("module", "adapters.ws").Msg("bad voice-ice-candidate payload")
			return
		}
		ctl.Orch.RelayICECandidate(cid, p.Target, p.Candidate)
	default:
		log.Warn().Str("module", "adapters.ws").Str("event", string(env.Event)).Msg("unknown event")
	}
}
