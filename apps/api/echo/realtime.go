package echoapi

import (
	"context"
	"fmt"
	"net/http"
	"reflect"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/stageboard/core/event"
	"github.com/trezcool/stageboard/core/helprequest"
	"github.com/trezcool/stageboard/core/task"
	"github.com/trezcool/stageboard/core/user"
	"github.com/trezcool/stageboard/services/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type wsAuthMessage struct {
	Token string `json:"token"`
}

// serveWS upgrades the request, authenticates the client then keeps it registered until it goes away.
// The token comes from the "token" query parameter or from a first {"token": "..."} frame.
func (s *Server) serveWS(ctx echo.Context) error {
	ws, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return nil // the upgrader already replied
	}
	rt := s.deps.Conf.Realtime
	conn := realtime.NewWSConn(ws, rt.WriteTimeout)

	token := ctx.QueryParam("token")
	if token == "" {
		var msg wsAuthMessage
		if err = conn.ReadJSON(&msg, rt.AuthTimeout); err == nil {
			token = msg.Token
		}
	}
	claims, err := s.auth.ParseToken(token)
	if err != nil {
		_ = conn.Close(websocket.ClosePolicyViolation, "authentication failed")
		return nil
	}

	p := claims.Principal()
	s.deps.Connections.Register(conn, realtime.Identity{
		UserID:    p.UserID,
		IsTeacher: p.IsStaff(),
		IsAdmin:   p.IsAdmin(),
		ClassID:   p.ClassID,
	})
	defer s.deps.Connections.Unregister(conn)

	if err = s.sendSnapshots(ctx.Request().Context(), conn, p); err != nil {
		s.deps.Logger.Error(fmt.Sprintf("realtime: initial state of user %d", p.UserID), err)
		_ = conn.Close(websocket.CloseInternalServerErr, "internal error")
		return nil
	}

	if err = conn.Listen(rt.IdleTimeout); err != nil {
		s.deps.Logger.Debug(fmt.Sprintf("realtime: connection %s of user %d lost", conn.ID(), p.UserID), err)
	}
	_ = conn.Close(websocket.CloseNormalClosure, "")
	return nil
}

func (s *Server) sendSnapshots(ctx context.Context, conn realtime.Conn, p user.Principal) error {
	send := func(typ string, payload interface{}) error {
		msg, err := event.Encode(typ, payload)
		if err != nil {
			return err
		}
		return conn.Send(msg)
	}

	err := send(event.TypeConnectionEstablished, event.ConnectionEstablished{
		UserID:    p.UserID,
		IsTeacher: p.IsStaff(),
		Message:   "Connected to WebSocket server",
	})
	if err != nil {
		return errors.Wrap(err, "sending connection_established")
	}

	if !p.IsStaff() {
		tasks, err := s.deps.TaskSvc.Query(ctx, p, task.QueryFilter{})
		if err != nil {
			return errors.Wrap(err, "querying tasks")
		}
		return send(event.TypeInitialTasks, snapshot(tasks))
	}

	unresolved := false
	hrs, err := s.deps.HelpSvc.Query(ctx, p, helprequest.QueryFilter{Resolved: &unresolved})
	if err != nil {
		return errors.Wrap(err, "querying help requests")
	}
	if err = send(event.TypeInitialHelpRequests, snapshot(hrs)); err != nil {
		return err
	}

	delayed, err := s.deps.TimeSvc.ListDelayed(ctx, p, 0)
	if err != nil {
		return errors.Wrap(err, "listing delayed tasks")
	}
	return send(event.TypeInitialDelayedTasks, snapshot(delayed))
}

func snapshot(data interface{}) event.Snapshot {
	return event.Snapshot{Count: reflect.ValueOf(data).Len(), Data: data}
}
