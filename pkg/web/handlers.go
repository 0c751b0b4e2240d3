package web

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/teslashibe/go-franka/pkg/compliance"
	"github.com/teslashibe/go-franka/pkg/hub"
	"github.com/teslashibe/go-franka/pkg/motion"
	"github.com/teslashibe/go-franka/pkg/protocol"
	"github.com/teslashibe/go-franka/pkg/spatial"
	"github.com/teslashibe/go-franka/pkg/state"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// GoalResponse is returned for an admitted goal.
type GoalResponse struct {
	Accepted bool               `json:"accepted"`
	State    protocol.StateData `json:"state"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, spatial.ErrInvalidPose), errors.Is(err, motion.ErrInvalidRequest):
		return fiber.StatusBadRequest
	case errors.Is(err, motion.ErrSupersedeTimeout):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, state.ErrNoFeedback),
		errors.Is(err, motion.ErrClosed),
		errors.Is(err, compliance.ErrChannelUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(code).JSON(ErrorResponse{Error: err.Error()})
}

// handleStatus returns the current feedback and supervisor state.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(protocol.NewStateData(s.mirror.Snapshot(), s.ctrl.Status()))
}

// handleGoal admits a goal. It blocks while a running task is superseded.
func (s *Server) handleGoal(c *fiber.Ctx) error {
	var body protocol.GoalRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}
	req, err := body.Request()
	if err != nil {
		return err
	}
	if !s.limiter.Allow() {
		return fiber.NewError(fiber.StatusTooManyRequests, "goal requests throttled")
	}

	if err := s.ctrl.RequestGoal(c.UserContext(), req); err != nil {
		return err
	}
	s.logger.Info("goal accepted", zap.Stringer("target", req.Target), zap.Bool("spiral", req.SpiralSearch))

	return c.Status(fiber.StatusAccepted).JSON(GoalResponse{
		Accepted: true,
		State:    protocol.NewStateData(s.mirror.Snapshot(), s.ctrl.Status()),
	})
}

// handleHome starts homing in the background.
func (s *Server) handleHome(c *fiber.Ctx) error {
	if s.ctrl.Status().Homing || !s.homing.CompareAndSwap(false, true) {
		return fiber.NewError(fiber.StatusConflict, "homing already in progress")
	}
	go func() {
		defer s.homing.Store(false)
		if err := s.ctrl.Home(s.ctx); err != nil {
			s.logger.Warn("homing failed", zap.Error(err))
		}
	}()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"homing": true})
}

// handleStateWS streams state messages to a websocket client.
func (s *Server) handleStateWS(conn *websocket.Conn) {
	var initial []byte
	if msg, err := s.stateMessage(); err == nil {
		initial, _ = msg.Bytes()
	}
	hub.NewClient(s.hub, conn, initial, s.handleClientMessage).Run()
}

// handleClientMessage answers envelope pings from stream clients.
func (s *Server) handleClientMessage(data []byte) []byte {
	msg, err := protocol.Expect(data, protocol.TypePing)
	if err != nil {
		return nil
	}
	ping, err := msg.GetPingData()
	if err != nil {
		return nil
	}
	pong, err := protocol.NewPongMessage(ping.ID, ping.Timestamp, time.Now().UnixMilli())
	if err != nil {
		return nil
	}
	out, err := pong.Bytes()
	if err != nil {
		return nil
	}
	return out
}
