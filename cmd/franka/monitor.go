package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-franka/pkg/protocol"
)

var monitorPing time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Stream live state from a running service",
	Long: `Connect to the /ws/state websocket and print one line per state message
until interrupted. With --ping set, the stream round trip time is printed
periodically.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().DurationVar(&monitorPing, "ping", 5*time.Second, "round trip measurement interval (0 disables)")
}

// wsURL converts the API base URL to the state stream URL.
func wsURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/state"
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL(serverURL), nil)
	if err != nil {
		return fmt.Errorf("connect to state stream: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop on interrupt.
	stopRead := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stopRead()

	if monitorPing > 0 {
		go pingLoop(ctx, conn, monitorPing)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		line, err := formatMessage(data, time.Now())
		if err != nil {
			continue
		}
		fmt.Println(line)
	}
}

// pingLoop is the only writer on conn.
func pingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		msg, err := protocol.NewPingMessage(uuid.NewString())
		if err != nil {
			return
		}
		data, err := msg.Bytes()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// formatMessage renders a state or pong message as a single line.
func formatMessage(data []byte, now time.Time) (string, error) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		return "", err
	}
	if msg.Type == protocol.TypePong {
		return formatPong(msg, now)
	}
	return formatState(data)
}

// formatPong reports the round trip time measured from the echoed ping stamp.
func formatPong(msg *protocol.Message, now time.Time) (string, error) {
	pong, err := msg.GetPongData()
	if err != nil {
		return "", err
	}
	rtt := now.UnixMilli() - pong.PingTS
	if rtt < 0 {
		rtt = 0
	}
	return fmt.Sprintf("%-10s rtt=%dms", "pong", rtt), nil
}

// formatState renders a state message as a single line.
func formatState(data []byte) (string, error) {
	msg, err := protocol.Expect(data, protocol.TypeState)
	if err != nil {
		return "", err
	}
	st, err := msg.GetStateData()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-10s", st.State)
	if st.Homing {
		b.WriteString(" homing")
	}
	if st.Pose != nil {
		p := st.Pose.Position
		fmt.Fprintf(&b, " pose=(%.4f %.4f %.4f)", p.X, p.Y, p.Z)
	}
	if st.Target != nil {
		p := st.Target.Position
		fmt.Fprintf(&b, " target=(%.4f %.4f %.4f)", p.X, p.Y, p.Z)
	}
	if st.Force != nil {
		fmt.Fprintf(&b, " fz=%.2f |f|=%.2f", st.Force.Z, st.Force.Magnitude)
	}
	if st.State == "" {
		return "", errors.New("empty state")
	}
	return b.String(), nil
}
