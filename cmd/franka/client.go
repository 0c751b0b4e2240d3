package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-franka/internal/config"
	"github.com/teslashibe/go-franka/internal/httpc"
	"github.com/teslashibe/go-franka/pkg/natsclient"
	"github.com/teslashibe/go-franka/pkg/protocol"
	"github.com/teslashibe/go-franka/pkg/spatial"
	"github.com/teslashibe/go-franka/pkg/web"
)

var (
	gotoNoSpiral    bool
	gotoLinearStep  float64
	gotoAngularStep float64
	gotoViaNATS     bool
	gotoNATSURL     string
	gotoPrefix      string
)

var gotoCmd = &cobra.Command{
	Use:   "goto x y z qw qx qy qz",
	Short: "Send a goal pose",
	Long: `Send a goal pose to a running service. The call returns once the goal is
admitted, which may take a while if a contact search is being superseded.

Examples:
  franka goto 0.5 0 0.3 0 1 0 0
  franka goto --no-spiral 0.4 -0.05 0.25 0 1 0 0
  franka goto --via-nats --prefix arm1 0.5 0 0.3 0 1 0 0`,
	Args: cobra.ExactArgs(7),
	RunE: runGoto,
}

var homeCmd = &cobra.Command{
	Use:   "home",
	Short: "Start the homing routine",
	RunE:  runHome,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the service state as JSON",
	RunE:  runStatus,
}

func init() {
	gotoCmd.Flags().BoolVar(&gotoNoSpiral, "no-spiral", false, "disable contact search on excess force")
	gotoCmd.Flags().Float64Var(&gotoLinearStep, "linear-step", 0, "linear step resolution in m (0 = service default)")
	gotoCmd.Flags().Float64Var(&gotoAngularStep, "angular-step", 0, "angular step resolution in rad (0 = service default)")
	gotoCmd.Flags().BoolVar(&gotoViaNATS, "via-nats", false, "send the goal on the NATS goal request subject instead of the HTTP API")
	gotoCmd.Flags().StringVar(&gotoNATSURL, "nats-url", config.NATSURL(natsclient.DefaultConfig().URL), "NATS URL for --via-nats (env NATS_URL)")
	gotoCmd.Flags().StringVar(&gotoPrefix, "prefix", natsclient.DefaultConfig().Prefix, "subject prefix for --via-nats")
}

func parsePose(args []string) ([]float64, error) {
	pose := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		pose[i] = v
	}
	return pose, nil
}

func apiURL(path string) string {
	return strings.TrimRight(serverURL, "/") + path
}

// goalRequest builds a validated goal request from command line values.
func goalRequest(args []string, spiral bool, linearStep, angularStep float64) (protocol.GoalRequest, error) {
	values, err := parsePose(args)
	if err != nil {
		return protocol.GoalRequest{}, err
	}
	pose, err := spatial.ParsePoseArray(values)
	if err != nil {
		return protocol.GoalRequest{}, err
	}
	req := protocol.GoalRequestFrom(pose, spiral)
	req.LinearStep = linearStep
	req.AngularStep = angularStep
	// Fail fast on shape errors before hitting the network.
	if _, err := req.Request(); err != nil {
		return protocol.GoalRequest{}, err
	}
	return req, nil
}

func runGoto(cmd *cobra.Command, args []string) error {
	req, err := goalRequest(args, !gotoNoSpiral, gotoLinearStep, gotoAngularStep)
	if err != nil {
		return err
	}
	if gotoViaNATS {
		return gotoNATS(cmd.Context(), req)
	}

	var resp web.GoalResponse
	if err := httpc.PostJSON(cmd.Context(), apiURL("/api/goal"), req, &resp); err != nil {
		return err
	}
	fmt.Printf("goal accepted (task %s, state %s)\n", resp.State.TaskID, resp.State.State)
	return nil
}

func gotoNATS(ctx context.Context, req protocol.GoalRequest) error {
	cfg := natsclient.DefaultConfig()
	cfg.URL = gotoNATSURL
	cfg.Prefix = gotoPrefix
	client, err := natsclient.New(cfg, nil)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	if err := natsclient.RequestGoal(ctx, client, req); err != nil {
		return err
	}
	fmt.Printf("goal accepted on %s\n", client.Topics().GoalRequest())
	return nil
}

func runHome(cmd *cobra.Command, _ []string) error {
	if err := httpc.PostJSON(cmd.Context(), apiURL("/api/home"), nil, nil); err != nil {
		return err
	}
	fmt.Println("homing started")
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	var data protocol.StateData
	if err := httpc.GetJSON(cmd.Context(), apiURL("/api/status"), &data); err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
