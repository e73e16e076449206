package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-tryon/internal/config"
	"github.com/teslashibe/go-tryon/internal/log"
	"github.com/teslashibe/go-tryon/pkg/camera"
	"github.com/teslashibe/go-tryon/pkg/vto"
)

var (
	envFile  string
	logLevel string

	cfg    config.Config
	logger *slog.Logger
)

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "framefinder",
		Short:        "Eyewear shopping flow with virtual try-on",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnvFile(envFile); err != nil {
				return err
			}
			var err error
			if cfg, err = config.FromEnv(); err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			log.Init(cfg.LogLevel)
			logger = log.L()
			return nil
		},
	}

	root.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file to seed the environment from")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides TRYON_LOG_LEVEL)")

	root.AddCommand(serveCmd(), simulateCmd(), framesCmd())
	return root
}

// sessionOptions maps the lifecycle timings onto controller options.
func sessionOptions(c config.Config) []vto.Option {
	policy := vto.DefaultRetryPolicy()
	policy.Max = c.MaxRetries
	return []vto.Option{
		vto.WithSettleDelay(c.Settle),
		vto.WithReadySettle(c.ReadySettle),
		vto.WithReadyTimeout(c.ReadyTimeout),
		vto.WithRetryPolicy(policy),
	}
}

// cameraSetup opens the configured backend and resolves the selfie preset.
func cameraSetup(c config.Config) (camera.Device, camera.Constraints, camera.Constraints, error) {
	device, err := camera.NewDevice(camera.Backend(c.CameraBackend), logger)
	if err != nil {
		return nil, camera.Constraints{}, camera.Constraints{}, err
	}
	preset := camera.GetPreset(c.CameraPreset)
	if preset == nil {
		return nil, camera.Constraints{}, camera.Constraints{}, fmt.Errorf("unknown camera preset %q (have %v)", c.CameraPreset, camera.PresetNames())
	}
	selfie := *preset
	selfie.DeviceIndex = c.CameraDevice
	tryOn := camera.TryOnConstraints()
	tryOn.DeviceIndex = c.CameraDevice
	return device, selfie, tryOn, nil
}
