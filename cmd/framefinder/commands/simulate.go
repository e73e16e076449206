package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-tryon/pkg/camera"
	"github.com/teslashibe/go-tryon/pkg/catalog"
	"github.com/teslashibe/go-tryon/pkg/engine"
	"github.com/teslashibe/go-tryon/pkg/vto"
)

func simulateCmd() *cobra.Command {
	var (
		frameID   int
		model     string
		failLabel string
		denyCam   bool
		autoRetry bool
		hold      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run one try-on session against the simulated engine and print its snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			frame, err := catalog.Default().Find(frameID)
			if err != nil {
				return err
			}

			var simOpts []engine.SimOption
			if failLabel != "" {
				simOpts = append(simOpts, engine.WithFailLabel(failLabel))
			}
			var devOpts []camera.MockDeviceOption
			if denyCam {
				devOpts = append(devOpts, camera.WithFailure(camera.ErrPermissionDenied))
			}
			guard := camera.NewGuard(camera.NewMockDevice(logger, devOpts...), logger)
			defer guard.Close()

			opts := append(sessionOptions(cfg),
				vto.WithLoader(engine.NewLoader(engine.SimResolver(simOpts...), logger)),
				vto.WithGuard(guard, camera.TryOnConstraints()),
				vto.WithLogger(logger),
			)
			if model != "" {
				opts = append(opts, vto.WithModel(model))
			}
			ctrl, err := vto.New(frame, opts...)
			if err != nil {
				return err
			}
			snaps, _ := ctrl.Subscribe()

			ctrl.Mount(vto.FixedLayout{
				Placeholder: engine.Surface{ID: "placeholder", Width: 480, Height: 640},
				Canvas:      engine.Surface{ID: "canvas", Width: 480, Height: 640},
			})

			enc := json.NewEncoder(cmd.OutOrStdout())
			var deadline <-chan time.Time
			if hold > 0 {
				deadline = time.After(hold)
			}
			for {
				select {
				case snap, ok := <-snaps:
					if !ok {
						return nil
					}
					if err := enc.Encode(snap); err != nil {
						return err
					}
					switch snap.State {
					case vto.Error:
						if !autoRetry {
							ctrl.Teardown()
						} else if snap.Retry.CanRetry() {
							ctrl.Retry()
						} else {
							ctrl.RequestDemoFallback()
						}
					case vto.Ready, vto.DemoFallback:
						if hold == 0 {
							ctrl.Teardown()
						}
					}
				case <-deadline:
					ctrl.Teardown()
					deadline = nil
				case <-cmd.Context().Done():
					ctrl.Teardown()
					return cmd.Context().Err()
				}
			}
		},
	}
	cmd.Flags().IntVar(&frameID, "frame", 1, "catalog frame to try on")
	cmd.Flags().StringVar(&model, "model", "", "engine model ID (default "+engine.DefaultModelID+")")
	cmd.Flags().StringVar(&failLabel, "fail", "", "make the engine report this error label, e.g. WEBCAM_UNAVAILABLE")
	cmd.Flags().BoolVar(&denyCam, "deny-camera", false, "simulate a denied camera permission")
	cmd.Flags().BoolVar(&autoRetry, "retry", false, "retry on error, then fall back to the demo")
	cmd.Flags().DurationVar(&hold, "hold", 0, "keep the session up this long after it settles")
	return cmd
}

func framesCmd() *cobra.Command {
	var style string
	cmd := &cobra.Command{
		Use:   "frames",
		Short: "List catalog frames, best match first",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range catalog.Default().Recommend(style) {
				fmt.Fprintf(cmd.OutOrStdout(), "%3d  %-28s RM%-5d %3d%%  %s\n", f.ID, f.Name, f.Price, f.Match, f.StyleLine())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&style, "style", "", "preferred style, e.g. classic")
	return cmd
}
