package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-tryon/pkg/consult"
	"github.com/teslashibe/go-tryon/pkg/face"
	"github.com/teslashibe/go-tryon/pkg/metrics"
	"github.com/teslashibe/go-tryon/pkg/web"
)

func serveCmd() *cobra.Command {
	var (
		staticDir string
		faceModel string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the shopping flow, try-on sessions and consultant chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			device, selfie, tryOn, err := cameraSetup(cfg)
			if err != nil {
				return err
			}

			provider, err := chatProvider()
			if err != nil {
				return err
			}
			consultant := consult.NewConsultant(provider, logger)
			defer provider.Close()

			var detector face.Detector
			if faceModel != "" {
				fc := face.DefaultConfig()
				fc.ModelPath = faceModel
				d, err := face.NewYuNet(fc)
				switch {
				case errors.Is(err, face.ErrUnavailable):
					logger.Warn("face check disabled, binary built without opencv")
				case err != nil:
					return err
				default:
					detector = d
					defer d.Close()
				}
			}

			srv, err := web.New(web.Config{
				Device:            device,
				SelfieConstraints: selfie,
				TryOnConstraints:  tryOn,
				Detector:          detector,
				SessionOptions:    sessionOptions(cfg),
				Workers:           cfg.Workers,
				Consultant:        consultant,
				Metrics:           metrics.New("tryon"),
				StaticDir:         staticDir,
				Logger:            logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Listen(":" + cfg.Port)
			})
			g.Go(func() error {
				<-ctx.Done()
				logger.Info("shutting down")
				sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(sctx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&staticDir, "static", "", "directory of static assets served at /")
	cmd.Flags().StringVar(&faceModel, "face-model", "", "YuNet ONNX model for selfie face checks (opencv builds)")
	return cmd
}

// chatProvider returns the OpenAI-compatible client when a key is set and
// falls back to the offline consultant otherwise.
func chatProvider() (consult.Provider, error) {
	if cfg.OpenAIKey == "" {
		logger.Warn("OPENAI_API_KEY not set, consultant runs offline")
		return consult.NewOffline(), nil
	}
	client, err := consult.NewClient(
		consult.WithBaseURL(cfg.ChatBaseURL),
		consult.WithAPIKey(cfg.OpenAIKey),
		consult.WithModel(cfg.ChatModel),
		consult.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	chain, err := consult.NewChain(logger, client, consult.NewOffline())
	if err != nil {
		return nil, err
	}
	return chain, nil
}
