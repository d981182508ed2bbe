package grpcserver

import (
	"context"
	"net"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

var Module = fx.Options(
	fx.Provide(NewServer),
	fx.Provide(NewListener),
	fx.Invoke(lifecycleHook),
)

func lifecycleHook(lc fx.Lifecycle, srv *grpc.Server, lis net.Listener, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("grpc server starting", zap.String("addr", lis.Addr().String()))
			go func() {
				if err := srv.Serve(lis); err != nil {
					logger.Error("grpc server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("grpc server stopping")
			srv.GracefulStop()
			return nil
		},
	})
}
